package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"

	// MaxPasswordBytes caps the input handed to argon2.
	MaxPasswordBytes = 255
)

var (
	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword = errors.New("password is empty")
	// ErrPasswordTooLong is returned when a password exceeds MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password exceeds 255 bytes")
	// ErrMalformedHash is returned when a stored hash is not a parseable argon2id PHC string.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Hasher hashes and verifies passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Config holds argon2id cost parameters.
type Config struct {
	Memory      uint32 `yaml:"memory_kb"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`
}

// DefaultConfig returns the parameters used for new hashes: 19 MiB, two
// passes, one lane.
func DefaultConfig() Config {
	return Config{
		Memory:      19456,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 is the argon2id [Hasher]. Hashes are PHC strings, so parameters can
// be raised later without invalidating stored credentials.
type Argon2 struct {
	config Config
}

var _ Hasher = (*Argon2)(nil)

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return &Argon2{config: cfg}, nil
}

// Hash derives a PHC-encoded argon2id hash with a fresh random salt.
// Password bytes are used exactly as given, without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if err := checkLength(password); err != nil {
		return "", err
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify recomputes the hash with the stored parameters and compares in
// constant time. A wrong password is (false, nil); only malformed hashes and
// oversized input return an error.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if len(password) > MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, parsed.keyLength)
	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the hasher's current config.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	switch {
	case a.config.Memory > parsed.memory,
		a.config.Time > parsed.time,
		a.config.Parallelism > parsed.parallelism,
		a.config.KeyLength != parsed.keyLength:
		return true, nil
	}
	return false, nil
}

func checkLength(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if len(password) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

func decodeB64(s string) ([]byte, error) {
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, fmt.Errorf("%w: invalid PHC format", ErrMalformedHash)
	}
	if parts[1] != algorithmID {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrMalformedHash)
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return nil, fmt.Errorf("%w: invalid version", ErrMalformedHash)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version", ErrMalformedHash)
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := decodeB64(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, fmt.Errorf("%w: invalid salt", ErrMalformedHash)
	}
	hash, err := decodeB64(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, fmt.Errorf("%w: invalid hash", ErrMalformedHash)
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

type parsedParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseParams(part string) (*parsedParams, error) {
	var (
		params   parsedParams
		seen     = map[string]bool{}
		badParam = func(name string) error {
			return fmt.Errorf("%w: invalid %s parameter", ErrMalformedHash, name)
		}
	)

	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, fmt.Errorf("%w: invalid parameter format", ErrMalformedHash)
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || seen[k] {
			return nil, fmt.Errorf("%w: invalid parameter entry", ErrMalformedHash)
		}
		seen[k] = true

		switch k {
		case "m":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minMemoryKB) {
				return nil, badParam("memory")
			}
			params.memory = uint32(n)
		case "t":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil || n < uint64(minTimeCost) {
				return nil, badParam("time")
			}
			params.time = uint32(n)
		case "p":
			n, err := strconv.ParseUint(v, 10, 8)
			if err != nil || n < uint64(minParallelism) {
				return nil, badParam("parallelism")
			}
			params.parallelism = uint8(n)
		default:
			return nil, fmt.Errorf("%w: unsupported parameter %q", ErrMalformedHash, k)
		}
	}
	return &params, nil
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return errors.New("password memory must be >= 8192 KB")
	case cfg.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return errors.New("password salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return errors.New("password key length must be >= 16")
	}
	return nil
}
