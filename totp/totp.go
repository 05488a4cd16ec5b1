package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// KeySize is the length of generated TOTP keys in bytes.
const KeySize = 20

var (
	// ErrEmptyKey is returned when a TOTP key has no bytes.
	ErrEmptyKey = errors.New("empty totp key")
	// ErrUnsupportedAlgorithm is returned for HMAC algorithms other than SHA1, SHA256 and SHA512.
	ErrUnsupportedAlgorithm = errors.New("unsupported totp algorithm")
)

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Config describes how codes are derived.
type Config struct {
	Issuer      string        `yaml:"issuer"`
	Digits      int           `yaml:"digits"`
	Period      time.Duration `yaml:"period"`
	Algorithm   string        `yaml:"algorithm"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// DefaultConfig returns 6 digit SHA1 codes on a 30 second step with a 60
// second trailing grace window.
func DefaultConfig() Config {
	return Config{
		Issuer:      "storeauth",
		Digits:      6,
		Period:      30 * time.Second,
		Algorithm:   "SHA1",
		GracePeriod: time.Minute,
	}
}

// GenerateKey returns KeySize random bytes.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncodeKey renders key as unpadded base32, the form authenticator apps accept.
func EncodeKey(key []byte) string {
	return keyEncoding.EncodeToString(key)
}

// DecodeKey parses an unpadded base32 key, ignoring case and spaces.
func DecodeKey(s string) ([]byte, error) {
	s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	return keyEncoding.DecodeString(strings.TrimRight(s, "="))
}

// ProvisionURI builds the otpauth:// URI encoded in enrolment QR codes.
func ProvisionURI(cfg Config, account string, key []byte) string {
	label := url.PathEscape(cfg.Issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", EncodeKey(key))
	v.Set("issuer", cfg.Issuer)
	v.Set("period", strconv.Itoa(int(cfg.Period/time.Second)))
	v.Set("digits", strconv.Itoa(cfg.Digits))
	v.Set("algorithm", strings.ToUpper(cfg.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Generate returns the code for the step containing t.
func Generate(cfg Config, key []byte, t time.Time) (string, error) {
	if len(key) == 0 {
		return "", ErrEmptyKey
	}
	return hotp(key, counterAt(t, cfg.Period), cfg.Digits, cfg.Algorithm)
}

// VerifyWithGracePeriod accepts code when it matches the current step or one
// of the GracePeriod/Period-1 steps before it, so a 60s grace on 30s steps
// accepts T and T-1. It returns the matched step counter.
func VerifyWithGracePeriod(cfg Config, key []byte, code string, now time.Time) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if len(code) != cfg.Digits || !isNumeric(code) {
		return false, 0, nil
	}
	if len(key) == 0 {
		return false, 0, ErrEmptyKey
	}

	current := counterAt(now, cfg.Period)
	oldest := current - trailingSteps(cfg)
	for counter := current; counter >= oldest && counter >= 0; counter-- {
		generated, err := hotp(key, counter, cfg.Digits, cfg.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(code)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

func trailingSteps(cfg Config) int64 {
	if cfg.Period <= 0 {
		return 0
	}
	steps := int64(cfg.GracePeriod/cfg.Period) - 1
	if steps < 0 {
		return 0
	}
	return steps
}

func counterAt(t time.Time, period time.Duration) int64 {
	seconds := int64(period / time.Second)
	if seconds <= 0 {
		seconds = 30
	}
	return t.Unix() / seconds
}

func hotp(key []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
