package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the ticket signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

const setupAudience = "totp-setup"

var (
	// ErrTicketInvalid is returned for tickets that fail signature, audience or
	// expiry validation.
	ErrTicketInvalid = errors.New("invalid setup ticket")
)

// Config configures a [Manager].
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	Now           func() time.Time
}

// SetupClaims is the payload of a TOTP setup ticket.
type SetupClaims struct {
	UID string `json:"uid"`
	Key string `json:"key"`
	jwt.RegisteredClaims
}

// Manager issues and parses setup tickets.
type Manager struct {
	config Config
}

// NewManager validates cfg. A zero TTL defaults to ten minutes.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.TTL < 0 {
		return nil, errors.New("invalid ticket TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if len(cfg.PublicKey) == 0 {
			priv, _ := parseEdPrivateKey(cfg.PrivateKey)
			cfg.PublicKey = priv.Public().(ed25519.PublicKey)
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Manager{config: cfg}, nil
}

// TTL returns how long issued tickets stay valid.
func (m *Manager) TTL() time.Duration { return m.config.TTL }

// Issue signs a ticket binding encodedKey to uid.
func (m *Manager) Issue(uid, encodedKey string) (string, time.Time, error) {
	now := m.config.Now()
	expiresAt := now.Add(m.config.TTL)
	claims := SetupClaims{
		UID: uid,
		Key: encodedKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{setupAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signKey, err := m.signKey()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.NewWithClaims(m.method(), claims).SignedString(signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse verifies ticket and returns its claims. Every failure is reported as
// [ErrTicketInvalid] wrapping the parser error.
func (m *Manager) Parse(ticket string) (*SetupClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithAudience(setupAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(ticket, &SetupClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.verifyKey()
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTicketInvalid, err)
	}

	claims, ok := token.Claims.(*SetupClaims)
	if !ok || !token.Valid || claims.UID == "" || claims.Key == "" || claims.Subject != claims.UID {
		return nil, ErrTicketInvalid
	}
	return claims, nil
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

func (m *Manager) verifyKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPublicKey(m.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
