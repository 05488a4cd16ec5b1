package session

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/storeauth/internal"
)

// ErrInvalid is returned by Validate for unknown, expired and malformed
// tokens alike.
var ErrInvalid = errors.New("invalid session")

// Config controls session lifetimes.
type Config struct {
	Lifetime           time.Duration    `yaml:"lifetime"`
	RememberMeLifetime time.Duration    `yaml:"remember_me_lifetime"`
	Now                func() time.Time `yaml:"-"`
}

// DefaultConfig returns a 24 hour lifetime, or 30 days with remember-me.
func DefaultConfig() Config {
	return Config{
		Lifetime:           24 * time.Hour,
		RememberMeLifetime: 30 * 24 * time.Hour,
	}
}

// GenerateToken returns a new random bearer token.
func GenerateToken() (string, error) {
	return internal.NewToken()
}

// HashToken derives the session ID stored for token.
func HashToken(token string) string {
	return internal.HashToken(token)
}

// Manager issues and validates sign-in sessions.
type Manager struct {
	store  Store
	config Config
}

// NewManager returns a manager over store. Zero lifetimes take defaults.
func NewManager(store Store, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = def.Lifetime
	}
	if cfg.RememberMeLifetime <= 0 {
		cfg.RememberMeLifetime = def.RememberMeLifetime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{store: store, config: cfg}
}

func (m *Manager) lifetime(s *Session) time.Duration {
	if s.RememberMe {
		return m.config.RememberMeLifetime
	}
	return m.config.Lifetime
}

// Create persists a new session for userID and returns its bearer token.
func (m *Manager) Create(ctx context.Context, userID string, flags Flags, ip, userAgent string, rememberMe bool) (string, *Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return "", nil, err
	}

	now := m.config.Now()
	sess := &Session{
		ID:                HashToken(token),
		UserID:            userID,
		CreatedAt:         now,
		TwoFactorVerified: flags.TwoFactorVerified,
		RememberMe:        rememberMe,
		IPAddress:         ip,
		UserAgent:         userAgent,
	}
	sess.ExpiresAt = now.Add(m.lifetime(sess))

	if err := m.store.Save(ctx, sess, sess.ExpiresAt.Sub(now)); err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

// Validate resolves token to its session. Unknown and expired tokens both
// yield [ErrInvalid]. When less than half the lifetime remains, the expiry is
// extended to a full lifetime from now and persisted before returning.
func (m *Manager) Validate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalid
	}
	id := HashToken(token)

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalid
		}
		return nil, err
	}

	now := m.config.Now()
	if sess.Expired(now) {
		if err := m.store.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalid
	}

	lifetime := m.lifetime(sess)
	if sess.ExpiresAt.Sub(now) < lifetime/2 {
		sess.ExpiresAt = now.Add(lifetime)
		if err := m.store.Update(ctx, sess, lifetime); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrInvalid
			}
			return nil, err
		}
		sess.Renewed = true
	}
	return sess, nil
}

// SetTwoFactorVerified marks the session as having passed a second factor.
// Setting an already verified session is a no-op.
func (m *Manager) SetTwoFactorVerified(ctx context.Context, id string) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalid
		}
		return err
	}
	if sess.TwoFactorVerified {
		return nil
	}
	sess.TwoFactorVerified = true
	if err := m.store.Update(ctx, sess, sess.ExpiresAt.Sub(m.config.Now())); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalid
		}
		return err
	}
	return nil
}

// Invalidate deletes one session.
func (m *Manager) Invalidate(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// InvalidateUser deletes every session of userID.
func (m *Manager) InvalidateUser(ctx context.Context, userID string) error {
	return m.store.DeleteAllForUser(ctx, userID)
}

// ListForUser returns the live sessions of userID.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	sessions, err := m.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.config.Now()
	live := sessions[:0]
	for _, s := range sessions {
		if !s.Expired(now) {
			live = append(live, s)
		}
	}
	return live, nil
}
