package session

import (
	"context"
	"errors"
	"time"
)

// DefaultResetLifetime bounds a password-reset session.
const DefaultResetLifetime = 10 * time.Minute

// ResetManager issues the short-lived sessions that carry a user through a
// password reset. They never slide and are kept in their own store.
type ResetManager struct {
	store    Store
	lifetime time.Duration
	now      func() time.Time
}

// NewResetManager returns a manager over store.
func NewResetManager(store Store, lifetime time.Duration, now func() time.Time) *ResetManager {
	if lifetime <= 0 {
		lifetime = DefaultResetLifetime
	}
	if now == nil {
		now = time.Now
	}
	return &ResetManager{store: store, lifetime: lifetime, now: now}
}

// Create replaces any reset session of userID with a new one and returns its token.
func (m *ResetManager) Create(ctx context.Context, userID, email string, flags Flags) (string, *Session, error) {
	if err := m.store.DeleteAllForUser(ctx, userID); err != nil {
		return "", nil, err
	}

	token, err := GenerateToken()
	if err != nil {
		return "", nil, err
	}
	now := m.now()
	sess := &Session{
		ID:                HashToken(token),
		UserID:            userID,
		Email:             email,
		CreatedAt:         now,
		ExpiresAt:         now.Add(m.lifetime),
		TwoFactorVerified: flags.TwoFactorVerified,
	}
	if err := m.store.Save(ctx, sess, m.lifetime); err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

// Validate resolves a reset token. Unknown and expired tokens yield [ErrInvalid].
func (m *ResetManager) Validate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrInvalid
	}
	sess, err := m.store.Get(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalid
		}
		return nil, err
	}
	if sess.Expired(m.now()) {
		if err := m.store.Delete(ctx, sess.ID); err != nil {
			return nil, err
		}
		return nil, ErrInvalid
	}
	return sess, nil
}

// MarkEmailVerified records that the reset code sent to the session's email was confirmed.
func (m *ResetManager) MarkEmailVerified(ctx context.Context, id string) error {
	return m.update(ctx, id, func(s *Session) { s.EmailVerified = true })
}

// MarkTwoFactorVerified records that the user passed their second factor during the reset.
func (m *ResetManager) MarkTwoFactorVerified(ctx context.Context, id string) error {
	return m.update(ctx, id, func(s *Session) { s.TwoFactorVerified = true })
}

// Invalidate deletes one reset session.
func (m *ResetManager) Invalidate(ctx context.Context, id string) error {
	return m.store.Delete(ctx, id)
}

// InvalidateUser deletes every reset session of userID.
func (m *ResetManager) InvalidateUser(ctx context.Context, userID string) error {
	return m.store.DeleteAllForUser(ctx, userID)
}

func (m *ResetManager) update(ctx context.Context, id string, fn func(*Session)) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalid
		}
		return err
	}
	remaining := sess.ExpiresAt.Sub(m.now())
	if remaining <= 0 {
		return ErrInvalid
	}
	fn(sess)
	if err := m.store.Update(ctx, sess, remaining); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalid
		}
		return err
	}
	return nil
}
