// Package storage defines the persistent user and credential record and the
// repository interface implemented by the memory, bbolt and postgres
// backends.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when creating or renaming onto an email in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUsernameTaken is returned when creating a user with a username in use.
	ErrUsernameTaken = errors.New("username already registered")
)

// User is the credential record of one admin account. TOTPKey holds the
// sealed authenticator key and is empty when no authenticator is registered.
// RecoveryCodes holds digests, never plaintext codes.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"password_hash"`
	EmailVerified bool      `json:"email_verified"`
	Phone         string    `json:"phone,omitempty"`
	TOTPKey       []byte    `json:"totp_key,omitempty"`
	RecoveryCodes []string  `json:"recovery_codes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RegisteredTOTP reports whether the user has an authenticator registered.
func (u *User) RegisteredTOTP() bool {
	return len(u.TOTPKey) > 0
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	c := *u
	c.TOTPKey = append([]byte(nil), u.TOTPKey...)
	c.RecoveryCodes = append([]string(nil), u.RecoveryCodes...)
	return &c
}

// UserStore persists users. Emails are compared exactly; callers normalize.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetEmailVerified(ctx context.Context, id string, verified bool) error
	// UpdateEmail replaces the email and marks it verified.
	UpdateEmail(ctx context.Context, id, email string) error
	UpdatePhone(ctx context.Context, id, phone string) error

	// SetTwoFactor stores the sealed key and the recovery digests together.
	SetTwoFactor(ctx context.Context, id string, sealedKey []byte, recoveryHashes []string) error
	// ClearTwoFactor removes the key and replaces the recovery digests.
	ClearTwoFactor(ctx context.Context, id string, recoveryHashes []string) error
	ReplaceRecoveryCodes(ctx context.Context, id string, recoveryHashes []string) error
	// ConsumeRecoveryCode removes hash from the user's set. It reports false
	// when the digest was not present, so each code verifies at most once.
	ConsumeRecoveryCode(ctx context.Context, id, hash string) (bool, error)

	// Delete removes the user and frees its email and username.
	Delete(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}
