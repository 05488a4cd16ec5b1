// Package storagetest holds the behavior suite every storage.UserStore
// implementation must pass.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/storeauth/storage"
)

func newUser(email, username string) *storage.User {
	now := time.Now().UTC().Truncate(time.Second)
	return &storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: "$argon2id$stub",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Run exercises s. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.UserStore) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		u := newUser("owner@example.com", "owner")
		require.NoError(t, s.Create(ctx, u))

		byID, err := s.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, u.Email, byID.Email)
		assert.Equal(t, u.Username, byID.Username)
		assert.False(t, byID.EmailVerified)
		assert.False(t, byID.RegisteredTOTP())

		byEmail, err := s.GetByEmail(ctx, "owner@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)

		_, err = s.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.GetByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Duplicates", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, newUser("a@example.com", "alpha")))
		assert.ErrorIs(t, s.Create(ctx, newUser("a@example.com", "other")), storage.ErrEmailTaken)
		assert.ErrorIs(t, s.Create(ctx, newUser("b@example.com", "alpha")), storage.ErrUsernameTaken)
	})

	t.Run("Updates", func(t *testing.T) {
		s := newStore(t)
		u := newUser("c@example.com", "charlie")
		require.NoError(t, s.Create(ctx, u))

		require.NoError(t, s.UpdatePasswordHash(ctx, u.ID, "$argon2id$new"))
		require.NoError(t, s.SetEmailVerified(ctx, u.ID, true))
		require.NoError(t, s.UpdatePhone(ctx, u.ID, "+15550100"))

		got, err := s.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "$argon2id$new", got.PasswordHash)
		assert.True(t, got.EmailVerified)
		assert.Equal(t, "+15550100", got.Phone)

		require.NoError(t, s.SetEmailVerified(ctx, u.ID, false))
		require.NoError(t, s.UpdateEmail(ctx, u.ID, "c2@example.com"))
		got, err = s.GetByEmail(ctx, "c2@example.com")
		require.NoError(t, err)
		assert.True(t, got.EmailVerified, "confirmed email change marks the address verified")
		_, err = s.GetByEmail(ctx, "c@example.com")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, s.Create(ctx, newUser("d@example.com", "delta")))
		assert.ErrorIs(t, s.UpdateEmail(ctx, u.ID, "d@example.com"), storage.ErrEmailTaken)

		assert.ErrorIs(t, s.UpdatePasswordHash(ctx, uuid.NewString(), "x"), storage.ErrNotFound)
	})

	t.Run("TwoFactorAndRecoveryCodes", func(t *testing.T) {
		s := newStore(t)
		u := newUser("e@example.com", "echo")
		require.NoError(t, s.Create(ctx, u))

		require.NoError(t, s.SetTwoFactor(ctx, u.ID, []byte{1, 2, 3}, []string{"h1", "h2"}))
		got, err := s.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.RegisteredTOTP())
		assert.Equal(t, []byte{1, 2, 3}, got.TOTPKey)
		assert.ElementsMatch(t, []string{"h1", "h2"}, got.RecoveryCodes)

		ok, err := s.ConsumeRecoveryCode(ctx, u.ID, "h1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.ConsumeRecoveryCode(ctx, u.ID, "h1")
		require.NoError(t, err)
		assert.False(t, ok, "a recovery code verifies once")

		require.NoError(t, s.ReplaceRecoveryCodes(ctx, u.ID, []string{"h3"}))
		got, _ = s.GetByID(ctx, u.ID)
		assert.ElementsMatch(t, []string{"h3"}, got.RecoveryCodes)

		require.NoError(t, s.ClearTwoFactor(ctx, u.ID, []string{"h4", "h5"}))
		got, _ = s.GetByID(ctx, u.ID)
		assert.False(t, got.RegisteredTOTP())
		assert.ElementsMatch(t, []string{"h4", "h5"}, got.RecoveryCodes)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		u := newUser("d@example.com", "delta")
		require.NoError(t, s.Create(ctx, u))
		require.NoError(t, s.SetTwoFactor(ctx, u.ID, []byte{9}, []string{"h1"}))

		require.NoError(t, s.Delete(ctx, u.ID))
		_, err := s.GetByID(ctx, u.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = s.GetByEmail(ctx, "d@example.com")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, u.ID), storage.ErrNotFound)

		assert.NoError(t, s.Create(ctx, newUser("d@example.com", "delta")), "handles are free again")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})
}
