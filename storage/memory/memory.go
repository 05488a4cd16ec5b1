// Package memory is an in-process storage.UserStore for tests and
// single-node development.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrEthical07/storeauth/storage"
)

// Store keeps users in maps guarded by a single mutex.
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*storage.User
	byEmail  map[string]string
	byHandle map[string]string
	now      func() time.Time
}

var _ storage.UserStore = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:     make(map[string]*storage.User),
		byEmail:  make(map[string]string),
		byHandle: make(map[string]string),
		now:      time.Now,
	}
}

func (s *Store) Create(_ context.Context, u *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return storage.ErrEmailTaken
	}
	if _, ok := s.byHandle[u.Username]; ok {
		return storage.ErrUsernameTaken
	}
	c := u.Clone()
	s.byID[c.ID] = c
	s.byEmail[c.Email] = c.ID
	s.byHandle[c.Username] = c.ID
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[email]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Store) update(id string, fn func(u *storage.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(u *storage.User) error {
		u.PasswordHash = hash
		return nil
	})
}

func (s *Store) SetEmailVerified(_ context.Context, id string, verified bool) error {
	return s.update(id, func(u *storage.User) error {
		u.EmailVerified = verified
		return nil
	})
}

func (s *Store) UpdateEmail(_ context.Context, id, email string) error {
	return s.update(id, func(u *storage.User) error {
		if owner, ok := s.byEmail[email]; ok && owner != id {
			return storage.ErrEmailTaken
		}
		delete(s.byEmail, u.Email)
		u.Email = email
		u.EmailVerified = true
		s.byEmail[email] = id
		return nil
	})
}

func (s *Store) UpdatePhone(_ context.Context, id, phone string) error {
	return s.update(id, func(u *storage.User) error {
		u.Phone = phone
		return nil
	})
}

func (s *Store) SetTwoFactor(_ context.Context, id string, sealedKey []byte, recoveryHashes []string) error {
	return s.update(id, func(u *storage.User) error {
		u.TOTPKey = slices.Clone(sealedKey)
		u.RecoveryCodes = slices.Clone(recoveryHashes)
		return nil
	})
}

func (s *Store) ClearTwoFactor(_ context.Context, id string, recoveryHashes []string) error {
	return s.update(id, func(u *storage.User) error {
		u.TOTPKey = nil
		u.RecoveryCodes = slices.Clone(recoveryHashes)
		return nil
	})
}

func (s *Store) ReplaceRecoveryCodes(_ context.Context, id string, recoveryHashes []string) error {
	return s.update(id, func(u *storage.User) error {
		u.RecoveryCodes = slices.Clone(recoveryHashes)
		return nil
	})
}

func (s *Store) ConsumeRecoveryCode(_ context.Context, id, hash string) (bool, error) {
	var consumed bool
	err := s.update(id, func(u *storage.User) error {
		i := slices.Index(u.RecoveryCodes, hash)
		if i < 0 {
			return nil
		}
		u.RecoveryCodes = slices.Delete(u.RecoveryCodes, i, i+1)
		consumed = true
		return nil
	})
	return consumed, err
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.byEmail, u.Email)
	delete(s.byHandle, u.Username)
	delete(s.byID, id)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
