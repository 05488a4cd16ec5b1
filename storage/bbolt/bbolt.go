// Package bbolt implements storage.UserStore on a single BBolt file.
//
// Users are JSON documents in the "users" bucket keyed by ID; the "emails"
// and "usernames" buckets map each unique handle back to its user ID.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/MrEthical07/storeauth/storage"
)

var (
	usersBucket     = []byte("users")
	emailsBucket    = []byte("emails")
	usernamesBucket = []byte("usernames")
)

// Store implements storage.UserStore backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.UserStore = (*Store)(nil)

// NewUserStore creates the buckets on db and returns a store.
func NewUserStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{usersBucket, emailsBucket, usernamesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewUserStoreFromFile opens the database at path.
func NewUserStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := NewUserStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func load(tx *bbolt.Tx, id string) (*storage.User, error) {
	data := tx.Bucket(usersBucket).Get([]byte(id))
	if data == nil {
		return nil, storage.ErrNotFound
	}
	var u storage.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", id, err)
	}
	return &u, nil
}

func store(tx *bbolt.Tx, u *storage.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return tx.Bucket(usersBucket).Put([]byte(u.ID), data)
}

func (s *Store) Create(_ context.Context, u *storage.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		emails, names := tx.Bucket(emailsBucket), tx.Bucket(usernamesBucket)
		if emails.Get([]byte(u.Email)) != nil {
			return storage.ErrEmailTaken
		}
		if names.Get([]byte(u.Username)) != nil {
			return storage.ErrUsernameTaken
		}
		if err := emails.Put([]byte(u.Email), []byte(u.ID)); err != nil {
			return err
		}
		if err := names.Put([]byte(u.Username), []byte(u.ID)); err != nil {
			return err
		}
		return store(tx, u)
	})
}

func (s *Store) GetByID(_ context.Context, id string) (*storage.User, error) {
	var u *storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		u, err = load(tx, id)
		return err
	})
	return u, err
}

func (s *Store) GetByEmail(_ context.Context, email string) (*storage.User, error) {
	var u *storage.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(emailsBucket).Get([]byte(email))
		if id == nil {
			return storage.ErrNotFound
		}
		var err error
		u, err = load(tx, string(id))
		return err
	})
	return u, err
}

func (s *Store) update(id string, fn func(tx *bbolt.Tx, u *storage.User) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		u, err := load(tx, id)
		if err != nil {
			return err
		}
		if err := fn(tx, u); err != nil {
			return err
		}
		u.UpdatedAt = time.Now().UTC()
		return store(tx, u)
	})
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.update(id, func(_ *bbolt.Tx, u *storage.User) error {
		u.PasswordHash = hash
		return nil
	})
}

func (s *Store) SetEmailVerified(_ context.Context, id string, verified bool) error {
	return s.update(id, func(_ *bbolt.Tx, u *storage.User) error {
		u.EmailVerified = verified
		return nil
	})
}

func (s *Store) UpdateEmail(_ context.Context, id, email string) error {
	return s.update(id, func(tx *bbolt.Tx, u *storage.User) error {
		emails := tx.Bucket(emailsBucket)
		if owner := emails.Get([]byte(email)); owner != nil && string(owner) != id {
			return storage.ErrEmailTaken
		}
		if err := emails.Delete([]byte(u.Email)); err != nil {
			return err
		}
		u.Email = email
		u.EmailVerified = true
		return emails.Put([]byte(email), []byte(id))
	})
}

func (s *Store) UpdatePhone(_ context.Context, id, phone string) error {
	return s.update(id, func(_ *bbolt.Tx, u *storage.User) error {
		u.Phone = phone
		return nil
	})
}

func (s *Store) SetTwoFactor(_ context.Context, id string, sealedKey []byte, recoveryHashes []string) error {
	return s.update(id, func(_ *bbolt.Tx, u *storage.User) error {
		u.TOTPKey = slices.Clone(sealedKey)
		u.RecoveryCodes = slices.Clone(recoveryHashes)
		return nil
	})
}

func (s *Store) ClearTwoFactor(_ context.Context, id string, recoveryHashes []string) error {
	return s.update(id, func(_ *bbolt.Tx, u *storage.User) error {
		u.TOTPKey = nil
		u.RecoveryCodes = slices.Clone(recoveryHashes)
		return nil
	})
}

func (s *Store) ReplaceRecoveryCodes(_ context.Context, id string, recoveryHashes []string) error {
	return s.update(id, func(_ *bbolt.Tx, u *storage.User) error {
		u.RecoveryCodes = slices.Clone(recoveryHashes)
		return nil
	})
}

func (s *Store) ConsumeRecoveryCode(_ context.Context, id, hash string) (bool, error) {
	var consumed bool
	err := s.update(id, func(_ *bbolt.Tx, u *storage.User) error {
		if i := slices.Index(u.RecoveryCodes, hash); i >= 0 {
			u.RecoveryCodes = slices.Delete(u.RecoveryCodes, i, i+1)
			consumed = true
		}
		return nil
	})
	return consumed, err
}

func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		u, err := load(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(emailsBucket).Delete([]byte(u.Email)); err != nil {
			return err
		}
		if err := tx.Bucket(usernamesBucket).Delete([]byte(u.Username)); err != nil {
			return err
		}
		return tx.Bucket(usersBucket).Delete([]byte(id))
	})
}

func (s *Store) Ping(context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(usersBucket) == nil {
			return fmt.Errorf("bbolt: users bucket missing")
		}
		return nil
	})
}
