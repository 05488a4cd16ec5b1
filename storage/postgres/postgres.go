// Package postgres implements storage.UserStore on PostgreSQL.
//
// Recovery code digests live in their own table so that consuming one is a
// single DELETE whose affected row count decides the outcome.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/storeauth/storage"
)

const uniqueViolation = "23505"

// Store implements storage.UserStore backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.UserStore = (*Store)(nil)

// NewUserStore wraps an existing pool.
func NewUserStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewUserStoreFromDSN connects, ensures the schema and returns a store.
func NewUserStoreFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewUserStore(pool), nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "users_email_key":
			return storage.ErrEmailTaken
		case "users_username_key":
			return storage.ErrUsernameTaken
		}
	}
	return err
}

func (s *Store) Create(ctx context.Context, u *storage.User) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO users (id, email, username, password_hash, email_verified, phone, totp_key, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			u.ID, u.Email, u.Username, u.PasswordHash, u.EmailVerified, u.Phone, nullBytes(u.TOTPKey),
			u.CreatedAt.UTC(), u.UpdatedAt.UTC())
		if err != nil {
			return mapUnique(err)
		}
		return insertCodes(ctx, tx, u.ID, u.RecoveryCodes)
	})
}

const selectUser = `SELECT id, email, username, password_hash, email_verified, phone, totp_key, created_at, updated_at FROM users`

func (s *Store) GetByID(ctx context.Context, id string) (*storage.User, error) {
	return s.get(ctx, selectUser+` WHERE id = $1`, id)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*storage.User, error) {
	return s.get(ctx, selectUser+` WHERE email = $1`, email)
}

func (s *Store) get(ctx context.Context, query, arg string) (*storage.User, error) {
	var u storage.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.EmailVerified, &u.Phone, &u.TOTPKey,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `SELECT digest FROM recovery_codes WHERE user_id = $1`, u.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		u.RecoveryCodes = append(u.RecoveryCodes, d)
	}
	return &u, rows.Err()
}

func (s *Store) exec(ctx context.Context, q pgxExecer, sql string, args ...any) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return mapUnique(err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type pgxExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func now() time.Time { return time.Now().UTC() }

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.exec(ctx, s.pool, `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`, id, hash, now())
}

func (s *Store) SetEmailVerified(ctx context.Context, id string, verified bool) error {
	return s.exec(ctx, s.pool, `UPDATE users SET email_verified = $2, updated_at = $3 WHERE id = $1`, id, verified, now())
}

func (s *Store) UpdateEmail(ctx context.Context, id, email string) error {
	return s.exec(ctx, s.pool,
		`UPDATE users SET email = $2, email_verified = TRUE, updated_at = $3 WHERE id = $1`, id, email, now())
}

func (s *Store) UpdatePhone(ctx context.Context, id, phone string) error {
	return s.exec(ctx, s.pool, `UPDATE users SET phone = $2, updated_at = $3 WHERE id = $1`, id, phone, now())
}

func (s *Store) SetTwoFactor(ctx context.Context, id string, sealedKey []byte, recoveryHashes []string) error {
	return s.replaceTwoFactor(ctx, id, nullBytes(sealedKey), recoveryHashes)
}

func (s *Store) ClearTwoFactor(ctx context.Context, id string, recoveryHashes []string) error {
	return s.replaceTwoFactor(ctx, id, nil, recoveryHashes)
}

func (s *Store) replaceTwoFactor(ctx context.Context, id string, key []byte, hashes []string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.exec(ctx, tx, `UPDATE users SET totp_key = $2, updated_at = $3 WHERE id = $1`, id, key, now()); err != nil {
			return err
		}
		return replaceCodes(ctx, tx, id, hashes)
	})
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, id string, recoveryHashes []string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.exec(ctx, tx, `UPDATE users SET updated_at = $2 WHERE id = $1`, id, now()); err != nil {
			return err
		}
		return replaceCodes(ctx, tx, id, recoveryHashes)
	})
}

func (s *Store) ConsumeRecoveryCode(ctx context.Context, id, hash string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1 AND digest = $2`, id, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes the user; recovery codes go with it by cascade.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.exec(ctx, s.pool, `DELETE FROM users WHERE id = $1`, id)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func replaceCodes(ctx context.Context, tx pgx.Tx, id string, hashes []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, id); err != nil {
		return err
	}
	return insertCodes(ctx, tx, id, hashes)
}

func insertCodes(ctx context.Context, tx pgx.Tx, id string, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, h := range hashes {
		batch.Queue(`INSERT INTO recovery_codes (user_id, digest) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, h)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
