package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no request exists for a key or ID.
	ErrNotFound = errors.New("verification request not found")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("verification redis unavailable")
)

// Store persists requests, at most one per (kind, user).
type Store interface {
	// Replace stores req, discarding any previous request of the same kind
	// for the same user. ttl is the storage retention, not the code expiry.
	Replace(ctx context.Context, req *Request, ttl time.Duration) error
	Get(ctx context.Context, kind Kind, userID string) (*Request, error)
	GetByID(ctx context.Context, id string) (*Request, error)
	// Attempt atomically compares codeHash against the live request and
	// applies the attempt accounting.
	Attempt(ctx context.Context, kind Kind, userID string, codeHash [32]byte, now time.Time, maxAttempts int) (Outcome, *Request, error)
	Delete(ctx context.Context, kind Kind, userID string) error
}

const redisMaxRetries = 4

// RedisStore is a Redis-backed [Store]. Records live under
// <prefix>:<kind>:<user>; <prefix>:id:<id> points back to that key.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store writing under prefix (default "avr").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "avr"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(kind Kind, userID string) string {
	return s.prefix + ":" + strconv.Itoa(int(kind)) + ":" + userID
}

func (s *RedisStore) idKey(id string) string {
	return s.prefix + ":id:" + id
}

func (s *RedisStore) Replace(ctx context.Context, req *Request, ttl time.Duration) error {
	encoded, err := encodeRequest(req)
	if err != nil {
		return err
	}
	key := s.key(req.Kind, req.UserID)

	for i := 0; i < redisMaxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var staleID string
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				if prev, decErr := decodeRequest(data); decErr == nil {
					staleID = prev.ID
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if staleID != "" && staleID != req.ID {
					pipe.Del(ctx, s.idKey(staleID))
				}
				pipe.Set(ctx, key, encoded, ttl)
				pipe.Set(ctx, s.idKey(req.ID), key, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: replace contention", ErrRedisUnavailable)
}

func (s *RedisStore) Get(ctx context.Context, kind Kind, userID string) (*Request, error) {
	return s.load(ctx, s.key(kind, userID))
}

func (s *RedisStore) GetByID(ctx context.Context, id string) (*Request, error) {
	key, err := s.redis.Get(ctx, s.idKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	req, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	// The index may outlive a replaced record for a moment.
	if req.ID != id {
		return nil, ErrNotFound
	}
	return req, nil
}

func (s *RedisStore) load(ctx context.Context, key string) (*Request, error) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	req, err := decodeRequest(data)
	if err != nil {
		return nil, ErrNotFound
	}
	return req, nil
}

func (s *RedisStore) Attempt(
	ctx context.Context,
	kind Kind,
	userID string,
	codeHash [32]byte,
	now time.Time,
	maxAttempts int,
) (Outcome, *Request, error) {
	key := s.key(kind, userID)

	for i := 0; i < redisMaxRetries; i++ {
		var (
			outcome Outcome
			current *Request
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				outcome = OutcomeNotFound
				return nil
			}
			if err != nil {
				return err
			}
			req, err := decodeRequest(data)
			if err != nil {
				outcome = OutcomeNotFound
				return nil
			}
			current = req

			if req.Expired(now) {
				outcome = OutcomeExpired
				return nil
			}

			if subtle.ConstantTimeCompare(req.CodeHash[:], codeHash[:]) != 1 {
				req.Attempts++
				if int(req.Attempts) >= maxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key, s.idKey(req.ID))
						return nil
					})
					outcome = OutcomeExhausted
					return err
				}
				updated, err := encodeRequest(req)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
					return nil
				})
				outcome = OutcomeMismatch
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key, s.idKey(req.ID))
				return nil
			})
			outcome = OutcomeMatched
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return OutcomeNotFound, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return outcome, current, nil
	}
	return OutcomeNotFound, nil, fmt.Errorf("%w: attempt contention", ErrRedisUnavailable)
}

func (s *RedisStore) Delete(ctx context.Context, kind Kind, userID string) error {
	key := s.key(kind, userID)
	req, err := s.load(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	keys := []string{key}
	if req != nil {
		keys = append(keys, s.idKey(req.ID))
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

type memoryRecord struct {
	req      Request
	deleteAt time.Time
}

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	byID    map[string]string
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records: make(map[string]*memoryRecord),
		byID:    make(map[string]string),
		now:     now,
	}
}

func memoryKey(kind Kind, userID string) string {
	return strings.Join([]string{strconv.Itoa(int(kind)), userID}, ":")
}

func (m *MemoryStore) live(key string) (*memoryRecord, bool) {
	rec, ok := m.records[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(rec.deleteAt) {
		m.removeLocked(key)
		return nil, false
	}
	return rec, true
}

func (m *MemoryStore) removeLocked(key string) {
	if rec, ok := m.records[key]; ok {
		delete(m.byID, rec.req.ID)
		delete(m.records, key)
	}
}

func (m *MemoryStore) Replace(_ context.Context, req *Request, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(req.Kind, req.UserID)
	m.removeLocked(key)
	m.records[key] = &memoryRecord{req: *req, deleteAt: m.now().Add(ttl)}
	m.byID[req.ID] = key
	return nil
}

func (m *MemoryStore) Get(_ context.Context, kind Kind, userID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.live(memoryKey(kind, userID))
	if !ok {
		return nil, ErrNotFound
	}
	req := rec.req
	return &req, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := m.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	req := rec.req
	return &req, nil
}

func (m *MemoryStore) Attempt(_ context.Context, kind Kind, userID string, codeHash [32]byte, now time.Time, maxAttempts int) (Outcome, *Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey(kind, userID)
	rec, ok := m.live(key)
	if !ok {
		return OutcomeNotFound, nil, nil
	}
	req := rec.req
	if req.Expired(now) {
		return OutcomeExpired, &req, nil
	}
	if subtle.ConstantTimeCompare(req.CodeHash[:], codeHash[:]) != 1 {
		rec.req.Attempts++
		req.Attempts = rec.req.Attempts
		if int(req.Attempts) >= maxAttempts {
			m.removeLocked(key)
			return OutcomeExhausted, &req, nil
		}
		return OutcomeMismatch, &req, nil
	}
	m.removeLocked(key)
	return OutcomeMatched, &req, nil
}

func (m *MemoryStore) Delete(_ context.Context, kind Kind, userID string) error {
	m.mu.Lock()
	m.removeLocked(memoryKey(kind, userID))
	m.mu.Unlock()
	return nil
}
