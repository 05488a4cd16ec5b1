package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned by stores when no live record exists for an ID.
	ErrNotFound = errors.New("session not found")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Store persists sessions keyed by ID with a per-user index.
type Store interface {
	Save(ctx context.Context, sess *Session, ttl time.Duration) error
	// Update overwrites sess only while its record still exists and returns
	// ErrNotFound otherwise, so a deleted session is never written back.
	Update(ctx context.Context, sess *Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) error
	ListForUser(ctx context.Context, userID string) ([]*Session, error)
}

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const updateSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
return 1
`

var updateSessionLua = redis.NewScript(updateSessionScript)

// RedisStore is a Redis-backed [Store]. Each record lives under
// <prefix>:<id> with a TTL matching its expiry; <prefix>u:<user> is a set of
// the user's session IDs used for bulk invalidation.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store writing under prefix (default "as").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "as"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Save writes sess and indexes it under its user.
func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, sess.ID)
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Update rewrites an existing record in one script so a concurrent
// DeleteAllForUser cannot be undone by it.
func (s *RedisStore) Update(ctx context.Context, sess *Session, ttl time.Duration) error {
	if ttl <= 0 {
		if err := s.Delete(ctx, sess.ID); err != nil {
			return err
		}
		return ErrNotFound
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	written, err := updateSessionLua.Run(ctx, s.redis,
		[]string{s.key(sess.ID), s.userKey(sess.UserID)}, data, ms, sess.ID).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if written == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads the record for id.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		// A corrupt record cannot authenticate anyone.
		_ = s.redis.Del(ctx, s.key(id)).Err()
		return nil, ErrNotFound
	}
	sess.ID = id
	return sess, nil
}

// Delete removes id and its index entry. Deleting a missing ID is not an error.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.deleteWithIndex(ctx, sess.UserID, id)
}

// DeleteAllForUser removes every indexed session of userID.
//
// The index read and the delete are separate round trips, so a session saved
// in between survives; callers that must close that window (password reset)
// invalidate again after their state change.
func (s *RedisStore) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, userKey)

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ListForUser returns the user's live sessions, pruning stale index entries.
func (s *RedisStore) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	userKey := s.userKey(userID)
	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Session{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, ids[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		sess, decErr := Decode(data)
		if decErr != nil {
			stale = append(stale, ids[i])
			continue
		}
		sess.ID = ids[i]
		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return sessions, nil
}

// Ping checks Redis availability.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) deleteWithIndex(ctx context.Context, userID, id string) error {
	_, err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(id), s.userKey(userID)}, id).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
