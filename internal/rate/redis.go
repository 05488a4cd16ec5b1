package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisMaxRetries = 8

// RedisStore is a Redis-backed [Store]. Updates run inside a WATCH/MULTI
// transaction and are retried when another client touches the key first.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a [RedisStore] writing under prefix (default "arl").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "arl"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// Get returns the counter stored for key.
func (s *RedisStore) Get(ctx context.Context, key string) (Counter, bool, error) {
	data, err := s.redis.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Counter{}, false, nil
		}
		return Counter{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	c, err := decodeCounter(data)
	if err != nil {
		return Counter{}, false, nil
	}
	return c, true, nil
}

// Update applies fn to the counter inside an optimistic transaction.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	redisKey := s.key(key)

	for i := 0; i < redisMaxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			var (
				c     Counter
				found bool
			)
			data, err := tx.Get(ctx, redisKey).Result()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			default:
				// Unparseable state is treated as absent and overwritten.
				if decoded, decErr := decodeCounter(data); decErr == nil {
					c, found = decoded, true
				}
			}

			switch fn(&c, found) {
			case Write:
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, redisKey, encodeCounter(c), ttl)
					return nil
				})
				return err
			case Drop:
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, redisKey)
					return nil
				})
				return err
			default:
				return nil
			}
		}, redisKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}

	return ErrContention
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func encodeCounter(c Counter) string {
	return strconv.FormatInt(c.Value, 10) + ":" + strconv.FormatInt(c.At.UnixMilli(), 10)
}

func decodeCounter(data string) (Counter, error) {
	value, at, ok := strings.Cut(data, ":")
	if !ok {
		return Counter{}, errors.New("malformed rate counter")
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return Counter{}, err
	}
	ms, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return Counter{}, err
	}
	return Counter{Value: v, At: time.UnixMilli(ms)}, nil
}
