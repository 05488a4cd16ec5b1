package rate

import "errors"

var (
	// ErrRedisUnavailable is returned when the Redis backend fails a read or write.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrContention is returned when an optimistic update keeps losing the race for a key.
	ErrContention = errors.New("rate state contention")
	// ErrInvalidPolicy is returned by constructors given a non-positive limit or interval.
	ErrInvalidPolicy = errors.New("invalid rate policy")
)
