package rate

import (
	"context"
	"time"
)

// Counter is the persisted state of one rate-limit key. Buckets store the
// remaining token count in Value; the throttler stores its schedule index.
type Counter struct {
	Value int64
	At    time.Time
}

// Mutation tells a [Store] what to do with the counter after an update callback.
type Mutation uint8

const (
	// Keep leaves the stored state untouched.
	Keep Mutation = iota
	// Write persists the mutated counter with the update TTL.
	Write
	// Drop deletes the key.
	Drop
)

// UpdateFunc mutates c in place. found reports whether a counter existed.
// Stores may invoke it more than once when an optimistic update is retried,
// so it must derive everything from its arguments.
type UpdateFunc func(c *Counter, found bool) Mutation

// Store persists rate-limit counters.
type Store interface {
	Get(ctx context.Context, key string) (Counter, bool, error)
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
	Delete(ctx context.Context, key string) error
}

type options struct {
	now func() time.Time
}

// Option configures a rate-limit primitive.
type Option func(*options)

// WithClock overrides the wall clock used by a primitive.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
