package rate

import (
	"context"
	"fmt"
	"time"
)

// RefillingBucket holds up to max tokens per key and regains one token every
// interval. A key that was never seen starts full.
type RefillingBucket struct {
	store    Store
	name     string
	max      int64
	interval time.Duration
	now      func() time.Time
}

// NewRefillingBucket builds a refilling bucket stored under name.
func NewRefillingBucket(store Store, name string, max int64, interval time.Duration, opts ...Option) (*RefillingBucket, error) {
	if max <= 0 || interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPolicy, name)
	}
	o := buildOptions(opts)
	return &RefillingBucket{store: store, name: name, max: max, interval: interval, now: o.now}, nil
}

// Max returns the bucket capacity.
func (b *RefillingBucket) Max() int64 { return b.max }

func (b *RefillingBucket) key(id string) string {
	return b.name + ":" + id
}

// refill brings c up to date. lastRefill only advances by whole intervals so
// partial progress toward the next token survives; a full bucket is stamped now.
func (b *RefillingBucket) refill(c *Counter, found bool, now time.Time) {
	if !found {
		c.Value = b.max
		c.At = now
		return
	}
	elapsed := now.Sub(c.At)
	if elapsed < 0 {
		elapsed = 0
	}
	steps := int64(elapsed / b.interval)
	if c.Value+steps >= b.max {
		c.Value = b.max
		c.At = now
		return
	}
	c.Value += steps
	c.At = c.At.Add(time.Duration(steps) * b.interval)
}

// Check reports whether cost tokens are available without consuming them.
func (b *RefillingBucket) Check(ctx context.Context, id string, cost int64) (bool, error) {
	if cost > b.max {
		return false, nil
	}
	c, found, err := b.store.Get(ctx, b.key(id))
	if err != nil {
		return false, err
	}
	b.refill(&c, found, b.now())
	return c.Value >= cost, nil
}

// Consume removes cost tokens when available. When denied it returns the
// time until cost tokens will exist.
func (b *RefillingBucket) Consume(ctx context.Context, id string, cost int64) (bool, time.Duration, error) {
	if cost > b.max {
		return false, 0, nil
	}

	var (
		allowed bool
		wait    time.Duration
	)
	now := b.now()
	ttl := time.Duration(b.max) * b.interval
	err := b.store.Update(ctx, b.key(id), ttl, func(c *Counter, found bool) Mutation {
		b.refill(c, found, now)
		if c.Value < cost {
			allowed = false
			missing := cost - c.Value
			wait = time.Duration(missing)*b.interval - now.Sub(c.At)
			if wait < 0 {
				wait = 0
			}
			return Keep
		}
		allowed = true
		wait = 0
		c.Value -= cost
		return Write
	})
	if err != nil {
		return false, 0, err
	}
	return allowed, wait, nil
}

// Reset forgets all state for id, leaving the bucket full.
func (b *RefillingBucket) Reset(ctx context.Context, id string) error {
	return b.store.Delete(ctx, b.key(id))
}

// ExpiringBucket grants max tokens per window. The window starts at the first
// consume and the whole budget returns at once when it elapses.
type ExpiringBucket struct {
	store     Store
	name      string
	max       int64
	expiresIn time.Duration
	now       func() time.Time
}

// NewExpiringBucket builds an expiring bucket stored under name.
func NewExpiringBucket(store Store, name string, max int64, expiresIn time.Duration, opts ...Option) (*ExpiringBucket, error) {
	if max <= 0 || expiresIn <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPolicy, name)
	}
	o := buildOptions(opts)
	return &ExpiringBucket{store: store, name: name, max: max, expiresIn: expiresIn, now: o.now}, nil
}

// Max returns the bucket capacity.
func (b *ExpiringBucket) Max() int64 { return b.max }

func (b *ExpiringBucket) key(id string) string {
	return b.name + ":" + id
}

// expired treats the instant At+expiresIn as outside the window, the same
// instant the store TTL drops the counter.
func (b *ExpiringBucket) expired(c Counter, now time.Time) bool {
	return now.Sub(c.At) >= b.expiresIn
}

// Check reports whether cost tokens are available without consuming them.
func (b *ExpiringBucket) Check(ctx context.Context, id string, cost int64) (bool, error) {
	if cost > b.max {
		return false, nil
	}
	c, found, err := b.store.Get(ctx, b.key(id))
	if err != nil {
		return false, err
	}
	if !found || b.expired(c, b.now()) {
		return true, nil
	}
	return c.Value >= cost, nil
}

// Consume removes cost tokens. A missing or expired window restarts with
// max-cost tokens stamped now.
func (b *ExpiringBucket) Consume(ctx context.Context, id string, cost int64) (bool, time.Duration, error) {
	if cost > b.max {
		return false, 0, nil
	}

	var (
		allowed bool
		wait    time.Duration
	)
	now := b.now()
	err := b.store.Update(ctx, b.key(id), b.expiresIn, func(c *Counter, found bool) Mutation {
		if !found || b.expired(*c, now) {
			allowed = true
			wait = 0
			c.Value = b.max - cost
			c.At = now
			return Write
		}
		if c.Value < cost {
			allowed = false
			wait = c.At.Add(b.expiresIn).Sub(now)
			return Keep
		}
		allowed = true
		wait = 0
		c.Value -= cost
		return Write
	})
	if err != nil {
		return false, 0, err
	}
	return allowed, wait, nil
}

// Reset deletes the window for id; the next consume starts a fresh one.
func (b *ExpiringBucket) Reset(ctx context.Context, id string) error {
	return b.store.Delete(ctx, b.key(id))
}
