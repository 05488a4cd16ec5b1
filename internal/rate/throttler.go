package rate

import (
	"context"
	"fmt"
	"time"
)

// DefaultLoginDelays is the progressive backoff applied to repeated sign-in
// attempts for one account.
var DefaultLoginDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	30 * time.Second,
	60 * time.Second,
	180 * time.Second,
	300 * time.Second,
}

// throttleRetention bounds how long an idle throttler entry is remembered.
const throttleRetention = 24 * time.Hour

// Throttler enforces a growing delay between attempts for a key. Each allowed
// attempt moves one step further along the schedule, saturating at the last
// delay, until Reset is called.
type Throttler struct {
	store  Store
	name   string
	delays []time.Duration
	now    func() time.Time
}

// NewThrottler builds a throttler with the given delay schedule.
func NewThrottler(store Store, name string, delays []time.Duration, opts ...Option) (*Throttler, error) {
	if len(delays) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPolicy, name)
	}
	for _, d := range delays {
		if d < 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPolicy, name)
		}
	}
	o := buildOptions(opts)
	schedule := make([]time.Duration, len(delays))
	copy(schedule, delays)
	return &Throttler{store: store, name: name, delays: schedule, now: o.now}, nil
}

func (t *Throttler) key(id string) string {
	return t.name + ":" + id
}

// Consume records an attempt. The first attempt for a key is always allowed.
// Later attempts are allowed once the delay for the current step has passed
// since the previous allowed attempt.
func (t *Throttler) Consume(ctx context.Context, id string) (bool, time.Duration, error) {
	var (
		allowed bool
		wait    time.Duration
	)
	now := t.now()
	err := t.store.Update(ctx, t.key(id), throttleRetention, func(c *Counter, found bool) Mutation {
		if !found {
			allowed = true
			wait = 0
			c.Value = 0
			c.At = now
			return Write
		}
		idx := clampIndex(c.Value, len(t.delays))
		delay := t.delays[idx]
		if since := now.Sub(c.At); since < delay {
			allowed = false
			wait = delay - since
			return Keep
		}
		allowed = true
		wait = 0
		c.Value = int64(clampIndex(int64(idx)+1, len(t.delays)))
		c.At = now
		return Write
	})
	if err != nil {
		return false, 0, err
	}
	return allowed, wait, nil
}

// Reset clears the schedule for id.
func (t *Throttler) Reset(ctx context.Context, id string) error {
	return t.store.Delete(ctx, t.key(id))
}

func clampIndex(v int64, n int) int {
	if v < 0 {
		return 0
	}
	if v >= int64(n) {
		return n - 1
	}
	return int(v)
}
