package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newRedisTestStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "test")
}

func forEachStore(t *testing.T, clock *testClock, fn func(t *testing.T, store Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore(WithClock(clock.Now)))
	})
	t.Run("redis", func(t *testing.T) {
		fn(t, newRedisTestStore(t))
	})
}

func TestRefillingBucketNeverExceedsMax(t *testing.T) {
	clock := newTestClock()
	forEachStore(t, clock, func(t *testing.T, store Store) {
		ctx := context.Background()
		bucket, err := NewRefillingBucket(store, "login-ip", 3, time.Second, WithClock(clock.Now))
		if err != nil {
			t.Fatalf("new bucket: %v", err)
		}

		clock.Advance(time.Hour)
		for i := 0; i < 3; i++ {
			ok, _, err := bucket.Consume(ctx, "1.2.3.4", 1)
			if err != nil || !ok {
				t.Fatalf("consume %d: ok=%v err=%v", i, ok, err)
			}
		}
		ok, wait, err := bucket.Consume(ctx, "1.2.3.4", 1)
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if ok {
			t.Fatal("expected fourth consume to be denied")
		}
		if wait != time.Second {
			t.Fatalf("expected 1s cooldown, got %v", wait)
		}

		clock.Advance(time.Hour)
		for i := 0; i < 3; i++ {
			if ok, _, _ := bucket.Consume(ctx, "1.2.3.4", 1); !ok {
				t.Fatalf("consume after refill %d denied", i)
			}
		}
		if ok, _, _ := bucket.Consume(ctx, "1.2.3.4", 1); ok {
			t.Fatal("refill must cap at max tokens")
		}
	})
}

func TestRefillingBucketKeepsPartialProgress(t *testing.T) {
	clock := newTestClock()
	forEachStore(t, clock, func(t *testing.T, store Store) {
		ctx := context.Background()
		bucket, _ := NewRefillingBucket(store, "forgot", 2, 10*time.Second, WithClock(clock.Now))

		bucket.Consume(ctx, "u", 1)
		bucket.Consume(ctx, "u", 1)

		clock.Advance(15 * time.Second)
		if ok, _, _ := bucket.Consume(ctx, "u", 1); !ok {
			t.Fatal("expected one refilled token")
		}
		// 5s of progress toward the next token must not be lost.
		clock.Advance(5 * time.Second)
		if ok, _, _ := bucket.Consume(ctx, "u", 1); !ok {
			t.Fatal("expected token from carried partial progress")
		}
	})
}

func TestRefillingBucketCheckDoesNotConsume(t *testing.T) {
	clock := newTestClock()
	bucket, _ := NewRefillingBucket(NewMemoryStore(WithClock(clock.Now)), "x", 1, time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := bucket.Check(ctx, "k", 1)
		if err != nil || !ok {
			t.Fatalf("check %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _, _ := bucket.Consume(ctx, "k", 1); !ok {
		t.Fatal("consume after checks should succeed")
	}
	if ok, _ := bucket.Check(ctx, "k", 1); ok {
		t.Fatal("check after consume should report empty bucket")
	}
}

func TestRefillingBucketCostAboveMax(t *testing.T) {
	bucket, _ := NewRefillingBucket(NewMemoryStore(), "x", 2, time.Second)
	ok, _, err := bucket.Consume(context.Background(), "k", 3)
	if err != nil || ok {
		t.Fatalf("expected denial for cost above max, ok=%v err=%v", ok, err)
	}
}

func TestExpiringBucketFullResetAfterWindow(t *testing.T) {
	clock := newTestClock()
	forEachStore(t, clock, func(t *testing.T, store Store) {
		ctx := context.Background()
		bucket, _ := NewExpiringBucket(store, "verify", 5, 30*time.Minute, WithClock(clock.Now))

		for i := 0; i < 5; i++ {
			if ok, _, _ := bucket.Consume(ctx, "u1", 1); !ok {
				t.Fatalf("consume %d denied", i)
			}
		}
		ok, wait, _ := bucket.Consume(ctx, "u1", 1)
		if ok {
			t.Fatal("sixth consume must be denied")
		}
		if wait != 30*time.Minute {
			t.Fatalf("expected full window cooldown, got %v", wait)
		}

		clock.Advance(30 * time.Minute)
		if ok, _ := bucket.Check(ctx, "u1", 5); !ok {
			t.Fatal("elapsed window must report the full budget")
		}
		for i := 0; i < 5; i++ {
			if ok, _, _ := bucket.Consume(ctx, "u1", 1); !ok {
				t.Fatalf("consume %d after window denied", i)
			}
		}
	})
}

func TestExpiringBucketWindowClosesAtExpiry(t *testing.T) {
	clock := newTestClock()
	forEachStore(t, clock, func(t *testing.T, store Store) {
		ctx := context.Background()
		bucket, _ := NewExpiringBucket(store, "email-code", 1, time.Minute, WithClock(clock.Now))

		if ok, _, err := bucket.Consume(ctx, "u1", 1); err != nil || !ok {
			t.Fatalf("first consume: ok=%v err=%v", ok, err)
		}

		clock.Advance(time.Minute - time.Millisecond)
		ok, wait, err := bucket.Consume(ctx, "u1", 1)
		if err != nil || ok {
			t.Fatalf("expected denial just before expiry: ok=%v err=%v", ok, err)
		}
		if wait != time.Millisecond {
			t.Fatalf("wait = %v, want 1ms", wait)
		}

		clock.Advance(time.Millisecond)
		if ok, _, err := bucket.Consume(ctx, "u1", 1); err != nil || !ok {
			t.Fatalf("expected a fresh window at exactly the expiry instant: ok=%v err=%v", ok, err)
		}
	})
}

func TestExpiringBucketReset(t *testing.T) {
	clock := newTestClock()
	forEachStore(t, clock, func(t *testing.T, store Store) {
		ctx := context.Background()
		bucket, _ := NewExpiringBucket(store, "totp", 2, time.Hour, WithClock(clock.Now))
		bucket.Consume(ctx, "u1", 2)
		if ok, _ := bucket.Check(ctx, "u1", 1); ok {
			t.Fatal("expected exhausted bucket")
		}
		if err := bucket.Reset(ctx, "u1"); err != nil {
			t.Fatalf("reset: %v", err)
		}
		if ok, _ := bucket.Check(ctx, "u1", 2); !ok {
			t.Fatal("reset must restore the full budget")
		}
	})
}

func TestThrottlerMonotonicBackoff(t *testing.T) {
	clock := newTestClock()
	forEachStore(t, clock, func(t *testing.T, store Store) {
		ctx := context.Background()
		delays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
		th, err := NewThrottler(store, "login", delays, WithClock(clock.Now))
		if err != nil {
			t.Fatalf("new throttler: %v", err)
		}

		if ok, _, _ := th.Consume(ctx, "u1"); !ok {
			t.Fatal("first attempt must be allowed")
		}
		ok, wait, _ := th.Consume(ctx, "u1")
		if ok || wait != time.Second {
			t.Fatalf("immediate retry: ok=%v wait=%v", ok, wait)
		}

		for _, d := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second} {
			clock.Advance(d - time.Millisecond)
			if ok, _, _ := th.Consume(ctx, "u1"); ok {
				t.Fatalf("attempt before %v delay must be denied", d)
			}
			clock.Advance(time.Millisecond)
			if ok, _, _ := th.Consume(ctx, "u1"); !ok {
				t.Fatalf("attempt after %v delay must be allowed", d)
			}
		}

		if err := th.Reset(ctx, "u1"); err != nil {
			t.Fatalf("reset: %v", err)
		}
		if ok, _, _ := th.Consume(ctx, "u1"); !ok {
			t.Fatal("attempt after reset must be allowed")
		}
	})
}

func TestMemoryStoreConcurrentConsume(t *testing.T) {
	store := NewMemoryStore()
	bucket, _ := NewExpiringBucket(store, "c", 10, time.Hour)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := bucket.Consume(ctx, "k", 1); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Fatalf("expected exactly 10 allowed consumes, got %d", allowed)
	}
}

func TestRedisStoreReportsContention(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	store := NewRedisStore(rdb, "test")
	ctx := context.Background()

	calls := 0
	err = store.Update(ctx, "hot", time.Minute, func(c *Counter, found bool) Mutation {
		calls++
		// Another writer touches the key between the read and the commit.
		rdb.Set(ctx, "test:hot", encodeCounter(Counter{Value: int64(calls), At: time.Now()}), time.Minute)
		c.Value = 1
		return Write
	})
	if !errors.Is(err, ErrContention) {
		t.Fatalf("expected ErrContention, got %v", err)
	}
	if calls != redisMaxRetries {
		t.Fatalf("update ran %d times, want %d", calls, redisMaxRetries)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()
	store.Update(ctx, "a", time.Minute, func(c *Counter, _ bool) Mutation {
		c.Value = 1
		return Write
	})
	clock.Advance(2 * time.Minute)
	if n := store.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept entry, got %d", n)
	}
	if _, found, _ := store.Get(ctx, "a"); found {
		t.Fatal("swept entry still readable")
	}
}

func TestInvalidPolicies(t *testing.T) {
	store := NewMemoryStore()
	if _, err := NewRefillingBucket(store, "x", 0, time.Second); err == nil {
		t.Fatal("expected error for zero capacity")
	}
	if _, err := NewExpiringBucket(store, "x", 1, 0); err == nil {
		t.Fatal("expected error for zero window")
	}
	if _, err := NewThrottler(store, "x", nil); err == nil {
		t.Fatal("expected error for empty schedule")
	}
}
