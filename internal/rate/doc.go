// Package rate provides the rate-limit primitives used by every authentication
// flow: a refilling token bucket, an expiring token bucket and a progressive
// throttler.
//
// # State
//
// Each primitive keeps one [Counter] per key in a [Store]. Stores apply a
// caller-supplied mutation atomically per key, so concurrent requests for the
// same key never both observe the same remaining budget.
//
//   - [MemoryStore]: mutex-guarded map for single-process deployments and tests.
//   - [RedisStore]: WATCH/MULTI optimistic transaction, retried on conflict.
//
// # Clock
//
// All primitives take an injectable clock through [WithClock] so expiry and
// refill behavior is testable without sleeping.
//
// # What this package must NOT do
//
//   - Decide which bucket guards which action (policy lives in the engine).
//   - Be imported outside the storeauth module.
package rate
