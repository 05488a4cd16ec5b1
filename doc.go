// Package storeauth is the authentication core of the commerce admin:
// password login with throttling, signup email verification, TOTP two-factor
// setup and verification, recovery codes, email and phone changes confirmed
// by one-time codes, and password reset.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// storeauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (LoginResult, SessionContext, ActionResult, etc.). Sessions
// live in package session, one-time-code requests in internal/verification
// and rate-limit counters in internal/rate. User records are reached only
// through storage.UserStore.
//
// Every action runs as a staged pipeline: rate limit, validate, lookup,
// throttle, verify, mutate, notify. Registering a stage out of order fails
// the action, so no credential is compared before its budget is consumed
// and no code is sent before its request is persisted.
//
// # What this package must NOT do
//
//   - Name which limit rejected a request, or whether an email is registered.
//   - Log or audit passwords, codes, tokens or TOTP keys.
//   - Import api, middleware or cmd (no import cycles).
//
// # Errors
//
// Failures are *Error values classified by [Kind]; [ResultFromError] turns
// any of them into the uniform {result, message} shape and hides
// infrastructure detail behind a generic message.
package storeauth
