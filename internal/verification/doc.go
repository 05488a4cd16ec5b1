// Package verification implements the one-time-code confirmation flow shared
// by sign-up email verification, email change, phone change and password
// reset. A [Flow] is parameterized by a [Kind]; each kind keeps at most one
// live [Request] per user.
//
// # Design
//
// Requests are persisted before any code is sent. Code submission is a fixed
// pipeline: look up the live request, consume the flow's rate budget, handle
// expiry by re-issuing, then compare the code atomically in the store so
// concurrent guesses cannot exceed the attempt ceiling.
//
// Codes are stored as SHA-256 digests and compared in constant time.
//
// # What this package must NOT do
//
//   - Apply the verified change (the caller does that on a matched request).
//   - Decide which rate policy guards a kind; the bucket is injected.
package verification
