// Package internal holds helpers private to storeauth: random tokens, token
// digests and one-time codes.
//
// # Sub-packages
//
//   - rate: refilling and expiring buckets plus the login throttler, over
//     an in-memory or Redis counter store
//   - verification: one-time-code requests and the flow that sends and
//     checks them
//   - secretbox: AES-GCM sealing of TOTP keys with the key in a memguard
//     enclave
//   - security: the configuration posture report
//
// # What this package must NOT do
//
//   - Export types that appear in the public storeauth API.
package internal
