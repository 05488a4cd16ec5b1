// Package session owns server-side sessions: token generation, hashed
// persistence, validation with sliding expiry, and bulk invalidation.
//
// # Tokens
//
// [GenerateToken] returns a random bearer token for the client. Only
// [HashToken] of it is persisted, as the session ID, so a leaked store cannot
// be replayed as cookies.
//
// # Sliding expiry
//
// [Manager.Validate] is a read that may write: when less than half of the
// lifetime remains, the expiry is pushed to now plus the full lifetime and the
// record is saved again. Callers see this through [Session.Renewed] and
// should refresh the client cookie.
//
// # Stores
//
//   - [RedisStore]: binary-encoded records with a per-user index set.
//   - [MemoryStore]: in-process map for tests and single-node setups.
//
// # What this package must NOT do
//
//   - Import the storeauth root package.
//   - Decide which verification step a session still needs.
//   - Store bearer tokens.
package session
