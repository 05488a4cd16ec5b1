// Package password hashes credentials with argon2id and decides whether a
// candidate password is strong enough to accept.
//
// # Output format
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes made with weaker parameters so the
// caller can re-hash after the next successful sign-in.
//
// # Strength
//
// [Policy] combines length and character-class rules, a check against the
// account's own identifiers, and an optional [BreachChecker] backed by the
// Pwned Passwords range API.
//
// # What this package must NOT do
//
//   - Store or retrieve credentials.
//   - Import the storeauth root package.
//   - Log plaintext passwords.
package password
