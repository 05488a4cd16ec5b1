// Package totp implements RFC 6238 time-based one-time passwords with a
// trailing grace window, authenticator provisioning URIs and single-use
// recovery codes.
//
// Recovery codes are never stored in plaintext: [HashRecoveryCode] binds each
// code to its owner's ID before hashing.
package totp
