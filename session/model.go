package session

import "time"

// Session is a server-side authentication record. ID is the SHA-256 digest of
// the bearer token; the token itself is never stored.
//
// Password-reset sessions reuse this record: they additionally carry the
// Email the reset was requested for and whether that address has been proven
// during the reset (EmailVerified).
type Session struct {
	ID                string
	UserID            string
	Email             string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	TwoFactorVerified bool
	EmailVerified     bool
	RememberMe        bool
	IPAddress         string
	UserAgent         string

	// Renewed is set by Validate when the expiry was pushed forward during
	// that call. It is not persisted.
	Renewed bool
}

// Flags are the initial verification flags of a new session.
type Flags struct {
	TwoFactorVerified bool
}

// Expired reports whether the session has reached its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	c := *s
	c.Renewed = false
	return &c
}
