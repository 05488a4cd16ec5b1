package verification

import (
	"crypto/sha256"
	"time"
)

// Kind tags what a request verifies.
type Kind uint8

const (
	KindSignupEmail Kind = iota + 1
	KindEmailChange
	KindPhoneChange
	KindPasswordReset
)

func (k Kind) String() string {
	switch k {
	case KindSignupEmail:
		return "signup_email"
	case KindEmailChange:
		return "email_change"
	case KindPhoneChange:
		return "phone_change"
	case KindPasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindSignupEmail && k <= KindPasswordReset
}

// Request is a pending one-time-code verification. ID is the hash of the
// bearer token handed to the client; Target is the email address or phone
// number the code was sent to.
type Request struct {
	ID        string
	UserID    string
	Kind      Kind
	Target    string
	CodeHash  [32]byte
	ExpiresAt time.Time
	CreatedAt time.Time
	Attempts  uint16
}

// Expired reports whether the code can no longer be used at now.
func (r *Request) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HashCode digests a submitted or generated code.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// Outcome is the result of one atomic code attempt.
type Outcome uint8

const (
	OutcomeNotFound Outcome = iota
	OutcomeExpired
	OutcomeMismatch
	OutcomeExhausted
	OutcomeMatched
)
