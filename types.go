package storeauth

import (
	"time"

	"github.com/MrEthical07/storeauth/session"
	"github.com/MrEthical07/storeauth/storage"
)

// Step is the next stage a signed-in user must complete.
type Step uint8

const (
	// StepNone is reported for actions that do not move the user along.
	StepNone Step = iota
	// StepVerifyEmail requires confirming the signup email code.
	StepVerifyEmail
	// StepSetupTwoFactor requires registering an authenticator.
	StepSetupTwoFactor
	// StepVerifyTwoFactor requires a TOTP or recovery code for this session.
	StepVerifyTwoFactor
	// StepDone grants access to the dashboard.
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepVerifyEmail:
		return "verify_email"
	case StepSetupTwoFactor:
		return "setup_2fa"
	case StepVerifyTwoFactor:
		return "verify_2fa"
	case StepDone:
		return "dashboard"
	default:
		return ""
	}
}

// ParseStep is the inverse of [Step.String].
func ParseStep(s string) Step {
	for st := StepVerifyEmail; st <= StepDone; st++ {
		if st.String() == s {
			return st
		}
	}
	return StepNone
}

// NextStep derives where a session stands in the sign-in sequence.
func NextStep(u *storage.User, sess *session.Session) Step {
	switch {
	case !u.EmailVerified:
		return StepVerifyEmail
	case !u.RegisteredTOTP():
		return StepSetupTwoFactor
	case !sess.TwoFactorVerified:
		return StepVerifyTwoFactor
	default:
		return StepDone
	}
}

// SignUpInput carries the fields of a signup form.
type SignUpInput struct {
	Email    string
	Username string
	Password string
}

// LoginResult is returned by actions that create a session.
type LoginResult struct {
	SessionToken     string
	SessionExpiresAt time.Time
	// VerificationToken identifies the pending signup email request, if any.
	VerificationToken     string
	VerificationExpiresAt time.Time
	Next                  Step
}

// SessionContext is an authenticated session with its user.
type SessionContext struct {
	Session *session.Session
	User    *storage.User
	Next    Step
}

// TOTPSetup is what a client needs to register an authenticator.
type TOTPSetup struct {
	Ticket    string
	Secret    string
	URI       string
	ExpiresAt time.Time
}

// VerificationTicket identifies a pending verification request to the client.
type VerificationTicket struct {
	Token     string
	ExpiresAt time.Time
}

// ResetTicket identifies a password-reset session to the client.
type ResetTicket struct {
	Token     string
	ExpiresAt time.Time
}

// ResetState describes what a password-reset session still requires.
type ResetState struct {
	Email             string
	EmailVerified     bool
	TwoFactorRequired bool
	TwoFactorVerified bool
	ExpiresAt         time.Time
}

// SessionInfo is the client-safe view of one session.
type SessionInfo struct {
	id string

	CreatedAt         time.Time
	ExpiresAt         time.Time
	TwoFactorVerified bool
	IPAddress         string
	UserAgent         string
	Current           bool
}
