package storeauth

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an engine error for conversion at the boundary.
type Kind uint8

const (
	// KindInternal covers anything unclassified. It renders like KindUnavailable.
	KindInternal Kind = iota
	// KindRateLimited means the caller must wait.
	KindRateLimited
	// KindInvalidCredential is a wrong password, code or token.
	KindInvalidCredential
	// KindExpired is a code, session or request past its lifetime.
	KindExpired
	// KindForbidden is a request that does not match the account's state.
	KindForbidden
	// KindValidation is malformed input rejected before any lookup.
	KindValidation
	// KindWeakPassword is a new password rejected by the strength policy.
	KindWeakPassword
	// KindUnavailable is a persistence or network failure.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindExpired:
		return "expired"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindWeakPassword:
		return "weak_password"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is a classified engine error. Its message is safe to show to users.
type Error struct {
	kind     Kind
	msg      string
	category bool
}

func newCategory(kind Kind, msg string) *Error { return &Error{kind: kind, msg: msg, category: true} }
func newError(kind Kind, msg string) *Error    { return &Error{kind: kind, msg: msg} }

func (e *Error) Error() string { return e.msg }

// Kind returns the error's class.
func (e *Error) Kind() Kind { return e.kind }

// Is makes every error of a kind match that kind's category sentinel, so
// errors.Is(ErrIncorrectCode, ErrInvalidCredential) holds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.category && t.kind == e.kind
}

// Category sentinels.
var (
	ErrRateLimited       = newCategory(KindRateLimited, "Too many requests")
	ErrInvalidCredential = newCategory(KindInvalidCredential, "Invalid credentials")
	ErrExpired           = newCategory(KindExpired, "Expired")
	ErrForbidden         = newCategory(KindForbidden, "Forbidden")
	ErrValidation        = newCategory(KindValidation, "Invalid fields")
	ErrWeakPassword      = newCategory(KindWeakPassword, "Weak password")
	ErrUnavailable       = newCategory(KindUnavailable, "Something went wrong, please try again later")
)

var (
	// ErrInvalidLogin is the only failure login reports for an unknown email
	// or a wrong password.
	ErrInvalidLogin        = newError(KindInvalidCredential, "Invalid email and password combination")
	ErrIncorrectCode       = newError(KindInvalidCredential, "Incorrect code")
	ErrInvalidRecoveryCode = newError(KindInvalidCredential, "Invalid recovery code")
	ErrIncorrectPassword   = newError(KindInvalidCredential, "Incorrect password")

	ErrUnauthenticated   = newError(KindExpired, "Not authenticated")
	ErrResetExpired      = newError(KindExpired, "Password reset session expired, please start again")
	ErrCodeExpired       = newError(KindExpired, "The verification code has expired. A new code was sent")
	ErrAttemptsExhausted = newError(KindExpired, "Too many failed attempts, please request a new code")
	ErrTicketExpired     = newError(KindExpired, "Setup expired, please start again")

	ErrNoRequest                = newError(KindForbidden, "No valid verification request")
	ErrEmailNotVerified         = newError(KindForbidden, "Email address is not verified")
	ErrEmailAlreadyVerified     = newError(KindForbidden, "Email address is already verified")
	ErrTwoFactorNotRegistered   = newError(KindForbidden, "Two-factor authentication is not set up")
	ErrTwoFactorRequired        = newError(KindForbidden, "Two-factor verification required")
	ErrTwoFactorAlreadyVerified = newError(KindForbidden, "Two-factor authentication already verified")

	ErrInvalidEmail    = newError(KindValidation, "Invalid email")
	ErrInvalidUsername = newError(KindValidation, "Invalid username")
	ErrInvalidPhone    = newError(KindValidation, "Invalid phone number")
	ErrInvalidCode     = newError(KindValidation, "Invalid code")
	ErrEmailTaken      = newError(KindValidation, "Email is already used")
	ErrUsernameTaken   = newError(KindValidation, "Username is already used")
	ErrSameEmail       = newError(KindValidation, "New email must differ from the current one")

	ErrEngineNotReady = newError(KindInternal, "engine not initialized")
)

// RateLimitError is a rate-limit rejection with the time until the caller may
// retry. It matches [ErrRateLimited] and never names the limit that tripped.
type RateLimitError struct {
	Cooldown time.Duration
}

func (e *RateLimitError) Error() string { return ErrRateLimited.msg }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// CooldownSeconds rounds the cooldown up to whole seconds.
func (e *RateLimitError) CooldownSeconds() int {
	if e.Cooldown <= 0 {
		return 0
	}
	return int((e.Cooldown + time.Second - 1) / time.Second)
}

// CodeMismatchError reports a wrong one-time code and the attempts left.
type CodeMismatchError struct {
	Remaining int
}

func (e *CodeMismatchError) Error() string {
	if e.Remaining == 1 {
		return "Incorrect code, 1 attempt remaining"
	}
	return fmt.Sprintf("Incorrect code, %d attempts remaining", e.Remaining)
}

func (e *CodeMismatchError) Is(target error) bool { return target == ErrInvalidCredential }

// KindOf classifies err. Unrecognized errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return KindRateLimited
	}
	var cm *CodeMismatchError
	if errors.As(err, &cm) {
		return KindInvalidCredential
	}
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// unavailable wraps an infrastructure failure. Already classified errors
// pass through.
func unavailable(err error) error {
	if err == nil || KindOf(err) != KindInternal {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func rateLimited(wait time.Duration) error {
	return &RateLimitError{Cooldown: wait}
}

func asRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	ok := errors.As(err, &rl)
	return rl, ok
}
