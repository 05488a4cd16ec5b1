package verification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/MrEthical07/storeauth/internal"
	"github.com/MrEthical07/storeauth/internal/rate"
)

const (
	// DefaultCodeTTL is how long a code can be submitted.
	DefaultCodeTTL = 10 * time.Minute
	// DefaultMaxAttempts is the number of wrong codes that void a request.
	DefaultMaxAttempts = 3
	// CodeDigits is the length of generated codes.
	CodeDigits = 6

	// retention keeps expired requests long enough to be re-issued on
	// submission instead of reported as missing.
	retention = time.Hour
)

var (
	// ErrNoRequest is returned when the user has no pending request of the flow's kind.
	ErrNoRequest = errors.New("no pending verification request")
	// ErrCodeExpired is returned when the code expired; a new one was issued.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrAttemptsExhausted is returned when the attempt ceiling was reached; the request is gone.
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")
	// ErrInvalidTarget is returned when Start is called without a destination.
	ErrInvalidTarget = errors.New("verification target required")
)

// RateLimitedError reports that the flow's budget is spent.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("verification rate limited, retry after %s", e.RetryAfter)
}

// MismatchError reports a wrong code and how many attempts remain.
type MismatchError struct {
	Remaining int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("incorrect code, %d attempts remaining", e.Remaining)
}

// Sender delivers a code to a request target.
type Sender interface {
	SendCode(ctx context.Context, kind Kind, target, code string) error
}

// Config tunes a [Flow].
type Config struct {
	CodeTTL     time.Duration
	MaxAttempts int
	Now         func() time.Time
}

// Flow runs one verification kind end to end.
type Flow struct {
	kind        Kind
	store       Store
	sender      Sender
	bucket      *rate.ExpiringBucket
	codeTTL     time.Duration
	maxAttempts int
	now         func() time.Time
}

// NewFlow builds a flow. bucket guards code submission and may be nil.
func NewFlow(kind Kind, store Store, sender Sender, bucket *rate.ExpiringBucket, cfg Config) *Flow {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Flow{
		kind:        kind,
		store:       store,
		sender:      sender,
		bucket:      bucket,
		codeTTL:     cfg.CodeTTL,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
	}
}

// Kind returns the flow's kind.
func (f *Flow) Kind() Kind { return f.kind }

// Start issues a new request for userID, replacing any pending one, and sends
// the code to target. The request is persisted before sending; a send failure
// is logged and does not fail the call.
func (f *Flow) Start(ctx context.Context, userID, target string) (string, *Request, error) {
	if target == "" {
		return "", nil, ErrInvalidTarget
	}
	token, err := internal.NewToken()
	if err != nil {
		return "", nil, err
	}
	code, err := internal.NewOTP(CodeDigits)
	if err != nil {
		return "", nil, err
	}

	now := f.now()
	req := &Request{
		ID:        internal.HashToken(token),
		UserID:    userID,
		Kind:      f.kind,
		Target:    target,
		CodeHash:  HashCode(code),
		CreatedAt: now,
		ExpiresAt: now.Add(f.codeTTL),
	}
	if err := f.store.Replace(ctx, req, f.codeTTL+retention); err != nil {
		return "", nil, err
	}

	f.send(ctx, target, code)
	return token, req, nil
}

// Resend issues a fresh code for the pending request's target.
func (f *Flow) Resend(ctx context.Context, userID string) (string, *Request, error) {
	req, err := f.Current(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	return f.Start(ctx, userID, req.Target)
}

// Current returns the pending request of userID.
func (f *Flow) Current(ctx context.Context, userID string) (*Request, error) {
	req, err := f.store.Get(ctx, f.kind, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoRequest
	}
	return req, err
}

// Lookup resolves a request by its bearer token.
func (f *Flow) Lookup(ctx context.Context, token string) (*Request, error) {
	if token == "" {
		return nil, ErrNoRequest
	}
	req, err := f.store.GetByID(ctx, internal.HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoRequest
	}
	if err != nil {
		return nil, err
	}
	if req.Kind != f.kind {
		return nil, ErrNoRequest
	}
	return req, nil
}

// Cancel discards the pending request of userID.
func (f *Flow) Cancel(ctx context.Context, userID string) error {
	return f.store.Delete(ctx, f.kind, userID)
}

// ResetBudget restores the submission budget for userID.
func (f *Flow) ResetBudget(ctx context.Context, userID string) error {
	if f.bucket == nil {
		return nil
	}
	return f.bucket.Reset(ctx, userID)
}

// Submit checks code against the pending request of userID. On success the
// request is consumed and returned for the caller to apply.
//
// Errors: [ErrNoRequest]; [*RateLimitedError] before any comparison;
// [ErrCodeExpired] after a new code was sent; [*MismatchError] while attempts
// remain; [ErrAttemptsExhausted] once the ceiling is hit.
func (f *Flow) Submit(ctx context.Context, userID, code string) (*Request, error) {
	if _, err := f.Current(ctx, userID); err != nil {
		return nil, err
	}

	if f.bucket != nil {
		ok, wait, err := f.bucket.Consume(ctx, userID, 1)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &RateLimitedError{RetryAfter: wait}
		}
	}

	outcome, req, err := f.store.Attempt(ctx, f.kind, userID, HashCode(code), f.now(), f.maxAttempts)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case OutcomeMatched:
		return req, nil
	case OutcomeExpired:
		if _, _, err := f.Start(ctx, userID, req.Target); err != nil {
			return nil, err
		}
		return nil, ErrCodeExpired
	case OutcomeMismatch:
		return nil, &MismatchError{Remaining: f.maxAttempts - int(req.Attempts)}
	case OutcomeExhausted:
		return nil, ErrAttemptsExhausted
	default:
		return nil, ErrNoRequest
	}
}

func (f *Flow) send(ctx context.Context, target, code string) {
	if f.sender == nil {
		return
	}
	if err := f.sender.SendCode(ctx, f.kind, target, code); err != nil {
		log.Printf("storeauth: %s code send failed: %v", f.kind, err)
	}
}
