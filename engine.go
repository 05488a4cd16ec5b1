package storeauth

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/storeauth/internal/rate"
	"github.com/MrEthical07/storeauth/internal/secretbox"
	"github.com/MrEthical07/storeauth/internal/verification"
	"github.com/MrEthical07/storeauth/jwt"
	"github.com/MrEthical07/storeauth/password"
	"github.com/MrEthical07/storeauth/session"
	"github.com/MrEthical07/storeauth/storage"
	"github.com/MrEthical07/storeauth/totp"
)

// Engine runs every authentication action. It is safe for concurrent use
// once built.
type Engine struct {
	config Config
	users  storage.UserStore
	redis  redis.UniversalClient

	sessions *session.Manager
	resets   *session.ResetManager

	signupFlow *verification.Flow
	emailFlow  *verification.Flow
	phoneFlow  *verification.Flow
	resetFlow  *verification.Flow

	limits   *limiter
	hasher   password.Hasher
	policy   password.Policy
	tickets  *jwt.Manager
	keys     *secretbox.Box
	totpCode totp.Config

	audit   *auditQueue
	metrics *Metrics
	now     func() time.Time

	// counters is set when rate-limit state lives in process memory.
	counters *rate.MemoryStore
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.shutdown()
	}
}

// RunSweeper evicts expired in-memory rate-limit counters every interval
// until ctx is done. It returns at once when Redis holds the counters.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if e == nil || e.counters == nil {
		return
	}
	e.counters.RunSweeper(ctx, interval)
}

// AuditDropped returns how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.droppedCount()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Health pings the user store and, when configured, Redis.
func (e *Engine) Health(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.users.Ping(ctx); err != nil {
		return unavailable(err)
	}
	if e.redis != nil {
		if err := e.redis.Ping(ctx).Err(); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// authenticate resolves a session token and its user. Unknown, expired and
// orphaned sessions are all [ErrUnauthenticated].
func (e *Engine) authenticate(ctx context.Context, token string) (*session.Session, *storage.User, error) {
	if e == nil {
		return nil, nil, ErrEngineNotReady
	}
	sess, err := e.sessions.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalid) {
			return nil, nil, ErrUnauthenticated
		}
		return nil, nil, unavailable(err)
	}
	if sess.Renewed {
		e.metricInc(MetricSessionRenewed)
	}

	user, err := e.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if delErr := e.sessions.Invalidate(ctx, sess.ID); delErr != nil {
				log.Printf("storeauth: orphaned session cleanup failed: %v", delErr)
			}
			return nil, nil, ErrUnauthenticated
		}
		return nil, nil, unavailable(err)
	}
	return sess, user, nil
}

// requireStep fails unless the session stands exactly at want.
func requireStep(user *storage.User, sess *session.Session, want Step) error {
	next := NextStep(user, sess)
	switch {
	case next == want:
		return nil
	case next < want:
		return stepError(next)
	case want == StepVerifyEmail:
		return ErrEmailAlreadyVerified
	case want == StepVerifyTwoFactor:
		return ErrTwoFactorAlreadyVerified
	default:
		return ErrForbidden
	}
}

func stepError(next Step) error {
	switch next {
	case StepVerifyEmail:
		return ErrEmailNotVerified
	case StepSetupTwoFactor:
		return ErrTwoFactorNotRegistered
	case StepVerifyTwoFactor:
		return ErrTwoFactorRequired
	default:
		return ErrForbidden
	}
}

func (e *Engine) loadUser(ctx context.Context, id string) (*storage.User, error) {
	user, err := e.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, unavailable(err)
	}
	return user, nil
}

// checkStrength applies the password policy. Rejections are KindWeakPassword
// with the policy's reason.
func (e *Engine) checkStrength(ctx context.Context, candidate string, user *storage.User) error {
	var identifiers []string
	if user != nil {
		identifiers = []string{user.Email, user.Username}
	}
	if err := e.policy.Check(ctx, candidate, identifiers...); err != nil {
		return weakPassword(err)
	}
	return nil
}

func weakPassword(reason error) error {
	return newError(KindWeakPassword, "Weak password: "+reason.Error())
}

func (e *Engine) hashPassword(plaintext string) (string, error) {
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		if errors.Is(err, password.ErrEmptyPassword) || errors.Is(err, password.ErrPasswordTooLong) {
			return "", weakPassword(err)
		}
		return "", err
	}
	return hash, nil
}

func totpKeyContext(userID string) string {
	return "totp:" + userID
}

func (e *Engine) openTOTPKey(user *storage.User) ([]byte, error) {
	if !user.RegisteredTOTP() {
		return nil, ErrTwoFactorNotRegistered
	}
	key, err := e.keys.Open(user.TOTPKey, totpKeyContext(user.ID))
	if err != nil {
		return nil, unavailable(err)
	}
	return key, nil
}

// checkTOTP validates code against the user's stored key within the grace window.
func (e *Engine) checkTOTP(user *storage.User, code string) error {
	key, err := e.openTOTPKey(user)
	if err != nil {
		return err
	}
	ok, _, err := totp.VerifyWithGracePeriod(e.totpCode, key, code, e.now())
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return ErrIncorrectCode
	}
	return nil
}

// consumeRecoveryCode removes code from the user's set, reporting a miss as
// [ErrInvalidRecoveryCode].
func (e *Engine) consumeRecoveryCode(ctx context.Context, user *storage.User, code string) error {
	idx := totp.MatchRecoveryCode(user.ID, code, user.RecoveryCodes)
	if idx < 0 {
		return ErrInvalidRecoveryCode
	}
	ok, err := e.users.ConsumeRecoveryCode(ctx, user.ID, user.RecoveryCodes[idx])
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return ErrInvalidRecoveryCode
	}
	return nil
}

// newRecoveryCodes returns a fresh plaintext set and the digests to persist.
func newRecoveryCodes(userID string) ([]string, []string, error) {
	codes, err := totp.GenerateRecoveryCodes(totp.RecoveryCodeCount)
	if err != nil {
		return nil, nil, err
	}
	return codes, totp.HashRecoveryCodes(userID, codes), nil
}

// flowError translates verification outcomes into engine errors.
func (e *Engine) flowError(err error) error {
	if err == nil {
		return nil
	}
	var limited *verification.RateLimitedError
	var mismatch *verification.MismatchError
	switch {
	case errors.As(err, &limited):
		return rateLimited(limited.RetryAfter)
	case errors.As(err, &mismatch):
		return &CodeMismatchError{Remaining: mismatch.Remaining}
	case errors.Is(err, verification.ErrNoRequest):
		return ErrNoRequest
	case errors.Is(err, verification.ErrCodeExpired):
		e.metricInc(MetricCodeExpiredResent)
		return ErrCodeExpired
	case errors.Is(err, verification.ErrAttemptsExhausted):
		e.metricInc(MetricCodeAttemptsExhausted)
		return ErrAttemptsExhausted
	default:
		return unavailable(err)
	}
}

func (e *Engine) createSession(ctx context.Context, userID string, twoFactorVerified, rememberMe bool) (string, *session.Session, error) {
	token, sess, err := e.sessions.Create(ctx, userID, session.Flags{TwoFactorVerified: twoFactorVerified},
		clientIPFromContext(ctx), userAgentFromContext(ctx), rememberMe)
	if err != nil {
		return "", nil, unavailable(err)
	}
	e.metricInc(MetricSessionCreated)
	return token, sess, nil
}
