package storeauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/storeauth/internal/rate"
)

// limiter owns every bucket the engine consults. It is built once per engine
// over one counter store, so all instances sharing that store share limits.
type limiter struct {
	store rate.Store

	loginIP          *rate.RefillingBucket
	loginUser        *rate.Throttler
	signupIP         *rate.RefillingBucket
	sendCode         *rate.ExpiringBucket
	totp             *rate.ExpiringBucket
	recoveryCode     *rate.ExpiringBucket
	forgotPasswordIP *rate.RefillingBucket
	forgotPassword   *rate.RefillingBucket
	phoneChangeIP    *rate.RefillingBucket
	passwordUpdate   *rate.ExpiringBucket

	// submission budgets of the verification flows, by flow name
	verifyCode map[string]*rate.ExpiringBucket
}

func newLimiter(store rate.Store, cfg RateLimitConfig, now func() time.Time) (*limiter, error) {
	clock := rate.WithClock(now)
	l := &limiter{store: store, verifyCode: make(map[string]*rate.ExpiringBucket, 4)}

	var err error
	refilling := func(name string, p BucketPolicy) *rate.RefillingBucket {
		if err != nil {
			return nil
		}
		var b *rate.RefillingBucket
		b, err = rate.NewRefillingBucket(store, name, p.Max, p.Interval, clock)
		return b
	}
	expiring := func(name string, p BucketPolicy) *rate.ExpiringBucket {
		if err != nil {
			return nil
		}
		var b *rate.ExpiringBucket
		b, err = rate.NewExpiringBucket(store, name, p.Max, p.Interval, clock)
		return b
	}

	l.loginIP = refilling("login-ip", cfg.LoginIP)
	l.signupIP = refilling("signup-ip", cfg.SignupIP)
	l.sendCode = expiring("send-code", cfg.SendCode)
	l.totp = expiring("totp", cfg.TOTP)
	l.recoveryCode = expiring("recovery-code", cfg.RecoveryCode)
	l.forgotPasswordIP = refilling("forgot-ip", cfg.ForgotPasswordIP)
	l.forgotPassword = refilling("forgot-user", cfg.ForgotPassword)
	l.phoneChangeIP = refilling("phone-change-ip", cfg.PhoneChangeIP)
	l.passwordUpdate = expiring("password-update", cfg.PasswordUpdate)
	for _, name := range []string{"verify-signup", "verify-email", "verify-phone", "verify-reset"} {
		l.verifyCode[name] = expiring(name, cfg.VerifyCode)
	}
	if err != nil {
		return nil, err
	}

	l.loginUser, err = rate.NewThrottler(store, "login-user", cfg.LoginDelays, clock)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// checkBucket is the pure pre-check of a refilling bucket.
func checkBucket(ctx context.Context, b *rate.RefillingBucket, id string) error {
	ok, err := b.Check(ctx, id, 1)
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return rateLimited(0)
	}
	return nil
}

type consumer interface {
	Consume(ctx context.Context, id string, cost int64) (bool, time.Duration, error)
}

// contentionCooldown is the retry hint for a consume that kept losing the
// race for its counter.
const contentionCooldown = time.Second

// consumeFailed classifies a store failure during a consume. A key too hot to
// update is answered like an exhausted bucket.
func consumeFailed(err error) error {
	if errors.Is(err, rate.ErrContention) {
		return rateLimited(contentionCooldown)
	}
	return unavailable(err)
}

// consume takes one token from b, reporting a rejection as a *RateLimitError.
func consume(ctx context.Context, b consumer, id string) error {
	ok, wait, err := b.Consume(ctx, id, 1)
	if err != nil {
		return consumeFailed(err)
	}
	if !ok {
		return rateLimited(wait)
	}
	return nil
}

func (l *limiter) throttleLogin(ctx context.Context, userID string) error {
	ok, wait, err := l.loginUser.Consume(ctx, userID)
	if err != nil {
		return consumeFailed(err)
	}
	if !ok {
		return rateLimited(wait)
	}
	return nil
}

// ipKey keys per-IP buckets. Requests without a known address share one key.
func ipKey(ctx context.Context) string {
	if ip := clientIPFromContext(ctx); ip != "" {
		return ip
	}
	return "unknown"
}
