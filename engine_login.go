package storeauth

import (
	"context"
	"errors"
	"log"

	"github.com/MrEthical07/storeauth/storage"
)

// Login checks an email and password and opens a session that has not
// passed a second factor yet. Unknown emails and wrong passwords fail the
// same way with [ErrInvalidLogin]. The per-IP bucket is checked before any
// lookup and the per-account throttler is consumed before the hash
// comparison; only a correct password resets the throttler.
func (e *Engine) Login(ctx context.Context, email, password string, rememberMe bool) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		user   *storage.User
		result = &LoginResult{}
	)

	err := newPipeline("login").
		rateLimit(func(ctx context.Context) error {
			err := checkBucket(ctx, e.limits.loginIP, ipKey(ctx))
			e.observeRateLimit(ctx, "login_ip", "", err)
			return err
		}).
		validate(func(ctx context.Context) error {
			var err error
			email, err = normalizeEmail(email)
			if err != nil || password == "" {
				return ErrInvalidLogin
			}
			return nil
		}).
		lookup(func(ctx context.Context) error {
			var err error
			user, err = e.users.GetByEmail(ctx, email)
			if err == nil {
				return nil
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return unavailable(err)
			}
			// Misses drain the IP bucket like wrong passwords do.
			if err := consume(ctx, e.limits.loginIP, ipKey(ctx)); err != nil {
				e.observeRateLimit(ctx, "login_ip", "", err)
				return err
			}
			return ErrInvalidLogin
		}).
		throttle(func(ctx context.Context) error {
			if err := consume(ctx, e.limits.loginIP, ipKey(ctx)); err != nil {
				e.observeRateLimit(ctx, "login_ip", user.ID, err)
				return err
			}
			err := e.limits.throttleLogin(ctx, user.ID)
			e.observeRateLimit(ctx, "login_user", user.ID, err)
			return err
		}).
		verify(func(ctx context.Context) error {
			ok, err := e.hasher.Verify(password, user.PasswordHash)
			if err != nil {
				return unavailable(err)
			}
			if !ok {
				return ErrInvalidLogin
			}
			return nil
		}).
		mutate(func(ctx context.Context) error {
			if err := e.limits.loginUser.Reset(ctx, user.ID); err != nil {
				return unavailable(err)
			}
			if e.config.Password.UpgradeOnLogin {
				e.upgradeHash(ctx, user, password)
			}

			token, sess, err := e.createSession(ctx, user.ID, false, rememberMe)
			if err != nil {
				return err
			}
			result.SessionToken, result.SessionExpiresAt = token, sess.ExpiresAt
			result.Next = NextStep(user, sess)
			return nil
		}).
		run(ctx)

	if err != nil {
		userID := ""
		if user != nil {
			userID = user.ID
		}
		if KindOf(err) == KindRateLimited {
			e.metricInc(MetricLoginRateLimited)
		} else {
			e.metricInc(MetricLoginFailure)
		}
		e.emitAudit(ctx, AuditLoginFailure, false, userID, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditLoginSuccess, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"next": result.Next.String()}
	})
	return result, nil
}

// upgradeHash rehashes password when the stored hash uses weaker parameters
// than the configured ones. Failures are logged; the login still succeeds.
func (e *Engine) upgradeHash(ctx context.Context, user *storage.User, password string) {
	stale, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		log.Printf("storeauth: password rehash failed: %v", err)
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		log.Printf("storeauth: password rehash failed: %v", err)
	}
}
