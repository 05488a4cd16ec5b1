package storeauth

import (
	"context"

	"github.com/MrEthical07/storeauth/session"
	"github.com/MrEthical07/storeauth/storage"
)

// UpdatePassword replaces the password of a fully signed-in user. Every
// session of the user is signed out and a new two-factor verified session is
// returned in place of the caller's.
func (e *Engine) UpdatePassword(ctx context.Context, sessionToken, current, next string) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		sess   *session.Session
		user   *storage.User
		result = &LoginResult{Next: StepDone}
	)
	err := newPipeline("update_password").
		rateLimit(func(ctx context.Context) error {
			err := consume(ctx, e.limits.passwordUpdate, session.HashToken(sessionToken))
			e.observeRateLimit(ctx, "password_update", "", err)
			return err
		}).
		validate(func(ctx context.Context) error {
			if current == "" {
				return ErrIncorrectPassword
			}
			return nil
		}).
		lookup(func(ctx context.Context) error {
			return e.lookupFullySignedIn(ctx, sessionToken, &user, &sess)
		}).
		verify(func(ctx context.Context) error {
			ok, err := e.hasher.Verify(current, user.PasswordHash)
			if err != nil {
				return unavailable(err)
			}
			if !ok {
				return ErrIncorrectPassword
			}
			return e.checkStrength(ctx, next, user)
		}).
		mutate(func(ctx context.Context) error {
			hash, err := e.hashPassword(next)
			if err != nil {
				return unavailable(err)
			}
			if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
				return unavailable(err)
			}
			if err := e.sessions.InvalidateUser(ctx, user.ID); err != nil {
				return unavailable(err)
			}
			e.metricInc(MetricSessionInvalidated)

			token, replacement, err := e.createSession(ctx, user.ID, true, sess.RememberMe)
			if err != nil {
				return err
			}
			result.SessionToken, result.SessionExpiresAt = token, replacement.ExpiresAt
			return unavailable(e.limits.passwordUpdate.Reset(ctx, sess.ID))
		}).
		run(ctx)

	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, AuditPasswordChangeFailure, false, userIDOf(user), sessionIDOf(sess), err, nil)
		return nil, err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditPasswordChangeSuccess, true, user.ID, sess.ID, nil, nil)
	return result, nil
}
