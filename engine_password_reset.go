package storeauth

import (
	"context"
	"errors"
	"log"

	"github.com/MrEthical07/storeauth/internal"
	"github.com/MrEthical07/storeauth/internal/verification"
	"github.com/MrEthical07/storeauth/session"
	"github.com/MrEthical07/storeauth/storage"
)

// ForgotPassword opens a password-reset session for email and sends a code
// to it. Unknown addresses get a ticket of the same shape that resolves to
// nothing, so the response never reveals whether an account exists.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (*ResetTicket, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		user   *storage.User
		ticket = &ResetTicket{}
	)
	err := newPipeline("forgot_password").
		rateLimit(func(ctx context.Context) error {
			err := consume(ctx, e.limits.forgotPasswordIP, ipKey(ctx))
			e.observeRateLimit(ctx, "forgot_password_ip", "", err)
			return err
		}).
		validate(func(ctx context.Context) error {
			var err error
			email, err = normalizeEmail(email)
			return err
		}).
		lookup(func(ctx context.Context) error {
			var err error
			user, err = e.users.GetByEmail(ctx, email)
			if errors.Is(err, storage.ErrNotFound) {
				user = nil
				return nil
			}
			return unavailable(err)
		}).
		throttle(func(ctx context.Context) error {
			err := consume(ctx, e.limits.forgotPassword, email)
			e.observeRateLimit(ctx, "forgot_password", userIDOf(user), err)
			return err
		}).
		mutate(func(ctx context.Context) error {
			if user == nil {
				token, err := internal.NewToken()
				if err != nil {
					return unavailable(err)
				}
				ticket.Token = token
				ticket.ExpiresAt = e.now().Add(e.config.Session.ResetLifetime)
				return nil
			}
			token, sess, err := e.resets.Create(ctx, user.ID, user.Email, session.Flags{})
			if err != nil {
				return unavailable(err)
			}
			ticket.Token, ticket.ExpiresAt = token, sess.ExpiresAt
			return nil
		}).
		notify(func(ctx context.Context) error {
			if user == nil {
				return nil
			}
			_, err := e.startFlow(ctx, e.resetFlow, user.ID, user.Email)
			return err
		}).
		run(ctx)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, AuditPasswordResetRequest, user != nil, userIDOf(user), "", nil, nil)
	return ticket, nil
}

// resolveReset loads a reset session and its user. Anything that does not
// resolve is [ErrResetExpired].
func (e *Engine) resolveReset(ctx context.Context, token string) (*session.Session, *storage.User, error) {
	sess, err := e.resets.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalid) {
			return nil, nil, ErrResetExpired
		}
		return nil, nil, unavailable(err)
	}
	user, err := e.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if delErr := e.resets.Invalidate(ctx, sess.ID); delErr != nil {
				log.Printf("storeauth: orphaned reset session cleanup failed: %v", delErr)
			}
			return nil, nil, ErrResetExpired
		}
		return nil, nil, unavailable(err)
	}
	return sess, user, nil
}

func resetState(sess *session.Session, user *storage.User) *ResetState {
	return &ResetState{
		Email:             sess.Email,
		EmailVerified:     sess.EmailVerified,
		TwoFactorRequired: user.RegisteredTOTP(),
		TwoFactorVerified: sess.TwoFactorVerified,
		ExpiresAt:         sess.ExpiresAt,
	}
}

// ValidateResetSession reports what the reset session of token still needs.
func (e *Engine) ValidateResetSession(ctx context.Context, token string) (*ResetState, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sess, user, err := e.resolveReset(ctx, token)
	if err != nil {
		return nil, err
	}
	return resetState(sess, user), nil
}

// VerifyResetEmail confirms the code sent by [Engine.ForgotPassword]. It
// proves ownership of the address, so an unverified account email becomes
// verified too.
func (e *Engine) VerifyResetEmail(ctx context.Context, token, code string) (*ResetState, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		sess *session.Session
		user *storage.User
	)
	err := newPipeline("verify_reset_email").
		validate(func(ctx context.Context) error {
			return validateCode(code, verification.CodeDigits)
		}).
		lookup(func(ctx context.Context) error {
			var err error
			if sess, user, err = e.resolveReset(ctx, token); err != nil {
				return err
			}
			if sess.EmailVerified {
				return ErrEmailAlreadyVerified
			}
			return nil
		}).
		verify(func(ctx context.Context) error {
			req, err := e.submitCode(ctx, e.resetFlow, user.ID, code)
			if err != nil {
				return err
			}
			if req.Target != sess.Email {
				return ErrNoRequest
			}
			return nil
		}).
		mutate(func(ctx context.Context) error {
			if err := e.resets.MarkEmailVerified(ctx, sess.ID); err != nil {
				if errors.Is(err, session.ErrInvalid) {
					return ErrResetExpired
				}
				return unavailable(err)
			}
			sess.EmailVerified = true
			if !user.EmailVerified && user.Email == sess.Email {
				if err := e.users.SetEmailVerified(ctx, user.ID, true); err != nil {
					return unavailable(err)
				}
			}
			return unavailable(e.resetFlow.ResetBudget(ctx, user.ID))
		}).
		run(ctx)

	if err != nil {
		e.emitAudit(ctx, AuditCodeFailure, false, userIDOf(user), "", err, func() map[string]string {
			return map[string]string{"kind": verification.KindPasswordReset.String()}
		})
		return nil, err
	}
	e.emitAudit(ctx, AuditPasswordResetVerified, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"factor": "email"}
	})
	return resetState(sess, user), nil
}

// lookupResetForSecondFactor resolves a reset session that has proven its
// email and still owes a second factor.
func (e *Engine) lookupResetForSecondFactor(ctx context.Context, token string) (*session.Session, *storage.User, error) {
	sess, user, err := e.resolveReset(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case !sess.EmailVerified:
		return nil, nil, ErrEmailNotVerified
	case !user.RegisteredTOTP():
		return nil, nil, ErrTwoFactorNotRegistered
	case sess.TwoFactorVerified:
		return nil, nil, ErrTwoFactorAlreadyVerified
	}
	return sess, user, nil
}

// VerifyResetTOTP proves the second factor of a reset with an authenticator code.
func (e *Engine) VerifyResetTOTP(ctx context.Context, token, code string) (*ResetState, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		sess *session.Session
		user *storage.User
	)
	err := newPipeline("verify_reset_totp").
		validate(func(ctx context.Context) error {
			return validateCode(code, e.totpCode.Digits)
		}).
		lookup(func(ctx context.Context) error {
			var err error
			sess, user, err = e.lookupResetForSecondFactor(ctx, token)
			return err
		}).
		throttle(func(ctx context.Context) error {
			err := consume(ctx, e.limits.totp, user.ID)
			e.observeRateLimit(ctx, "totp", user.ID, err)
			return err
		}).
		verify(func(ctx context.Context) error {
			return e.checkTOTP(user, code)
		}).
		mutate(func(ctx context.Context) error {
			return e.markResetTwoFactor(ctx, sess, e.limits.totp.Reset)
		}).
		run(ctx)

	if err != nil {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, AuditTOTPFailure, false, userIDOf(user), "", err, func() map[string]string {
			return map[string]string{"stage": "password_reset"}
		})
		return nil, err
	}
	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, AuditPasswordResetVerified, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"factor": "totp"}
	})
	return resetState(sess, user), nil
}

// VerifyResetRecoveryCode proves the second factor of a reset with a
// recovery code, consuming it.
func (e *Engine) VerifyResetRecoveryCode(ctx context.Context, token, code string) (*ResetState, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		sess *session.Session
		user *storage.User
	)
	err := newPipeline("verify_reset_recovery_code").
		validate(func(ctx context.Context) error {
			return validateRecoveryCode(code)
		}).
		lookup(func(ctx context.Context) error {
			var err error
			sess, user, err = e.lookupResetForSecondFactor(ctx, token)
			return err
		}).
		throttle(func(ctx context.Context) error {
			err := consume(ctx, e.limits.recoveryCode, user.ID)
			e.observeRateLimit(ctx, "recovery_code", user.ID, err)
			return err
		}).
		verify(func(ctx context.Context) error {
			return e.consumeRecoveryCode(ctx, user, code)
		}).
		mutate(func(ctx context.Context) error {
			return e.markResetTwoFactor(ctx, sess, e.limits.recoveryCode.Reset)
		}).
		run(ctx)

	if err != nil {
		e.metricInc(MetricRecoveryCodeFailure)
		e.emitAudit(ctx, AuditRecoveryCodeFailed, false, userIDOf(user), "", err, func() map[string]string {
			return map[string]string{"stage": "password_reset"}
		})
		return nil, err
	}
	e.metricInc(MetricRecoveryCodeUsed)
	e.emitAudit(ctx, AuditPasswordResetVerified, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"factor": "recovery_code"}
	})
	return resetState(sess, user), nil
}

func (e *Engine) markResetTwoFactor(ctx context.Context, sess *session.Session, resetBudget func(context.Context, string) error) error {
	if err := e.resets.MarkTwoFactorVerified(ctx, sess.ID); err != nil {
		if errors.Is(err, session.ErrInvalid) {
			return ErrResetExpired
		}
		return unavailable(err)
	}
	sess.TwoFactorVerified = true
	return unavailable(resetBudget(ctx, sess.UserID))
}

// ResetPassword sets a new password through a fully verified reset session.
//
// Teardown runs in order: every reset session of the user, then every login
// session, then the password hash. A failure before the hash update aborts
// it, so the old password keeps working rather than a new one coexisting
// with pre-reset sessions. Login sessions are invalidated once more after
// the update to catch one created concurrently. The caller clears the reset
// and session cookies.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	var (
		sess *session.Session
		user *storage.User
		hash string
	)
	err := newPipeline("reset_password").
		rateLimit(func(ctx context.Context) error {
			err := consume(ctx, e.limits.passwordUpdate, "reset:"+session.HashToken(token))
			e.observeRateLimit(ctx, "password_reset", "", err)
			return err
		}).
		lookup(func(ctx context.Context) error {
			var err error
			if sess, user, err = e.resolveReset(ctx, token); err != nil {
				return err
			}
			if !sess.EmailVerified {
				return ErrEmailNotVerified
			}
			if user.RegisteredTOTP() && !sess.TwoFactorVerified {
				return ErrTwoFactorRequired
			}
			return nil
		}).
		verify(func(ctx context.Context) error {
			if err := e.checkStrength(ctx, newPassword, user); err != nil {
				return err
			}
			var err error
			hash, err = e.hashPassword(newPassword)
			return unavailable(err)
		}).
		mutate(func(ctx context.Context) error {
			if err := e.resets.InvalidateUser(ctx, user.ID); err != nil {
				return unavailable(err)
			}
			if err := e.sessions.InvalidateUser(ctx, user.ID); err != nil {
				return unavailable(err)
			}
			if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
				return unavailable(err)
			}
			if err := e.sessions.InvalidateUser(ctx, user.ID); err != nil {
				return unavailable(err)
			}
			e.metricInc(MetricSessionInvalidated)

			if err := e.resetFlow.Cancel(ctx, user.ID); err != nil {
				log.Printf("storeauth: reset request cleanup failed: %v", err)
			}
			if err := e.limits.loginUser.Reset(ctx, user.ID); err != nil {
				log.Printf("storeauth: login throttler reset failed: %v", err)
			}
			return nil
		}).
		run(ctx)

	if err != nil {
		e.emitAudit(ctx, AuditPasswordResetConfirm, false, userIDOf(user), "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, AuditPasswordResetConfirm, true, user.ID, "", nil, nil)
	return nil
}
