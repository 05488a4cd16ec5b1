package storeauth

import (
	"context"

	"github.com/MrEthical07/storeauth/session"
	"github.com/MrEthical07/storeauth/storage"
	"github.com/MrEthical07/storeauth/totp"
)

// checkSetupAllowed admits a verified email, and lets a registered user
// replace their authenticator only from a session that already passed it.
func checkSetupAllowed(user *storage.User, sess *session.Session) error {
	if !user.EmailVerified {
		return ErrEmailNotVerified
	}
	if user.RegisteredTOTP() && !sess.TwoFactorVerified {
		return ErrTwoFactorRequired
	}
	return nil
}

// BeginTOTPSetup generates a candidate authenticator key. Nothing is stored:
// the key travels in a signed ticket until [Engine.ConfirmTOTPSetup] proves
// the authenticator works.
func (e *Engine) BeginTOTPSetup(ctx context.Context, sessionToken string) (*TOTPSetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sess, user, err := e.authenticate(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if err := checkSetupAllowed(user, sess); err != nil {
		return nil, err
	}

	key, err := totp.GenerateKey()
	if err != nil {
		return nil, unavailable(err)
	}
	secret := totp.EncodeKey(key)
	ticket, expiresAt, err := e.tickets.Issue(user.ID, secret)
	if err != nil {
		return nil, unavailable(err)
	}

	e.emitAudit(ctx, AuditTOTPSetupRequested, true, user.ID, sess.ID, nil, nil)
	return &TOTPSetup{
		Ticket:    ticket,
		Secret:    secret,
		URI:       totp.ProvisionURI(e.totpCode, user.Email, key),
		ExpiresAt: expiresAt,
	}, nil
}

// ConfirmTOTPSetup checks code against the ticket's candidate key and only
// then registers the key. A fresh recovery code set is stored with it and
// returned in plaintext, once. The session is marked two-factor verified.
func (e *Engine) ConfirmTOTPSetup(ctx context.Context, sessionToken, ticket, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		sess  *session.Session
		user  *storage.User
		key   []byte
		codes []string
	)
	err := newPipeline("confirm_totp_setup").
		validate(func(ctx context.Context) error {
			return validateCode(code, e.totpCode.Digits)
		}).
		lookup(func(ctx context.Context) error {
			var err error
			if sess, user, err = e.authenticate(ctx, sessionToken); err != nil {
				return err
			}
			return checkSetupAllowed(user, sess)
		}).
		throttle(func(ctx context.Context) error {
			err := consume(ctx, e.limits.totp, user.ID)
			e.observeRateLimit(ctx, "totp", user.ID, err)
			return err
		}).
		verify(func(ctx context.Context) error {
			claims, err := e.tickets.Parse(ticket)
			if err != nil || claims.UID != user.ID {
				return ErrTicketExpired
			}
			if key, err = totp.DecodeKey(claims.Key); err != nil {
				return ErrTicketExpired
			}
			ok, _, err := totp.VerifyWithGracePeriod(e.totpCode, key, code, e.now())
			if err != nil {
				return unavailable(err)
			}
			if !ok {
				return ErrIncorrectCode
			}
			return nil
		}).
		mutate(func(ctx context.Context) error {
			sealed, err := e.keys.Seal(key, totpKeyContext(user.ID))
			if err != nil {
				return unavailable(err)
			}
			var hashes []string
			if codes, hashes, err = newRecoveryCodes(user.ID); err != nil {
				return unavailable(err)
			}
			if err := e.users.SetTwoFactor(ctx, user.ID, sealed, hashes); err != nil {
				return unavailable(err)
			}
			if err := e.sessions.SetTwoFactorVerified(ctx, sess.ID); err != nil {
				return unavailable(err)
			}
			return unavailable(e.limits.totp.Reset(ctx, user.ID))
		}).
		run(ctx)

	if err != nil {
		e.metricInc(MetricTOTPSetupFailure)
		e.emitAudit(ctx, AuditTOTPFailure, false, userIDOf(user), sessionIDOf(sess), err, func() map[string]string {
			return map[string]string{"stage": "setup"}
		})
		return nil, err
	}

	e.metricInc(MetricTOTPSetupSuccess)
	e.emitAudit(ctx, AuditTOTPEnabled, true, user.ID, sess.ID, nil, nil)
	e.emitAudit(ctx, AuditRecoveryCodesGenerated, true, user.ID, sess.ID, nil, nil)
	return codes, nil
}

// VerifyTOTP completes sign-in with an authenticator code. A success marks
// the session verified and clears the user's TOTP budget and login
// throttler.
func (e *Engine) VerifyTOTP(ctx context.Context, sessionToken, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	var (
		sess *session.Session
		user *storage.User
	)
	err := newPipeline("verify_totp").
		validate(func(ctx context.Context) error {
			return validateCode(code, e.totpCode.Digits)
		}).
		lookup(func(ctx context.Context) error {
			var err error
			if sess, user, err = e.authenticate(ctx, sessionToken); err != nil {
				return err
			}
			return requireStep(user, sess, StepVerifyTwoFactor)
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
			return e.completeTwoFactor(ctx, sess, e.limits.totp.Reset)
		}).
		run(ctx)

	if err != nil {
		e.metricInc(MetricTOTPFailure)
		e.emitAudit(ctx, AuditTOTPFailure, false, userIDOf(user), sessionIDOf(sess), err, nil)
		return err
	}
	e.metricInc(MetricTOTPSuccess)
	e.emitAudit(ctx, AuditTOTPSuccess, true, user.ID, sess.ID, nil, nil)
	return nil
}

// VerifyRecoveryCode completes sign-in with a recovery code. The code is
// removed from the user's set.
func (e *Engine) VerifyRecoveryCode(ctx context.Context, sessionToken, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	var (
		sess *session.Session
		user *storage.User
	)
	err := newPipeline("verify_recovery_code").
		validate(func(ctx context.Context) error {
			return validateRecoveryCode(code)
		}).
		lookup(func(ctx context.Context) error {
			var err error
			if sess, user, err = e.authenticate(ctx, sessionToken); err != nil {
				return err
			}
			return requireStep(user, sess, StepVerifyTwoFactor)
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
			return e.completeTwoFactor(ctx, sess, e.limits.recoveryCode.Reset)
		}).
		run(ctx)

	if err != nil {
		e.metricInc(MetricRecoveryCodeFailure)
		e.emitAudit(ctx, AuditRecoveryCodeFailed, false, userIDOf(user), sessionIDOf(sess), err, nil)
		return err
	}
	e.metricInc(MetricRecoveryCodeUsed)
	e.emitAudit(ctx, AuditRecoveryCodeUsed, true, user.ID, sess.ID, nil, nil)
	return nil
}

func (e *Engine) completeTwoFactor(ctx context.Context, sess *session.Session, resetBudget func(context.Context, string) error) error {
	if err := e.sessions.SetTwoFactorVerified(ctx, sess.ID); err != nil {
		return unavailable(err)
	}
	sess.TwoFactorVerified = true
	if err := resetBudget(ctx, sess.UserID); err != nil {
		return unavailable(err)
	}
	return unavailable(e.limits.loginUser.Reset(ctx, sess.UserID))
}

// ResetTwoFactor removes the authenticator of a user who lost it, proven by a
// recovery code. Every other session of the user is signed out and the
// remaining recovery codes are replaced by the returned set. The session
// must register a new authenticator next.
func (e *Engine) ResetTwoFactor(ctx context.Context, sessionToken, recoveryCode string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		sess  *session.Session
		user  *storage.User
		codes []string
	)
	err := newPipeline("reset_two_factor").
		validate(func(ctx context.Context) error {
			return validateRecoveryCode(recoveryCode)
		}).
		lookup(func(ctx context.Context) error {
			var err error
			if sess, user, err = e.authenticate(ctx, sessionToken); err != nil {
				return err
			}
			if !user.EmailVerified {
				return ErrEmailNotVerified
			}
			if !user.RegisteredTOTP() {
				return ErrTwoFactorNotRegistered
			}
			return nil
		}).
		throttle(func(ctx context.Context) error {
			err := consume(ctx, e.limits.recoveryCode, user.ID)
			e.observeRateLimit(ctx, "recovery_code", user.ID, err)
			return err
		}).
		verify(func(ctx context.Context) error {
			return e.consumeRecoveryCode(ctx, user, recoveryCode)
		}).
		mutate(func(ctx context.Context) error {
			var hashes []string
			var err error
			if codes, hashes, err = newRecoveryCodes(user.ID); err != nil {
				return unavailable(err)
			}
			if err := e.users.ClearTwoFactor(ctx, user.ID, hashes); err != nil {
				return unavailable(err)
			}
			if err := e.invalidateOtherSessions(ctx, user.ID, sess.ID); err != nil {
				return err
			}
			return unavailable(e.limits.recoveryCode.Reset(ctx, user.ID))
		}).
		run(ctx)

	if err != nil {
		e.metricInc(MetricRecoveryCodeFailure)
		e.emitAudit(ctx, AuditRecoveryCodeFailed, false, userIDOf(user), sessionIDOf(sess), err, func() map[string]string {
			return map[string]string{"action": "reset_two_factor"}
		})
		return nil, err
	}

	e.metricInc(MetricTwoFactorReset)
	e.emitAudit(ctx, AuditTwoFactorReset, true, user.ID, sess.ID, nil, nil)
	return codes, nil
}

// RegenerateRecoveryCodes replaces the recovery code set of a fully signed-in
// user and returns the new codes.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, sessionToken string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sess, user, err := e.authenticate(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if err := requireStep(user, sess, StepDone); err != nil {
		return nil, err
	}

	codes, hashes, err := newRecoveryCodes(user.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	if err := e.users.ReplaceRecoveryCodes(ctx, user.ID, hashes); err != nil {
		return nil, unavailable(err)
	}

	e.metricInc(MetricRecoveryCodesRegenerated)
	e.emitAudit(ctx, AuditRecoveryCodesGenerated, true, user.ID, sess.ID, nil, nil)
	return codes, nil
}

func (e *Engine) invalidateOtherSessions(ctx context.Context, userID, keepID string) error {
	sessions, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		return unavailable(err)
	}
	for _, s := range sessions {
		if s.ID == keepID {
			continue
		}
		if err := e.sessions.Invalidate(ctx, s.ID); err != nil {
			return unavailable(err)
		}
		e.metricInc(MetricSessionInvalidated)
	}
	return nil
}
