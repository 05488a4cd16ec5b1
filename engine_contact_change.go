package storeauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/storeauth/internal"
	"github.com/MrEthical07/storeauth/internal/verification"
	"github.com/MrEthical07/storeauth/session"
	"github.com/MrEthical07/storeauth/storage"
)

// RequestEmailChange sends a code to newEmail. The account keeps its current
// email until [Engine.ConfirmEmailChange] succeeds.
func (e *Engine) RequestEmailChange(ctx context.Context, sessionToken, newEmail string) (*VerificationTicket, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		user   *storage.User
		ticket *VerificationTicket
	)
	err := newPipeline("request_email_change").
		validate(func(ctx context.Context) error {
			var err error
			newEmail, err = normalizeEmail(newEmail)
			return err
		}).
		lookup(func(ctx context.Context) error {
			if err := e.lookupFullySignedIn(ctx, sessionToken, &user, nil); err != nil {
				return err
			}
			if newEmail == user.Email {
				return ErrSameEmail
			}
			return e.ensureEmailFree(ctx, newEmail)
		}).
		throttle(func(ctx context.Context) error {
			err := consume(ctx, e.limits.sendCode, user.ID)
			e.observeRateLimit(ctx, "send_code", user.ID, err)
			return err
		}).
		notify(func(ctx context.Context) error {
			var err error
			ticket, err = e.startFlow(ctx, e.emailFlow, user.ID, newEmail)
			return err
		}).
		run(ctx)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricContactChangeRequest)
	e.emitAudit(ctx, AuditEmailChangeRequested, true, user.ID, "", nil, nil)
	return ticket, nil
}

// ConfirmEmailChange applies the pending email change once its code matches.
// The new address counts as verified.
func (e *Engine) ConfirmEmailChange(ctx context.Context, sessionToken, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	var (
		user *storage.User
		sess *session.Session
		req  *verification.Request
	)
	err := newPipeline("confirm_email_change").
		validate(func(ctx context.Context) error {
			return validateCode(code, verification.CodeDigits)
		}).
		lookup(func(ctx context.Context) error {
			return e.lookupFullySignedIn(ctx, sessionToken, &user, &sess)
		}).
		verify(func(ctx context.Context) error {
			var err error
			req, err = e.submitCode(ctx, e.emailFlow, user.ID, code)
			return err
		}).
		mutate(func(ctx context.Context) error {
			if err := e.users.UpdateEmail(ctx, user.ID, req.Target); err != nil {
				if errors.Is(err, storage.ErrEmailTaken) {
					return ErrEmailTaken
				}
				return unavailable(err)
			}
			return unavailable(e.emailFlow.ResetBudget(ctx, user.ID))
		}).
		run(ctx)

	if err != nil {
		e.emitAudit(ctx, AuditCodeFailure, false, userIDOf(user), sessionIDOf(sess), err, func() map[string]string {
			return map[string]string{"kind": verification.KindEmailChange.String()}
		})
		return err
	}

	e.metricInc(MetricContactChangeSuccess)
	e.emitAudit(ctx, AuditEmailChanged, true, user.ID, sess.ID, nil, nil)
	return nil
}

// RequestPhoneChange sends a code to newPhone for a signed-in user.
func (e *Engine) RequestPhoneChange(ctx context.Context, sessionToken, newPhone string) (*VerificationTicket, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		user   *storage.User
		ticket *VerificationTicket
	)
	err := newPipeline("request_phone_change").
		validate(func(ctx context.Context) error {
			var err error
			newPhone, err = normalizePhone(newPhone)
			return err
		}).
		lookup(func(ctx context.Context) error {
			return e.lookupFullySignedIn(ctx, sessionToken, &user, nil)
		}).
		throttle(func(ctx context.Context) error {
			err := consume(ctx, e.limits.sendCode, user.ID)
			e.observeRateLimit(ctx, "send_code", user.ID, err)
			return err
		}).
		notify(func(ctx context.Context) error {
			var err error
			ticket, err = e.startFlow(ctx, e.phoneFlow, user.ID, newPhone)
			return err
		}).
		run(ctx)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricContactChangeRequest)
	e.emitAudit(ctx, AuditPhoneChangeRequested, true, user.ID, "", nil, nil)
	return ticket, nil
}

// RequestPhoneChangeByContact starts a phone change without a session. The
// account is identified by its email and current phone. The response looks
// the same whether or not they matched: a mismatch returns a ticket that no
// code will ever confirm.
func (e *Engine) RequestPhoneChangeByContact(ctx context.Context, email, currentPhone, newPhone string) (*VerificationTicket, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		user   *storage.User
		ticket *VerificationTicket
	)
	err := newPipeline("request_phone_change_by_contact").
		rateLimit(func(ctx context.Context) error {
			err := consume(ctx, e.limits.phoneChangeIP, ipKey(ctx))
			e.observeRateLimit(ctx, "phone_change_ip", "", err)
			return err
		}).
		validate(func(ctx context.Context) error {
			var err error
			if email, err = normalizeEmail(email); err != nil {
				return err
			}
			if currentPhone, err = normalizePhone(currentPhone); err != nil {
				return err
			}
			newPhone, err = normalizePhone(newPhone)
			return err
		}).
		lookup(func(ctx context.Context) error {
			u, err := e.users.GetByEmail(ctx, email)
			switch {
			case err == nil:
				if u.Phone == currentPhone {
					user = u
				}
				return nil
			case errors.Is(err, storage.ErrNotFound):
				return nil
			default:
				return unavailable(err)
			}
		}).
		throttle(func(ctx context.Context) error {
			key := "contact:" + email
			if user != nil {
				key = user.ID
			}
			err := consume(ctx, e.limits.sendCode, key)
			e.observeRateLimit(ctx, "send_code", userIDOf(user), err)
			return err
		}).
		notify(func(ctx context.Context) error {
			if user == nil {
				var err error
				ticket, err = e.decoyTicket()
				return err
			}
			var err error
			ticket, err = e.startFlow(ctx, e.phoneFlow, user.ID, newPhone)
			return err
		}).
		run(ctx)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricContactChangeRequest)
	e.emitAudit(ctx, AuditPhoneChangeRequested, user != nil, userIDOf(user), "", nil, func() map[string]string {
		return map[string]string{"via": "contact"}
	})
	return ticket, nil
}

// ConfirmPhoneChange applies the phone change identified by requestToken once
// its code matches. No session is required.
func (e *Engine) ConfirmPhoneChange(ctx context.Context, requestToken, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	var req *verification.Request
	err := newPipeline("confirm_phone_change").
		validate(func(ctx context.Context) error {
			return validateCode(code, verification.CodeDigits)
		}).
		lookup(func(ctx context.Context) error {
			var err error
			req, err = e.phoneFlow.Lookup(ctx, requestToken)
			return e.flowError(err)
		}).
		verify(func(ctx context.Context) error {
			var err error
			req, err = e.submitCode(ctx, e.phoneFlow, req.UserID, code)
			return err
		}).
		mutate(func(ctx context.Context) error {
			if err := e.users.UpdatePhone(ctx, req.UserID, req.Target); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return ErrNoRequest
				}
				return unavailable(err)
			}
			return unavailable(e.phoneFlow.ResetBudget(ctx, req.UserID))
		}).
		run(ctx)

	userID := ""
	if req != nil {
		userID = req.UserID
	}
	if err != nil {
		e.emitAudit(ctx, AuditCodeFailure, false, userID, "", err, func() map[string]string {
			return map[string]string{"kind": verification.KindPhoneChange.String()}
		})
		return err
	}

	e.metricInc(MetricContactChangeSuccess)
	e.emitAudit(ctx, AuditPhoneChanged, true, userID, "", nil, nil)
	return nil
}

// lookupFullySignedIn authenticates a session that has completed every step.
func (e *Engine) lookupFullySignedIn(ctx context.Context, token string, user **storage.User, sess **session.Session) error {
	s, u, err := e.authenticate(ctx, token)
	if err != nil {
		return err
	}
	if err := requireStep(u, s, StepDone); err != nil {
		return err
	}
	*user = u
	if sess != nil {
		*sess = s
	}
	return nil
}

func (e *Engine) ensureEmailFree(ctx context.Context, email string) error {
	_, err := e.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrEmailTaken
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return unavailable(err)
	}
}

func (e *Engine) startFlow(ctx context.Context, flow *verification.Flow, userID, target string) (*VerificationTicket, error) {
	token, req, err := flow.Start(ctx, userID, target)
	if err != nil {
		return nil, unavailable(err)
	}
	return &VerificationTicket{Token: token, ExpiresAt: req.ExpiresAt}, nil
}

func (e *Engine) submitCode(ctx context.Context, flow *verification.Flow, userID, code string) (*verification.Request, error) {
	req, err := flow.Submit(ctx, userID, code)
	if err != nil {
		err = e.flowError(err)
		e.observeRateLimit(ctx, "verify_"+flow.Kind().String(), userID, err)
		return nil, err
	}
	return req, nil
}

// decoyTicket looks like a real request ticket but refers to nothing.
func (e *Engine) decoyTicket() (*VerificationTicket, error) {
	token, err := internal.NewToken()
	if err != nil {
		return nil, unavailable(err)
	}
	return &VerificationTicket{Token: token, ExpiresAt: e.now().Add(e.config.Verification.CodeTTL)}, nil
}
