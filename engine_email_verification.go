package storeauth

import (
	"context"

	"github.com/MrEthical07/storeauth/internal/verification"
	"github.com/MrEthical07/storeauth/session"
	"github.com/MrEthical07/storeauth/storage"
)

// VerifySignupEmail confirms the signup email code of the session's user and
// returns the step that follows.
func (e *Engine) VerifySignupEmail(ctx context.Context, sessionToken, code string) (Step, error) {
	if e == nil {
		return StepNone, ErrEngineNotReady
	}

	var (
		sess *session.Session
		user *storage.User
	)
	err := newPipeline("verify_signup_email").
		validate(func(ctx context.Context) error {
			return validateCode(code, verification.CodeDigits)
		}).
		lookup(func(ctx context.Context) error {
			var err error
			if sess, user, err = e.authenticate(ctx, sessionToken); err != nil {
				return err
			}
			return requireStep(user, sess, StepVerifyEmail)
		}).
		verify(func(ctx context.Context) error {
			req, err := e.submitCode(ctx, e.signupFlow, user.ID, code)
			if err != nil {
				return err
			}
			if req.Target != user.Email {
				return ErrNoRequest
			}
			return nil
		}).
		mutate(func(ctx context.Context) error {
			if err := e.users.SetEmailVerified(ctx, user.ID, true); err != nil {
				return unavailable(err)
			}
			user.EmailVerified = true
			return unavailable(e.signupFlow.ResetBudget(ctx, user.ID))
		}).
		run(ctx)

	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, AuditCodeFailure, false, userIDOf(user), sessionIDOf(sess), err, func() map[string]string {
			return map[string]string{"kind": verification.KindSignupEmail.String()}
		})
		return StepNone, err
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, AuditEmailVerified, true, user.ID, sess.ID, nil, nil)
	return NextStep(user, sess), nil
}

// ResendSignupEmail issues a fresh signup code for the session's user,
// replacing any pending one.
func (e *Engine) ResendSignupEmail(ctx context.Context, sessionToken string) (*VerificationTicket, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		user   *storage.User
		ticket = &VerificationTicket{}
	)
	err := newPipeline("resend_signup_email").
		lookup(func(ctx context.Context) error {
			sess, u, err := e.authenticate(ctx, sessionToken)
			if err != nil {
				return err
			}
			user = u
			return requireStep(user, sess, StepVerifyEmail)
		}).
		throttle(func(ctx context.Context) error {
			err := consume(ctx, e.limits.sendCode, user.ID)
			e.observeRateLimit(ctx, "send_code", user.ID, err)
			return err
		}).
		notify(func(ctx context.Context) error {
			token, req, err := e.signupFlow.Start(ctx, user.ID, user.Email)
			if err != nil {
				return unavailable(err)
			}
			ticket.Token, ticket.ExpiresAt = token, req.ExpiresAt
			return nil
		}).
		run(ctx)
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, AuditEmailVerificationSent, true, user.ID, "", nil, nil)
	return ticket, nil
}

func userIDOf(u *storage.User) string {
	if u == nil {
		return ""
	}
	return u.ID
}

func sessionIDOf(s *session.Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}
