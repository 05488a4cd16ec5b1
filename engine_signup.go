package storeauth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/MrEthical07/storeauth/storage"
)

// SignUp creates an unverified account, sends the signup verification code
// and signs the new user in. The returned session must verify its email next.
func (e *Engine) SignUp(ctx context.Context, in SignUpInput) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	var (
		email, username string
		user            *storage.User
		result          = &LoginResult{Next: StepVerifyEmail}
	)

	err := newPipeline("signup").
		rateLimit(func(ctx context.Context) error {
			err := consume(ctx, e.limits.signupIP, ipKey(ctx))
			e.observeRateLimit(ctx, "signup_ip", "", err)
			return err
		}).
		validate(func(ctx context.Context) error {
			var err error
			if email, err = normalizeEmail(in.Email); err != nil {
				return err
			}
			if username, err = normalizeUsername(in.Username); err != nil {
				return err
			}
			return nil
		}).
		lookup(func(ctx context.Context) error {
			_, err := e.users.GetByEmail(ctx, email)
			switch {
			case err == nil:
				return ErrEmailTaken
			case errors.Is(err, storage.ErrNotFound):
				return nil
			default:
				return unavailable(err)
			}
		}).
		verify(func(ctx context.Context) error {
			return e.checkStrength(ctx, in.Password, &storage.User{Email: email, Username: username})
		}).
		mutate(func(ctx context.Context) error {
			hash, err := e.hashPassword(in.Password)
			if err != nil {
				return unavailable(err)
			}
			now := e.now().UTC()
			user = &storage.User{
				ID:           uuid.NewString(),
				Email:        email,
				Username:     username,
				PasswordHash: hash,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := e.users.Create(ctx, user); err != nil {
				switch {
				case errors.Is(err, storage.ErrEmailTaken):
					return ErrEmailTaken
				case errors.Is(err, storage.ErrUsernameTaken):
					return ErrUsernameTaken
				}
				return unavailable(err)
			}

			token, sess, err := e.createSession(ctx, user.ID, false, false)
			if err != nil {
				return err
			}
			result.SessionToken, result.SessionExpiresAt = token, sess.ExpiresAt
			return nil
		}).
		notify(func(ctx context.Context) error {
			token, req, err := e.signupFlow.Start(ctx, user.ID, user.Email)
			if err != nil {
				return unavailable(err)
			}
			result.VerificationToken, result.VerificationExpiresAt = token, req.ExpiresAt
			return nil
		}).
		run(ctx)

	if err != nil {
		e.metricInc(MetricSignupFailure)
		e.emitAudit(ctx, AuditSignupFailure, false, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricSignupSuccess)
	e.emitAudit(ctx, AuditSignupSuccess, true, user.ID, "", nil, nil)
	e.emitAudit(ctx, AuditEmailVerificationSent, true, user.ID, "", nil, nil)
	return result, nil
}
