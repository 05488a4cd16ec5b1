package storeauth

import (
	"errors"
	"testing"
	"time"
)

func TestUpdatePasswordSignsOutOtherSessions(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	_, key, _ := env.fullUser(t, "alice@example.com", "alice")

	login := func() string {
		res, err := env.engine.Login(env.ctx, "alice@example.com", testPassword, false)
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if err := env.engine.VerifyTOTP(env.ctx, res.SessionToken, env.totpCode(t, key)); err != nil {
			t.Fatalf("VerifyTOTP failed: %v", err)
		}
		return res.SessionToken
	}
	laptop := login()
	phone := login()

	res, err := env.engine.UpdatePassword(env.ctx, laptop, testPassword, "a-brand-new-secret-7")
	if err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}
	if res.Next != StepDone || res.SessionToken == "" {
		t.Fatalf("expected a fully verified replacement session, got %+v", res)
	}

	for name, token := range map[string]string{"laptop": laptop, "phone": phone} {
		if _, err := env.engine.ValidateSession(env.ctx, token); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("%s session survived the password change: %v", name, err)
		}
	}
	if _, err := env.engine.ValidateSession(env.ctx, res.SessionToken); err != nil {
		t.Fatalf("replacement session invalid: %v", err)
	}

	if _, err := env.engine.Login(env.ctx, "alice@example.com", testPassword, false); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("old password still accepted: %v", err)
	}
	env.clock.Advance(2 * time.Second)
	if _, err := env.engine.Login(env.ctx, "alice@example.com", "a-brand-new-secret-7", false); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestUpdatePasswordRejections(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	token := env.signedIn(t, "bob@example.com", "bob")

	tests := []struct {
		name    string
		current string
		next    string
		want    error
	}{
		{"wrong current", "not-my-password", "a-brand-new-secret-7", ErrIncorrectPassword},
		{"empty current", "", "a-brand-new-secret-7", ErrIncorrectPassword},
		{"too short", testPassword, "short", ErrWeakPassword},
		{"contains email", testPassword, "bob@example.com-2024", ErrWeakPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.engine.UpdatePassword(env.ctx, token, tt.current, tt.next); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := env.engine.ValidateSession(env.ctx, token); err != nil {
		t.Fatalf("a rejected change must not sign the user out: %v", err)
	}
}

func TestUpdatePasswordIsBudgetedPerSession(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	token := env.signedIn(t, "carol@example.com", "carol")

	max := env.engine.config.RateLimit.PasswordUpdate.Max
	for i := int64(0); i < max; i++ {
		if _, err := env.engine.UpdatePassword(env.ctx, token, "wrong-password", "a-brand-new-secret-7"); !errors.Is(err, ErrIncorrectPassword) {
			t.Fatalf("attempt %d: expected ErrIncorrectPassword, got %v", i, err)
		}
	}
	_, err := env.engine.UpdatePassword(env.ctx, token, testPassword, "a-brand-new-secret-7")
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.Cooldown <= 0 {
		t.Fatalf("expected a rate limit with cooldown, got %v", err)
	}
}
