package storeauth

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/storeauth/internal/verification"
	"github.com/MrEthical07/storeauth/password"
)

type countingHasher struct {
	password.Hasher
	verifies atomic.Int64
}

func (h *countingHasher) Verify(plaintext, encoded string) (bool, error) {
	h.verifies.Add(1)
	return h.Hasher.Verify(plaintext, encoded)
}

func TestLoginWithTwoFactorReachesDashboard(t *testing.T) {
	for _, backend := range []struct {
		name  string
		redis bool
	}{{"memory", false}, {"redis", true}} {
		t.Run(backend.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig(), backend.redis)
			_, key, _ := env.fullUser(t, "alice@example.com", "alice")

			res, err := env.engine.Login(env.ctx, "Alice@Example.com", testPassword, false)
			if err != nil {
				t.Fatalf("Login failed: %v", err)
			}
			if res.Next != StepVerifyTwoFactor {
				t.Fatalf("expected %s, got %s", StepVerifyTwoFactor, res.Next)
			}

			sc, err := env.engine.ValidateSession(env.ctx, res.SessionToken)
			if err != nil {
				t.Fatalf("ValidateSession failed: %v", err)
			}
			if sc.Session.TwoFactorVerified {
				t.Fatal("new login session must not be two-factor verified")
			}

			if err := env.engine.VerifyTOTP(env.ctx, res.SessionToken, env.totpCode(t, key)); err != nil {
				t.Fatalf("VerifyTOTP failed: %v", err)
			}
			sc, err = env.engine.ValidateSession(env.ctx, res.SessionToken)
			if err != nil {
				t.Fatalf("ValidateSession failed: %v", err)
			}
			if sc.Next != StepDone || !sc.Session.TwoFactorVerified {
				t.Fatalf("expected dashboard access, got next=%s verified=%v", sc.Next, sc.Session.TwoFactorVerified)
			}
		})
	}
}

func TestLoginNextStepFollowsAccountState(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)

	signup, err := env.engine.SignUp(env.ctx, SignUpInput{Email: "bob@example.com", Username: "bob", Password: testPassword})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if signup.Next != StepVerifyEmail || signup.VerificationToken == "" {
		t.Fatalf("unexpected signup result: %+v", signup)
	}

	res, err := env.engine.Login(env.ctx, "bob@example.com", testPassword, false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Next != StepVerifyEmail {
		t.Fatalf("expected %s, got %s", StepVerifyEmail, res.Next)
	}

	code := env.sender.last(t, verification.KindSignupEmail).code
	if _, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, code); err != nil {
		t.Fatalf("VerifySignupEmail failed: %v", err)
	}

	env.clock.Advance(2 * time.Second)
	res, err = env.engine.Login(env.ctx, "bob@example.com", testPassword, false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Next != StepSetupTwoFactor {
		t.Fatalf("expected %s, got %s", StepSetupTwoFactor, res.Next)
	}
}

func TestLoginDoesNotRevealUnknownEmail(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	env.signUpVerified(t, "carol@example.com", "carol")

	_, errUnknown := env.engine.Login(env.ctx, "nobody@example.com", testPassword, false)
	_, errWrong := env.engine.Login(env.ctx, "carol@example.com", "wrong-password-1", false)

	if !errors.Is(errUnknown, ErrInvalidLogin) || !errors.Is(errWrong, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin for both, got %v and %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("messages differ: %q vs %q", errUnknown, errWrong)
	}
}

func TestLoginThrottlerBacksOffAndResets(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	env.signUpVerified(t, "dave@example.com", "dave")

	if _, err := env.engine.Login(env.ctx, "dave@example.com", "wrong-password-1", false); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin, got %v", err)
	}

	_, err := env.engine.Login(env.ctx, "dave@example.com", testPassword, false)
	rl, ok := asRateLimit(err)
	if !ok {
		t.Fatalf("expected rate limit on immediate retry, got %v", err)
	}
	if rl.CooldownSeconds() != 1 {
		t.Fatalf("expected 1s cooldown, got %d", rl.CooldownSeconds())
	}

	env.clock.Advance(time.Second)
	if _, err := env.engine.Login(env.ctx, "dave@example.com", "wrong-password-2", false); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin, got %v", err)
	}
	env.clock.Advance(time.Second)
	if _, err := env.engine.Login(env.ctx, "dave@example.com", testPassword, false); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected the second step of the schedule to still apply, got %v", err)
	}

	env.clock.Advance(time.Second)
	if _, err := env.engine.Login(env.ctx, "dave@example.com", testPassword, false); err != nil {
		t.Fatalf("Login failed after backoff: %v", err)
	}

	// A correct password clears the schedule.
	if _, err := env.engine.Login(env.ctx, "dave@example.com", "wrong-password-3", false); !errors.Is(err, ErrInvalidLogin) {
		t.Fatalf("expected ErrInvalidLogin right after a reset, got %v", err)
	}
}

func TestLoginRateLimitBeforePasswordHash(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.LoginIP = BucketPolicy{Max: 1, Interval: time.Hour}
	env := newTestEnv(t, cfg, false)
	env.signUpVerified(t, "erin@example.com", "erin")

	hasher := &countingHasher{Hasher: env.engine.hasher}
	env.engine.hasher = hasher

	if _, err := env.engine.Login(env.ctx, "erin@example.com", testPassword, false); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	before := hasher.verifies.Load()

	_, err := env.engine.Login(env.ctx, "erin@example.com", testPassword, false)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if hasher.verifies.Load() != before {
		t.Fatal("password hash was compared for a rate-limited request")
	}
	if env.engine.MetricsSnapshot().Counters[MetricLoginRateLimited] == 0 {
		t.Fatal("expected login rate-limited metric")
	}
}

func TestLoginUnknownEmailsDrainIPBucket(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.LoginIP = BucketPolicy{Max: 2, Interval: time.Hour}
	env := newTestEnv(t, cfg, false)

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(env.ctx, "ghost@example.com", testPassword, false); !errors.Is(err, ErrInvalidLogin) {
			t.Fatalf("attempt %d: expected ErrInvalidLogin, got %v", i, err)
		}
	}
	if _, err := env.engine.Login(env.ctx, "ghost@example.com", testPassword, false); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestSignUpRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	env.signUpVerified(t, "frank@example.com", "frank")

	_, err := env.engine.SignUp(env.ctx, SignUpInput{Email: "FRANK@example.com", Username: "frank2", Password: testPassword})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	_, err = env.engine.SignUp(env.ctx, SignUpInput{Email: "gina@example.com", Username: "gina", Password: "short"})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if KindOf(err) != KindWeakPassword {
		t.Fatalf("expected KindWeakPassword, got %s", KindOf(err))
	}
}

func TestSignUpValidatesFields(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)

	tests := []struct {
		name string
		in   SignUpInput
		want error
	}{
		{"bad email", SignUpInput{Email: "not-an-email", Username: "user1", Password: testPassword}, ErrInvalidEmail},
		{"display name email", SignUpInput{Email: "Al <al@example.com>", Username: "user1", Password: testPassword}, ErrInvalidEmail},
		{"short username", SignUpInput{Email: "h@example.com", Username: "ab", Password: testPassword}, ErrInvalidUsername},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.clock.Advance(time.Minute)
			if _, err := env.engine.SignUp(env.ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
