package storeauth

import (
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/storeauth/internal/verification"
)

func TestVerifySignupEmailAttemptsExhausted(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	res, err := env.engine.SignUp(env.ctx, SignUpInput{Email: "alice@example.com", Username: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	code := env.sender.last(t, verification.KindSignupEmail).code

	for _, remaining := range []int{2, 1} {
		_, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, wrongCode(code))
		var mismatch *CodeMismatchError
		if !errors.As(err, &mismatch) || mismatch.Remaining != remaining {
			t.Fatalf("expected %d attempts remaining, got %v", remaining, err)
		}
		if !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("expected mismatch to be an invalid credential, got %v", err)
		}
	}

	if _, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, wrongCode(code)); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if _, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, code); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("expected the request to be gone, got %v", err)
	}

	ticket, err := env.engine.ResendSignupEmail(env.ctx, res.SessionToken)
	if err != nil {
		t.Fatalf("ResendSignupEmail failed: %v", err)
	}
	if ticket.Token == "" || ticket.Token == res.VerificationToken {
		t.Fatal("expected a new request token")
	}
	code = env.sender.last(t, verification.KindSignupEmail).code
	if _, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, code); err != nil {
		t.Fatalf("VerifySignupEmail failed: %v", err)
	}
}

func TestVerifySignupEmailExpiredCodeIsReissued(t *testing.T) {
	env := newTestEnv(t, testConfig(), true)
	res, err := env.engine.SignUp(env.ctx, SignUpInput{Email: "bob@example.com", Username: "bob", Password: testPassword})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	old := env.sender.last(t, verification.KindSignupEmail).code

	env.clock.Advance(11 * time.Minute)
	if _, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, old); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired, got %v", err)
	}
	if got := env.sender.count(verification.KindSignupEmail); got != 2 {
		t.Fatalf("expected a second code to be sent, got %d sends", got)
	}

	fresh := env.sender.last(t, verification.KindSignupEmail).code
	next, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, fresh)
	if err != nil {
		t.Fatalf("VerifySignupEmail failed: %v", err)
	}
	if next != StepSetupTwoFactor {
		t.Fatalf("expected %s, got %s", StepSetupTwoFactor, next)
	}
	if _, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, fresh); !errors.Is(err, ErrEmailAlreadyVerified) {
		t.Fatalf("expected ErrEmailAlreadyVerified, got %v", err)
	}
}

func TestResendSignupEmailReplacesPendingCode(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	res, err := env.engine.SignUp(env.ctx, SignUpInput{Email: "carol@example.com", Username: "carol", Password: testPassword})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	old := env.sender.last(t, verification.KindSignupEmail).code

	if _, err := env.engine.ResendSignupEmail(env.ctx, res.SessionToken); err != nil {
		t.Fatalf("ResendSignupEmail failed: %v", err)
	}
	fresh := env.sender.last(t, verification.KindSignupEmail).code
	if old != fresh {
		var mismatch *CodeMismatchError
		if _, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, old); !errors.As(err, &mismatch) {
			t.Fatalf("expected the replaced code to be rejected, got %v", err)
		}
	}
	if _, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, fresh); err != nil {
		t.Fatalf("VerifySignupEmail failed: %v", err)
	}
}

func TestResendSignupEmailIsBudgeted(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	res, err := env.engine.SignUp(env.ctx, SignUpInput{Email: "dave@example.com", Username: "dave", Password: testPassword})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := env.engine.ResendSignupEmail(env.ctx, res.SessionToken); err != nil {
			t.Fatalf("resend %d failed: %v", i, err)
		}
	}
	_, err = env.engine.ResendSignupEmail(env.ctx, res.SessionToken)
	rl, ok := asRateLimit(err)
	if !ok {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if rl.CooldownSeconds() <= 0 {
		t.Fatal("expected a cooldown")
	}
	if got := ResultFromError(err); got.CooldownSeconds != rl.CooldownSeconds() || got.Message != "Too many requests" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestSendFailureDoesNotFailSignUp(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	env.sender.fail = errors.New("smtp down")

	if _, err := env.engine.SignUp(env.ctx, SignUpInput{Email: "erin@example.com", Username: "erin", Password: testPassword}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if env.engine.MetricsSnapshot().Counters[MetricNotifySendFailure] != 1 {
		t.Fatal("expected the send failure to be counted")
	}
}
