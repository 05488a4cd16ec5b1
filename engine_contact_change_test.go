package storeauth

import (
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/storeauth/internal/verification"
)

// signedIn returns a fully signed-in session for a new user.
func (env *testEnv) signedIn(t *testing.T, email, username string) string {
	t.Helper()
	token := env.signUpVerified(t, email, username)
	env.enrollTOTP(t, token)
	return token
}

func TestEmailChangeAppliedOnlyAfterConfirmation(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	token := env.signedIn(t, "alice@example.com", "alice")

	if _, err := env.engine.RequestEmailChange(env.ctx, token, "Alice.New@Example.com"); err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}
	sent := env.sender.last(t, verification.KindEmailChange)
	if sent.target != "alice.new@example.com" {
		t.Fatalf("expected the code to go to the new address, got %q", sent.target)
	}

	user, _ := env.users.GetByEmail(env.ctx, "alice@example.com")
	if user == nil {
		t.Fatal("email changed before confirmation")
	}

	if err := env.engine.ConfirmEmailChange(env.ctx, token, sent.code); err != nil {
		t.Fatalf("ConfirmEmailChange failed: %v", err)
	}
	user, err := env.users.GetByEmail(env.ctx, "alice.new@example.com")
	if err != nil {
		t.Fatalf("expected the new email to be applied: %v", err)
	}
	if !user.EmailVerified {
		t.Fatal("confirmed email must be verified")
	}
	if err := env.engine.ConfirmEmailChange(env.ctx, token, sent.code); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("expected the request to be consumed, got %v", err)
	}
}

func TestRequestEmailChangeRejections(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	token := env.signedIn(t, "bob@example.com", "bob")
	env.signUpVerified(t, "taken@example.com", "taken")

	tests := []struct {
		email string
		want  error
	}{
		{"bob@example.com", ErrSameEmail},
		{"taken@example.com", ErrEmailTaken},
		{"bob@", ErrInvalidEmail},
	}
	for _, tt := range tests {
		if _, err := env.engine.RequestEmailChange(env.ctx, token, tt.email); !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.email, tt.want, err)
		}
	}
}

func TestContactChangeNeedsFullSignIn(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	token := env.signUpVerified(t, "carol@example.com", "carol")

	if _, err := env.engine.RequestEmailChange(env.ctx, token, "c2@example.com"); !errors.Is(err, ErrTwoFactorNotRegistered) {
		t.Fatalf("expected ErrTwoFactorNotRegistered, got %v", err)
	}
	if _, err := env.engine.RequestPhoneChange(env.ctx, token, "+14155550100"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected a forbidden error, got %v", err)
	}
}

func TestPhoneChangeWithSession(t *testing.T) {
	env := newTestEnv(t, testConfig(), true)
	token := env.signedIn(t, "dave@example.com", "dave")

	ticket, err := env.engine.RequestPhoneChange(env.ctx, token, "+1 (415) 555-0100")
	if err != nil {
		t.Fatalf("RequestPhoneChange failed: %v", err)
	}
	sent := env.sender.last(t, verification.KindPhoneChange)
	if sent.target != "+14155550100" {
		t.Fatalf("expected normalized target, got %q", sent.target)
	}

	if err := env.engine.ConfirmPhoneChange(env.ctx, ticket.Token, sent.code); err != nil {
		t.Fatalf("ConfirmPhoneChange failed: %v", err)
	}
	user, _ := env.users.GetByEmail(env.ctx, "dave@example.com")
	if user.Phone != "+14155550100" {
		t.Fatalf("expected phone to be applied, got %q", user.Phone)
	}
}

func TestPhoneChangeByContactDoesNotRevealMismatch(t *testing.T) {
	env := newTestEnv(t, testConfig(), false)
	env.signedIn(t, "erin@example.com", "erin")
	user, _ := env.users.GetByEmail(env.ctx, "erin@example.com")
	if err := env.users.UpdatePhone(env.ctx, user.ID, "+14155550100"); err != nil {
		t.Fatalf("UpdatePhone failed: %v", err)
	}

	decoy, err := env.engine.RequestPhoneChangeByContact(env.ctx, "erin@example.com", "+14155550199", "+14155550111")
	if err != nil {
		t.Fatalf("mismatch must look like success, got %v", err)
	}
	unknown, err := env.engine.RequestPhoneChangeByContact(env.ctx, "nobody@example.com", "+14155550100", "+14155550111")
	if err != nil {
		t.Fatalf("unknown email must look like success, got %v", err)
	}
	if env.sender.count(verification.KindPhoneChange) != 0 {
		t.Fatal("no code may be sent for a mismatch")
	}
	if len(decoy.Token) != len(unknown.Token) || decoy.Token == "" {
		t.Fatal("decoy tickets must have the shape of real ones")
	}
	if err := env.engine.ConfirmPhoneChange(env.ctx, decoy.Token, "123456"); !errors.Is(err, ErrNoRequest) {
		t.Fatalf("expected ErrNoRequest for a decoy ticket, got %v", err)
	}

	real, err := env.engine.RequestPhoneChangeByContact(env.ctx, "erin@example.com", "+14155550100", "+14155550111")
	if err != nil {
		t.Fatalf("RequestPhoneChangeByContact failed: %v", err)
	}
	if len(real.Token) != len(decoy.Token) {
		t.Fatal("real and decoy tickets differ in shape")
	}
	sent := env.sender.last(t, verification.KindPhoneChange)
	if err := env.engine.ConfirmPhoneChange(env.ctx, real.Token, sent.code); err != nil {
		t.Fatalf("ConfirmPhoneChange failed: %v", err)
	}
	user, _ = env.users.GetByID(env.ctx, user.ID)
	if user.Phone != "+14155550111" {
		t.Fatalf("expected new phone, got %q", user.Phone)
	}
}

func TestPhoneChangeByContactIsRateLimitedPerIP(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.PhoneChangeIP = BucketPolicy{Max: 2, Interval: time.Minute}
	env := newTestEnv(t, cfg, false)

	for i := 0; i < 2; i++ {
		if _, err := env.engine.RequestPhoneChangeByContact(env.ctx, "x@example.com", "+14155550100", "+14155550111"); err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	if _, err := env.engine.RequestPhoneChangeByContact(env.ctx, "y@example.com", "+14155550100", "+14155550111"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
