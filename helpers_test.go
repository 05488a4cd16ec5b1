package storeauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/storeauth/internal/verification"
	"github.com/MrEthical07/storeauth/password"
	"github.com/MrEthical07/storeauth/storage"
	"github.com/MrEthical07/storeauth/storage/memory"
	"github.com/MrEthical07/storeauth/totp"
)

const (
	testIP       = "203.0.113.7"
	testPassword = "correct-horse-42"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentCode struct {
	kind   verification.Kind
	target string
	code   string
}

// captureSender records every code instead of delivering it.
type captureSender struct {
	mu   sync.Mutex
	sent []sentCode
	fail error
}

func (s *captureSender) SendCode(_ context.Context, kind verification.Kind, target, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, sentCode{kind: kind, target: target, code: code})
	return nil
}

func (s *captureSender) last(t *testing.T, kind verification.Kind) sentCode {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].kind == kind {
			return s.sent[i]
		}
	}
	t.Fatalf("no %s code sent", kind)
	return sentCode{}
}

func (s *captureSender) count(kind verification.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.sent {
		if c.kind == kind {
			n++
		}
	}
	return n
}

type testEnv struct {
	engine *Engine
	users  *memory.Store
	sender *captureSender
	clock  *testClock
	ctx    context.Context
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Hash = password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.TOTP.EncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	cfg.TOTP.SetupSigningKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// newTestEnv builds an engine over in-memory users. With withRedis the
// engine keeps its sessions, requests and counters in miniredis.
func newTestEnv(t *testing.T, cfg Config, withRedis bool) *testEnv {
	t.Helper()
	return newTestEnvWith(t, cfg, withRedis, nil)
}

// newTestEnvWith lets a test adjust the builder before Build.
func newTestEnvWith(t *testing.T, cfg Config, withRedis bool, configure func(*Builder)) *testEnv {
	t.Helper()

	env := &testEnv{
		users:  memory.New(),
		sender: &captureSender{},
		clock:  newTestClock(),
		ctx:    WithUserAgent(WithClientIP(context.Background(), testIP), "test-agent"),
	}
	b := New().
		WithConfig(cfg).
		WithUserStore(env.users).
		WithSender(env.sender).
		WithClock(env.clock.Now)
	if withRedis {
		mr, rdb := newTestRedis(t)
		t.Cleanup(mr.Close)
		b = b.WithRedis(rdb)
	}
	if configure != nil {
		configure(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

// signUpVerified registers a user and confirms the signup email. It returns
// the session token, which must set up two-factor next.
func (env *testEnv) signUpVerified(t *testing.T, email, username string) string {
	t.Helper()

	res, err := env.engine.SignUp(env.ctx, SignUpInput{Email: email, Username: username, Password: testPassword})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	code := env.sender.last(t, verification.KindSignupEmail).code
	next, err := env.engine.VerifySignupEmail(env.ctx, res.SessionToken, code)
	if err != nil {
		t.Fatalf("VerifySignupEmail failed: %v", err)
	}
	if next != StepSetupTwoFactor {
		t.Fatalf("expected %s after email verification, got %s", StepSetupTwoFactor, next)
	}
	return res.SessionToken
}

// enrollTOTP registers an authenticator from token's session and returns its
// key and the recovery codes.
func (env *testEnv) enrollTOTP(t *testing.T, token string) ([]byte, []string) {
	t.Helper()

	setup, err := env.engine.BeginTOTPSetup(env.ctx, token)
	if err != nil {
		t.Fatalf("BeginTOTPSetup failed: %v", err)
	}
	key, err := totp.DecodeKey(setup.Secret)
	if err != nil {
		t.Fatalf("DecodeKey failed: %v", err)
	}
	codes, err := env.engine.ConfirmTOTPSetup(env.ctx, token, setup.Ticket, env.totpCode(t, key))
	if err != nil {
		t.Fatalf("ConfirmTOTPSetup failed: %v", err)
	}
	return key, codes
}

// fullUser creates an account with verified email and a registered
// authenticator.
func (env *testEnv) fullUser(t *testing.T, email, username string) (*storage.User, []byte, []string) {
	t.Helper()

	token := env.signUpVerified(t, email, username)
	key, codes := env.enrollTOTP(t, token)
	user, err := env.users.GetByEmail(env.ctx, email)
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	return user, key, codes
}

func (env *testEnv) totpCode(t *testing.T, key []byte) string {
	t.Helper()
	code, err := totp.Generate(env.engine.totpCode, key, env.clock.Now())
	if err != nil {
		t.Fatalf("totp.Generate failed: %v", err)
	}
	return code
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
