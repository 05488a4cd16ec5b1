package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/storeauth"
	"github.com/MrEthical07/storeauth/api"
	"github.com/MrEthical07/storeauth/internal/verification"
	"github.com/MrEthical07/storeauth/middleware"
	"github.com/MrEthical07/storeauth/storage/memory"
	"github.com/MrEthical07/storeauth/totp"
)

const password = "correct-horse-42"

type inbox struct {
	mu    sync.Mutex
	codes map[verification.Kind]string
}

func (i *inbox) SendCode(_ context.Context, kind verification.Kind, _, code string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes[kind] = code
	return nil
}

func (i *inbox) last(t *testing.T, kind verification.Kind) string {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()
	code, ok := i.codes[kind]
	require.True(t, ok, "no %s code sent", kind)
	return code
}

type server struct {
	*httptest.Server
	inbox *inbox
	cfg   storeauth.Config
}

func testConfig() storeauth.Config {
	cfg := storeauth.DefaultConfig()
	cfg.Password.Hash.Memory = 8 * 1024
	cfg.Password.Hash.Time = 1
	cfg.Password.Hash.Parallelism = 1
	return cfg
}

func setupServer(t *testing.T, cfg storeauth.Config, opts ...api.Option) *server {
	t.Helper()
	box := &inbox{codes: map[verification.Kind]string{}}
	engine, err := storeauth.New().
		WithConfig(cfg).
		WithUserStore(memory.New()).
		WithSender(box).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	opts = append([]api.Option{api.WithCookies(middleware.Cookies{Secure: false})}, opts...)
	a := api.New(engine, opts...)
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &server{Server: srv, inbox: box, cfg: cfg}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

type result struct {
	Result          bool            `json:"result"`
	Message         string          `json:"message"`
	CooldownSeconds int             `json:"cooldown_seconds"`
	Next            string          `json:"next"`
	Data            json.RawMessage `json:"data"`
}

func (s *server) do(t *testing.T, client *http.Client, method, path string, body any) (*http.Response, result) {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, s.URL+"/api/v1"+path, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var res result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return resp, res
}

func (s *server) totpCode(t *testing.T, secret string) string {
	t.Helper()
	key, err := totp.DecodeKey(secret)
	require.NoError(t, err)
	code, err := totp.Generate(s.cfg.TOTP.Code, key, time.Now())
	require.NoError(t, err)
	return code
}

// enroll signs a new user up through email verification and authenticator
// setup. It returns the authenticator secret and recovery codes.
func (s *server) enroll(t *testing.T, client *http.Client, email string) (string, []string) {
	t.Helper()

	resp, res := s.do(t, client, http.MethodPost, "/signup", map[string]string{
		"email": email, "username": strings.Split(email, "@")[0], "password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, res.Message)
	require.Equal(t, "verify_email", res.Next)

	resp, res = s.do(t, client, http.MethodPost, "/verify-email", map[string]string{
		"code": s.inbox.last(t, verification.KindSignupEmail),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, res.Message)
	require.Equal(t, "setup_2fa", res.Next)

	resp, res = s.do(t, client, http.MethodPost, "/2fa/setup/begin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, res.Message)
	var setup api.TOTPSetupResponse
	require.NoError(t, json.Unmarshal(res.Data, &setup))
	require.NotEmpty(t, setup.Ticket)
	assert.True(t, strings.HasPrefix(setup.URI, "otpauth://totp/"))

	resp, res = s.do(t, client, http.MethodPost, "/2fa/setup", map[string]string{
		"ticket": setup.Ticket, "code": s.totpCode(t, setup.Secret),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, res.Message)
	var codes api.RecoveryCodesResponse
	require.NoError(t, json.Unmarshal(res.Data, &codes))
	require.Len(t, codes.RecoveryCodes, totp.RecoveryCodeCount)

	return setup.Secret, codes.RecoveryCodes
}

func TestSignupThroughDashboard(t *testing.T) {
	s := setupServer(t, testConfig())
	client := newClient(t)

	s.enroll(t, client, "owner@example.com")

	resp, res := s.do(t, client, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dashboard", res.Next)

	var sess api.SessionResponse
	require.NoError(t, json.Unmarshal(res.Data, &sess))
	assert.Equal(t, "owner@example.com", sess.Email)
	assert.True(t, sess.EmailVerified)
	assert.True(t, sess.TwoFactorEnabled)
}

func TestLoginRequiresSecondFactor(t *testing.T) {
	s := setupServer(t, testConfig())
	secret, _ := s.enroll(t, newClient(t), "owner@example.com")

	client := newClient(t)
	resp, res := s.do(t, client, http.MethodPost, "/login", map[string]any{
		"email": "owner@example.com", "password": password, "remember_me": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, res.Message)
	assert.Equal(t, "verify_2fa", res.Next)

	resp, res = s.do(t, client, http.MethodPost, "/settings/email", map[string]string{"email": "new@example.com"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "verify_2fa", res.Next)

	resp, res = s.do(t, client, http.MethodPost, "/2fa/verify", map[string]string{"code": s.totpCode(t, secret)})
	require.Equal(t, http.StatusOK, resp.StatusCode, res.Message)
	assert.Equal(t, "dashboard", res.Next)

	resp, _ = s.do(t, client, http.MethodGet, "/sessions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginFailureIsGeneric(t *testing.T) {
	s := setupServer(t, testConfig())
	s.enroll(t, newClient(t), "owner@example.com")
	client := newClient(t)

	_, wrongPassword := s.do(t, client, http.MethodPost, "/login", map[string]string{
		"email": "owner@example.com", "password": "not-the-password",
	})
	_, unknown := s.do(t, client, http.MethodPost, "/login", map[string]string{
		"email": "nobody@example.com", "password": "not-the-password",
	})
	assert.False(t, wrongPassword.Result)
	assert.Equal(t, wrongPassword.Message, unknown.Message)
}

func TestRateLimitedResponseCarriesCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.LoginIP = storeauth.BucketPolicy{Max: 2, Interval: time.Minute}
	s := setupServer(t, cfg)
	client := newClient(t)

	body := map[string]string{"email": "nobody@example.com", "password": "whatever-123"}
	for i := 0; i < 2; i++ {
		resp, _ := s.do(t, client, http.MethodPost, "/login", body)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	resp, res := s.do(t, client, http.MethodPost, "/login", body)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Positive(t, res.CooldownSeconds)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestUnauthenticatedRoutesAnswer401(t *testing.T) {
	s := setupServer(t, testConfig())
	client := newClient(t)

	for _, path := range []string{"/session", "/sessions"} {
		resp, res := s.do(t, client, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.False(t, res.Result)
	}
	resp, _ := s.do(t, client, http.MethodPost, "/2fa/setup/begin", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutClearsSession(t *testing.T) {
	s := setupServer(t, testConfig())
	client := newClient(t)
	s.enroll(t, client, "owner@example.com")

	resp, _ := s.do(t, client, http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, client, http.MethodGet, "/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Logging out without a session still succeeds.
	resp, _ = s.do(t, newClient(t), http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPasswordResetOverHTTP(t *testing.T) {
	s := setupServer(t, testConfig())
	owner := newClient(t)
	secret, _ := s.enroll(t, owner, "owner@example.com")

	client := newClient(t)
	resp, res := s.do(t, client, http.MethodPost, "/forgot-password", map[string]string{"email": "owner@example.com"})
	require.Equal(t, http.StatusOK, resp.StatusCode, res.Message)

	resp, res = s.do(t, client, http.MethodPost, "/reset-password", map[string]string{"password": "a-brand-new-secret-7"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, res.Message)

	resp, res = s.do(t, client, http.MethodPost, "/reset-password/verify-email", map[string]string{
		"code": s.inbox.last(t, verification.KindPasswordReset),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, res.Message)
	var state api.ResetStateResponse
	require.NoError(t, json.Unmarshal(res.Data, &state))
	assert.True(t, state.TwoFactorRequired)

	resp, res = s.do(t, client, http.MethodPost, "/reset-password/2fa", map[string]string{"code": s.totpCode(t, secret)})
	require.Equal(t, http.StatusOK, resp.StatusCode, res.Message)

	resp, res = s.do(t, client, http.MethodPost, "/reset-password", map[string]string{"password": "a-brand-new-secret-7"})
	require.Equal(t, http.StatusOK, resp.StatusCode, res.Message)

	resp, _ = s.do(t, owner, http.MethodGet, "/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "pre-reset session must be gone")

	resp, _ = s.do(t, client, http.MethodGet, "/reset-password", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOriginCheck(t *testing.T) {
	s := setupServer(t, testConfig(), api.WithAllowedOrigins([]string{"https://admin.example.com"}))

	post := func(origin string) int {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, s.URL+"/api/v1/login", strings.NewReader("{}"))
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, post("https://evil.example.net"))
	assert.NotEqual(t, http.StatusForbidden, post("https://admin.example.com"))
	assert.NotEqual(t, http.StatusForbidden, post(s.URL))
}

func TestCookiesAreSecureByDefault(t *testing.T) {
	cfg := testConfig()
	box := &inbox{codes: map[verification.Kind]string{}}
	engine, err := storeauth.New().WithConfig(cfg).WithUserStore(memory.New()).WithSender(box).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	h := api.New(engine).Router()
	req := httptest.NewRequest(http.MethodPost, "/signup", strings.NewReader(
		`{"email":"owner@example.com","username":"owner","password":"correct-horse-42"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	names := map[string]bool{}
	for _, c := range rec.Result().Cookies() {
		names[c.Name] = true
		assert.True(t, c.Secure, c.Name)
		assert.True(t, c.HttpOnly, c.Name)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite, c.Name)
		assert.Equal(t, "/", c.Path, c.Name)
	}
	assert.True(t, names[middleware.SessionCookie])
	assert.True(t, names[middleware.VerificationCookie])
}
