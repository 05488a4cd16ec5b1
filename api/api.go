package api

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/MrEthical07/storeauth"
	"github.com/MrEthical07/storeauth/middleware"
)

// API serves the engine's actions as JSON over HTTP.
type API struct {
	engine         *storeauth.Engine
	cookies        middleware.Cookies
	trustedProxies []netip.Prefix
	allowedOrigins map[string]struct{}
}

// Option configures the API instance.
type Option func(*API)

// WithCookies sets the attributes of every cookie the API writes.
func WithCookies(c middleware.Cookies) Option {
	return func(a *API) { a.cookies = c }
}

// WithTrustedProxies makes proxy headers count for the client IP when the
// direct peer falls within one of prefixes.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithAllowedOrigins adds origins besides the request host that may send
// mutating requests.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) {
		for _, o := range origins {
			a.allowedOrigins[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
		}
	}
}

// New creates an API over engine. Cookies are Secure unless overridden.
func New(engine *storeauth.Engine, opts ...Option) *API {
	a := &API{
		engine:         engine,
		cookies:        middleware.Cookies{Secure: true},
		allowedOrigins: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ParseTrustedProxies parses CIDRs or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(v); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Router returns the routes, to be mounted under /api/v1.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders, a.ClientContext, a.OriginCheck)

	r.Get("/health", a.Health)

	r.Post("/signup", a.SignUp)
	r.Post("/login", a.Login)
	r.Post("/logout", a.Logout)

	r.Post("/forgot-password", a.ForgotPassword)
	r.Get("/reset-password", a.ResetState)
	r.Post("/reset-password/verify-email", a.VerifyResetEmail)
	r.Post("/reset-password/2fa", a.VerifyResetTOTP)
	r.Post("/reset-password/recovery", a.VerifyResetRecoveryCode)
	r.Post("/reset-password", a.ResetPassword)

	r.Post("/phone-change", a.RequestPhoneChangeByContact)
	r.Post("/phone-change/verify", a.ConfirmPhoneChange)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Session(a.engine, a.cookies))

		r.Get("/session", a.Session)
		r.Get("/sessions", a.ListSessions)
		r.Post("/logout-all", a.LogoutAll)

		r.Post("/2fa/setup/begin", a.BeginTOTPSetup)
		r.Post("/2fa/setup", a.ConfirmTOTPSetup)
		r.Post("/2fa/reset", a.ResetTwoFactor)

		r.With(middleware.Require(storeauth.StepVerifyEmail)).Post("/verify-email", a.VerifyEmail)
		r.With(middleware.Require(storeauth.StepVerifyEmail)).Post("/verify-email/resend", a.ResendEmail)

		r.With(middleware.Require(storeauth.StepVerifyTwoFactor)).Post("/2fa/verify", a.VerifyTOTP)
		r.With(middleware.Require(storeauth.StepVerifyTwoFactor)).Post("/2fa/recovery", a.VerifyRecoveryCode)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Require(storeauth.StepDone))
			r.Post("/2fa/recovery-codes", a.RegenerateRecoveryCodes)
			r.Post("/settings/email", a.RequestEmailChange)
			r.Post("/settings/email/verify", a.ConfirmEmailChange)
			r.Post("/settings/phone", a.RequestPhoneChange)
			r.Post("/settings/password", a.UpdatePassword)
		})
	})

	return r
}
