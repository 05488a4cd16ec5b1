package api

import (
	"net/http"

	"github.com/MrEthical07/storeauth"
	"github.com/MrEthical07/storeauth/middleware"
)

// Health reports whether the stores are reachable.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.Health(r.Context()); err != nil {
		a.fail(w, err)
		return
	}
	ok(w, "OK", storeauth.StepNone, nil)
}

func (a *API) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	res, err := a.engine.SignUp(r.Context(), storeauth.SignUpInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.writeLogin(w, res)
	ok(w, "Account created", res.Next, nil)
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	res, err := a.engine.Login(r.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.writeLogin(w, res)
	ok(w, "Signed in", res.Next, nil)
}

func (a *API) writeLogin(w http.ResponseWriter, res *storeauth.LoginResult) {
	a.cookies.Set(w, middleware.SessionCookie, res.SessionToken, res.SessionExpiresAt)
	if res.VerificationToken != "" {
		a.cookies.Set(w, middleware.VerificationCookie, res.VerificationToken, res.VerificationExpiresAt)
	}
}

// Logout ends the session of the cookie, if any. It succeeds either way.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.Token(r, middleware.SessionCookie); token != "" {
		if err := a.engine.Logout(r.Context(), token); err != nil {
			a.fail(w, err)
			return
		}
	}
	a.cookies.Clear(w, middleware.SessionCookie)
	ok(w, "Signed out", storeauth.StepNone, nil)
}

func (a *API) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.LogoutAll(r.Context(), middleware.TokenFromContext(r.Context())); err != nil {
		a.fail(w, err)
		return
	}
	a.cookies.Clear(w, middleware.SessionCookie)
	ok(w, "Signed out everywhere", storeauth.StepNone, nil)
}

func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	sc, _ := middleware.SessionFromContext(r.Context())
	ok(w, "OK", sc.Next, SessionResponse{
		Email:            sc.User.Email,
		Username:         sc.User.Username,
		Phone:            sc.User.Phone,
		EmailVerified:    sc.User.EmailVerified,
		TwoFactorEnabled: sc.User.RegisteredTOTP(),
		ExpiresAt:        sc.Session.ExpiresAt,
	})
}

func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := a.engine.ListSessions(r.Context(), middleware.TokenFromContext(r.Context()))
	if err != nil {
		a.fail(w, err)
		return
	}
	out := make([]SessionInfoResponse, 0, len(infos))
	for _, s := range infos {
		out = append(out, SessionInfoResponse{
			CreatedAt:         s.CreatedAt,
			ExpiresAt:         s.ExpiresAt,
			TwoFactorVerified: s.TwoFactorVerified,
			IPAddress:         s.IPAddress,
			UserAgent:         s.UserAgent,
			Current:           s.Current,
		})
	}
	ok(w, "OK", storeauth.StepNone, out)
}

func (a *API) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	next, err := a.engine.VerifySignupEmail(r.Context(), middleware.TokenFromContext(r.Context()), req.Code)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.cookies.Clear(w, middleware.VerificationCookie)
	ok(w, "Email verified", next, nil)
}

func (a *API) ResendEmail(w http.ResponseWriter, r *http.Request) {
	ticket, err := a.engine.ResendSignupEmail(r.Context(), middleware.TokenFromContext(r.Context()))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.cookies.Set(w, middleware.VerificationCookie, ticket.Token, ticket.ExpiresAt)
	ok(w, "A new code was sent", storeauth.StepVerifyEmail, nil)
}
