package api

import (
	"context"
	"net/http"

	"github.com/MrEthical07/storeauth"
	"github.com/MrEthical07/storeauth/middleware"
)

func resetState(s *storeauth.ResetState) ResetStateResponse {
	return ResetStateResponse{
		Email:             s.Email,
		EmailVerified:     s.EmailVerified,
		TwoFactorRequired: s.TwoFactorRequired,
		TwoFactorVerified: s.TwoFactorVerified,
		ExpiresAt:         s.ExpiresAt,
	}
}

// ForgotPassword answers identically for known and unknown addresses.
func (a *API) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	ticket, err := a.engine.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.cookies.Set(w, middleware.ResetCookie, ticket.Token, ticket.ExpiresAt)
	ok(w, "If an account exists for this address, a code was sent to it", storeauth.StepNone, nil)
}

func (a *API) ResetState(w http.ResponseWriter, r *http.Request) {
	state, err := a.engine.ValidateResetSession(r.Context(), middleware.Token(r, middleware.ResetCookie))
	if err != nil {
		a.fail(w, err)
		return
	}
	ok(w, "OK", storeauth.StepNone, resetState(state))
}

func (a *API) VerifyResetEmail(w http.ResponseWriter, r *http.Request) {
	a.resetStep(w, r, "Email verified", a.engine.VerifyResetEmail)
}

func (a *API) VerifyResetTOTP(w http.ResponseWriter, r *http.Request) {
	a.resetStep(w, r, "Verified", a.engine.VerifyResetTOTP)
}

func (a *API) VerifyResetRecoveryCode(w http.ResponseWriter, r *http.Request) {
	a.resetStep(w, r, "Verified", a.engine.VerifyResetRecoveryCode)
}

func (a *API) resetStep(w http.ResponseWriter, r *http.Request, message string,
	verify func(ctx context.Context, token, code string) (*storeauth.ResetState, error)) {
	var req CodeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	state, err := verify(r.Context(), middleware.Token(r, middleware.ResetCookie), req.Code)
	if err != nil {
		a.fail(w, err)
		return
	}
	ok(w, message, storeauth.StepNone, resetState(state))
}

// ResetPassword sets the new password. Both the reset and the session cookie
// are cleared since every session of the user has ended.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	if err := a.engine.ResetPassword(r.Context(), middleware.Token(r, middleware.ResetCookie), req.Password); err != nil {
		a.fail(w, err)
		return
	}
	a.cookies.Clear(w, middleware.ResetCookie)
	a.cookies.Clear(w, middleware.SessionCookie)
	ok(w, "Password updated, please sign in", storeauth.StepNone, nil)
}
