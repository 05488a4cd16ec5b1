package api

import (
	"net/http"

	"github.com/MrEthical07/storeauth"
	"github.com/MrEthical07/storeauth/middleware"
)

func (a *API) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	if _, err := a.engine.RequestEmailChange(r.Context(), middleware.TokenFromContext(r.Context()), req.Email); err != nil {
		a.fail(w, err)
		return
	}
	ok(w, "A code was sent to the new address", storeauth.StepNone, nil)
}

func (a *API) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	if err := a.engine.ConfirmEmailChange(r.Context(), middleware.TokenFromContext(r.Context()), req.Code); err != nil {
		a.fail(w, err)
		return
	}
	ok(w, "Email updated", storeauth.StepNone, nil)
}

func (a *API) RequestPhoneChange(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	ticket, err := a.engine.RequestPhoneChange(r.Context(), middleware.TokenFromContext(r.Context()), req.Phone)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.cookies.Set(w, middleware.VerificationCookie, ticket.Token, ticket.ExpiresAt)
	ok(w, "A code was sent to the new number", storeauth.StepNone, nil)
}

// RequestPhoneChangeByContact answers identically whether or not the
// contact details matched an account.
func (a *API) RequestPhoneChangeByContact(w http.ResponseWriter, r *http.Request) {
	var req PhoneChangeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	ticket, err := a.engine.RequestPhoneChangeByContact(r.Context(), req.Email, req.CurrentPhone, req.NewPhone)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.cookies.Set(w, middleware.VerificationCookie, ticket.Token, ticket.ExpiresAt)
	ok(w, "If the details match an account, a code was sent to the new number", storeauth.StepNone, nil)
}

func (a *API) ConfirmPhoneChange(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	token := middleware.Token(r, middleware.VerificationCookie)
	if err := a.engine.ConfirmPhoneChange(r.Context(), token, req.Code); err != nil {
		a.fail(w, err)
		return
	}
	a.cookies.Clear(w, middleware.VerificationCookie)
	ok(w, "Phone number updated", storeauth.StepNone, nil)
}

// UpdatePassword signs out every session and hands back a replacement for
// the caller's.
func (a *API) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req UpdatePasswordRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	res, err := a.engine.UpdatePassword(r.Context(), middleware.TokenFromContext(r.Context()), req.CurrentPassword, req.NewPassword)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.cookies.Set(w, middleware.SessionCookie, res.SessionToken, res.SessionExpiresAt)
	ok(w, "Password updated", res.Next, nil)
}
