package api

import (
	"net/http"

	"github.com/MrEthical07/storeauth"
	"github.com/MrEthical07/storeauth/middleware"
)

func (a *API) BeginTOTPSetup(w http.ResponseWriter, r *http.Request) {
	setup, err := a.engine.BeginTOTPSetup(r.Context(), middleware.TokenFromContext(r.Context()))
	if err != nil {
		a.fail(w, err)
		return
	}
	ok(w, "Scan the code with your authenticator", storeauth.StepNone, TOTPSetupResponse{
		Ticket:    setup.Ticket,
		Secret:    setup.Secret,
		URI:       setup.URI,
		ExpiresAt: setup.ExpiresAt,
	})
}

func (a *API) ConfirmTOTPSetup(w http.ResponseWriter, r *http.Request) {
	var req ConfirmTOTPRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	codes, err := a.engine.ConfirmTOTPSetup(r.Context(), middleware.TokenFromContext(r.Context()), req.Ticket, req.Code)
	if err != nil {
		a.fail(w, err)
		return
	}
	ok(w, "Two-factor authentication enabled", storeauth.StepDone, RecoveryCodesResponse{RecoveryCodes: codes})
}

func (a *API) VerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	if err := a.engine.VerifyTOTP(r.Context(), middleware.TokenFromContext(r.Context()), req.Code); err != nil {
		a.fail(w, err)
		return
	}
	ok(w, "Verified", storeauth.StepDone, nil)
}

func (a *API) VerifyRecoveryCode(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	if err := a.engine.VerifyRecoveryCode(r.Context(), middleware.TokenFromContext(r.Context()), req.Code); err != nil {
		a.fail(w, err)
		return
	}
	ok(w, "Verified", storeauth.StepDone, nil)
}

// ResetTwoFactor removes the authenticator with a recovery code. The user
// must register a new one next.
func (a *API) ResetTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req CodeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w)
		return
	}
	codes, err := a.engine.ResetTwoFactor(r.Context(), middleware.TokenFromContext(r.Context()), req.Code)
	if err != nil {
		a.fail(w, err)
		return
	}
	ok(w, "Two-factor authentication removed", storeauth.StepSetupTwoFactor, RecoveryCodesResponse{RecoveryCodes: codes})
}

func (a *API) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := a.engine.RegenerateRecoveryCodes(r.Context(), middleware.TokenFromContext(r.Context()))
	if err != nil {
		a.fail(w, err)
		return
	}
	ok(w, "New recovery codes issued", storeauth.StepNone, RecoveryCodesResponse{RecoveryCodes: codes})
}
