package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/MrEthical07/storeauth"
	"github.com/MrEthical07/storeauth/middleware"
)

const maxBodyBytes = 16 << 10

func writeResult(w http.ResponseWriter, status int, res storeauth.ActionResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func ok(w http.ResponseWriter, message string, next storeauth.Step, data any) {
	res := storeauth.OK(message, next)
	res.Data = data
	writeResult(w, http.StatusOK, res)
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	if errors.Is(err, storeauth.ErrUnauthenticated) {
		return http.StatusUnauthorized
	}
	switch storeauth.KindOf(err) {
	case storeauth.KindRateLimited:
		return http.StatusTooManyRequests
	case storeauth.KindForbidden:
		return http.StatusForbidden
	case storeauth.KindInvalidCredential, storeauth.KindExpired, storeauth.KindValidation, storeauth.KindWeakPassword:
		return http.StatusBadRequest
	case storeauth.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err. Cookies pointing at records that no longer exist are
// cleared on the way out.
func (a *API) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storeauth.ErrUnauthenticated):
		a.cookies.Clear(w, middleware.SessionCookie)
	case errors.Is(err, storeauth.ErrResetExpired):
		a.cookies.Clear(w, middleware.ResetCookie)
	}
	res := storeauth.ResultFromError(err)
	if res.CooldownSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(res.CooldownSeconds))
	}
	writeResult(w, statusFor(err), res)
}

var errBadBody = errors.New("invalid request body")

// decode reads a JSON body into dst. Unknown fields are rejected.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

func badRequest(w http.ResponseWriter) {
	writeResult(w, http.StatusBadRequest, storeauth.ActionResult{Message: storeauth.ErrValidation.Error()})
}
