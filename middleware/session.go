package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/storeauth"
)

type sessionContextKey struct{}

type authenticated struct {
	token string
	sc    *storeauth.SessionContext
}

// SessionFromContext returns the session loaded by [Session].
func SessionFromContext(ctx context.Context) (*storeauth.SessionContext, bool) {
	a, ok := ctx.Value(sessionContextKey{}).(*authenticated)
	if !ok {
		return nil, false
	}
	return a.sc, true
}

// TokenFromContext returns the bearer token of the session loaded by [Session].
func TokenFromContext(ctx context.Context) string {
	a, ok := ctx.Value(sessionContextKey{}).(*authenticated)
	if !ok {
		return ""
	}
	return a.token
}

// Session validates the session cookie and stores the session in the request
// context. A renewed session gets its cookie rewritten with the new expiry.
// Requests without a live session are answered with 401 and the cookie is
// cleared.
func Session(engine *storeauth.Engine, cookies Cookies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := Token(r, SessionCookie)
			if engine == nil || token == "" {
				reject(w, http.StatusUnauthorized, storeauth.ErrUnauthenticated)
				return
			}

			sc, err := engine.ValidateSession(r.Context(), token)
			if err != nil {
				if storeauth.KindOf(err) == storeauth.KindExpired {
					cookies.Clear(w, SessionCookie)
					reject(w, http.StatusUnauthorized, err)
					return
				}
				reject(w, http.StatusInternalServerError, err)
				return
			}
			if sc.Session.Renewed {
				cookies.Set(w, SessionCookie, token, sc.Session.ExpiresAt)
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, &authenticated{token: token, sc: sc})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Require lets a request through only when its session stands at step. It
// must run after [Session]. A mismatch is answered with 403 and the step the
// user actually has to complete.
func Require(step storeauth.Step) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sc, ok := SessionFromContext(r.Context())
			if !ok {
				reject(w, http.StatusUnauthorized, storeauth.ErrUnauthenticated)
				return
			}
			if sc.Next != step {
				res := storeauth.ResultFromError(storeauth.ErrForbidden)
				res.Next = sc.Next.String()
				writeResult(w, http.StatusForbidden, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, status int, err error) {
	writeResult(w, status, storeauth.ResultFromError(err))
}

func writeResult(w http.ResponseWriter, status int, res storeauth.ActionResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}
