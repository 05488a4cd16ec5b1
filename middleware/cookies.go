package middleware

import (
	"net/http"
	"time"
)

// Cookie names written by the API.
const (
	SessionCookie      = "session"
	ResetCookie        = "password_reset_session"
	VerificationCookie = "verification_request"
)

// Cookies writes the API's cookies. Every cookie is HttpOnly, SameSite=Lax
// and scoped to Path=/.
type Cookies struct {
	// Secure is disabled only for local development over plain HTTP.
	Secure bool
	Domain string
}

// Set writes name with value, expiring at expiresAt.
func (c Cookies) Set(w http.ResponseWriter, name, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear deletes name from the client.
func (c Cookies) Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token returns the value of cookie name, or "" when absent.
func Token(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
