// Package middleware adapts storeauth sessions to net/http.
//
// [Session] validates the session cookie through Engine.ValidateSession and
// stores the result in the request context; [Require] then gates a handler
// on the sign-in step the session has reached. [Cookies] writes and clears
// the cookies the API hands out.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Every decision
// about a session is made by the Engine.
//
// # What this package must NOT do
//
//   - Read or write session stores directly.
//   - Expose session tokens anywhere but the HttpOnly cookie.
package middleware
