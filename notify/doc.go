// Package notify delivers one-time codes by email and SMS.
//
// Delivery is fire-and-forget from the engine's point of view: callers persist
// state first and only log a send failure.
//
// # What this package must NOT do
//
//   - Log codes or message bodies.
//   - Retry sends; the user asks for a resend instead.
package notify
