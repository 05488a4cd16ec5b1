// Package api serves the storeauth Engine as a JSON HTTP API.
//
// [API.Router] returns a chi router meant to be mounted under a prefix such
// as /api/v1. Every response body is a storeauth.ActionResult; failures map
// to status codes by error kind and rate-limit rejections carry Retry-After.
//
// Session, password-reset and verification-request tokens travel only in
// HttpOnly cookies. State-changing requests from a foreign Origin are
// refused before they reach a handler.
package api
