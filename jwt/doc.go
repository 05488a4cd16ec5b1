// Package jwt issues and verifies short-lived signed tickets used while a
// user enrols an authenticator app. A ticket binds a server-generated TOTP
// key to one user so the confirmation request can prove the key it submits
// was issued to that user and has not been altered.
package jwt
