package api

import "time"

type SignUpRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type CodeRequest struct {
	Code string `json:"code"`
}

type ConfirmTOTPRequest struct {
	Ticket string `json:"ticket"`
	Code   string `json:"code"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type PhoneRequest struct {
	Phone string `json:"phone"`
}

type PhoneChangeRequest struct {
	Email        string `json:"email"`
	CurrentPhone string `json:"current_phone"`
	NewPhone     string `json:"new_phone"`
}

type UpdatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type ResetPasswordRequest struct {
	Password string `json:"password"`
}

type SessionResponse struct {
	Email            string    `json:"email"`
	Username         string    `json:"username"`
	Phone            string    `json:"phone,omitempty"`
	EmailVerified    bool      `json:"email_verified"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	ExpiresAt        time.Time `json:"expires_at"`
}

type SessionInfoResponse struct {
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	TwoFactorVerified bool      `json:"two_factor_verified"`
	IPAddress         string    `json:"ip_address,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	Current           bool      `json:"current"`
}

type TOTPSetupResponse struct {
	Ticket    string    `json:"ticket"`
	Secret    string    `json:"secret"`
	URI       string    `json:"uri"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

type ResetStateResponse struct {
	Email             string    `json:"email"`
	EmailVerified     bool      `json:"email_verified"`
	TwoFactorRequired bool      `json:"two_factor_required"`
	TwoFactorVerified bool      `json:"two_factor_verified"`
	ExpiresAt         time.Time `json:"expires_at"`
}
