package internaldefs

import (
	"github.com/MrEthical07/storeauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   storeauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   storeauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: storeauth.MetricLoginSuccess, Name: "storeauth_login_success_total", Help: "Successful password logins."},
	{ID: storeauth.MetricLoginFailure, Name: "storeauth_login_failure_total", Help: "Failed password logins."},
	{ID: storeauth.MetricLoginRateLimited, Name: "storeauth_login_rate_limited_total", Help: "Login attempts rejected by a rate limit or throttler."},
	{ID: storeauth.MetricSignupSuccess, Name: "storeauth_signup_success_total", Help: "Created accounts."},
	{ID: storeauth.MetricSignupFailure, Name: "storeauth_signup_failure_total", Help: "Rejected signups."},
	{ID: storeauth.MetricEmailVerificationSuccess, Name: "storeauth_email_verification_success_total", Help: "Confirmed signup emails."},
	{ID: storeauth.MetricEmailVerificationFailure, Name: "storeauth_email_verification_failure_total", Help: "Failed signup email confirmations."},
	{ID: storeauth.MetricCodeExpiredResent, Name: "storeauth_code_expired_resent_total", Help: "Expired codes replaced by a new one."},
	{ID: storeauth.MetricCodeAttemptsExhausted, Name: "storeauth_code_attempts_exhausted_total", Help: "Verification requests closed after too many wrong codes."},
	{ID: storeauth.MetricTOTPSetupSuccess, Name: "storeauth_totp_setup_success_total", Help: "Registered authenticators."},
	{ID: storeauth.MetricTOTPSetupFailure, Name: "storeauth_totp_setup_failure_total", Help: "Failed authenticator registrations."},
	{ID: storeauth.MetricTOTPSuccess, Name: "storeauth_totp_success_total", Help: "Accepted authenticator codes."},
	{ID: storeauth.MetricTOTPFailure, Name: "storeauth_totp_failure_total", Help: "Rejected authenticator codes."},
	{ID: storeauth.MetricTwoFactorReset, Name: "storeauth_two_factor_reset_total", Help: "Authenticators removed with a recovery code."},
	{ID: storeauth.MetricRecoveryCodeUsed, Name: "storeauth_recovery_code_used_total", Help: "Consumed recovery codes."},
	{ID: storeauth.MetricRecoveryCodeFailure, Name: "storeauth_recovery_code_failure_total", Help: "Rejected recovery codes."},
	{ID: storeauth.MetricRecoveryCodesRegenerated, Name: "storeauth_recovery_codes_regenerated_total", Help: "Recovery code sets issued."},
	{ID: storeauth.MetricPasswordChangeSuccess, Name: "storeauth_password_change_success_total", Help: "Password changes by signed-in users."},
	{ID: storeauth.MetricPasswordChangeFailure, Name: "storeauth_password_change_failure_total", Help: "Rejected password changes."},
	{ID: storeauth.MetricPasswordResetRequest, Name: "storeauth_password_reset_request_total", Help: "Forgot-password requests."},
	{ID: storeauth.MetricPasswordResetSuccess, Name: "storeauth_password_reset_success_total", Help: "Completed password resets."},
	{ID: storeauth.MetricContactChangeRequest, Name: "storeauth_contact_change_request_total", Help: "Email or phone change requests."},
	{ID: storeauth.MetricContactChangeSuccess, Name: "storeauth_contact_change_success_total", Help: "Applied email or phone changes."},
	{ID: storeauth.MetricSessionCreated, Name: "storeauth_session_created_total", Help: "Created sessions."},
	{ID: storeauth.MetricSessionRenewed, Name: "storeauth_session_renewed_total", Help: "Sessions extended by sliding expiry."},
	{ID: storeauth.MetricSessionInvalidated, Name: "storeauth_session_invalidated_total", Help: "Bulk session invalidations."},
	{ID: storeauth.MetricLogout, Name: "storeauth_logout_total", Help: "Single-session logouts."},
	{ID: storeauth.MetricLogoutAll, Name: "storeauth_logout_all_total", Help: "Logouts of every session of a user."},
	{ID: storeauth.MetricNotifySendFailure, Name: "storeauth_notify_send_failure_total", Help: "Codes that could not be delivered."},
	{ID: storeauth.MetricRateLimitHit, Name: "storeauth_rate_limit_hit_total", Help: "Requests denied by any rate limit."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: storeauth.MetricValidateLatency, Name: "storeauth_validate_latency_seconds", Help: "Session validation latency."},
}

// HistogramBounds are the upper bounds of the engine's latency buckets in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix renders HistogramBounds for use in metric names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed bucket array, zero-filling any
// missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into the running totals both
// export formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
