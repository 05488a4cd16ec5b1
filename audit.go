package storeauth

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// AuditAction names a security-relevant transition of a store account. The
// string values are stable and safe to index on.
type AuditAction string

// Account lifecycle.
const (
	AuditSignupSuccess          AuditAction = "signup_success"
	AuditSignupFailure          AuditAction = "signup_failure"
	AuditEmailVerificationSent  AuditAction = "email_verification_sent"
	AuditEmailVerified          AuditAction = "email_verified"
	AuditCodeFailure            AuditAction = "verification_code_failure"
	AuditUserDeleted            AuditAction = "user_deleted"
	AuditEmailChangeRequested   AuditAction = "email_change_requested"
	AuditEmailChanged           AuditAction = "email_changed"
	AuditPhoneChangeRequested   AuditAction = "phone_change_requested"
	AuditPhoneChanged           AuditAction = "phone_changed"
	AuditNotificationSendFailed AuditAction = "notification_send_failure"
)

// Sign-in and sessions.
const (
	AuditLoginSuccess  AuditAction = "login_success"
	AuditLoginFailure  AuditAction = "login_failure"
	AuditLogoutSession AuditAction = "logout_session"
	AuditLogoutAll     AuditAction = "logout_all"
	AuditRateLimited   AuditAction = "rate_limit_triggered"
)

// Second factor.
const (
	AuditTOTPSetupRequested     AuditAction = "totp_setup_requested"
	AuditTOTPEnabled            AuditAction = "totp_enabled"
	AuditTOTPSuccess            AuditAction = "totp_success"
	AuditTOTPFailure            AuditAction = "totp_failure"
	AuditTwoFactorReset         AuditAction = "two_factor_reset"
	AuditRecoveryCodeUsed       AuditAction = "recovery_code_used"
	AuditRecoveryCodeFailed     AuditAction = "recovery_code_failed"
	AuditRecoveryCodesGenerated AuditAction = "recovery_codes_generated"
)

// Password.
const (
	AuditPasswordChangeSuccess AuditAction = "password_change_success"
	AuditPasswordChangeFailure AuditAction = "password_change_failure"
	AuditPasswordResetRequest  AuditAction = "password_reset_request"
	AuditPasswordResetVerified AuditAction = "password_reset_step_verified"
	AuditPasswordResetConfirm  AuditAction = "password_reset_confirm"
)

// Flow groups the action under the admin flow that produced it: "account",
// "session", "two_factor", "password" or "guard".
func (a AuditAction) Flow() string {
	switch {
	case strings.HasPrefix(string(a), "login_"), strings.HasPrefix(string(a), "logout_"):
		return "session"
	case strings.HasPrefix(string(a), "totp_"), strings.HasPrefix(string(a), "recovery_code"),
		a == AuditTwoFactorReset:
		return "two_factor"
	case strings.HasPrefix(string(a), "password_"):
		return "password"
	case a == AuditRateLimited:
		return "guard"
	default:
		return "account"
	}
}

// AuditClient is the request origin as the transport reported it.
type AuditClient struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// AuditEvent is one entry of the audit trail. SessionDigest is the stored
// session id, never the bearer token, and ErrorKind carries only the
// classified failure.
type AuditEvent struct {
	ID            string            `json:"id"`
	At            time.Time         `json:"at"`
	Action        AuditAction       `json:"action"`
	Flow          string            `json:"flow"`
	UserID        string            `json:"user_id,omitempty"`
	SessionDigest string            `json:"session_digest,omitempty"`
	Client        AuditClient       `json:"client"`
	Success       bool              `json:"success"`
	ErrorKind     string            `json:"error_kind,omitempty"`
	Detail        map[string]string `json:"detail,omitempty"`
}

// AuditSink receives events from the audit worker, one at a time.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// AuditSinkFunc adapts a function to AuditSink.
type AuditSinkFunc func(ctx context.Context, event AuditEvent)

func (f AuditSinkFunc) Emit(ctx context.Context, event AuditEvent) { f(ctx, event) }

var discardAudit = AuditSinkFunc(func(context.Context, AuditEvent) {})

// AuditRecorder hands events to a buffered channel. Tests and in-process
// consumers read them from Events.
type AuditRecorder struct {
	events chan AuditEvent
}

func NewAuditRecorder(buffer int) *AuditRecorder {
	if buffer <= 0 {
		buffer = 1
	}
	return &AuditRecorder{events: make(chan AuditEvent, buffer)}
}

func (r *AuditRecorder) Emit(ctx context.Context, event AuditEvent) {
	select {
	case r.events <- event:
	case <-ctx.Done():
	}
}

func (r *AuditRecorder) Events() <-chan AuditEvent { return r.events }

// AuditLog writes the trail as JSON lines. Flows, when set, restricts the
// log to those flows.
type AuditLog struct {
	mu    sync.Mutex
	enc   *json.Encoder
	flows map[string]bool
}

func NewAuditLog(w io.Writer, flows ...string) *AuditLog {
	l := &AuditLog{enc: json.NewEncoder(w)}
	if len(flows) > 0 {
		l.flows = make(map[string]bool, len(flows))
		for _, f := range flows {
			l.flows[f] = true
		}
	}
	return l
}

func (l *AuditLog) Emit(_ context.Context, event AuditEvent) {
	if l == nil || l.enc == nil {
		return
	}
	if l.flows != nil && !l.flows[event.Flow] {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.enc.Encode(event)
}
