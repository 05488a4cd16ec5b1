package storeauth

import (
	"context"

	"github.com/google/uuid"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	action AuditAction,
	success bool,
	userID string,
	sessionID string,
	err error,
	detail func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var fields map[string]string
	if detail != nil {
		fields = detail()
	}

	event := AuditEvent{
		ID:            uuid.NewString(),
		At:            e.now().UTC(),
		Action:        action,
		Flow:          action.Flow(),
		UserID:        userID,
		SessionDigest: sessionID,
		Client: AuditClient{
			IP:        clientIPFromContext(ctx),
			UserAgent: userAgentFromContext(ctx),
		},
		Success: success,
		Detail:  fields,
	}
	if err != nil {
		event.ErrorKind = KindOf(err).String()
	}

	e.audit.publish(ctx, event)
}

// observeRateLimit records a rejection when err is one. The scope stays in
// the audit trail and never reaches the client.
func (e *Engine) observeRateLimit(ctx context.Context, scope, userID string, err error) {
	if KindOf(err) != KindRateLimited {
		return
	}
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, AuditRateLimited, false, userID, "", nil, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}
