package storeauth

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/MrEthical07/storeauth/session"
	"github.com/MrEthical07/storeauth/storage"
)

// ValidateSession resolves a session token to its session, its user and the
// step the session must complete next. Validation is a write on read: a
// session in the second half of its lifetime is extended and persisted.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*SessionContext, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	sess, user, err := e.authenticate(ctx, token)
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return &SessionContext{Session: sess, User: user, Next: NextStep(user, sess)}, nil
}

// Logout deletes the session of token. Logging out an unknown session
// succeeds.
func (e *Engine) Logout(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if token == "" {
		return nil
	}
	id := session.HashToken(token)
	if err := e.sessions.Invalidate(ctx, id); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, AuditLogoutSession, true, "", id, nil, nil)
	return nil
}

// LogoutAll deletes every session of the token's user, including its own.
func (e *Engine) LogoutAll(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	sess, _, err := e.authenticate(ctx, token)
	if err != nil {
		return err
	}
	if err := e.sessions.InvalidateUser(ctx, sess.UserID); err != nil {
		return unavailable(err)
	}
	e.metricInc(MetricLogoutAll)
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, AuditLogoutAll, true, sess.UserID, sess.ID, nil, nil)
	return nil
}

// ListSessions describes the live sessions of the token's user, newest first.
// The caller's own session is marked Current.
func (e *Engine) ListSessions(ctx context.Context, token string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sess, _, err := e.authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	infos, err := e.UserSessions(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		infos[i].Current = infos[i].id == sess.ID
	}
	return infos, nil
}

// UserSessions describes the live sessions of userID, newest first. It is
// meant for operators and performs no authentication.
func (e *Engine) UserSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sessions, err := e.sessions.ListForUser(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, SessionInfo{
			id:                s.ID,
			CreatedAt:         s.CreatedAt,
			ExpiresAt:         s.ExpiresAt,
			TwoFactorVerified: s.TwoFactorVerified,
			IPAddress:         s.IPAddress,
			UserAgent:         s.UserAgent,
		})
	}
	return infos, nil
}

// DeleteUser signs the user out everywhere and removes the account.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.resets.InvalidateUser(ctx, userID); err != nil {
		return unavailable(err)
	}
	if err := e.sessions.InvalidateUser(ctx, userID); err != nil {
		return unavailable(err)
	}
	if err := e.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUnauthenticated
		}
		return unavailable(err)
	}
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, AuditUserDeleted, true, userID, "", nil, nil)
	return nil
}
