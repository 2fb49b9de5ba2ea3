package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	internalaudit "github.com/vaultharden/authcore/internal/audit"
)

// SecuritySummary aggregates one user's audit activity over a window.
type SecuritySummary = internalaudit.Summary

// IPActivity reports failed-login volume for one source IP.
type IPActivity = internalaudit.IPActivity

// emitAudit records one security event, fire-and-forget. The dispatcher and
// store swallow their own failures; nothing here can fail the operation
// being described.
func (e *Engine) emitAudit(ctx context.Context, eventType, userID, sessionID string, success bool, errCode string, metadata map[string]string) {
	if e.audit == nil {
		return
	}
	e.audit.Emit(ctx, AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Error:     errCode,
		Metadata:  metadata,
	})
}

// AuditQuery runs an investigative query over the stored audit events.
// Results are newest-first.
func (e *Engine) AuditQuery(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	events, err := e.auditStore.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return events, nil
}

// FailedLoginAttempts returns recent failed login events.
func (e *Engine) FailedLoginAttempts(ctx context.Context, window time.Duration, limit int) ([]AuditEvent, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	events, err := e.auditStore.FailedLoginAttempts(ctx, window, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return events, nil
}

// UserSecuritySummary aggregates one user's audit activity over a window.
func (e *Engine) UserSecuritySummary(ctx context.Context, userID string, window time.Duration) (SecuritySummary, error) {
	if e == nil {
		return SecuritySummary{}, ErrEngineNotReady
	}
	summary, err := e.auditStore.UserSecuritySummary(ctx, userID, window)
	if err != nil {
		return SecuritySummary{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return summary, nil
}

// DetectSuspiciousActivity groups failed logins by source IP within the
// window and returns IPs meeting the threshold, busiest first.
func (e *Engine) DetectSuspiciousActivity(ctx context.Context, window time.Duration, minFailedAttempts int) ([]IPActivity, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	activity, err := e.auditStore.DetectSuspiciousActivity(ctx, window, minFailedAttempts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return activity, nil
}

// CleanupAuditLogs deletes audit events older than the retention horizon
// and reports how many were removed.
func (e *Engine) CleanupAuditLogs(ctx context.Context, retention time.Duration) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	deleted, err := e.auditStore.CleanupOldLogs(ctx, retention)
	if err != nil {
		return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return deleted, nil
}
