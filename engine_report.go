package authcore

import (
	"context"
	"fmt"
	"time"

	internalaudit "github.com/vaultharden/authcore/internal/audit"
)

// SecurityReport is a point-in-time overview of security-relevant activity
// within a window, assembled from the audit store.
type SecurityReport struct {
	GeneratedAt time.Time
	Window      time.Duration

	FailedLogins      int
	RateLimitRejects  int
	LockoutsTriggered int
	ReuseIncidents    int
	SuspiciousIPs     []IPActivity
}

// SecurityReport aggregates failed logins, throttle rejections, lockouts,
// and token reuse incidents over the window. minFailedAttempts sets the
// per-IP threshold for the suspicious list.
func (e *Engine) SecurityReport(ctx context.Context, window time.Duration, minFailedAttempts int) (SecurityReport, error) {
	if e == nil {
		return SecurityReport{}, ErrEngineNotReady
	}

	report := SecurityReport{
		GeneratedAt: e.now(),
		Window:      window,
	}
	from := report.GeneratedAt.Add(-window)

	counts := []struct {
		eventType string
		dest      *int
	}{
		{internalaudit.EventLoginFailed, &report.FailedLogins},
		{internalaudit.EventLoginRateLimited, &report.RateLimitRejects},
		{internalaudit.EventLockoutTriggered, &report.LockoutsTriggered},
		{internalaudit.EventTokenReused, &report.ReuseIncidents},
	}
	for _, c := range counts {
		events, err := e.auditStore.Query(ctx, AuditFilter{
			EventType: c.eventType,
			From:      from,
		})
		if err != nil {
			return SecurityReport{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		*c.dest = len(events)
	}

	suspicious, err := e.auditStore.DetectSuspiciousActivity(ctx, window, minFailedAttempts)
	if err != nil {
		return SecurityReport{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	report.SuspiciousIPs = suspicious

	return report, nil
}
