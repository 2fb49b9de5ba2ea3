package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/vaultharden/authcore/internal/audit"
	"github.com/vaultharden/authcore/internal/limiters"
	"github.com/vaultharden/authcore/internal/rate"
	"github.com/vaultharden/authcore/internal/stores"
	"github.com/vaultharden/authcore/jwt"
	"github.com/vaultharden/authcore/password"
	"github.com/vaultharden/authcore/session"
)

// Engine is the authentication and session security core. Build one with
// [Builder] and share it; every method is safe for concurrent use.
type Engine struct {
	config Config
	redis  redis.UniversalClient

	sessionStore *session.Store
	rateLimiter  *rate.Limiter
	lockout      *limiters.LockoutTracker
	resetStore   *stores.PasswordResetStore
	auditStore   *internalaudit.Store
	audit        *internalaudit.Dispatcher
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	userProvider UserProvider
	mailer       Mailer
	scheduler    *Scheduler

	now func() time.Time
}

// Close stops the background scheduler and drains the audit pipeline.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events the async dispatcher shed
// under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Ping reports backend reachability and round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	latency, err := e.sessionStore.Ping(ctx)
	if err != nil {
		return latency, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return latency, nil
}

// Scheduler returns the engine's background sweep scheduler, nil when
// maintenance is disabled.
func (e *Engine) Scheduler() *Scheduler {
	if e == nil {
		return nil
	}
	return e.scheduler
}

// Rate limit dimensions. The per-identifier and per-IP buckets are
// independent; any exceeded dimension rejects the whole operation.
const (
	dimLoginIdentifier = "login:id:"
	dimLoginIP         = "login:ip:"
	dimRefreshSession  = "refresh:"
	dimResetIdentifier = "reset:id:"
	dimResetIP         = "reset:ip:"
)

func (e *Engine) ratePolicy(dimension string) (int, time.Duration) {
	switch dimension {
	case dimLoginIdentifier:
		return e.config.RateLimit.MaxLoginAttempts, e.config.RateLimit.LoginWindow
	case dimLoginIP:
		return e.config.RateLimit.MaxLoginPerIP, e.config.RateLimit.IPWindow
	case dimRefreshSession:
		return e.config.RateLimit.MaxRefreshAttempts, e.config.RateLimit.RefreshWindow
	case dimResetIdentifier, dimResetIP:
		return e.config.RateLimit.MaxResetRequests, e.config.RateLimit.ResetWindow
	default:
		return 0, 0
	}
}

// checkRate enforces one throttle dimension. Backend failures fail closed:
// an unverifiable budget rejects the request.
func (e *Engine) checkRate(ctx context.Context, dimension, identifier string) error {
	maxAttempts, window := e.ratePolicy(dimension)
	if maxAttempts <= 0 {
		return nil
	}

	_, err := e.rateLimiter.Check(ctx, dimension+identifier, maxAttempts, window)
	if err == nil {
		return nil
	}

	var limited *rate.LimitedError
	if errors.As(err, &limited) {
		return &RateLimitedError{RetryAfter: limited.RetryAfter}
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func (e *Engine) loginThrottleDimensions(identifier, ip string) [][2]string {
	var dims [][2]string
	if e.config.RateLimit.EnableIPThrottle {
		dims = append(dims, [2]string{dimLoginIP, ip})
	}
	if e.config.RateLimit.EnableIdentifierThrottle {
		dims = append(dims, [2]string{dimLoginIdentifier, identifier})
	}
	return dims
}

func (e *Engine) resetThrottleDimensions(identifier, ip string) [][2]string {
	var dims [][2]string
	if e.config.RateLimit.EnableIPThrottle {
		dims = append(dims, [2]string{dimResetIP, ip})
	}
	if e.config.RateLimit.EnableIdentifierThrottle {
		dims = append(dims, [2]string{dimResetIdentifier, identifier})
	}
	return dims
}

func lockoutStatus(s limiters.Status) LockoutStatus {
	return LockoutStatus{
		Locked:         s.Locked,
		Remaining:      s.Remaining,
		FailedAttempts: s.FailedAttempts,
	}
}
