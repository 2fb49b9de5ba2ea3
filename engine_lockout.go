package authcore

import (
	"context"
	"fmt"
	"strconv"

	internalaudit "github.com/vaultharden/authcore/internal/audit"
)

// RecordFailedLogin registers one failed authentication attempt against a
// user. [Engine.Login] calls this itself on every wrong password; the
// method is exported for callers running additional credential checks of
// their own.
func (e *Engine) RecordFailedLogin(ctx context.Context, userID string) (LockoutStatus, error) {
	if e == nil {
		return LockoutStatus{}, ErrEngineNotReady
	}

	status, err := e.lockout.RecordFailure(ctx, userID)
	if err != nil {
		return LockoutStatus{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if status.Locked {
		e.emitAudit(ctx, internalaudit.EventLockoutTriggered, userID, "", false, "account_locked", map[string]string{
			"failed_attempts": strconv.Itoa(status.FailedAttempts),
		})
	}
	return lockoutStatus(status), nil
}

// CheckLockout reports whether a user is currently locked out. A lock whose
// window has passed is cleared as a side effect (auto-unlock).
func (e *Engine) CheckLockout(ctx context.Context, userID string) (LockoutStatus, error) {
	if e == nil {
		return LockoutStatus{}, ErrEngineNotReady
	}

	status, err := e.lockout.Check(ctx, userID)
	if err != nil {
		return LockoutStatus{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return lockoutStatus(status), nil
}

// ResetFailedAttempts clears a user's failure counter and any active lock.
func (e *Engine) ResetFailedAttempts(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	if err := e.lockout.Reset(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emitAudit(ctx, internalaudit.EventLockoutCleared, userID, "", true, "", nil)
	return nil
}
