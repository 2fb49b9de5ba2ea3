package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LockoutConfig holds configuration for the per-account lockout tracker.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

// ErrLockoutUnavailable indicates the backing user store is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// LockoutProvider is the slice of the host user store the tracker needs.
// RegisterFailedAttempt must be a single conditional update on the user row
// (increment failed_attempts, set locked_until when the threshold is hit) so
// concurrent failures cannot each observe a pre-threshold count.
type LockoutProvider interface {
	LockoutState(ctx context.Context, userID string) (failedAttempts int, lockedUntil time.Time, err error)
	RegisterFailedAttempt(ctx context.Context, userID string, threshold int, lockFor time.Duration) (failedAttempts int, lockedUntil time.Time, err error)
	ClearLockout(ctx context.Context, userID string) error
}

// Status reports the lockout state of one account.
type Status struct {
	Locked         bool
	Remaining      time.Duration
	FailedAttempts int
}

// LockoutTracker counts failed logins per user and applies a timed lockout
// once the threshold is reached. State lives on the user row itself so the
// lock survives process restarts and is visible to every instance.
type LockoutTracker struct {
	provider LockoutProvider
	config   LockoutConfig
	now      func() time.Time
}

// NewLockoutTracker creates a tracker over the given provider.
func NewLockoutTracker(provider LockoutProvider, cfg LockoutConfig, now func() time.Time) *LockoutTracker {
	if now == nil {
		now = time.Now
	}
	return &LockoutTracker{provider: provider, config: cfg, now: now}
}

// RecordFailure registers one failed login. When the configured threshold is
// reached the account is locked for the configured duration and the returned
// [Status] reports the lock.
func (t *LockoutTracker) RecordFailure(ctx context.Context, userID string) (Status, error) {
	if userID == "" {
		return Status{}, nil
	}

	attempts, lockedUntil, err := t.provider.RegisterFailedAttempt(ctx, userID, t.config.Threshold, t.config.Duration)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	now := t.now()
	if lockedUntil.After(now) {
		return Status{Locked: true, Remaining: lockedUntil.Sub(now), FailedAttempts: attempts}, nil
	}
	return Status{FailedAttempts: attempts}, nil
}

// Check reports whether the account is currently locked. A lock whose window
// has already passed is cleared here (auto-unlock) rather than waiting for a
// successful login.
func (t *LockoutTracker) Check(ctx context.Context, userID string) (Status, error) {
	if userID == "" {
		return Status{}, nil
	}

	attempts, lockedUntil, err := t.provider.LockoutState(ctx, userID)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if lockedUntil.IsZero() {
		return Status{FailedAttempts: attempts}, nil
	}

	now := t.now()
	if lockedUntil.After(now) {
		return Status{Locked: true, Remaining: lockedUntil.Sub(now), FailedAttempts: attempts}, nil
	}

	if err := t.provider.ClearLockout(ctx, userID); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return Status{}, nil
}

// Reset clears the counter and any active lock. Called on every successful
// authentication, unconditionally.
func (t *LockoutTracker) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if err := t.provider.ClearLockout(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
