package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned when no valid access credential is present.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials covers wrong password and nonexistent account
	// alike; the two are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRateLimited is the sentinel matched by [RateLimitedError].
	ErrRateLimited = errors.New("rate limited")
	// ErrAccountLocked is the sentinel matched by [AccountLockedError].
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenInvalid marks a malformed, unsigned, or unknown token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired marks a structurally valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenReused is the breach signal: an already-consumed refresh token
	// was presented outside the grace window. The whole token family has
	// been revoked by the time the caller sees this error.
	ErrTokenReused = errors.New("refresh token reuse detected")
	// ErrRotationCeiling is returned when a family's rotation count reached
	// the configured maximum and a fresh login is required.
	ErrRotationCeiling = errors.New("refresh rotation ceiling reached")
	// ErrSessionNotFound is returned by administrative revocation when no
	// such session exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrCSRFRejected is returned when the double-submit comparison fails.
	ErrCSRFRejected = errors.New("csrf token rejected")
	// ErrResetDisabled is returned when password reset is not configured.
	ErrResetDisabled = errors.New("password reset disabled")
	// ErrResetTokenInvalid covers not-found, used, and expired password
	// reset tokens; the caller cannot tell which applied.
	ErrResetTokenInvalid = errors.New("password reset token invalid")
	// ErrPasswordPolicy marks a new password the hasher refused.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrBackendUnavailable wraps store failures. Security checks that hit
	// it fail closed.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrEngineNotReady is returned by operations on a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitedError carries the time until the exceeded window resets. It
// matches [ErrRateLimited] under errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// AccountLockedError carries the remaining lockout duration. It matches
// [ErrAccountLocked] under errors.Is.
type AccountLockedError struct {
	Remaining      time.Duration
	FailedAttempts int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked: retry after %s", e.Remaining.Round(time.Second))
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}
