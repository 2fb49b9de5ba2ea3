package authcore

import (
	"context"
	"time"

	internalaudit "github.com/vaultharden/authcore/internal/audit"
	"github.com/vaultharden/authcore/session"
)

// UserProvider is the interface callers implement to integrate the engine
// with their user database. It covers credential lookup, password updates,
// and the lockout columns (failed_attempts, locked_until) on the user row.
//
// RegisterFailedAttempt must be a single conditional update (increment the
// counter, set locked_until when the threshold is hit in the same
// statement) so two concurrent failures cannot both observe a
// pre-threshold count.
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, bool, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, bool, error)
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error

	LockoutState(ctx context.Context, userID string) (failedAttempts int, lockedUntil time.Time, err error)
	RegisterFailedAttempt(ctx context.Context, userID string, threshold int, lockFor time.Duration) (failedAttempts int, lockedUntil time.Time, err error)
	ClearLockout(ctx context.Context, userID string) error
}

// UserRecord is the slice of the host account row the engine reads.
// PasswordHash may be empty for identities that never authenticate with a
// password; logins against those burn full verification time and fail.
type UserRecord struct {
	UserID       string
	Identifier   string
	PasswordHash string
}

// Mailer delivers password reset tokens out of band. The engine never
// returns a reset token to the requesting caller; the Mailer is the only
// path a real token leaves by.
type Mailer interface {
	SendPasswordReset(ctx context.Context, userID, identifier, token string, expiresAt time.Time) error
}

// AuditEvent is the canonical audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives emitted audit events. Implementations must never fail
// the operation being described.
type AuditSink = internalaudit.Sink

// AuditFilter selects audit events for investigative queries.
type AuditFilter = internalaudit.Filter

// TokenPair is the credential set returned by [Engine.Login] and
// [Engine.Refresh].
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	CSRFToken        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	FamilyID         string
	UserID           string
}

// SessionInfo is the introspection view of one stored session. The refresh
// hash never leaves the store.
type SessionInfo struct {
	SessionID     string
	UserID        string
	FamilyID      string
	ParentID      string
	RotationCount int
	CreatedAt     time.Time
	ExpiresAt     time.Time
	LastUsedAt    time.Time
	Revoked       bool
	IP            string
	UserAgent     string
}

func sessionInfo(s *session.Session) SessionInfo {
	return SessionInfo{
		SessionID:     s.SessionID,
		UserID:        s.UserID,
		FamilyID:      s.FamilyID,
		ParentID:      s.ParentID,
		RotationCount: s.RotationCount,
		CreatedAt:     time.UnixMilli(s.CreatedAt),
		ExpiresAt:     time.UnixMilli(s.ExpiresAt),
		LastUsedAt:    time.UnixMilli(s.LastUsedAt),
		Revoked:       s.Revoked,
		IP:            s.IP,
		UserAgent:     s.UserAgent,
	}
}

// AccessIdentity is the result of a stateless access token validation.
type AccessIdentity struct {
	UserID    string
	SessionID string
	FamilyID  string
	ExpiresAt time.Time
}

// LockoutStatus reports the lockout state of one account.
type LockoutStatus struct {
	Locked         bool
	Remaining      time.Duration
	FailedAttempts int
}

// ResetRequest reports the outcome of a password reset request. Accepted is
// true for unknown identifiers too; only delivery knows the difference.
type ResetRequest struct {
	Accepted  bool
	ExpiresAt time.Time
}
