package flows

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/vaultharden/authcore/internal/stores"
)

// ResetFailureKind classifies password-reset flow failures.
type ResetFailureKind int

const (
	ResetFailureNone ResetFailureKind = iota
	ResetFailureRateLimited
	// ResetFailureInvalid covers not-found, already-used, expired, and
	// secret mismatch alike; callers must not be able to tell which.
	ResetFailureInvalid
	ResetFailureBackend
	ResetFailurePolicy
)

// ResetIssueResult reports an issued (or silently skipped) reset token.
type ResetIssueResult struct {
	Failure   ResetFailureKind
	Err       error
	UserID    string
	Token     string
	ExpiresAt time.Time
	// Skipped is set when the identifier resolved to no account. The
	// caller responds exactly as if a token had been sent.
	Skipped bool
}

// ResetIssueDeps captures reset issuance dependencies.
type ResetIssueDeps struct {
	TokenTTL time.Duration

	CheckRate          func(ctx context.Context, dimension, identifier string) error
	ThrottleDimensions func(identifier, ip string) [][2]string
	ClientIP           func(context.Context) string

	GetUserByIdentifier func(ctx context.Context, identifier string) (LoginUserRecord, bool, error)
	NewResetID          func() (string, error)
	NewResetSecret      func() ([32]byte, error)
	HashResetSecret     func([32]byte) [32]byte
	EncodeResetToken    func(string, [32]byte) (string, error)
	StoreIssue          func(ctx context.Context, userID, resetID string, secretHash [32]byte, ttl time.Duration) error

	Now func() time.Time
}

// RunResetIssue throttles, resolves the identifier, and creates one new
// reset token, invalidating any prior active token for the user. Unknown
// identifiers are not an error: the flow reports Skipped so responses stay
// identical and accounts cannot be enumerated.
func RunResetIssue(ctx context.Context, identifier string, deps ResetIssueDeps) ResetIssueResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ip := ""
	if deps.ClientIP != nil {
		ip = deps.ClientIP(ctx)
	}
	for _, dim := range deps.ThrottleDimensions(identifier, ip) {
		if dim[1] == "" {
			continue
		}
		if err := deps.CheckRate(ctx, dim[0], dim[1]); err != nil {
			return ResetIssueResult{Failure: ResetFailureRateLimited, Err: err}
		}
	}

	user, found, err := deps.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return ResetIssueResult{Failure: ResetFailureBackend, Err: err}
	}
	if !found {
		return ResetIssueResult{Failure: ResetFailureNone, Skipped: true}
	}

	resetID, err := deps.NewResetID()
	if err != nil {
		return ResetIssueResult{Failure: ResetFailureBackend, Err: err, UserID: user.UserID}
	}
	secret, err := deps.NewResetSecret()
	if err != nil {
		return ResetIssueResult{Failure: ResetFailureBackend, Err: err, UserID: user.UserID}
	}
	token, err := deps.EncodeResetToken(resetID, secret)
	if err != nil {
		return ResetIssueResult{Failure: ResetFailureBackend, Err: err, UserID: user.UserID}
	}

	if err := deps.StoreIssue(ctx, user.UserID, resetID, deps.HashResetSecret(secret), deps.TokenTTL); err != nil {
		return ResetIssueResult{Failure: ResetFailureBackend, Err: err, UserID: user.UserID}
	}

	return ResetIssueResult{
		Failure:   ResetFailureNone,
		UserID:    user.UserID,
		Token:     token,
		ExpiresAt: deps.Now().Add(deps.TokenTTL),
	}
}

// ResetValidation identifies the user and token behind a valid reset token.
type ResetValidation struct {
	UserID  string
	TokenID string
}

// ResetValidateDeps captures reset validation dependencies.
type ResetValidateDeps struct {
	DecodeResetToken func(string) (string, [32]byte, error)
	HashResetSecret  func([32]byte) [32]byte
	Lookup           func(ctx context.Context, resetID string) (*stores.PasswordResetRecord, error)
	Now              func() time.Time
}

// RunResetValidate checks a presented token without consuming it. Every
// rejection reason collapses into ResetFailureInvalid.
func RunResetValidate(ctx context.Context, token string, deps ResetValidateDeps) (ResetValidation, ResetFailureKind) {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	resetID, secret, err := deps.DecodeResetToken(token)
	if err != nil {
		return ResetValidation{}, ResetFailureInvalid
	}

	rec, err := deps.Lookup(ctx, resetID)
	if err != nil {
		return ResetValidation{}, ResetFailureInvalid
	}

	provided := deps.HashResetSecret(secret)
	if subtle.ConstantTimeCompare(provided[:], rec.SecretHash[:]) != 1 {
		return ResetValidation{}, ResetFailureInvalid
	}
	if rec.Used() || rec.ExpiresAt <= deps.Now().UnixMilli() {
		return ResetValidation{}, ResetFailureInvalid
	}

	return ResetValidation{UserID: rec.UserID, TokenID: resetID}, ResetFailureNone
}

// ResetConfirmDeps captures the confirm flow's dependencies.
type ResetConfirmDeps struct {
	Validate           func(ctx context.Context, token string) (ResetValidation, ResetFailureKind)
	HashPassword       func(string) (string, error)
	UpdatePasswordHash func(ctx context.Context, userID, newHash string) error
	Consume            func(ctx context.Context, resetID string) (bool, error)
	RevokeAllSessions  func(ctx context.Context, userID string) error
	ResetLockout       func(ctx context.Context, userID string) error
}

// ResetConfirmResult reports the outcome of a confirmed reset.
type ResetConfirmResult struct {
	Failure ResetFailureKind
	Err     error
	UserID  string
	TokenID string
}

// RunResetConfirm validates, persists the new password, and only then
// consumes the token — a failure between validation and the password write
// leaves the token spendable for a retry. Afterwards every session for the
// user is revoked and the lockout counters are cleared.
func RunResetConfirm(ctx context.Context, token, newPassword string, deps ResetConfirmDeps) ResetConfirmResult {
	validation, failure := deps.Validate(ctx, token)
	if failure != ResetFailureNone {
		return ResetConfirmResult{Failure: failure}
	}

	newHash, err := deps.HashPassword(newPassword)
	if err != nil {
		return ResetConfirmResult{Failure: ResetFailurePolicy, Err: err, UserID: validation.UserID}
	}

	if err := deps.UpdatePasswordHash(ctx, validation.UserID, newHash); err != nil {
		return ResetConfirmResult{Failure: ResetFailureBackend, Err: err, UserID: validation.UserID}
	}

	consumed, err := deps.Consume(ctx, validation.TokenID)
	if err != nil {
		return ResetConfirmResult{Failure: ResetFailureBackend, Err: err, UserID: validation.UserID}
	}
	if !consumed {
		// Lost a race with a concurrent confirm of the same token. The
		// password write that won is the one in effect.
		return ResetConfirmResult{Failure: ResetFailureInvalid, UserID: validation.UserID}
	}

	if deps.RevokeAllSessions != nil {
		if err := deps.RevokeAllSessions(ctx, validation.UserID); err != nil {
			return ResetConfirmResult{Failure: ResetFailureBackend, Err: err, UserID: validation.UserID}
		}
	}
	if deps.ResetLockout != nil {
		if err := deps.ResetLockout(ctx, validation.UserID); err != nil {
			return ResetConfirmResult{Failure: ResetFailureBackend, Err: err, UserID: validation.UserID}
		}
	}

	return ResetConfirmResult{Failure: ResetFailureNone, UserID: validation.UserID, TokenID: validation.TokenID}
}
