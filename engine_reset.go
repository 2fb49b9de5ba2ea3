package authcore

import (
	"context"
	"fmt"

	"github.com/vaultharden/authcore/internal"
	internalaudit "github.com/vaultharden/authcore/internal/audit"
	"github.com/vaultharden/authcore/internal/flows"
	"github.com/vaultharden/authcore/internal/stores"
)

// RequestPasswordReset issues a single-use reset token and hands it to the
// mailer. Unknown identifiers get the same accepted response as known ones,
// so the endpoint cannot be used to enumerate accounts. Any prior unused
// token for the user is invalidated.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) (ResetRequest, error) {
	if e == nil {
		return ResetRequest{}, ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ResetRequest{}, ErrResetDisabled
	}

	result := flows.RunResetIssue(ctx, identifier, flows.ResetIssueDeps{
		TokenTTL:           e.config.PasswordReset.TokenTTL,
		CheckRate:          e.checkRate,
		ThrottleDimensions: e.resetThrottleDimensions,
		ClientIP:           clientIPFromContext,

		GetUserByIdentifier: e.loginUserLookup,
		NewResetID: func() (string, error) {
			rid, err := internal.NewSessionID()
			return rid.String(), err
		},
		NewResetSecret:   internal.NewResetSecret,
		HashResetSecret:  internal.HashResetSecret,
		EncodeResetToken: internal.EncodeResetToken,
		StoreIssue:       e.resetStore.Issue,

		Now: e.now,
	})

	switch result.Failure {
	case flows.ResetFailureNone:
		// Uniform response regardless of whether the identifier matched.
		accepted := ResetRequest{
			Accepted:  true,
			ExpiresAt: e.now().Add(e.config.PasswordReset.TokenTTL),
		}
		if result.Skipped {
			e.emitAudit(ctx, internalaudit.EventResetRequested, "", "", true, "", map[string]string{
				"known_identifier": "0",
			})
			return accepted, nil
		}
		if err := e.mailer.SendPasswordReset(ctx, result.UserID, identifier, result.Token, result.ExpiresAt); err != nil {
			return ResetRequest{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		e.emitAudit(ctx, internalaudit.EventResetRequested, result.UserID, "", true, "", map[string]string{
			"known_identifier": "1",
		})
		return accepted, nil

	case flows.ResetFailureRateLimited:
		e.emitAudit(ctx, internalaudit.EventResetRateLimited, "", "", false, "rate_limited", nil)
		return ResetRequest{}, result.Err

	default:
		return ResetRequest{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, result.Err)
	}
}

// ValidatePasswordReset checks a presented reset token without consuming
// it and returns the owning user id. Not-found, used, and expired tokens
// all fail with [ErrResetTokenInvalid].
func (e *Engine) ValidatePasswordReset(ctx context.Context, token string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return "", ErrResetDisabled
	}

	validation, failure := e.validateReset(ctx, token)
	if failure != flows.ResetFailureNone {
		return "", ErrResetTokenInvalid
	}
	return validation.UserID, nil
}

func (e *Engine) validateReset(ctx context.Context, token string) (flows.ResetValidation, flows.ResetFailureKind) {
	return flows.RunResetValidate(ctx, token, flows.ResetValidateDeps{
		DecodeResetToken: internal.DecodeResetToken,
		HashResetSecret:  internal.HashResetSecret,
		Lookup: func(ctx context.Context, resetID string) (*stores.PasswordResetRecord, error) {
			return e.resetStore.Lookup(ctx, resetID)
		},
		Now: e.now,
	})
}

// ConfirmPasswordReset sets a new password for the token's owner. The token
// is consumed only after the new hash is persisted, so a mid-flight failure
// leaves it spendable for a retry. Every session the user holds is revoked
// and the lockout counters are cleared.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrResetDisabled
	}

	result := flows.RunResetConfirm(ctx, token, newPassword, flows.ResetConfirmDeps{
		Validate:     e.validateReset,
		HashPassword: e.passwordHash.Hash,
		UpdatePasswordHash: func(ctx context.Context, userID, newHash string) error {
			return e.userProvider.UpdatePasswordHash(ctx, userID, newHash)
		},
		Consume:           e.resetStore.Consume,
		RevokeAllSessions: e.sessionStore.RevokeAllForUser,
		ResetLockout:      e.lockout.Reset,
	})

	switch result.Failure {
	case flows.ResetFailureNone:
		e.emitAudit(ctx, internalaudit.EventResetConfirmed, result.UserID, "", true, "", nil)
		return nil

	case flows.ResetFailureInvalid:
		e.emitAudit(ctx, internalaudit.EventResetFailed, result.UserID, "", false, "invalid_token", nil)
		return ErrResetTokenInvalid

	case flows.ResetFailurePolicy:
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, result.Err)

	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, result.Err)
	}
}
