package authcore

import (
	"context"
	"fmt"

	"github.com/vaultharden/authcore/internal"
	internalaudit "github.com/vaultharden/authcore/internal/audit"
	"github.com/vaultharden/authcore/internal/flows"
)

// Refresh exchanges a refresh token for a new access/refresh pair, revoking
// the presented token. Reuse of an already-consumed token outside the grace
// window returns [ErrTokenReused] after the whole family has been revoked;
// the caller must force a fresh login.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	result := flows.RunRefresh(ctx, refreshToken, flows.RefreshDeps{
		GraceWindow:  e.config.Session.GraceWindow,
		MaxRotations: e.config.Session.MaxRotations,

		DecodeRefreshToken: internal.DecodeRefreshToken,
		NewSessionID: func() (string, error) {
			sid, err := internal.NewSessionID()
			return sid.String(), err
		},
		NewRefreshSecret:   internal.NewRefreshSecret,
		HashRefreshSecret:  internal.HashRefreshSecret,
		EncodeRefreshToken: internal.EncodeRefreshToken,
		IssueAccessToken:   e.jwtManager.CreateAccess,

		CheckRefreshRate: e.checkRefreshRate,
		GetSession:       e.sessionStore.Get,
		Rotate:           e.sessionStore.Rotate,

		ClientIP:  clientIPFromContext,
		UserAgent: userAgentFromContext,
		Now:       e.now,
	})

	switch result.Failure {
	case flows.RefreshFailureNone:
		csrf, err := internal.NewCSRFToken()
		if err != nil {
			return TokenPair{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		metadata := map[string]string{"family": result.FamilyID}
		if result.GraceReplay {
			metadata["grace_replay"] = "1"
		}
		e.emitAudit(ctx, internalaudit.EventTokenRotated, result.UserID, result.SessionID, true, "", metadata)
		return TokenPair{
			AccessToken:      result.AccessToken,
			RefreshToken:     result.RefreshToken,
			CSRFToken:        csrf,
			AccessExpiresAt:  result.AccessExpiresAt,
			RefreshExpiresAt: result.RefreshExpiresAt,
			SessionID:        result.SessionID,
			FamilyID:         result.FamilyID,
			UserID:           result.UserID,
		}, nil

	case flows.RefreshFailureRateLimited:
		e.emitAudit(ctx, internalaudit.EventRefreshRateLimited, "", result.SessionID, false, "rate_limited", nil)
		return TokenPair{}, result.Err

	case flows.RefreshFailureReuse:
		// Breach signal. The family is already revoked; surface it loudly.
		e.emitAudit(ctx, internalaudit.EventTokenReused, result.UserID, result.SessionID, false, "refresh_reuse", map[string]string{
			"family": result.FamilyID,
		})
		return TokenPair{}, ErrTokenReused

	case flows.RefreshFailureCeiling:
		e.emitAudit(ctx, internalaudit.EventTokenRotationCeiling, result.UserID, result.SessionID, false, "rotation_ceiling", map[string]string{
			"family": result.FamilyID,
		})
		return TokenPair{}, ErrRotationCeiling

	case flows.RefreshFailureExpired:
		e.emitAudit(ctx, internalaudit.EventRefreshInvalid, result.UserID, result.SessionID, false, "token_expired", nil)
		return TokenPair{}, ErrTokenExpired

	case flows.RefreshFailureDecode, flows.RefreshFailureNotFound, flows.RefreshFailureInvalid:
		e.emitAudit(ctx, internalaudit.EventRefreshInvalid, "", result.SessionID, false, "invalid_token", nil)
		return TokenPair{}, ErrTokenInvalid

	default:
		return TokenPair{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, result.Err)
	}
}

func (e *Engine) checkRefreshRate(ctx context.Context, sessionID string) error {
	if !e.config.RateLimit.EnableRefreshThrottle {
		return nil
	}
	return e.checkRate(ctx, dimRefreshSession, sessionID)
}
