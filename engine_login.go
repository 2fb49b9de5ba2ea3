package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/vaultharden/authcore/internal"
	internalaudit "github.com/vaultharden/authcore/internal/audit"
	"github.com/vaultharden/authcore/internal/flows"
	"github.com/vaultharden/authcore/jwt"
	"github.com/vaultharden/authcore/session"
)

func (e *Engine) issueDeps() flows.IssueDeps {
	return flows.IssueDeps{
		RefreshTTL:    e.config.Session.RefreshTTL,
		RememberMeTTL: e.config.Session.RememberMeTTL,
		NewFamilyID:   uuid.NewString,
		NewSessionID: func() (string, error) {
			sid, err := internal.NewSessionID()
			return sid.String(), err
		},
		NewRefreshSecret:   internal.NewRefreshSecret,
		HashRefreshSecret:  internal.HashRefreshSecret,
		EncodeRefreshToken: internal.EncodeRefreshToken,
		IssueAccessToken:   e.jwtManager.CreateAccess,
		SaveSession:        e.sessionStore.Save,
		ClientIP:           clientIPFromContext,
		UserAgent:          userAgentFromContext,
		Now:                e.now,
	}
}

func (e *Engine) tokenPair(issued *flows.TokenIssue) (TokenPair, error) {
	csrf, err := internal.NewCSRFToken()
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return TokenPair{
		AccessToken:      issued.AccessToken,
		RefreshToken:     issued.RefreshToken,
		CSRFToken:        csrf,
		AccessExpiresAt:  issued.AccessExpiresAt,
		RefreshExpiresAt: issued.RefreshExpiresAt,
		SessionID:        issued.Session.SessionID,
		FamilyID:         issued.Session.FamilyID,
		UserID:           issued.Session.UserID,
	}, nil
}

// Login verifies credentials and issues a fresh token family. Failures are
// coarse on purpose: a wrong password and a nonexistent account both come
// back as [ErrInvalidCredentials], throttled attempts as
// [RateLimitedError], locked accounts as [AccountLockedError].
func (e *Engine) Login(ctx context.Context, identifier, plainPassword string, rememberMe bool) (TokenPair, error) {
	if e == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	result := flows.RunLogin(ctx, identifier, plainPassword, rememberMe, flows.LoginDeps{
		CheckRate:           e.checkRate,
		ResetIdentifierRate: func(ctx context.Context, id string) error { return e.rateLimiter.Reset(ctx, dimLoginIdentifier+id) },
		CheckLockout:        e.lockout.Check,
		RecordFailure:       e.lockout.RecordFailure,
		ResetLockout:        e.lockout.Reset,
		GetUserByIdentifier: e.loginUserLookup,
		VerifyPassword:      e.passwordHash.VerifyOrDummy,
		Issue: func(ctx context.Context, userID string, remember bool) (*flows.TokenIssue, error) {
			return flows.RunIssue(ctx, userID, remember, e.issueDeps())
		},
		ClientIP:           clientIPFromContext,
		ThrottleDimensions: e.loginThrottleDimensions,
	})

	switch result.Failure {
	case flows.LoginFailureNone:
		pair, err := e.tokenPair(result.Issued)
		if err != nil {
			return TokenPair{}, err
		}
		e.emitAudit(ctx, internalaudit.EventLoginSuccess, result.UserID, pair.SessionID, true, "", map[string]string{
			"family": pair.FamilyID,
		})
		return pair, nil

	case flows.LoginFailureRateLimited:
		e.emitAudit(ctx, internalaudit.EventLoginRateLimited, "", "", false, "rate_limited", map[string]string{
			"identifier": identifier,
		})
		return TokenPair{}, result.Err

	case flows.LoginFailureLocked:
		e.emitAudit(ctx, internalaudit.EventLoginLocked, result.UserID, "", false, "account_locked", nil)
		if result.Lock.FailedAttempts == e.config.Lockout.Threshold {
			e.emitAudit(ctx, internalaudit.EventLockoutTriggered, result.UserID, "", false, "account_locked", nil)
		}
		return TokenPair{}, &AccountLockedError{
			Remaining:      result.Lock.Remaining,
			FailedAttempts: result.Lock.FailedAttempts,
		}

	case flows.LoginFailureInvalidCredentials:
		e.emitAudit(ctx, internalaudit.EventLoginFailed, result.UserID, "", false, "invalid_credentials", map[string]string{
			"failed_attempts": strconv.Itoa(result.Lock.FailedAttempts),
		})
		return TokenPair{}, ErrInvalidCredentials

	case flows.LoginFailureIssue:
		return TokenPair{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, result.Err)

	default:
		return TokenPair{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, result.Err)
	}
}

func (e *Engine) loginUserLookup(ctx context.Context, identifier string) (flows.LoginUserRecord, bool, error) {
	user, found, err := e.userProvider.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return flows.LoginUserRecord{}, false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !found {
		return flows.LoginUserRecord{}, false, nil
	}
	return flows.LoginUserRecord{UserID: user.UserID, PasswordHash: user.PasswordHash}, true, nil
}

// ValidateAccess verifies an access token's signature and expiry. It never
// touches the store; revocations surface at the next refresh, bounded by
// the access TTL.
func (e *Engine) ValidateAccess(accessToken string) (AccessIdentity, error) {
	if e == nil {
		return AccessIdentity{}, ErrEngineNotReady
	}

	claims, err := e.jwtManager.Verify(accessToken)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AccessIdentity{}, ErrTokenExpired
		}
		return AccessIdentity{}, ErrTokenInvalid
	}

	return AccessIdentity{
		UserID:    claims.UID,
		SessionID: claims.SID,
		FamilyID:  claims.FAM,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout revokes the single session behind the given id.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.sessionStore.RevokeSession(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emitAudit(ctx, internalaudit.EventLogout, "", sessionID, true, "", nil)
	return nil
}

// LogoutAll revokes every session a user holds, across all families.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.sessionStore.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emitAudit(ctx, internalaudit.EventLogoutAll, userID, "", true, "", nil)
	return nil
}

// RevokeSession is the administrative form of [Engine.Logout].
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.sessionStore.RevokeSession(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emitAudit(ctx, internalaudit.EventSessionRevoked, "", sessionID, true, "", nil)
	return nil
}

// RevokeFamily revokes every session descended from one login.
func (e *Engine) RevokeFamily(ctx context.Context, familyID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.sessionStore.RevokeFamily(ctx, familyID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.emitAudit(ctx, internalaudit.EventFamilyRevoked, "", "", true, "", map[string]string{
		"family": familyID,
	})
	return nil
}

// RevokeAllForUser revokes every session a user holds.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) error {
	return e.LogoutAll(ctx, userID)
}

// SessionsForUser lists a user's stored sessions, revoked ones included
// until the sweep reclaims them.
func (e *Engine) SessionsForUser(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sessions, err := e.sessionStore.SessionsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, sessionInfo(s))
	}
	return infos, nil
}
