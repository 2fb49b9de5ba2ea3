package flows

import (
	"context"
	"time"

	"github.com/vaultharden/authcore/session"
)

// TokenIssue is the flow-local result of creating a session: both tokens,
// their expiries, and the stored session.
type TokenIssue struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Session          *session.Session
}

// IssueDeps captures session issuance dependencies.
type IssueDeps struct {
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration

	NewFamilyID        func() string
	NewSessionID       func() (string, error)
	NewRefreshSecret   func() ([32]byte, error)
	HashRefreshSecret  func([32]byte) [32]byte
	EncodeRefreshToken func(string, [32]byte) (string, error)
	IssueAccessToken   func(userID, sessionID, familyID string) (string, time.Time, error)
	SaveSession        func(context.Context, *session.Session, time.Duration) error

	ClientIP  func(context.Context) string
	UserAgent func(context.Context) string
	Now       func() time.Time
}

// RunIssue creates a fresh token family: one session row, a signed access
// token, and an opaque refresh token whose hash alone is persisted. Either
// the full write succeeds or nothing observable is left behind — the
// session is saved last, after all token material exists.
func RunIssue(ctx context.Context, userID string, rememberMe bool, deps IssueDeps) (*TokenIssue, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	sessionID, err := deps.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := deps.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	familyID := deps.NewFamilyID()
	access, accessExp, err := deps.IssueAccessToken(userID, sessionID, familyID)
	if err != nil {
		return nil, err
	}
	refresh, err := deps.EncodeRefreshToken(sessionID, secret)
	if err != nil {
		return nil, err
	}

	horizon := deps.RefreshTTL
	if rememberMe && deps.RememberMeTTL > 0 {
		horizon = deps.RememberMeTTL
	}

	now := deps.Now()
	sess := &session.Session{
		SessionID:       sessionID,
		UserID:          userID,
		FamilyID:        familyID,
		RefreshHash:     deps.HashRefreshSecret(secret),
		CreatedAt:       now.UnixMilli(),
		ExpiresAt:       now.Add(horizon).UnixMilli(),
		AccessExpiresAt: accessExp.UnixMilli(),
		LastUsedAt:      now.UnixMilli(),
		HorizonMs:       horizon.Milliseconds(),
	}
	if deps.ClientIP != nil {
		sess.IP = deps.ClientIP(ctx)
	}
	if deps.UserAgent != nil {
		sess.UserAgent = deps.UserAgent(ctx)
	}

	if err := deps.SaveSession(ctx, sess, horizon); err != nil {
		return nil, err
	}

	return &TokenIssue{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.RefreshExpiry(),
		Session:          sess,
	}, nil
}
