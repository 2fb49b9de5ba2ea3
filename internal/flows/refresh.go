package flows

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/vaultharden/authcore/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureRateLimited
	RefreshFailureNotFound
	RefreshFailureExpired
	RefreshFailureReuse
	RefreshFailureInvalid
	RefreshFailureCeiling
	RefreshFailureBackend
	RefreshFailureIssue
)

// RefreshResult carries either the rotated token pair or failure metadata.
type RefreshResult struct {
	Failure   RefreshFailureKind
	Err       error
	SessionID string
	UserID    string
	FamilyID  string
	// GraceReplay marks a tolerated duplicate: the returned pair is the
	// one issued by the first of two near-simultaneous rotations.
	GraceReplay bool

	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Session          *session.Session
}

// RefreshDeps captures refresh rotation dependencies.
type RefreshDeps struct {
	GraceWindow  time.Duration
	MaxRotations int

	DecodeRefreshToken func(string) (string, [32]byte, error)
	NewSessionID       func() (string, error)
	NewRefreshSecret   func() ([32]byte, error)
	HashRefreshSecret  func([32]byte) [32]byte
	EncodeRefreshToken func(string, [32]byte) (string, error)
	IssueAccessToken   func(userID, sessionID, familyID string) (string, time.Time, error)

	CheckRefreshRate func(context.Context, string) error
	GetSession       func(context.Context, string) (*session.Session, error)
	Rotate           func(context.Context, session.RotateParams) (session.RotateOutcome, string, error)

	ClientIP  func(context.Context) string
	UserAgent func(context.Context) string
	Now       func() time.Time
}

// RunRefresh executes one rotation: resolve the presented token's session,
// pre-build the successor and its token pair, and hand both to the store's
// atomic compare-and-rotate. All reuse/grace/ceiling decisions are made
// inside that single store operation.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	sessionID, providedSecret, err := deps.DecodeRefreshToken(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	if deps.CheckRefreshRate != nil {
		if err := deps.CheckRefreshRate(ctx, sessionID); err != nil {
			return RefreshResult{Failure: RefreshFailureRateLimited, Err: err, SessionID: sessionID}
		}
	}

	current, err := deps.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return RefreshResult{Failure: RefreshFailureNotFound, Err: err, SessionID: sessionID}
		}
		return RefreshResult{Failure: RefreshFailureBackend, Err: err, SessionID: sessionID}
	}

	successorID, err := deps.NewSessionID()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, SessionID: sessionID}
	}
	nextSecret, err := deps.NewRefreshSecret()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, SessionID: sessionID}
	}

	access, accessExp, err := deps.IssueAccessToken(current.UserID, successorID, current.FamilyID)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, SessionID: sessionID}
	}
	refresh, err := deps.EncodeRefreshToken(successorID, nextSecret)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssue, Err: err, SessionID: sessionID}
	}

	now := deps.Now()
	horizon := time.Duration(current.HorizonMs) * time.Millisecond
	successor := &session.Session{
		SessionID:       successorID,
		UserID:          current.UserID,
		FamilyID:        current.FamilyID,
		ParentID:        sessionID,
		RotationCount:   current.RotationCount + 1,
		RefreshHash:     deps.HashRefreshSecret(nextSecret),
		CreatedAt:       now.UnixMilli(),
		ExpiresAt:       now.Add(horizon).UnixMilli(),
		AccessExpiresAt: accessExp.UnixMilli(),
		LastUsedAt:      now.UnixMilli(),
		HorizonMs:       current.HorizonMs,
	}
	if deps.ClientIP != nil {
		successor.IP = deps.ClientIP(ctx)
	}
	if deps.UserAgent != nil {
		successor.UserAgent = deps.UserAgent(ctx)
	}

	refreshExp := time.UnixMilli(successor.ExpiresAt)
	outcome, cached, err := deps.Rotate(ctx, session.RotateParams{
		SessionID:    sessionID,
		ProvidedHash: deps.HashRefreshSecret(providedSecret),
		Successor:    successor,
		SuccessorTTL: horizon,
		GraceWindow:  deps.GraceWindow,
		GracePayload: encodeGracePayload(access, refresh, accessExp, refreshExp, successorID),
		MaxRotations: deps.MaxRotations,
		Now:          now,
	})
	if err != nil {
		return RefreshResult{Failure: RefreshFailureBackend, Err: err, SessionID: sessionID, UserID: current.UserID, FamilyID: current.FamilyID}
	}

	base := RefreshResult{
		SessionID: sessionID,
		UserID:    current.UserID,
		FamilyID:  current.FamilyID,
	}

	switch outcome {
	case session.RotateOK:
		base.Failure = RefreshFailureNone
		base.SessionID = successorID
		base.Session = successor
		base.AccessToken = access
		base.RefreshToken = refresh
		base.AccessExpiresAt = accessExp
		base.RefreshExpiresAt = refreshExp
		return base
	case session.RotateGraceReplay:
		replay, ok := decodeGracePayload(cached)
		if !ok {
			base.Failure = RefreshFailureBackend
			base.Err = errors.New("corrupt grace payload")
			return base
		}
		base.Failure = RefreshFailureNone
		base.GraceReplay = true
		base.SessionID = replay.sessionID
		base.AccessToken = replay.access
		base.RefreshToken = replay.refresh
		base.AccessExpiresAt = replay.accessExp
		base.RefreshExpiresAt = replay.refreshExp
		return base
	case session.RotateExpired:
		base.Failure = RefreshFailureExpired
		return base
	case session.RotateReused:
		// The store revoked the whole family before returning this.
		base.Failure = RefreshFailureReuse
		return base
	case session.RotateMismatch:
		// A secret that was never issued for this session, live or already
		// consumed: forged or corrupt, not a replay. The family stays intact.
		base.Failure = RefreshFailureInvalid
		return base
	case session.RotateCeiling:
		base.Failure = RefreshFailureCeiling
		return base
	default:
		base.Failure = RefreshFailureNotFound
		return base
	}
}

type gracePayload struct {
	access     string
	refresh    string
	accessExp  time.Time
	refreshExp time.Time
	sessionID  string
}

func encodeGracePayload(access, refresh string, accessExp, refreshExp time.Time, sessionID string) string {
	return strings.Join([]string{
		access,
		refresh,
		strconv.FormatInt(accessExp.UnixMilli(), 10),
		strconv.FormatInt(refreshExp.UnixMilli(), 10),
		sessionID,
	}, "\n")
}

func decodeGracePayload(raw string) (gracePayload, bool) {
	parts := strings.Split(raw, "\n")
	if len(parts) != 5 {
		return gracePayload{}, false
	}
	accessMs, err1 := strconv.ParseInt(parts[2], 10, 64)
	refreshMs, err2 := strconv.ParseInt(parts[3], 10, 64)
	if err1 != nil || err2 != nil {
		return gracePayload{}, false
	}
	return gracePayload{
		access:     parts[0],
		refresh:    parts[1],
		accessExp:  time.UnixMilli(accessMs),
		refreshExp: time.UnixMilli(refreshMs),
		sessionID:  parts[4],
	}, true
}
