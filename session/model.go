package session

import (
	"strconv"
	"time"
)

// Session is one link in a token family: the server-side record backing a
// refresh token. Only the SHA-256 of the refresh secret is kept; the token
// itself never touches the store.
type Session struct {
	SessionID string
	UserID    string

	// FamilyID groups every session descended from one original login.
	// It is stable across rotations, which makes reuse detection an
	// equality lookup instead of a parent-pointer walk.
	FamilyID string
	// ParentID is the session this one rotated from; empty for the first
	// in a family.
	ParentID      string
	RotationCount int

	RefreshHash [32]byte

	CreatedAt       int64 // unix ms
	ExpiresAt       int64 // unix ms, refresh horizon
	AccessExpiresAt int64 // unix ms
	LastUsedAt      int64 // unix ms
	HorizonMs       int64 // refresh TTL granted to successors

	Revoked   bool
	RevokedAt int64

	// Best-effort device metadata, never authoritative.
	IP        string
	UserAgent string
}

// RefreshExpiry returns the refresh horizon as a time.
func (s *Session) RefreshExpiry() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

func (s *Session) fields() map[string]interface{} {
	return map[string]interface{}{
		"user":              s.UserID,
		"family":            s.FamilyID,
		"parent":            s.ParentID,
		"rotation_count":    strconv.Itoa(s.RotationCount),
		"refresh_hash":      string(s.RefreshHash[:]),
		"created_at":        strconv.FormatInt(s.CreatedAt, 10),
		"expires_at":        strconv.FormatInt(s.ExpiresAt, 10),
		"access_expires_at": strconv.FormatInt(s.AccessExpiresAt, 10),
		"last_used_at":      strconv.FormatInt(s.LastUsedAt, 10),
		"horizon_ms":        strconv.FormatInt(s.HorizonMs, 10),
		"revoked":           boolField(s.Revoked),
		"revoked_at":        strconv.FormatInt(s.RevokedAt, 10),
		"ip":                s.IP,
		"user_agent":        s.UserAgent,
	}
}

func decodeSession(sessionID string, raw map[string]string) *Session {
	sess := &Session{
		SessionID: sessionID,
		UserID:    raw["user"],
		FamilyID:  raw["family"],
		ParentID:  raw["parent"],
		IP:        raw["ip"],
		UserAgent: raw["user_agent"],
		Revoked:   raw["revoked"] == "1",
	}
	sess.RotationCount, _ = strconv.Atoi(raw["rotation_count"])
	sess.CreatedAt, _ = strconv.ParseInt(raw["created_at"], 10, 64)
	sess.ExpiresAt, _ = strconv.ParseInt(raw["expires_at"], 10, 64)
	sess.AccessExpiresAt, _ = strconv.ParseInt(raw["access_expires_at"], 10, 64)
	sess.LastUsedAt, _ = strconv.ParseInt(raw["last_used_at"], 10, 64)
	sess.HorizonMs, _ = strconv.ParseInt(raw["horizon_ms"], 10, 64)
	sess.RevokedAt, _ = strconv.ParseInt(raw["revoked_at"], 10, 64)
	copy(sess.RefreshHash[:], raw["refresh_hash"])
	return sess
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
