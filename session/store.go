package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable indicates the session backend is unreachable.
var ErrRedisUnavailable = errors.New("session redis unavailable")

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// RotateOutcome classifies the result of an atomic rotation attempt.
type RotateOutcome int

const (
	RotateNotFound RotateOutcome = iota
	RotateExpired
	// RotateReused: the presented token belongs to an already-consumed
	// session and the grace window did not apply. The whole family has
	// been revoked by the time the caller sees this.
	RotateReused
	// RotateMismatch: the session row exists but the presented secret does
	// not hash to its refresh_hash, so this is not the consumed token —
	// a forged or corrupted token. The family is left intact either way,
	// live row or already-revoked row.
	RotateMismatch
	RotateOK
	// RotateGraceReplay: a tolerated duplicate inside the grace window.
	// The cached successor token pair is returned exactly once.
	RotateGraceReplay
	// RotateCeiling: rotation_count hit the configured maximum; the family
	// has been revoked and the user must log in again.
	RotateCeiling
)

// rotateScript is the safety-critical compare-and-rotate. Everything that
// must be atomic under two near-simultaneous rotation calls happens here:
// the consumed-token check, grace-replay consumption, family revocation on
// reuse or ceiling, and the revoke-old/create-new step itself.
//
// The successor's token pair is cached under a short-TTL grace key so one
// duplicate rotation from a retrying client can be answered with the same
// tokens. GETDEL bounds tolerance to a single duplicate per rotation.
const rotateScript = `
local sessKey = KEYS[1]
local famKey = KEYS[2]
local graceKey = KEYS[3]
local newKey = KEYS[4]
local userKey = KEYS[5]

local providedHash = ARGV[1]
local now = tonumber(ARGV[2])
local graceMs = tonumber(ARGV[3])
local newTTL = tonumber(ARGV[4])
local maxRot = tonumber(ARGV[5])
local sessPrefix = ARGV[6]
local gracePayload = ARGV[7]
local successorID = ARGV[8]

local function revoke_family()
  local members = redis.call("SMEMBERS", famKey)
  for i = 1, #members do
    redis.call("HSET", sessPrefix .. members[i], "revoked", "1", "revoked_at", tostring(now))
  end
end

if redis.call("EXISTS", sessKey) == 0 then
  return {0}
end

local vals = redis.call("HMGET", sessKey, "refresh_hash", "expires_at", "revoked", "rotation_count")
local curHash = vals[1]
local expiresAt = tonumber(vals[2])
local revoked = vals[3]
local rot = tonumber(vals[4]) or 0

if expiresAt and expiresAt <= now then
  return {1}
end

if revoked == "1" then
  if curHash ~= providedHash then
    return {3}
  end
  local cached = redis.call("GETDEL", graceKey)
  if cached then
    return {5, cached}
  end
  revoke_family()
  return {2}
end

if curHash ~= providedHash then
  return {3}
end

if maxRot > 0 and rot >= maxRot then
  revoke_family()
  return {6}
end

redis.call("HSET", sessKey, "revoked", "1", "revoked_at", tostring(now), "last_used_at", tostring(now))

local i = 9
while ARGV[i] do
  redis.call("HSET", newKey, ARGV[i], ARGV[i + 1])
  i = i + 2
end
redis.call("PEXPIRE", newKey, newTTL)
redis.call("SADD", famKey, successorID)
redis.call("SADD", userKey, successorID)
if graceMs > 0 then
  redis.call("SET", graceKey, gracePayload, "PX", graceMs)
end
return {4}
`

var rotateLua = redis.NewScript(rotateScript)

// Store is the Redis-backed session store. Sessions live as hashes keyed by
// session id, indexed per family and per user so revocation-as-a-unit is a
// set walk rather than a scan.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store]. prefix namespaces all keys; empty
// defaults to "as".
func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) familyKey(familyID string) string {
	return "af:" + familyID
}

func (s *Store) userKey(userID string) string {
	return "au:" + userID
}

func (s *Store) graceKey(sessionID string) string {
	return "agr:" + sessionID
}

// Save persists a new session and registers it in the family and user
// indexes. TTL is the refresh horizon.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(sess.SessionID), sess.fields())
		pipe.PExpire(ctx, s.key(sess.SessionID), ttl)
		pipe.SAdd(ctx, s.familyKey(sess.FamilyID), sess.SessionID)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get fetches a session without mutating any state.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.redis.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	return decodeSession(sessionID, raw), nil
}

// RotateParams carries everything the rotation script needs. The caller
// generates the successor session and both new tokens up front; if the
// script loses the race the pre-generated values are simply discarded.
type RotateParams struct {
	SessionID    string
	ProvidedHash [32]byte
	Successor    *Session
	SuccessorTTL time.Duration
	GraceWindow  time.Duration
	GracePayload string
	MaxRotations int
	Now          time.Time
}

// Rotate executes the compare-and-rotate script. On [RotateGraceReplay] the
// cached payload from the first rotation is returned; on [RotateOK] the
// successor passed in params is now live.
func (s *Store) Rotate(ctx context.Context, p RotateParams) (RotateOutcome, string, error) {
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	args := []interface{}{
		string(p.ProvidedHash[:]),
		now.UnixMilli(),
		p.GraceWindow.Milliseconds(),
		p.SuccessorTTL.Milliseconds(),
		p.MaxRotations,
		s.prefix + ":",
		p.GracePayload,
		p.Successor.SessionID,
	}
	for field, value := range p.Successor.fields() {
		args = append(args, field, value)
	}

	keys := []string{
		s.key(p.SessionID),
		s.familyKey(p.Successor.FamilyID),
		s.graceKey(p.SessionID),
		s.key(p.Successor.SessionID),
		s.userKey(p.Successor.UserID),
	}

	res, err := rotateLua.Run(ctx, s.redis, keys, args...).Result()
	if err != nil {
		return RotateNotFound, "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) == 0 {
		return RotateNotFound, "", fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return RotateNotFound, "", fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch code {
	case 0:
		return RotateNotFound, "", nil
	case 1:
		return RotateExpired, "", nil
	case 2:
		return RotateReused, "", nil
	case 3:
		return RotateMismatch, "", nil
	case 4:
		return RotateOK, "", nil
	case 5:
		if len(parts) < 2 {
			return RotateGraceReplay, "", fmt.Errorf("%w: missing grace payload", ErrRedisUnavailable)
		}
		payload, _ := parts[1].(string)
		return RotateGraceReplay, payload, nil
	case 6:
		return RotateCeiling, "", nil
	default:
		return RotateNotFound, "", fmt.Errorf("%w: unknown rotate script status %d", ErrRedisUnavailable, code)
	}
}

// RevokeSession marks one session revoked. Marking rather than deleting
// preserves the row for reuse detection until its TTL lapses.
func (s *Store) RevokeSession(ctx context.Context, sessionID string) error {
	exists, err := s.redis.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return s.revokeKeys(ctx, []string{s.key(sessionID)})
}

// RevokeFamily revokes every session descended from one login.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) error {
	return s.revokeMembers(ctx, s.familyKey(familyID))
}

// RevokeAllForUser revokes every session belonging to a user, across all
// families.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) error {
	return s.revokeMembers(ctx, s.userKey(userID))
}

func (s *Store) revokeMembers(ctx context.Context, indexKey string) error {
	ids, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	return s.revokeKeys(ctx, keys)
}

func (s *Store) revokeKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.HSet(ctx, key, "revoked", "1", "revoked_at", now)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// SessionsForUser returns the sessions currently indexed for a user.
// Sessions whose row already expired are pruned from the index as a side
// effect.
func (s *Store) SessionsForUser(ctx context.Context, userID string) ([]*Session, error) {
	return s.sessionsByIndex(ctx, s.userKey(userID))
}

// SessionsForFamily returns the sessions in one token family.
func (s *Store) SessionsForFamily(ctx context.Context, familyID string) ([]*Session, error) {
	return s.sessionsByIndex(ctx, s.familyKey(familyID))
}

func (s *Store) sessionsByIndex(ctx context.Context, indexKey string) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		raw, err := s.redis.HGetAll(ctx, s.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if len(raw) == 0 {
			_ = s.redis.SRem(ctx, indexKey, id).Err()
			continue
		}
		sessions = append(sessions, decodeSession(id, raw))
	}
	return sessions, nil
}

// SweepExpired deletes sessions whose refresh horizon has passed and prunes
// them from the family and user indexes. Redis TTLs already reclaim the
// hashes themselves; the sweep keeps the index sets from accumulating dead
// ids. Decoupled from request handling, idempotent, safe to run
// concurrently with live traffic.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	nowMs := time.Now().UnixMilli()
	var (
		cursor  uint64
		deleted int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+":*", 500).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for _, key := range keys {
			raw, err := s.redis.HGetAll(ctx, key).Result()
			if err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			if len(raw) == 0 {
				continue
			}

			expiresAt, _ := strconv.ParseInt(raw["expires_at"], 10, 64)
			if expiresAt > nowMs {
				continue
			}

			sessionID := key[len(s.prefix)+1:]
			_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.familyKey(raw["family"]), sessionID)
				pipe.SRem(ctx, s.userKey(raw["user"]), sessionID)
				return nil
			})
			if err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			deleted++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}

// Ping returns a point-in-time availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
