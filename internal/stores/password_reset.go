package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetKeyPrefix   = "apr:"
	resetUserPointer = "apru:"
)

var (
	// ErrResetNotFound is returned when no record exists for the id.
	ErrResetNotFound = errors.New("reset record not found")
	// ErrResetUnavailable indicates the reset backend is unreachable.
	ErrResetUnavailable = errors.New("reset backend unavailable")
)

// PasswordResetRecord is the at-rest shape of one reset token. Only the
// SHA-256 of the token secret is stored.
type PasswordResetRecord struct {
	ResetID    string
	UserID     string
	SecretHash [32]byte
	ExpiresAt  int64 // unix ms
	CreatedAt  int64 // unix ms
	UsedAt     int64 // unix ms, zero means unused
}

// Used reports whether the token was already consumed.
func (r *PasswordResetRecord) Used() bool {
	return r.UsedAt != 0
}

// issueScript atomically marks the user's prior token used (if any) and
// installs the new one, so at most one active token exists per user at
// creation time.
const issueScript = `
local prior = redis.call("GET", KEYS[1])
if prior then
  redis.call("HSET", ARGV[1] .. prior, "used_at", ARGV[2])
end
redis.call("DEL", KEYS[2])
redis.call("HSET", KEYS[2],
  "user", ARGV[3],
  "secret_hash", ARGV[4],
  "expires_at", ARGV[5],
  "created_at", ARGV[2],
  "used_at", "0")
redis.call("PEXPIRE", KEYS[2], ARGV[6])
redis.call("SET", KEYS[1], ARGV[7], "PX", ARGV[6])
return 1
`

// consumeScript flips used_at exactly once.
const consumeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local used = redis.call("HGET", KEYS[1], "used_at")
if used and used ~= "0" then
  return 0
end
redis.call("HSET", KEYS[1], "used_at", ARGV[1])
return 1
`

var (
	issueLua   = redis.NewScript(issueScript)
	consumeLua = redis.NewScript(consumeScript)
)

// PasswordResetStore persists single-use, time-boxed reset tokens.
type PasswordResetStore struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewPasswordResetStore creates a reset store over the given Redis client.
func NewPasswordResetStore(redisClient redis.UniversalClient, now func() time.Time) *PasswordResetStore {
	if now == nil {
		now = time.Now
	}
	return &PasswordResetStore{redis: redisClient, now: now}
}

func recordKey(resetID string) string {
	return resetKeyPrefix + resetID
}

func pointerKey(userID string) string {
	return resetUserPointer + userID
}

// Issue stores a new token record for the user, invalidating any prior
// unused token in the same atomic step. Records carry a TTL past their
// expiry so even un-swept rows disappear on their own.
func (s *PasswordResetStore) Issue(ctx context.Context, userID, resetID string, secretHash [32]byte, ttl time.Duration) error {
	now := s.now()
	expiresAt := now.Add(ttl).UnixMilli()
	// Keep used and expired rows around for twice the TTL so Consume and
	// the cleanup sweep can still observe them.
	keyTTL := (2 * ttl).Milliseconds()

	err := issueLua.Run(ctx, s.redis,
		[]string{pointerKey(userID), recordKey(resetID)},
		resetKeyPrefix,
		now.UnixMilli(),
		userID,
		string(secretHash[:]),
		expiresAt,
		keyTTL,
		resetID,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetUnavailable, err)
	}
	return nil
}

// Lookup fetches a record without mutating it. Callers decide validity;
// the store does not distinguish missing from expired from used.
func (s *PasswordResetStore) Lookup(ctx context.Context, resetID string) (*PasswordResetRecord, error) {
	raw, err := s.redis.HGetAll(ctx, recordKey(resetID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, ErrResetNotFound
	}

	rec := &PasswordResetRecord{ResetID: resetID, UserID: raw["user"]}
	rec.ExpiresAt, _ = strconv.ParseInt(raw["expires_at"], 10, 64)
	rec.CreatedAt, _ = strconv.ParseInt(raw["created_at"], 10, 64)
	rec.UsedAt, _ = strconv.ParseInt(raw["used_at"], 10, 64)
	copy(rec.SecretHash[:], raw["secret_hash"])
	return rec, nil
}

// Consume marks the token used. Returns false when the record is gone or
// was already consumed, so the caller burns a token at most once.
func (s *PasswordResetStore) Consume(ctx context.Context, resetID string) (bool, error) {
	res, err := consumeLua.Run(ctx, s.redis, []string{recordKey(resetID)}, s.now().UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
	}
	return res == 1, nil
}

// ActiveForUser returns the user's current unused, unexpired token record,
// or nil. Used by tests and administrative introspection.
func (s *PasswordResetStore) ActiveForUser(ctx context.Context, userID string) (*PasswordResetRecord, error) {
	resetID, err := s.redis.Get(ctx, pointerKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
	}

	rec, err := s.Lookup(ctx, resetID)
	if err != nil {
		if errors.Is(err, ErrResetNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rec.Used() || rec.ExpiresAt <= s.now().UnixMilli() {
		return nil, nil
	}
	return rec, nil
}

// CleanupExpired deletes used or expired records and stale user pointers,
// returning the number of records removed. Idempotent.
func (s *PasswordResetStore) CleanupExpired(ctx context.Context) (int, error) {
	nowMs := s.now().UnixMilli()
	var (
		cursor  uint64
		deleted int
	)

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, resetKeyPrefix+"*", 500).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
		}

		for _, key := range keys {
			raw, err := s.redis.HGetAll(ctx, key).Result()
			if err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
			}
			if len(raw) == 0 {
				continue
			}

			expiresAt, _ := strconv.ParseInt(raw["expires_at"], 10, 64)
			usedAt, _ := strconv.ParseInt(raw["used_at"], 10, 64)
			if usedAt == 0 && expiresAt > nowMs {
				continue
			}

			if err := s.redis.Del(ctx, key).Err(); err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
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
