package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "arl:"

// checkScript performs the read-or-create, window-rollover, and increment as
// one atomic round trip. A counter without a TTL (a crash between INCR and
// PEXPIRE on a previous call) is re-armed here rather than left to grow.
const checkScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var checkLua = redis.NewScript(checkScript)

// Limiter is a Redis-backed sliding-window attempt counter keyed by arbitrary
// string identifiers (ip, ip+identifier, session id, ...).
type Limiter struct {
	redis redis.UniversalClient
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient}
}

// Check counts one attempt for identifier and enforces maxAttempts per window.
// It returns the remaining allowance, or a [*LimitedError] carrying the time
// until the window resets. Backend failures are reported as
// [ErrBackendUnavailable]; callers are expected to fail closed.
func (l *Limiter) Check(ctx context.Context, identifier string, maxAttempts int, window time.Duration) (int, error) {
	if maxAttempts <= 0 || window <= 0 {
		return 0, fmt.Errorf("%w: non-positive limit parameters", ErrBackendUnavailable)
	}

	res, err := checkLua.Run(ctx, l.redis, []string{keyPrefix + identifier}, window.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	parts, ok := res.([]interface{})
	if !ok || len(parts) != 2 {
		return 0, fmt.Errorf("%w: invalid limiter script response", ErrBackendUnavailable)
	}
	count, ok1 := parts[0].(int64)
	ttlMs, ok2 := parts[1].(int64)
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("%w: invalid limiter script response", ErrBackendUnavailable)
	}

	if count > int64(maxAttempts) {
		retry := time.Duration(ttlMs) * time.Millisecond
		if retry <= 0 {
			retry = window
		}
		return 0, &LimitedError{Identifier: identifier, RetryAfter: retry}
	}

	return maxAttempts - int(count), nil
}

// Reset clears the bucket for identifier. Used after a successful
// authentication on the dimensions that should forgive past failures.
func (l *Limiter) Reset(ctx context.Context, identifiers ...string) error {
	if len(identifiers) == 0 {
		return nil
	}

	keys := make([]string, len(identifiers))
	for i, id := range identifiers {
		keys[i] = keyPrefix + id
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Attempts returns the current counter for an identifier. Missing buckets
// read as zero and do not reveal whether the identifier was ever seen.
func (l *Limiter) Attempts(ctx context.Context, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, keyPrefix+identifier).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Sweep deletes buckets that lost their window TTL and would otherwise live
// forever. Windowed buckets expire on their own; this is advisory
// housekeeping, not correctness-critical. Returns the number deleted.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		deleted int
	)

	for {
		keys, next, err := l.redis.Scan(ctx, cursor, keyPrefix+"*", 500).Result()
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}

		for _, key := range keys {
			ttl, err := l.redis.PTTL(ctx, key).Result()
			if err != nil {
				return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			if ttl == -1 {
				if err := l.redis.Del(ctx, key).Err(); err != nil {
					return deleted, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
				}
				deleted++
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}
