package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	entryKeyPrefix = "aud:e:"
	indexKey       = "aud:idx"
	mgetChunk      = 200
)

// ErrStoreUnavailable indicates the audit backend is unreachable.
var ErrStoreUnavailable = errors.New("audit store unavailable")

// Filter selects audit entries. Zero values mean "any"; Success is a pointer
// so false can be filtered on explicitly. Filters combine with AND.
type Filter struct {
	EventType string
	IP        string
	UserID    string
	Success   *bool
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Summary aggregates one user's security activity over a window.
type Summary struct {
	TotalEvents        int
	SuccessfulEvents   int
	FailedEvents       int
	DistinctEventTypes int
	DistinctIPs        int
}

// IPActivity reports failed-login volume for one source IP.
type IPActivity struct {
	IP             string
	FailedAttempts int
}

// Store persists audit events in Redis as JSON values indexed by a
// time-ordered sorted set, which keeps writes append-only and makes
// retention cleanup a range delete. It doubles as the engine's [Sink].
type Store struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewStore creates an audit [Store] backed by the given Redis client.
func NewStore(redisClient redis.UniversalClient, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{redis: redisClient, now: now}
}

// Emit implements [Sink]. Failures are retried once and then swallowed: a
// broken logger degrades observability, never availability.
func (s *Store) Emit(ctx context.Context, event Event) {
	if err := s.append(ctx, event); err != nil {
		_ = s.append(ctx, event)
	}
}

// Append writes one entry and reports failure to callers that want to know.
func (s *Store) Append(ctx context.Context, event Event) error {
	return s.append(ctx, event)
}

func (s *Store) append(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	score := float64(event.Timestamp.UnixMilli())
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKeyPrefix+event.ID, data, 0)
		pipe.ZAdd(ctx, indexKey, redis.Z{Score: score, Member: event.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Query returns entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, f Filter) ([]Event, error) {
	ids, err := s.idsInRange(ctx, f.From, f.To, true)
	if err != nil {
		return nil, err
	}

	matched := make([]Event, 0, min(len(ids), 64))
	skipped := 0
	for start := 0; start < len(ids); start += mgetChunk {
		end := min(start+mgetChunk, len(ids))
		events, err := s.fetch(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}

		for _, ev := range events {
			if !matches(ev, f) {
				continue
			}
			if skipped < f.Offset {
				skipped++
				continue
			}
			matched = append(matched, ev)
			if f.Limit > 0 && len(matched) >= f.Limit {
				return matched, nil
			}
		}
	}

	return matched, nil
}

// FailedLoginAttempts returns failed login events within the window.
func (s *Store) FailedLoginAttempts(ctx context.Context, window time.Duration, limit int) ([]Event, error) {
	return s.Query(ctx, Filter{
		EventType: EventLoginFailed,
		From:      s.now().Add(-window),
		Limit:     limit,
	})
}

// UserSecuritySummary aggregates one user's events over the window.
func (s *Store) UserSecuritySummary(ctx context.Context, userID string, window time.Duration) (Summary, error) {
	events, err := s.Query(ctx, Filter{UserID: userID, From: s.now().Add(-window)})
	if err != nil {
		return Summary{}, err
	}

	types := make(map[string]struct{})
	ips := make(map[string]struct{})
	var summary Summary
	for _, ev := range events {
		summary.TotalEvents++
		if ev.Success {
			summary.SuccessfulEvents++
		} else {
			summary.FailedEvents++
		}
		types[ev.EventType] = struct{}{}
		if ev.IP != "" {
			ips[ev.IP] = struct{}{}
		}
	}
	summary.DistinctEventTypes = len(types)
	summary.DistinctIPs = len(ips)
	return summary, nil
}

// DetectSuspiciousActivity groups failed logins by source IP within the
// window and returns IPs at or above the threshold, most active first.
func (s *Store) DetectSuspiciousActivity(ctx context.Context, window time.Duration, minFailedAttempts int) ([]IPActivity, error) {
	events, err := s.Query(ctx, Filter{EventType: EventLoginFailed, From: s.now().Add(-window)})
	if err != nil {
		return nil, err
	}

	byIP := make(map[string]int)
	for _, ev := range events {
		if ev.IP != "" {
			byIP[ev.IP]++
		}
	}

	suspicious := make([]IPActivity, 0, len(byIP))
	for ip, count := range byIP {
		if count >= minFailedAttempts {
			suspicious = append(suspicious, IPActivity{IP: ip, FailedAttempts: count})
		}
	}
	sort.Slice(suspicious, func(i, j int) bool {
		if suspicious[i].FailedAttempts != suspicious[j].FailedAttempts {
			return suspicious[i].FailedAttempts > suspicious[j].FailedAttempts
		}
		return suspicious[i].IP < suspicious[j].IP
	})
	return suspicious, nil
}

// CleanupOldLogs deletes entries older than the retention horizon and
// returns the count removed. Safe to run concurrently with live writes: it
// only touches ids already in the index below the cutoff.
func (s *Store) CleanupOldLogs(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)
	ids, err := s.idsInRange(ctx, time.Time{}, cutoff, false)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted := 0
	for start := 0; start < len(ids); start += mgetChunk {
		end := min(start+mgetChunk, len(ids))
		chunk := ids[start:end]

		keys := make([]string, len(chunk))
		members := make([]interface{}, len(chunk))
		for i, id := range chunk {
			keys[i] = entryKeyPrefix + id
			members[i] = id
		}

		_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, indexKey, members...)
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		deleted += len(chunk)
	}

	return deleted, nil
}

func (s *Store) idsInRange(ctx context.Context, from, to time.Time, newestFirst bool) ([]string, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !from.IsZero() {
		rng.Min = fmt.Sprintf("%d", from.UnixMilli())
	}
	if !to.IsZero() {
		rng.Max = fmt.Sprintf("%d", to.UnixMilli())
	}

	var (
		ids []string
		err error
	)
	if newestFirst {
		ids, err = s.redis.ZRevRangeByScore(ctx, indexKey, rng).Result()
	} else {
		ids, err = s.redis.ZRangeByScore(ctx, indexKey, rng).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return ids, nil
}

func (s *Store) fetch(ctx context.Context, ids []string) ([]Event, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = entryKeyPrefix + id
	}

	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	events := make([]Event, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Entry deleted between index read and fetch; skip.
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func matches(ev Event, f Filter) bool {
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.IP != "" && ev.IP != f.IP {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if f.Success != nil && ev.Success != *f.Success {
		return false
	}
	return true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
