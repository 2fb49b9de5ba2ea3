package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Namespaced event types emitted by the engine. The first two segments group
// related events for investigative queries (prefix match on "auth.login.").
const (
	EventLoginSuccess         = "auth.login.success"
	EventLoginFailed          = "auth.login.failed"
	EventLoginRateLimited     = "auth.login.rate_limited"
	EventLoginLocked          = "auth.login.locked"
	EventLockoutTriggered     = "auth.lockout.triggered"
	EventLockoutCleared       = "auth.lockout.cleared"
	EventTokenIssued          = "auth.token.issued"
	EventTokenRotated         = "auth.token.rotated"
	EventTokenReused          = "auth.token.reused"
	EventTokenRotationCeiling = "auth.token.rotation_ceiling"
	EventRefreshRateLimited   = "auth.token.rate_limited"
	EventRefreshInvalid       = "auth.token.invalid"
	EventSessionRevoked       = "auth.session.revoked"
	EventFamilyRevoked        = "auth.session.family_revoked"
	EventLogout               = "auth.session.logout"
	EventLogoutAll            = "auth.session.logout_all"
	EventResetRequested       = "auth.reset.requested"
	EventResetConfirmed       = "auth.reset.confirmed"
	EventResetFailed          = "auth.reset.failed"
	EventResetRateLimited     = "auth.reset.rate_limited"
	EventCSRFRejected         = "auth.csrf.rejected"
	// EventAuditDropped is self-referential: the dispatcher records how many
	// events it shed while its buffer was full.
	EventAuditDropped = "auth.audit.dropped"
)

// Event is the canonical audit record: append-only, never mutated, deleted
// only by retention cleanup.
type Event struct {
	ID        string            `json:"id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events. Implementations must never fail the
// security operation being described; errors stay inside the sink.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// TeeSink fans one event out to several sinks in order. Used when the host
// wants its own sink alongside the queryable store.
type TeeSink struct {
	sinks []Sink
}

func NewTeeSink(sinks ...Sink) *TeeSink {
	return &TeeSink{sinks: sinks}
}

func (s *TeeSink) Emit(ctx context.Context, event Event) {
	for _, sink := range s.sinks {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}
