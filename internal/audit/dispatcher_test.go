package audit

import (
	"context"
	"sync"
	"testing"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// stallSink blocks every delivery until gate is closed, so a test can hold
// the worker mid-flight and fill the buffer deterministically.
type stallSink struct {
	recordingSink
	started chan struct{}
	gate    chan struct{}
}

func (s *stallSink) Emit(ctx context.Context, event Event) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.gate
	s.recordingSink.Emit(ctx, event)
}

func TestDispatcherForwardsInOrderAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	ctx := context.Background()
	types := []string{EventLoginFailed, EventLoginSuccess, EventTokenRotated}
	for _, typ := range types {
		d.Emit(ctx, Event{EventType: typ})
	}
	d.Close()

	got := sink.all()
	if len(got) != len(types) {
		t.Fatalf("expected %d events after drain, got %d", len(types), len(got))
	}
	for i, typ := range types {
		if got[i].EventType != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, got[i].EventType)
		}
	}
	if d.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", d.Dropped())
	}
}

func TestDispatcherShedsWhenFullAndLogsTheGap(t *testing.T) {
	sink := &stallSink{
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	ctx := context.Background()
	d.Emit(ctx, Event{EventType: EventLoginFailed})
	<-sink.started // worker holds the first event, queue is empty

	d.Emit(ctx, Event{EventType: EventLoginSuccess}) // fills the buffer
	d.Emit(ctx, Event{EventType: EventTokenRotated}) // shed
	d.Emit(ctx, Event{EventType: EventTokenReused})  // shed

	close(sink.gate)
	d.Close()

	if d.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", d.Dropped())
	}

	var delivered int
	var reports []Event
	for _, event := range sink.all() {
		if event.EventType == EventAuditDropped {
			reports = append(reports, event)
			continue
		}
		delivered++
	}
	if delivered != 2 {
		t.Fatalf("expected 2 delivered events, got %d", delivered)
	}
	if len(reports) != 1 {
		t.Fatalf("expected exactly one shed report, got %d", len(reports))
	}
	if reports[0].Metadata["dropped"] != "2" {
		t.Fatalf("expected shed report of 2, got %q", reports[0].Metadata["dropped"])
	}
	if reports[0].Success {
		t.Fatal("shed report must record a failure")
	}
}

func TestDispatcherDisabledAndNilAreNoOps(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &recordingSink{})
	if d != nil {
		t.Fatal("disabled config must yield a nil dispatcher")
	}
	// nil receiver is safe end to end
	d.Emit(context.Background(), Event{EventType: EventLoginFailed})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatalf("expected 0 dropped on nil dispatcher, got %d", d.Dropped())
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	d.Emit(context.Background(), Event{EventType: EventLogout})
	d.Close()
	d.Close()
	if got := len(sink.all()); got != 1 {
		t.Fatalf("expected 1 event after double close, got %d", got)
	}
}
