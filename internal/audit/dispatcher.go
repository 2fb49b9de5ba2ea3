package audit

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher decouples audit writes from the security decision that produced
// them: events queue onto a buffered channel and a single worker forwards
// them to the sink. Shedding is part of the trail — once the buffer has
// capacity again, the worker logs an auth.audit.dropped entry carrying the
// number of events lost, so a gap in the log is itself recorded in the log.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	quit       chan struct{}
	dropIfFull bool

	dropped    atomic.Uint64 // total shed, monotonic
	unreported atomic.Uint64 // shed since the last self-report
	closing    atomic.Bool
	stopOnce   sync.Once
	stopped    sync.WaitGroup
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, cfg.BufferSize),
		quit:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}

	d.stopped.Add(1)
	go d.worker()

	return d
}

func (d *Dispatcher) worker() {
	defer d.stopped.Done()

	for {
		select {
		case event := <-d.queue:
			d.forward(event)
		case <-d.quit:
			d.drain()
			return
		}
	}
}

// drain empties whatever is still buffered, then flushes a final shed
// report if events were lost with no enqueue left to trigger one.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.forward(event)
		default:
			d.reportShed()
			return
		}
	}
}

func (d *Dispatcher) forward(event Event) {
	d.sink.Emit(context.Background(), event)
	d.reportShed()
}

// reportShed turns accumulated drops into one audit entry. The store stamps
// the zero ID and timestamp on append.
func (d *Dispatcher) reportShed() {
	shed := d.unreported.Swap(0)
	if shed == 0 {
		return
	}
	d.sink.Emit(context.Background(), Event{
		EventType: EventAuditDropped,
		Success:   false,
		Error:     "audit buffer full",
		Metadata:  map[string]string{"dropped": strconv.FormatUint(shed, 10)},
	})
}

// Emit enqueues the event. With DropIfFull set, a full buffer sheds the
// event instead of blocking the caller; the loss surfaces later as an
// auth.audit.dropped entry.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if !d.dropIfFull {
		select {
		case d.queue <- event:
		case <-ctx.Done():
		case <-d.quit:
		}
		return
	}

	select {
	case d.queue <- event:
	case <-d.quit:
	default:
		d.dropped.Add(1)
		d.unreported.Add(1)
	}
}

// Close stops the worker after draining buffered events. Safe to call more
// than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.closing.Store(true)
		close(d.quit)
		d.stopped.Wait()
	})
}

// Dropped reports how many events were shed because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
