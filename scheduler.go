package authcore

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler owns the background maintenance sweeps: expired sessions, dead
// rate-limit buckets, spent reset tokens, and audit retention. All sweeps
// are idempotent and only remove rows that are already logically dead, so
// they run concurrently with live traffic without coordination.
type Scheduler struct {
	engine    *Engine
	cron      *cron.Cron
	retention time.Duration

	mu      sync.Mutex
	started bool
}

// SweepReport counts what one full maintenance pass removed.
type SweepReport struct {
	Sessions    int
	RateBuckets int
	ResetTokens int
	AuditEvents int
}

const sweepTimeout = 2 * time.Minute

func newScheduler(engine *Engine, cfg MaintenanceConfig, auditRetention time.Duration) *Scheduler {
	s := &Scheduler{
		engine:    engine,
		cron:      cron.New(),
		retention: auditRetention,
	}

	s.cron.Schedule(cron.Every(cfg.SessionSweepInterval), cron.FuncJob(func() {
		s.withTimeout(func(ctx context.Context) {
			_, _ = engine.sessionStore.SweepExpired(ctx)
		})
	}))
	s.cron.Schedule(cron.Every(cfg.RateSweepInterval), cron.FuncJob(func() {
		s.withTimeout(func(ctx context.Context) {
			_, _ = engine.rateLimiter.Sweep(ctx)
		})
	}))
	s.cron.Schedule(cron.Every(cfg.ResetSweepInterval), cron.FuncJob(func() {
		s.withTimeout(func(ctx context.Context) {
			_, _ = engine.resetStore.CleanupExpired(ctx)
		})
	}))
	s.cron.Schedule(cron.Every(cfg.AuditSweepInterval), cron.FuncJob(func() {
		s.withTimeout(func(ctx context.Context) {
			_, _ = engine.auditStore.CleanupOldLogs(ctx, s.retention)
		})
	}))

	return s
}

func (s *Scheduler) withTimeout(fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	fn(ctx)
}

// Start begins the sweep timers. Idempotent.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
}

// Stop halts the timers and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
}

// RunAll executes every sweep once, synchronously. The first failing sweep
// aborts the pass; counts up to that point are returned.
func (s *Scheduler) RunAll(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if s == nil {
		return report, ErrEngineNotReady
	}

	var err error
	if report.Sessions, err = s.engine.sessionStore.SweepExpired(ctx); err != nil {
		return report, err
	}
	if report.RateBuckets, err = s.engine.rateLimiter.Sweep(ctx); err != nil {
		return report, err
	}
	if report.ResetTokens, err = s.engine.resetStore.CleanupExpired(ctx); err != nil {
		return report, err
	}
	if report.AuditEvents, err = s.engine.auditStore.CleanupOldLogs(ctx, s.retention); err != nil {
		return report, err
	}
	return report, nil
}
