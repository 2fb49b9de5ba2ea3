package authcore

import (
	"context"
	"testing"
	"time"
)

func maintenanceConfig() Config {
	cfg := testConfig()
	cfg.Maintenance.Enabled = true
	return cfg
}

func TestSchedulerRunAllReclaimsExpiredResetTokens(t *testing.T) {
	env := newTestEnv(t, maintenanceConfig())
	env.addUser(t, "u1", "alice@example.com", "password-12345")

	ctx := context.Background()
	if _, err := env.engine.RequestPasswordReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	sched := env.engine.Scheduler()
	if sched == nil {
		t.Fatal("expected scheduler when maintenance is enabled")
	}

	env.clock.Advance(env.engine.config.PasswordReset.TokenTTL + time.Minute)
	report, err := sched.RunAll(ctx)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if report.ResetTokens < 1 {
		t.Fatalf("expected at least one reset token reclaimed, got %+v", report)
	}

	// a second pass finds nothing
	report, err = sched.RunAll(ctx)
	if err != nil {
		t.Fatalf("second RunAll failed: %v", err)
	}
	if report.ResetTokens != 0 {
		t.Fatalf("expected idempotent sweep, got %+v", report)
	}
}

func TestSchedulerRunAllLeavesLiveStateAlone(t *testing.T) {
	env := newTestEnv(t, maintenanceConfig())
	env.addUser(t, "u1", "alice@example.com", "password-12345")

	ctx := context.Background()
	pair, err := env.engine.Login(ctx, "alice@example.com", "password-12345", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	report, err := env.engine.Scheduler().RunAll(ctx)
	if err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}
	if report.Sessions != 0 {
		t.Fatalf("live session swept: %+v", report)
	}

	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("session unusable after sweep: %v", err)
	}
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	env := newTestEnv(t, maintenanceConfig())

	sched := env.engine.Scheduler()
	sched.Start()
	sched.Start()
	sched.Stop()
	sched.Stop()
	// engine.Close stops it again via t.Cleanup; must not hang or panic
}

func TestSchedulerAbsentWhenMaintenanceDisabled(t *testing.T) {
	env := newTestEnv(t, testConfig())
	if env.engine.Scheduler() != nil {
		t.Fatal("expected nil scheduler when maintenance is disabled")
	}
}
