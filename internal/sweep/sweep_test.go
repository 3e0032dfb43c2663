package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/orchestrator"
	"github.com/miclaldogan/bantz-sub008/internal/runtracker"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.ConfirmationSweepSpec == "" || cfg.RunLedgerSweepSpec == "" {
		t.Fatalf("expected non-empty default cron specs, got %+v", cfg)
	}
	if cfg.RunLedgerRetention != 30*24*time.Hour {
		t.Fatalf("expected 30-day default retention, got %s", cfg.RunLedgerRetention)
	}
}

func TestNewRegistersJobsAndStops(t *testing.T) {
	sessions := orchestrator.NewSessionManager()
	tracker := runtracker.NewMemoryTracker()

	sched, err := New(Config{}, sessions, tracker, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sched.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSessionManagerExpiresAcrossSessions(t *testing.T) {
	sessions := orchestrator.NewSessionManager()
	s1 := sessions.Get("sess-1")
	s2 := sessions.Get("sess-2")

	s1.AddPendingConfirmation(orchestrator.PendingConfirmation{
		Tool:              "gmail.send",
		ConfirmationToken: "tok-1",
		ExpiresAt:         time.Now().Add(-time.Minute),
	})
	s2.AddPendingConfirmation(orchestrator.PendingConfirmation{
		Tool:              "calendar.create_event",
		ConfirmationToken: "tok-2",
		ExpiresAt:         time.Now().Add(time.Hour),
	})

	removed := sessions.ExpirePendingConfirmations(time.Now())
	if removed != 1 {
		t.Fatalf("expected 1 expired confirmation removed, got %d", removed)
	}
	if len(s1.PendingConfirmations()) != 0 {
		t.Fatalf("expected sess-1's expired confirmation removed")
	}
	if len(s2.PendingConfirmations()) != 1 {
		t.Fatalf("expected sess-2's unexpired confirmation kept")
	}
}
