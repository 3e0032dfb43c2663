// Package sweep schedules the orchestration kernel's periodic
// housekeeping: pending-confirmation TTL expiry and run-ledger pruning.
// Neither belongs inside a single turn's processing: both run on their
// own clock, independent of traffic.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/miclaldogan/bantz-sub008/internal/orchestrator"
	"github.com/miclaldogan/bantz-sub008/internal/runtracker"
)

// Config controls sweep cadence and retention.
type Config struct {
	// ConfirmationSweepSpec is a standard 5-field cron expression for
	// the pending-confirmation expiry sweep. Defaults to every minute.
	ConfirmationSweepSpec string

	// RunLedgerSweepSpec is a standard 5-field cron expression for the
	// run-ledger prune sweep. Defaults to once an hour.
	RunLedgerSweepSpec string

	// RunLedgerRetention is how long a completed run stays in the
	// ledger before the prune sweep removes it. Defaults to 30 days.
	RunLedgerRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConfirmationSweepSpec == "" {
		c.ConfirmationSweepSpec = "@every 1m"
	}
	if c.RunLedgerSweepSpec == "" {
		c.RunLedgerSweepSpec = "@every 1h"
	}
	if c.RunLedgerRetention <= 0 {
		c.RunLedgerRetention = 30 * 24 * time.Hour
	}
	return c
}

// Scheduler owns the cron jobs and the services they sweep.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

// New builds a Scheduler that expires timed-out pending confirmations
// across every session in sessions, and prunes runTracker entries older
// than cfg.RunLedgerRetention. The caller must call Start to begin
// running jobs and Stop to tear them down.
func New(cfg Config, sessions *orchestrator.SessionManager, runTracker runtracker.Tracker, log *slog.Logger) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	c := cron.New()

	if _, err := c.AddFunc(cfg.ConfirmationSweepSpec, func() {
		removed := sessions.ExpirePendingConfirmations(time.Now())
		if removed > 0 {
			log.Info("sweep: expired pending confirmations", "count", removed)
		}
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(cfg.RunLedgerSweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		pruned, err := runTracker.Prune(ctx, cfg.RunLedgerRetention)
		if err != nil {
			log.Warn("sweep: run ledger prune failed", "error", err)
			return
		}
		if pruned > 0 {
			log.Info("sweep: pruned run ledger entries", "count", pruned)
		}
	}); err != nil {
		return nil, err
	}

	return &Scheduler{cron: c, log: log}, nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for in-flight jobs to finish and stops the scheduler,
// honoring ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
