package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules are cron specs for each job. An empty spec disables the job.
type Schedules struct {
	AutoComplete       string
	Reconcile          string
	SubscriptionExpiry string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
}

// NewScheduler creates a scheduler and registers every job with a schedule.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	s := &Scheduler{cron: c, jobs: jobs, logger: logger}
	entries := []struct {
		name string
		spec string
		fn   func()
	}{
		{"auto_complete", schedules.AutoComplete, jobs.AutoCompleteDeals},
		{"reconcile", schedules.Reconcile, jobs.ReconcileSettlements},
		{"subscription_expiry", schedules.SubscriptionExpiry, jobs.ExpireSubscriptions},
	}
	for _, e := range entries {
		if e.spec == "" {
			logger.Warn("job disabled", "job", e.name)
			continue
		}
		if _, err := c.AddFunc(e.spec, e.fn); err != nil {
			return nil, fmt.Errorf("jobs: schedule %s %q: %w", e.name, e.spec, err)
		}
		logger.Info("scheduled job", "job", e.name, "schedule", e.spec)
	}
	return s, nil
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start starts the cron scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
