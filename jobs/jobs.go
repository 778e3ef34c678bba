// Package jobs holds the periodic sweeps run by the api binary.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"fidexa/deal"
	"fidexa/metrics"
	"fidexa/payment"
)

const (
	sweepBatch = 200
	jobTimeout = 2 * time.Minute
)

// DealSweeper completes deals whose validation window elapsed.
type DealSweeper interface {
	ExpireValidation(ctx context.Context, limit int) (deal.SweepResult, error)
}

// SettlementReconciler retries failed or stuck settlements.
type SettlementReconciler interface {
	Reconcile(ctx context.Context, limit int) (payment.ReconcileResult, error)
}

// SubscriptionExpirer lapses subscriptions past their end date.
type SubscriptionExpirer interface {
	ExpireLapsed(ctx context.Context) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	deals         DealSweeper
	settlements   SettlementReconciler
	subscriptions SubscriptionExpirer
	logger        *slog.Logger
}

// New creates a Jobs runner.
func New(deals DealSweeper, settlements SettlementReconciler, subscriptions SubscriptionExpirer, logger *slog.Logger) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		deals:         deals,
		settlements:   settlements,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// AutoCompleteDeals fires validation_timeout for every deal past its deadline.
func (j *Jobs) AutoCompleteDeals() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	res, err := j.deals.ExpireValidation(ctx, sweepBatch)
	if err != nil {
		j.logger.Error("auto-complete sweep failed", "error", err)
		record("auto_complete", err)
		return
	}
	record("auto_complete", nil)
	if res.Due > 0 {
		j.logger.Info("auto-complete sweep finished",
			"due", res.Due, "completed", res.Completed, "skipped", res.Skipped, "failed", res.Failed)
	}
}

// ReconcileSettlements retries settlements the processor has not confirmed.
func (j *Jobs) ReconcileSettlements() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	res, err := j.settlements.Reconcile(ctx, sweepBatch)
	if err != nil {
		j.logger.Error("settlement reconciliation failed", "error", err)
		record("reconcile", err)
		return
	}
	record("reconcile", nil)
	if res.Due > 0 {
		j.logger.Info("settlement reconciliation finished", "due", res.Due, "completed", res.Completed, "failed", res.Failed)
	}
}

// ExpireSubscriptions moves subscriptions past ends_at to past_due.
func (j *Jobs) ExpireSubscriptions() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := j.subscriptions.ExpireLapsed(ctx)
	if err != nil {
		j.logger.Error("subscription expiry failed", "error", err)
		record("subscription_expiry", err)
		return
	}
	record("subscription_expiry", nil)
	if n > 0 {
		j.logger.Info("subscriptions expired", "count", n)
	}
}

func record(job string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.JobRuns.WithLabelValues(job, outcome).Inc()
}
