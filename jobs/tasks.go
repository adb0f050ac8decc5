// Package jobs runs the background maintenance tasks: the nightly ledger
// integrity replay and the idempotency key cleanup.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sitestock-erp/sitestock/internal/jobs"
	"github.com/sitestock-erp/sitestock/internal/ledger"
	"github.com/sitestock-erp/sitestock/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity replays the ledger and compares against the
	// balance projection.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskIdempotencyCleanup removes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// NewLedgerIntegrityTask constructs the integrity check task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// LedgerIntegrityHandler replays every stock key and logs any drift between
// the ledger and the projection. Drift is reported, not repaired; the ledger
// is the source of truth and a drifted projection needs operator attention.
func LedgerIntegrityHandler(store *ledger.Store, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track("ledger_integrity")
		drifts, err := store.CheckConsistency(ctx)
		if err != nil {
			return tracker.End(err)
		}
		metrics.SetDriftedKeys(len(drifts))
		if len(drifts) == 0 {
			logger.Info("ledger integrity check passed")
			return tracker.End(nil)
		}
		for _, drift := range drifts {
			logger.Error("ledger drift detected",
				slog.String("key", drift.Key.String()),
				slog.String("projected", drift.Projected.String()),
				slog.String("replayed", drift.Replayed.String()))
		}
		return tracker.End(nil)
	}
}

// IdempotencyCleanupHandler removes idempotency keys older than the retention
// window.
func IdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track("idempotency_cleanup")
		removed, err := store.Cleanup(ctx, retention)
		if err != nil {
			return tracker.End(err)
		}
		logger.Info("idempotency cleanup finished", slog.Int64("removed", removed))
		return tracker.End(nil)
	}
}
