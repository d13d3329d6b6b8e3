// Package syncworker retries remote sync of session records left unsynced
// in the durability store.
package syncworker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiselabs/poise/internal/domain"
	"github.com/poiselabs/poise/internal/metrics"
	"github.com/poiselabs/poise/internal/session"
	"github.com/poiselabs/poise/internal/store"
)

// markSyncedWithRetry attempts to flip the synced flag with exponential
// backoff to handle SQLITE_BUSY errors.
func markSyncedWithRetry(ctx context.Context, repo store.Repository, sessionID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := repo.MarkSynced(ctx, sessionID)
		if err == nil {
			return nil
		}

		if store.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("Mark synced hit SQLITE_BUSY, retrying",
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return fmt.Errorf("mark %s synced: %w", sessionID, ctx.Err())
			}
		}

		return fmt.Errorf("failed to mark %s synced after %d attempts: %w", sessionID, i+1, err)
	}

	return nil
}

// Worker periodically sweeps the durability store for unsynced records and
// re-attempts their remote sync.
type Worker struct {
	repo      store.Repository
	syncer    session.Syncer
	stats     session.StatsService
	interval  time.Duration
	retention time.Duration
}

// New creates a sync worker.
func New(repo store.Repository, syncer session.Syncer, stats session.StatsService, interval, retention time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		repo:      repo,
		syncer:    syncer,
		stats:     stats,
		interval:  interval,
		retention: retention,
	}
}

// Start runs the sweep loop in a background goroutine until ctx is
// cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sync worker started", "interval", w.interval)

		for {
			select {
			case <-ticker.C:
				w.sweep(ctx)
			case <-ctx.Done():
				slog.Info("Sync worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (w *Worker) sweep(ctx context.Context) {
	records, err := w.repo.UnsyncedRecords(ctx)
	if err != nil {
		slog.Error("Sync worker failed to list unsynced records", "error", err)
		return
	}
	metrics.SetRecordsPendingSync(len(records))

	if len(records) == 0 {
		w.prune(ctx)
		return
	}

	slog.Info("Sync worker found unsynced records", "count", len(records))

	synced := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		if err := w.syncOne(ctx, rec); err != nil {
			slog.Warn("Sync retry failed, keeping record queued",
				"session_id", rec.SessionID,
				"error", err)
			continue
		}
		synced++
	}

	if synced > 0 {
		slog.Info("Sync worker completed", "synced", synced, "remaining", len(records)-synced)
		metrics.SetRecordsPendingSync(len(records) - synced)
	}

	w.prune(ctx)
}

func (w *Worker) syncOne(ctx context.Context, rec *domain.SessionRecord) error {
	if err := w.syncer.Sync(ctx, rec); err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	if err := markSyncedWithRetry(ctx, w.repo, rec.SessionID); err != nil {
		return err
	}

	stats := domain.UserStats{
		Duration:          rec.Duration,
		AverageConfidence: rec.Aggregate.Average,
		PeakConfidence:    rec.Aggregate.Peak,
		ImprovementDelta:  rec.Aggregate.ImprovementDelta,
	}
	if err := w.stats.Push(ctx, stats); err != nil {
		slog.Warn("Failed to push user stats after retry sync", "session_id", rec.SessionID, "error", err)
	}
	return nil
}

func (w *Worker) prune(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	if deleted, err := w.repo.PruneSynced(ctx, w.retention); err != nil {
		slog.Error("Sync worker failed to prune synced records", "error", err)
	} else if deleted > 0 {
		slog.Info("Sync worker pruned synced records", "count", deleted)
	}
}
