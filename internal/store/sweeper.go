package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the retention sweeper runs.
const DefaultSweepInterval = time.Hour

// Pruner deletes journal records older than a cutoff.
type Pruner interface {
	DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartSweeper runs a background goroutine that periodically deletes journal
// conversations not updated within retention. It stops when ctx is done.
func StartSweeper(ctx context.Context, repo Pruner, retention, interval time.Duration) {
	if retention <= 0 {
		slog.Info("Journal sweeper disabled", "retention", retention)
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Journal sweeper started", "interval", interval, "retention", retention)

		sweep(ctx, repo, retention, time.Now)
		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, retention, time.Now)
			case <-ctx.Done():
				slog.Info("Journal sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, repo Pruner, retention time.Duration, now func() time.Time) int64 {
	cutoff := now().Add(-retention)
	deleted, err := repo.DeleteConversationsBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Journal sweeper canceled mid-sweep", "error", err)
			return 0
		}
		slog.Error("Journal sweeper failed", "error", err, "cutoff", cutoff)
		return 0
	}
	if deleted > 0 {
		slog.Info("Journal sweeper removed expired conversations", "count", deleted, "cutoff", cutoff)
	}
	return deleted
}
