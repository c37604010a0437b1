package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often expired sessions are removed.
const DefaultSweepInterval = 5 * time.Minute

// CleanupCallback is called after a sweep that removed sessions.
type CleanupCallback func(removed int64)

// StartSweeper runs a background goroutine that periodically deletes chat
// sessions idle for longer than ttl. It stops when ctx is cancelled.
func StartSweeper(ctx context.Context, repo Repository, ttl, interval time.Duration, onCleanup CleanupCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, repo Repository, ttl time.Duration, onCleanup CleanupCallback) {
	deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("session sweeper failed", "error", err)
		return
	}

	if p, ok := repo.(interface {
		PurgeExpiredKeys(context.Context) (int64, error)
	}); ok {
		if n, err := p.PurgeExpiredKeys(ctx); err != nil {
			slog.Warn("failed to purge idempotency keys", "error", err)
		} else if n > 0 {
			slog.Info("purged expired idempotency keys", "count", n)
		}
	}

	if deleted == 0 {
		return
	}
	slog.Info("session sweeper removed expired sessions", "count", deleted)
	if onCleanup != nil {
		onCleanup(deleted)
	}
}
