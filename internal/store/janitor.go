package store

import (
	"context"
	"log/slog"
	"time"
)

// StartJanitor periodically removes conversations idle for longer than ttl.
// It stops when ctx is canceled. A non-positive ttl disables it.
func StartJanitor(ctx context.Context, st ContextStore, ttl, interval time.Duration, logger *slog.Logger) {
	if ttl <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		logger.Info("Context janitor started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				purged, err := st.PurgeIdle(ctx, ttl)
				if err != nil {
					logger.Error("Context janitor failed to purge idle conversations", "error", err)
					continue
				}
				if purged > 0 {
					logger.Info("Context janitor purged idle conversations", "count", purged)
				}
			case <-ctx.Done():
				logger.Info("Context janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
