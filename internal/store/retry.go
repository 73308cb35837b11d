package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// isBusyError reports whether err is a SQLite lock conflict worth retrying.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs op, retrying lock conflicts with exponential backoff: 50ms, 100ms.
func withRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < retryAttempts; i++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isBusyError(err) || i == retryAttempts-1 {
			break
		}

		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}
	}
	return err
}
