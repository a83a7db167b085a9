package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	maxRetries     = 3
	retryBaseDelay = 50 * time.Millisecond
)

// IsConflictError reports whether err is a SQLITE_BUSY or "database is locked"
// error. Both are concurrency errors that warrant a retry.
func IsConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs fn with exponential backoff (50ms, 100ms) on SQLite
// conflicts. Other errors return immediately.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsConflictError(err) || i == maxRetries-1 {
			break
		}

		delay := retryBaseDelay * time.Duration(1<<i)
		slog.Debug("Journal write hit SQLITE_BUSY, retrying",
			"op", op,
			"attempt", i+1,
			"delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
