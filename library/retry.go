package library

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/mattn/go-sqlite3"
)

const (
	defaultMaxAttempts  = 4
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

type retryPolicy struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		jitterFactor: defaultJitterFactor,
	}
}

// withRetry runs fn with exponential backoff, retrying only on lock contention.
//
// Schedule (default): 0 ms, 10 ms, 20 ms, 40 ms, each with up to 30% jitter.
// Every other error fails fast.
func (d *Database) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < d.retry.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := d.retry.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * d.retry.jitterFactor //nolint:gosec // jitter only
			backoff := delay + time.Duration(jitter)

			d.logger.Debug("retrying after lock contention",
				"op", op, "attempt", attempt+1, "backoff_ms", backoff.Milliseconds(), "error", lastErr)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return storeErr(op, ctx.Err())
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil || !isContention(lastErr) {
			return lastErr
		}
	}

	d.logger.Warn("giving up after lock contention", "op", op, "attempts", d.retry.maxAttempts, "error", lastErr)
	return lastErr
}

// isContention reports whether err is SQLite refusing a lock.
func isContention(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
