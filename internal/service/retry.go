package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/frontrow/suitesync/internal/errors"
)

// RetryPolicy bounds the retry-with-backoff helper.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the engine's remote-write behavior: a small
// fixed number of attempts with exponential backoff.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
}

// RetryWithBackoff runs op up to policy.MaxAttempts times, sleeping
// BaseDelay * 2^attempt between failures. Only recoverable errors are
// retried; everything else fails fast. When the budget is exhausted the
// last error is wrapped in RetryLimitExceeded.
func RetryWithBackoff(ctx context.Context, policy RetryPolicy, logger *zap.Logger, name string, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.BaseDelay * (1 << (attempt - 1))
			logger.Debug("Retrying operation",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return errors.Timeout("operation canceled while waiting to retry: " + name)
			case <-time.After(delay):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.IsRecoverable(lastErr) {
			return lastErr
		}
	}
	return errors.RetryLimitExceeded(policy.MaxAttempts, lastErr)
}

// WithTimeout races op against the deadline. If the deadline wins, the
// op's context is canceled and a Timeout error is returned; a late result
// from the losing branch is discarded.
func WithTimeout(ctx context.Context, d time.Duration, name string, op func(context.Context) error) error {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		cancel()
		return errors.Timeout("operation timed out: " + name)
	case <-ctx.Done():
		cancel()
		return errors.Timeout("operation canceled: " + name)
	}
}
