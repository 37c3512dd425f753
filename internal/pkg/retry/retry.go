package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Operation represents a function that can be retried.
type Operation func() error

// Permanent wraps err so WithBackoff stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Schedule returns the retry schedule used for upstream chunk reads:
// exponential backoff with jitter, base 250ms, capped at 2s.
func Schedule() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.RandomizationFactor = 0.25
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return b
}

// WithBackoff executes op up to maxAttempts times, sleeping per the given
// schedule between attempts. Errors wrapped with Permanent stop the loop
// immediately, as does context cancellation.
func WithBackoff(ctx context.Context, log *zap.Logger, name string, maxAttempts int, b backoff.BackOff, op Operation) error {
	b = backoff.WithContext(b, ctx)
	b.Reset()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Unwrap()
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		log.Warn("retrying",
			zap.String("op", name),
			zap.Int("attempt", attempt),
			zap.Int("max", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Wrapf(lastErr, "%s failed after %d attempts", name, maxAttempts)
}
