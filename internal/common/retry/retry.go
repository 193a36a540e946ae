// Retry utilities for network-facing operations
// Ceremony and compilation steps are never retried; only uploads and
// similar idempotent calls go through here.

package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Config defines retry behavior parameters
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration // Optional: cap exponential growth
	// Retryable decides whether an error is worth another attempt.
	// Nil retries every error.
	Retryable func(error) bool
}

// DefaultConfig returns standard retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 4,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  8 * time.Second,
	}
}

// permanent wraps an error that must not be retried.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent marks err as not retryable regardless of Config.Retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// WithBackoff executes fn with exponential backoff.
// Returns the last error if all attempts fail, or nil on success
func WithBackoff(
	ctx context.Context,
	cfg Config,
	logger *zap.Logger,
	operation string,
	fn func(context.Context) error,
) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Operation succeeded after retry",
					zap.String("operation", operation),
					zap.Int("attempts", attempt+1),
				)
			}
			return nil
		}
		lastErr = err

		var perm *permanent
		if errors.As(err, &perm) {
			return perm.err
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		// 1x, 2x, 4x, 8x ...
		backoff := cfg.BaseBackoff * time.Duration(1<<attempt)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}

		logger.Warn("Operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	logger.Error("Operation failed after all retries",
		zap.String("operation", operation),
		zap.Int("max_attempts", cfg.MaxAttempts),
		zap.Error(lastErr),
	)
	return lastErr
}

// WithTimeout is a convenience wrapper that creates a timeout context
func WithTimeout(
	parentCtx context.Context,
	timeout time.Duration,
	cfg Config,
	logger *zap.Logger,
	operation string,
	fn func(context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()

	return WithBackoff(ctx, cfg, logger, operation, fn)
}
