// Package retry implements bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultMaxAttempts is the number of tries, including the first one
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the wait after the first failed attempt
	DefaultBaseDelay = 100 * time.Millisecond
	// DefaultMaxDelay caps any single wait
	DefaultMaxDelay = 5 * time.Second
	// DefaultMultiplier doubles the wait after each failure
	DefaultMultiplier = 2.0
)

// Config configures exponential backoff retry behavior.
// The wait after attempt n (1-based) is BaseDelay * Multiplier^(n-1), capped at MaxDelay.
type Config struct {
	MaxAttempts int           // Hard cap on attempts; there is no wall-clock timeout
	BaseDelay   time.Duration // Delay after the first failure
	MaxDelay    time.Duration // Upper bound for a single delay (0 = unbounded)
	Multiplier  float64       // Backoff multiplier (<= 1 is treated as 2)
}

// DefaultConfig returns the policy used by the search synchronization service
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
	}
}

// normalized fills zero values with defaults
func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	return c
}

// Delay returns the wait that follows the given failed attempt (1-based)
func (c Config) Delay(attempt int) time.Duration {
	c = c.normalized()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= c.Multiplier
		if c.MaxDelay > 0 && d >= float64(c.MaxDelay) {
			return c.MaxDelay
		}
	}
	delay := time.Duration(d)
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		return c.MaxDelay
	}
	return delay
}

// permanentError marks an error that must not be retried
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that Do stops immediately and returns it unwrapped
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, returns a Permanent error, the context is
// cancelled, or MaxAttempts is reached. It returns the number of attempts made
// and the last error.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) error) (int, error) {
	_, attempts, err := DoValue(ctx, cfg, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return attempts, err
}

// DoValue is Do for functions that produce a result
func DoValue[T any](ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	cfg = cfg.normalized()
	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			return result, attempt, nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, attempt, perm.err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, cfg.MaxAttempts, lastErr
}
