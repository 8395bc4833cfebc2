// Package retry extends infrastructure/retry's exponential-backoff helper
// with jitter and a domain.RetryPolicy adapter, shared by the orchestrator's
// execution retry (§4.1.3) and the delivery pipeline's attempt retry
// (§4.3.2).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/northcloud/jobforge/internal/domain"
)

var (
	ErrMaxAttemptsExceeded = errors.New("retry: max attempts exceeded")
	ErrContextCancelled    = errors.New("retry: context cancelled")
)

// Config mirrors infrastructure/retry.Config, adding Jitter: a policy with
// Jitter enabled spreads retries of many concurrent failures instead of
// causing them to all wake up and retry in lockstep.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	IsRetryable  func(error) bool
}

// FromPolicy adapts a domain.RetryPolicy (as stored on Task/Schedule output
// destinations) into a Config for the Retry loop below.
func FromPolicy(p domain.RetryPolicy, isRetryable func(error) bool) Config {
	return Config{
		MaxAttempts:  p.MaxAttempts,
		InitialDelay: p.InitialDelay,
		MaxDelay:     p.MaxDelay,
		Multiplier:   p.BackoffMultiplier,
		Jitter:       p.Jitter,
		IsRetryable:  isRetryable,
	}
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		IsRetryable:  AlwaysRetryable,
	}
}

func AlwaysRetryable(err error) bool { return err != nil }

// DomainRetryable treats a wrapped domain.Error's Retriable() verdict as
// authoritative, falling back to true for plain errors (network/io errors
// surfaced without a domain.Error wrapper are assumed transient).
func DomainRetryable(err error) bool {
	if err == nil {
		return false
	}
	if derr, ok := domain.AsDomainError(err); ok {
		return derr.Retriable()
	}
	return true
}

// Retry runs fn, retrying on retryable errors with exponential backoff
// (optionally jittered) up to MaxAttempts, grounded on
// infrastructure/retry.Retry's loop shape.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	cfg = withDefaults(cfg)

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := time.Duration(float64(delay) * math.Pow(cfg.Multiplier, float64(attempt-1)))
		if backoff > cfg.MaxDelay {
			backoff = cfg.MaxDelay
		}
		if cfg.Jitter {
			backoff = jitter(backoff)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, cfg.MaxAttempts, lastErr)
}

// BackoffDelay implements §4.1.3/§4.3.2's shared formula: min(max_delay,
// initial_delay * multiplier^(attempt-1)), plus uniform jitter in
// [0, delay/4] when enabled. JobRepository.Retry uses this directly so a
// Job's retry backoff is computed identically to delivery's per-destination
// retry (internal/delivery's backoffDelay), just parameterized by the task's
// own domain.RetryPolicy instead of a destination's.
func BackoffDelay(p domain.RetryPolicy, attempt int) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter && delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/4 + 1))
	}
	return delay
}

// jitter applies full jitter (a uniform random delay in [0, d]), the
// standard mitigation against synchronized retry storms across many
// concurrently-failing deliveries.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

func withDefaults(cfg Config) Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = AlwaysRetryable
	}
	return cfg
}
