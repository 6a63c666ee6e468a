package governance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrMaxAttemptsExceeded is returned when every attempt ended without success.
var ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")

// RetryConfig defines the caller-side attempt loop.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts int `yaml:"attempts" validate:"gte=0"`
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gte=0"`
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration `yaml:"max_backoff" validate:"gte=0"`
	// BackoffMultiplier is the factor by which backoff increases.
	BackoffMultiplier float64 `yaml:"backoff_multiplier" validate:"gte=0"`
	// Jitter adds up to 25% randomness to each delay.
	Jitter bool `yaml:"jitter"`
}

// DefaultRetryConfig returns the defaults for interactive logins.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Verdict is what an attempt tells the loop.
type Verdict int

const (
	// Done stops the loop successfully.
	Done Verdict = iota
	// Retry asks for another attempt after backoff.
	Retry
	// Abort stops the loop with the attempt's error.
	Abort
)

// RetryPolicy runs attempts with exponential backoff between them.
type RetryPolicy struct {
	config RetryConfig
	sleep  func(context.Context, time.Duration) error
}

// NewRetryPolicy creates a retry policy with the given configuration.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialBackoff < 0 {
		config.InitialBackoff = 0
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultRetryConfig().MaxBackoff
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}

	return &RetryPolicy{config: config, sleep: Sleep}
}

// Config returns a copy of the current retry configuration.
func (rp *RetryPolicy) Config() RetryConfig {
	return rp.config
}

// CalculateBackoff returns the delay after the given zero-based attempt.
func (rp *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := time.Duration(float64(rp.config.InitialBackoff) * math.Pow(rp.config.BackoffMultiplier, float64(attempt)))

	if backoff > rp.config.MaxBackoff {
		backoff = rp.config.MaxBackoff
	}

	if rp.config.Jitter && backoff >= 4 {
		// #nosec G404 - Non-cryptographic random is acceptable for jitter
		backoff += time.Duration(rand.Int63n(int64(backoff / 4)))
	}

	return backoff
}

// Run calls fn with attempt numbers starting at 1 until it returns Done or
// Abort, the attempts run out, or ctx is cancelled. before is called ahead of
// every attempt with the delay that preceded it.
func (rp *RetryPolicy) Run(
	ctx context.Context,
	before func(attempt int, wait time.Duration),
	fn func(ctx context.Context, attempt int) (Verdict, error),
) error {
	var lastErr error
	var wait time.Duration

	for attempt := 1; attempt <= rp.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if before != nil {
			before(attempt, wait)
		}

		verdict, err := fn(ctx, attempt)
		switch verdict {
		case Done:
			return nil
		case Abort:
			return err
		}
		lastErr = err

		if attempt == rp.config.MaxAttempts {
			break
		}
		wait = rp.CalculateBackoff(attempt - 1)
		if err := rp.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %w", ErrMaxAttemptsExceeded, lastErr)
	}
	return ErrMaxAttemptsExceeded
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
