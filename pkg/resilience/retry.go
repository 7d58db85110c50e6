// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience provides the retry, timeout and circuit breaker
// primitives the invoker wraps around every remote call.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/jllopis/meshwork/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// IsRecoverable determines if an error should be retried.
	// If nil, only errors marked recoverable are retried.
	IsRecoverable func(error) bool

	// Jitter adds randomness to backoff. Value between 0 and 1;
	// 0.1 means ±10% jitter.
	Jitter float64

	// OnRetry is called before each backoff sleep with the attempt that
	// just failed (1-based), the delay about to be waited and the error.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig returns the default: two retries after the first
// attempt, starting at 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a new config with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithMaxDelay returns a new config with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithJitter returns a new config with Jitter set.
func (rc RetryConfig) WithJitter(j float64) RetryConfig {
	rc.Jitter = j
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// WithOnRetry returns a new config with OnRetry set.
func (rc RetryConfig) WithOnRetry(fn func(attempt int, delay time.Duration, err error)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// Do executes fn with retry logic. fn receives the 1-based attempt number.
// It returns the number of attempts made and the last error when all fail.
// Cancellation of ctx during backoff stops retrying and returns a timeout
// error wrapping ctx.Err().
func (rc RetryConfig) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = isRecoverableDefault
	}

	var lastErr error
	for attempt := 1; attempt <= rc.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, canceled(ctx, attempt-1, lastErr)
		}

		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !rc.IsRecoverable(err) || attempt == rc.MaxAttempts {
			return attempt, err
		}

		delay := calculateBackoff(attempt, rc)
		if rc.OnRetry != nil {
			rc.OnRetry(attempt, delay, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, canceled(ctx, attempt, lastErr)
		case <-timer.C:
		}
	}
	return rc.MaxAttempts, lastErr
}

func canceled(ctx context.Context, attempts int, last error) error {
	cause := ctx.Err()
	if last != nil {
		cause = last
	}
	return errors.New(errors.CodeTimeout, "context done during retry", cause).
		WithContext("attempts", attempts).
		WithContext("reason", ctx.Err().Error())
}

// Backoff returns the un-jittered delay that precedes retry number
// attempt (1-based): InitialDelay * Multiplier^(attempt-1), capped.
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	rc.Jitter = 0
	return calculateBackoff(attempt, rc)
}

// calculateBackoff computes exponential backoff delay with jitter.
func calculateBackoff(attempt int, rc RetryConfig) time.Duration {
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.Multiplier, float64(attempt-1)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}

	if rc.Jitter > 0 {
		spread := float64(delay) * rc.Jitter
		delay = time.Duration(float64(delay) + 2*spread*(rand.Float64()-0.5))
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}

// isRecoverableDefault retries only errors explicitly marked recoverable.
func isRecoverableDefault(err error) bool {
	return errors.IsRecoverable(err)
}
