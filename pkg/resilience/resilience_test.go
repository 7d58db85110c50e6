// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/jllopis/meshwork/pkg/errors"
)

func transient() error {
	return errors.New(errors.CodeTransientTransport, "connection refused", nil)
}

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithJitter(0)
}

func TestRetrySuccess(t *testing.T) {
	var delays []time.Duration
	cfg := fastRetry().WithOnRetry(func(_ int, d time.Duration, _ error) {
		delays = append(delays, d)
	})
	attempts, err := cfg.Do(context.Background(), func(attempt int) error {
		if attempt < 3 {
			return transient()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff delays, got %d", len(delays))
	}
	if delays[1] != 2*delays[0] {
		t.Fatalf("expected exponential backoff, got %v", delays)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	calls := 0
	attempts, err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func(int) error {
		calls++
		return transient()
	})
	if err == nil {
		t.Fatalf("expected error after max attempts")
	}
	if attempts != 2 || calls != 2 {
		t.Fatalf("expected 2 attempts, got %d (calls %d)", attempts, calls)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	calls := 0
	_, err := fastRetry().Do(context.Background(), func(int) error {
		calls++
		return errors.New(errors.CodeApplication, "patient not found", nil)
	})
	if !errors.HasCode(err, errors.CodeApplication) {
		t.Fatalf("expected application error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("application errors must not be retried, got %d calls", calls)
	}
}

func TestRetryPlainErrorsNotRetried(t *testing.T) {
	calls := 0
	_, _ = fastRetry().Do(context.Background(), func(int) error {
		calls++
		return stderrors.New("plain")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetryContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := DefaultRetryConfig().WithInitialDelay(time.Hour).WithOnRetry(func(int, time.Duration, error) {
		cancel()
	})
	start := time.Now()
	attempts, err := cfg.Do(ctx, func(int) error { return transient() })
	if time.Since(start) > time.Second {
		t.Fatalf("backoff did not honor cancellation")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if !errors.HasCode(err, errors.CodeTimeout) {
		t.Fatalf("expected timeout code, got %v", err)
	}
}

func TestBackoffSchedule(t *testing.T) {
	cfg := DefaultRetryConfig().WithInitialDelay(100 * time.Millisecond).WithMaxDelay(300 * time.Millisecond)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := cfg.Backoff(i + 1); got != w {
			t.Errorf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.HasCode(err, errors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.IsRecoverable(err) {
		t.Fatalf("timeouts must be recoverable")
	}

	err = WithTimeout(context.Background(), time.Second, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWithTimeoutParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithTimeout(ctx, time.Second, func(ctx context.Context) error { return ctx.Err() })
	if errors.HasCode(err, errors.CodeTimeout) {
		t.Fatalf("parent cancellation must not be reported as attempt timeout")
	}
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Second,
		Name:             "billing",
		now:              func() time.Time { return now },
	})

	for i := 0; i < 2; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("expected closed breaker, got %v", err)
		}
		cb.Record(false)
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	if err := cb.Allow(); !errors.HasCode(err, errors.CodeCircuitOpen) {
		t.Fatalf("expected CIRCUIT_OPEN, got %v", err)
	}

	now = now.Add(2 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected half-open probe, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}
	cb.Record(true)
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", cb.State())
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})
	cb.Record(false)
	cb.Record(true)
	cb.Record(false)
	if cb.State() != StateClosed {
		t.Fatalf("non-consecutive failures must not open the breaker")
	}
}

func TestBreakerSet(t *testing.T) {
	set := NewBreakerSet(CircuitBreakerConfig{FailureThreshold: 1})
	a := set.Get("billing")
	if set.Get("billing") != a {
		t.Fatalf("expected same breaker for same key")
	}
	a.Record(false)
	if set.Get("appointments").State() != StateClosed {
		t.Fatalf("breakers must be independent per key")
	}
}
