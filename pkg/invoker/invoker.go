// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package invoker performs one remote operation call with a per-attempt
// timeout, bounded retries for transient failures and a per-service
// circuit breaker. Every outcome, including panics, is reported as a
// plan.StepResult; nothing is returned as an error.
package invoker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/plan"
	"github.com/jllopis/meshwork/pkg/resilience"
	"github.com/jllopis/meshwork/pkg/telemetry"
	"github.com/jllopis/meshwork/pkg/transport"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultRetries    = 2
	defaultBackoff    = 200 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

// Call is one fully bound invocation.
type Call struct {
	Step      int
	Service   string
	Operation string
	Endpoint  catalog.Endpoint
	Args      map[string]interface{}
}

// NewCall binds args to op for the plan step at index.
func NewCall(index int, op catalog.Operation, args map[string]interface{}) Call {
	return Call{
		Step:      index,
		Service:   op.ServiceID,
		Operation: op.Name,
		Endpoint:  op.Endpoint,
		Args:      args,
	}
}

// Invoker dispatches calls through a transport set. It is safe for
// concurrent use; breakers are shared by all callers.
type Invoker struct {
	transports catalog.TransportResolver
	timeout    time.Duration
	retry      resilience.RetryConfig
	breakers   *resilience.BreakerSet
	onRetry    func(attempt int, delay time.Duration, err error)
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *telemetry.MeshMetrics
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithTimeout bounds each attempt. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(inv *Invoker) {
		if d >= 0 {
			inv.timeout = d
		}
	}
}

// WithRetry sets how many times a transient failure is retried and the
// exponential backoff between attempts.
func WithRetry(retries int, initial, max time.Duration) Option {
	return func(inv *Invoker) {
		if retries >= 0 {
			inv.retry = inv.retry.WithMaxAttempts(retries + 1)
		}
		if initial > 0 {
			inv.retry = inv.retry.WithInitialDelay(initial)
		}
		if max > 0 {
			inv.retry = inv.retry.WithMaxDelay(max)
		}
	}
}

// WithBreaker opens a service's breaker after threshold consecutive
// transient failures and probes again after cooldown.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(inv *Invoker) {
		inv.breakers = resilience.NewBreakerSet(resilience.CircuitBreakerConfig{
			FailureThreshold: threshold,
			Cooldown:         cooldown,
		})
	}
}

// WithConfig applies the invoker section of the mesh configuration.
func WithConfig(c config.InvokerConfig) Option {
	return func(inv *Invoker) {
		WithTimeout(c.Timeout)(inv)
		WithRetry(c.MaxRetries, c.InitialBackoff, c.MaxBackoff)(inv)
		WithBreaker(c.BreakerThreshold, c.BreakerCooldown)(inv)
	}
}

// WithOnRetry registers an observer called before every backoff delay.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(inv *Invoker) {
		inv.onRetry = fn
	}
}

// WithLogger sets the invoker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(inv *Invoker) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

// WithMetrics records step, retry and breaker metrics.
func WithMetrics(m *telemetry.MeshMetrics) Option {
	return func(inv *Invoker) {
		inv.metrics = m
	}
}

// WithClock overrides the time source for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(inv *Invoker) {
		if now != nil {
			inv.now = now
		}
	}
}

// New returns an Invoker dispatching through transports.
func New(transports catalog.TransportResolver, opts ...Option) *Invoker {
	inv := &Invoker{
		transports: transports,
		timeout:    defaultTimeout,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(defaultRetries + 1).
			WithInitialDelay(defaultBackoff).
			WithMaxDelay(defaultMaxBackoff),
		breakers: resilience.NewBreakerSet(resilience.CircuitBreakerConfig{}),
		now:      time.Now,
		logger:   slog.Default(),
		tracer:   otel.Tracer("meshwork/invoker"),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Breaker returns the circuit breaker guarding service.
func (inv *Invoker) Breaker(service string) *resilience.CircuitBreaker {
	return inv.breakers.Get(service)
}

// Invoke runs call and reports the outcome. Application failures are
// never retried; transient ones are retried with backoff until the retry
// budget, the breaker or ctx stops them.
func (inv *Invoker) Invoke(ctx context.Context, call Call) (res plan.StepResult) {
	res = plan.StepResult{
		Step:      call.Step,
		Service:   call.Service,
		Operation: call.Operation,
		Args:      call.Args,
		StartedAt: inv.now(),
	}
	ctx, span := inv.tracer.Start(ctx, "invoker.invoke",
		trace.WithAttributes(telemetry.InvokeAttributes(call.Service, call.Operation, call.Step)...),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := errors.New(errors.CodeInternal, "panic during invocation", fmt.Errorf("%v", r))
			res = inv.finish(ctx, span, res, nil, err)
		}
	}()

	t, err := inv.transports.For(call.Endpoint.Transport, call.Endpoint.Address)
	if err != nil {
		return inv.finish(ctx, span, res, nil, err)
	}

	breaker := inv.breakers.Get(call.Service)
	var resp *transport.InvokeResponse
	retry := inv.retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
		inv.metrics.RecordRetry(ctx, call.Service)
		span.AddEvent("invoker.retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("delay", delay.String()),
		))
		inv.logger.WarnContext(ctx, "invoker.retry",
			slog.String("service", call.Service),
			slog.String("operation", call.Operation),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if inv.onRetry != nil {
			inv.onRetry(attempt, delay, err)
		}
	})
	res.Attempts, err = retry.Do(ctx, func(attempt int) error {
		if err := breaker.Allow(); err != nil {
			return err
		}
		r, err := inv.attempt(ctx, t, call)
		// An attempt cut short by the caller says nothing about the service.
		if err == nil || ctx.Err() == nil {
			breaker.Record(!errors.IsRecoverable(err))
		}
		inv.metrics.RecordBreakerState(ctx, call.Service, breakerState(breaker.State()))
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	return inv.finish(ctx, span, res, resp, err)
}

func (inv *Invoker) attempt(ctx context.Context, t transport.Transport, call Call) (*transport.InvokeResponse, error) {
	var resp *transport.InvokeResponse
	err := resilience.WithTimeout(ctx, inv.timeout, func(actx context.Context) error {
		var err error
		resp, err = t.Invoke(actx, call.Endpoint.Address, transport.InvokeRequest{
			OperationName: call.Operation,
			Arguments:     call.Args,
		})
		return err
	})
	switch {
	case err != nil:
		return nil, err
	case resp == nil:
		return nil, transport.Application("service returned no response", nil).
			WithContext("operation", call.Operation)
	case !resp.OK():
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "operation failed with status " + resp.Status
		}
		return nil, transport.Application(msg, nil).
			WithContext("operation", call.Operation).
			WithContext("service", call.Service)
	}
	return resp, nil
}

func (inv *Invoker) finish(ctx context.Context, span trace.Span, res plan.StepResult, resp *transport.InvokeResponse, err error) plan.StepResult {
	res.FinishedAt = inv.now()
	durationMs := float64(res.Duration().Microseconds()) / 1000
	span.SetAttributes(attribute.Int("attempts", res.Attempts))

	if err != nil {
		res.Status = plan.StatusFailed
		res.Error = plan.NewStepError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		inv.metrics.RecordStep(ctx, res.Service, res.Operation, string(res.Status), durationMs)
		inv.metrics.RecordError(ctx, err, "invoker")
		inv.logger.WarnContext(ctx, "invoker.call.failed",
			slog.Int("step", res.Step),
			slog.String("service", res.Service),
			slog.String("operation", res.Operation),
			slog.Int("attempts", res.Attempts),
			slog.String("code", string(res.Error.Code)),
			slog.String("error", res.Error.Message),
		)
		return res
	}

	res.Status = plan.StatusSuccess
	res.Output = plan.Output{Text: transport.PayloadText(resp.Payload)}
	if _, isText := resp.Payload.(string); !isText {
		res.Output.Data = resp.Payload
	}
	inv.metrics.RecordStep(ctx, res.Service, res.Operation, string(res.Status), durationMs)
	inv.logger.DebugContext(ctx, "invoker.call.completed",
		slog.Int("step", res.Step),
		slog.String("service", res.Service),
		slog.String("operation", res.Operation),
		slog.Int("attempts", res.Attempts),
		slog.Float64("duration_ms", durationMs),
	)
	return res
}

func breakerState(s resilience.CircuitBreakerState) int64 {
	switch s {
	case resilience.StateOpen:
		return 0
	case resilience.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
