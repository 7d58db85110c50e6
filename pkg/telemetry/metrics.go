// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/meshwork/pkg/errors"
)

// MeshMetrics records query, invocation and discovery metrics. A nil
// *MeshMetrics is valid and records nothing.
type MeshMetrics struct {
	queries       metric.Int64Counter
	steps         metric.Int64Counter
	retries       metric.Int64Counter
	invokeLatency metric.Float64Histogram
	discoveries   metric.Int64Counter
	errorCounter  metric.Int64Counter
	breakerState  metric.Int64Gauge
}

// NewMeshMetrics creates the mesh instruments on the global meter provider.
func NewMeshMetrics() (*MeshMetrics, error) {
	meter := otel.Meter("meshwork")

	queries, err := meter.Int64Counter(
		"meshwork.queries.total",
		metric.WithDescription("Queries processed by entry point and status"),
	)
	if err != nil {
		return nil, err
	}
	steps, err := meter.Int64Counter(
		"meshwork.steps.total",
		metric.WithDescription("Pipeline steps by service, operation and status"),
	)
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter(
		"meshwork.invoke.retries",
		metric.WithDescription("Retries after transient transport failures"),
	)
	if err != nil {
		return nil, err
	}
	invokeLatency, err := meter.Float64Histogram(
		"meshwork.invoke.duration",
		metric.WithDescription("Invocation latency including retries"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	discoveries, err := meter.Int64Counter(
		"meshwork.discovery.total",
		metric.WithDescription("Service discovery calls by service and result"),
	)
	if err != nil {
		return nil, err
	}
	errorCounter, err := meter.Int64Counter(
		"meshwork.errors.total",
		metric.WithDescription("Errors by code and component"),
	)
	if err != nil {
		return nil, err
	}
	breakerState, err := meter.Int64Gauge(
		"meshwork.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per service (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &MeshMetrics{
		queries:       queries,
		steps:         steps,
		retries:       retries,
		invokeLatency: invokeLatency,
		discoveries:   discoveries,
		errorCounter:  errorCounter,
		breakerState:  breakerState,
	}, nil
}

// RecordQuery counts one query for entry ("process" or "pipeline").
func (m *MeshMetrics) RecordQuery(ctx context.Context, entry, status string) {
	if m == nil {
		return
	}
	m.queries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entry", entry),
		attribute.String("status", status),
	))
}

// RecordStep counts one finished step and records its latency.
func (m *MeshMetrics) RecordStep(ctx context.Context, serviceID, operation, status string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrServiceID, serviceID),
		attribute.String(AttrOperationName, operation),
		attribute.String("status", status),
	)
	m.steps.Add(ctx, 1, attrs)
	m.invokeLatency.Record(ctx, durationMs, attrs)
}

// RecordRetry counts one retry against serviceID.
func (m *MeshMetrics) RecordRetry(ctx context.Context, serviceID string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrServiceID, serviceID)))
}

// RecordDiscovery counts one discovery call.
func (m *MeshMetrics) RecordDiscovery(ctx context.Context, serviceID string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.discoveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrServiceID, serviceID),
		attribute.String("result", result),
	))
}

// RecordError counts err under component, keyed by its mesh error code.
func (m *MeshMetrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	code := string(errors.CodeOf(err))
	if code == "" {
		code = "UNKNOWN"
	}
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.String("component", component),
		attribute.Bool("recoverable", errors.IsRecoverable(err)),
	))
}

// RecordBreakerState records a breaker state (0=open, 1=half-open, 2=closed).
func (m *MeshMetrics) RecordBreakerState(ctx context.Context, serviceID string, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String(AttrServiceID, serviceID)))
}
