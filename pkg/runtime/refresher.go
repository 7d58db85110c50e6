// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime runs the mesh's background work: scheduled catalog
// refreshes driven by a cron expression.
package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/telemetry"
)

// CatalogRefresher re-discovers every registered service.
// *catalog.Registry implements it.
type CatalogRefresher interface {
	RefreshAll(ctx context.Context) error
}

// Refresher calls RefreshAll on a cron schedule. Runs never overlap: a
// tick that fires while a refresh is still running is skipped.
type Refresher struct {
	target   CatalogRefresher
	schedule string
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *telemetry.MeshMetrics

	mu      sync.Mutex
	cron    *cron.Cron
	running sync.Mutex
	runs    int
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefreshTimeout bounds each refresh run.
func WithRefreshTimeout(d time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.timeout = d
	}
}

// WithRefreshLogger sets the logger.
func WithRefreshLogger(logger *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRefreshMetrics records refresh failures.
func WithRefreshMetrics(m *telemetry.MeshMetrics) RefresherOption {
	return func(r *Refresher) {
		r.metrics = m
	}
}

// NewRefresher validates schedule and returns a stopped refresher.
// Schedules use the standard five-field cron syntax and descriptors such
// as "@every 5m".
func NewRefresher(target CatalogRefresher, schedule string, opts ...RefresherOption) (*Refresher, error) {
	if target == nil {
		return nil, errors.New(errors.CodeInvalidInput, "refresh target is nil", nil)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid refresh schedule", err).
			WithContext("schedule", schedule)
	}
	r := &Refresher{
		target:   target,
		schedule: schedule,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start begins scheduling refreshes. Starting twice is a no-op.
func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.Run(context.Background()) }); err != nil {
		return errors.New(errors.CodeInvalidInput, "invalid refresh schedule", err).
			WithContext("schedule", r.schedule)
	}
	c.Start()
	r.cron = c
	r.logger.Info("runtime.refresher.start", slog.String("schedule", r.schedule))
	return nil
}

// Stop halts scheduling and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	r.logger.Info("runtime.refresher.stop")
}

// Runs returns how many refreshes have completed.
func (r *Refresher) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Run performs one refresh now unless another is in progress. It reports
// whether a refresh ran.
func (r *Refresher) Run(ctx context.Context) bool {
	if !r.running.TryLock() {
		r.logger.Debug("runtime.refresh.skipped")
		return false
	}
	defer r.running.Unlock()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	ctx, span := otel.Tracer("meshwork/runtime").Start(ctx, "runtime.catalog.refresh",
		trace.WithAttributes(
			attribute.String("schedule", r.schedule),
			attribute.String("timeout", r.timeout.String()),
		),
	)
	defer span.End()

	start := time.Now()
	err := r.target.RefreshAll(ctx)
	durationMs := float64(time.Since(start).Milliseconds())

	r.mu.Lock()
	r.runs++
	r.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		r.metrics.RecordError(ctx, err, "runtime")
		r.logger.WarnContext(ctx, "runtime.refresh.error",
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return true
	}
	r.logger.InfoContext(ctx, "runtime.refresh.complete",
		slog.Float64("duration_ms", durationMs),
	)
	return true
}
