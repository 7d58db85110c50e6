// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline executes plans. Steps run as soon as the steps they
// depend on have succeeded, up to a bounded number at a time; references
// are resolved from earlier results just before dispatch. The engine is
// fail-fast unless the plan or the engine asks to continue on failure.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/invoker"
	"github.com/jllopis/meshwork/pkg/plan"
	"github.com/jllopis/meshwork/pkg/telemetry"
)

const (
	defaultMaxParallel  = 4
	defaultQueryTimeout = 60 * time.Second
)

// Invoker runs one bound call. *invoker.Invoker implements it.
type Invoker interface {
	Invoke(ctx context.Context, call invoker.Call) plan.StepResult
}

// Engine executes plans against a catalog snapshot.
type Engine struct {
	invoker           Invoker
	maxParallel       int
	queryTimeout      time.Duration
	continueOnFailure bool
	store             TraceStore
	now               func() time.Time
	logger            *slog.Logger
	tracer            trace.Tracer
	metrics           *telemetry.MeshMetrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxParallel bounds how many independent steps run at once.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithQueryTimeout bounds a whole run. Zero disables the bound.
func WithQueryTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.queryTimeout = d
		}
	}
}

// WithContinueOnFailure makes every run continue past failures, as if
// each plan set ContinueOnFailure.
func WithContinueOnFailure(enabled bool) Option {
	return func(e *Engine) {
		e.continueOnFailure = enabled
	}
}

// WithConfig applies the pipeline section of the mesh configuration.
func WithConfig(c config.PipelineConfig) Option {
	return func(e *Engine) {
		WithMaxParallel(c.MaxParallel)(e)
		WithQueryTimeout(c.QueryTimeout)(e)
		WithContinueOnFailure(c.ContinueOnFailure)(e)
	}
}

// WithTraceStore records every finished step in store.
func WithTraceStore(store TraceStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records error metrics for failed runs.
func WithMetrics(m *telemetry.MeshMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the time source for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New returns an Engine dispatching steps through inv.
func New(inv Invoker, opts ...Option) *Engine {
	e := &Engine{
		invoker:      inv,
		maxParallel:  defaultMaxParallel,
		queryTimeout: defaultQueryTimeout,
		now:          time.Now,
		logger:       slog.Default(),
		tracer:       otel.Tracer("meshwork/pipeline"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// QueryTimeout returns the bound applied to a whole run; zero means none.
func (e *Engine) QueryTimeout() time.Duration {
	return e.queryTimeout
}

// TraceStore returns the configured trace store, possibly nil.
func (e *Engine) TraceStore() TraceStore {
	return e.store
}

type stepState int

const (
	pending stepState = iota
	running
	finished
)

type outcome struct {
	index  int
	result plan.StepResult
}

// run is the mutable state of one Execute call.
type run struct {
	result  *Result
	plan    *plan.Plan
	catalog *catalog.Catalog
	states  []stepState
	results map[int]plan.StepResult
	done    chan outcome
	active  int
	stopped bool
}

// Execute runs p against c and always returns a result. The result is
// aborted when the plan is invalid, when a step fails in fail-fast mode
// or when the run exceeds its timeout; finished steps are kept either way.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan, c *catalog.Catalog) *Result {
	res := &Result{RunID: uuid.NewString(), State: StateCompleted, StartedAt: e.now()}
	if p != nil {
		res.PlanID, res.Query = p.ID, p.Query
	}
	ctx, span := e.tracer.Start(ctx, "pipeline.execute")
	defer span.End()

	if err := e.check(p, c); err != nil {
		e.abort(res, nil, err)
		res.FinishedAt = e.now()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res
	}
	span.SetAttributes(telemetry.PlanAttributes(p.ID, len(p.Steps), "")...)

	if e.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()
	}

	r := &run{
		result:  res,
		plan:    p,
		catalog: c,
		states:  make([]stepState, len(p.Steps)),
		results: make(map[int]plan.StepResult, len(p.Steps)),
		done:    make(chan outcome, len(p.Steps)),
	}
	continueOnFailure := e.continueOnFailure || p.ContinueOnFailure

	for {
		if !r.stopped && ctx.Err() == nil {
			e.dispatch(ctx, r)
		}
		if r.active == 0 {
			break
		}
		o := <-r.done
		r.active--
		e.finish(ctx, r, o.result)
		if !o.result.Succeeded() && !continueOnFailure && !r.stopped {
			r.stopped = true
			e.abort(res, &o.result, o.result.Err())
		}
	}

	if err := ctx.Err(); err != nil && (r.unfinished() > 0 || res.Failure != nil) {
		// Steps interrupted by the deadline report transport errors; the
		// run itself failed on time.
		res.Failure, res.FailedStep = nil, nil
		e.abort(res, nil, TimeoutError(err, e.queryTimeout, r.unfinished()))
	}
	if res.Failure == nil {
		for _, s := range r.ordered() {
			if !s.Succeeded() {
				res.Failure, res.FailedStep = s.Error, &s.Step
				break
			}
		}
	}
	res.Steps = r.ordered()
	res.FinishedAt = e.now()

	span.SetAttributes(telemetry.PlanAttributes(p.ID, len(p.Steps), res.Status())...)
	if res.Failure != nil {
		err := res.Err()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordError(ctx, err, "pipeline")
	}
	e.logger.InfoContext(ctx, "pipeline.run.finished",
		slog.String("run_id", res.RunID),
		slog.String("plan_id", res.PlanID),
		slog.String("state", string(res.State)),
		slog.String("status", res.Status()),
		slog.Int("steps", len(res.Steps)),
	)
	return res
}

func (e *Engine) check(p *plan.Plan, c *catalog.Catalog) error {
	if p == nil {
		return errors.New(errors.CodeInvalidPlan, "plan is nil", nil)
	}
	if c == nil {
		return errors.New(errors.CodeInvalidPlan, "catalog is nil", nil)
	}
	return p.ValidateAgainst(c)
}

// dispatch starts every pending step whose dependencies succeeded, in
// index order, while capacity remains. Steps whose dependencies failed
// are finished as aborted without being invoked.
func (e *Engine) dispatch(ctx context.Context, r *run) {
	for i, step := range r.plan.Steps {
		if r.active >= e.maxParallel {
			return
		}
		if r.states[i] != pending {
			continue
		}
		ready := true
		failedDep := -1
		deps := make(map[int]plan.StepResult)
		for _, d := range step.Dependencies() {
			dep, ok := r.results[d]
			if !ok {
				ready = false
				continue
			}
			if !dep.Succeeded() && failedDep < 0 {
				failedDep = d
			}
			deps[d] = dep
		}
		if failedDep >= 0 {
			err := errors.New(errors.CodeDependencyAborted,
				fmt.Sprintf("step %d failed", failedDep), nil).
				WithContext("dependency", failedDep)
			r.states[i] = finished
			e.finish(ctx, r, plan.Failed(step, nil, err, e.now()))
			continue
		}
		if !ready {
			continue
		}
		r.states[i] = running
		r.active++
		go func(step plan.Step, deps map[int]plan.StepResult) {
			r.done <- outcome{index: step.Index, result: e.runStep(ctx, r.catalog, step, deps)}
		}(step, deps)
	}
}

// runStep binds and invokes one step against the results of its
// dependencies, copied before the step was launched.
func (e *Engine) runStep(ctx context.Context, c *catalog.Catalog, step plan.Step, deps map[int]plan.StepResult) plan.StepResult {
	ctx, span := e.tracer.Start(ctx, "pipeline.step",
		trace.WithAttributes(telemetry.InvokeAttributes(step.Service, step.Operation, step.Index)...),
	)
	defer span.End()

	args, err := bindArgs(step, deps)
	if err != nil {
		span.RecordError(err)
		return plan.Failed(step, args, err, e.now())
	}
	op, _ := c.Operation(step.OperationRef())
	e.logger.DebugContext(ctx, "pipeline.step.started",
		slog.Int("step", step.Index),
		slog.String("operation", op.Ref().String()),
	)
	return e.invoker.Invoke(ctx, invoker.NewCall(step.Index, op, args))
}

func (e *Engine) finish(ctx context.Context, r *run, res plan.StepResult) {
	r.states[res.Step] = finished
	r.results[res.Step] = res
	level := slog.LevelInfo
	if !res.Succeeded() {
		level = slog.LevelWarn
	}
	attrs := []any{
		slog.String("run_id", r.result.RunID),
		slog.Int("step", res.Step),
		slog.String("operation", res.Service+"."+res.Operation),
		slog.String("status", string(res.Status)),
	}
	if res.Error != nil {
		attrs = append(attrs, slog.String("code", string(res.Error.Code)))
	}
	e.logger.Log(ctx, level, "pipeline.step.completed", attrs...)

	if e.store == nil {
		return
	}
	if err := e.store.Record(context.WithoutCancel(ctx), NewTraceEvent(r.result.RunID, r.plan, res)); err != nil {
		e.logger.WarnContext(ctx, "pipeline.trace.record_failed",
			slog.String("run_id", r.result.RunID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) abort(res *Result, failed *plan.StepResult, err error) {
	res.State = StateAborted
	if res.Failure != nil {
		return
	}
	res.Failure = plan.NewStepError(err)
	if failed != nil {
		step := failed.Step
		res.FailedStep = &step
	}
}

func (r *run) unfinished() int {
	n := 0
	for _, s := range r.states {
		if s != finished {
			n++
		}
	}
	return n
}

func (r *run) ordered() []plan.StepResult {
	out := make([]plan.StepResult, 0, len(r.results))
	for i := range r.plan.Steps {
		if res, ok := r.results[i]; ok {
			out = append(out, res)
		}
	}
	return out
}

// TimeoutError reports a run stopped by its deadline or by cancellation,
// with the number of steps it abandoned.
func TimeoutError(cause error, limit time.Duration, abandoned int) error {
	msg := "query cancelled"
	if stderrors.Is(cause, context.DeadlineExceeded) {
		msg = "query exceeded its timeout"
	}
	return errors.New(errors.CodeTimeout, msg, cause).
		WithContext("timeout", limit.String()).
		WithContext("abandoned", abandoned)
}
