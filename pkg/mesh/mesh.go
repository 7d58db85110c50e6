// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package mesh is the entry point of the capability mesh. A Mesh resolves
// free-text queries against the current catalog snapshot and executes the
// resulting plans, either directly through the invoker (ProcessQuery on a
// one-step plan) or through the pipeline engine.
package mesh

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/discovery"
	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/invoker"
	"github.com/jllopis/meshwork/pkg/pipeline"
	"github.com/jllopis/meshwork/pkg/plan"
	"github.com/jllopis/meshwork/pkg/resolver"
	"github.com/jllopis/meshwork/pkg/telemetry"
)

// Entry points, as reported in metrics and spans.
const (
	EntryProcessQuery = "process_query"
	EntryPipeline     = "pipeline"
	EntryPlan         = "plan"
)

// Mesh composes the registry, resolver, invoker and pipeline engine. It
// holds no per-query state; every query pins one catalog snapshot.
type Mesh struct {
	registry   *catalog.Registry
	resolver   *resolver.Resolver
	invoker    *invoker.Invoker
	engine     *pipeline.Engine
	transports catalog.TransportResolver
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *telemetry.MeshMetrics

	mu       sync.Mutex
	services *config.Config
	closers  []io.Closer
}

// Option configures a Mesh.
type Option func(*Mesh) error

// WithResolver replaces the default resolver.
func WithResolver(r *resolver.Resolver) Option {
	return func(m *Mesh) error {
		if r == nil {
			return errors.New(errors.CodeInvalidInput, "resolver is nil", nil)
		}
		m.resolver = r
		return nil
	}
}

// WithEngine replaces the default pipeline engine.
func WithEngine(e *pipeline.Engine) Option {
	return func(m *Mesh) error {
		if e == nil {
			return errors.New(errors.CodeInvalidInput, "engine is nil", nil)
		}
		m.engine = e
		return nil
	}
}

// WithTransports lets Health probe services directly.
func WithTransports(t catalog.TransportResolver) Option {
	return func(m *Mesh) error {
		m.transports = t
		return nil
	}
}

// WithLogger sets the mesh logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mesh) error {
		if logger != nil {
			m.logger = logger
		}
		return nil
	}
}

// WithMetrics records query metrics.
func WithMetrics(metrics *telemetry.MeshMetrics) Option {
	return func(m *Mesh) error {
		m.metrics = metrics
		return nil
	}
}

// WithCloser registers a resource released by Close.
func WithCloser(c io.Closer) Option {
	return func(m *Mesh) error {
		if c != nil {
			m.closers = append(m.closers, c)
		}
		return nil
	}
}

// New returns a Mesh over registry dispatching calls through inv. Without
// WithEngine the engine uses default settings over inv.
func New(registry *catalog.Registry, inv *invoker.Invoker, opts ...Option) (*Mesh, error) {
	if registry == nil {
		return nil, errors.New(errors.CodeInvalidInput, "registry is nil", nil)
	}
	if inv == nil {
		return nil, errors.New(errors.CodeInvalidInput, "invoker is nil", nil)
	}
	m := &Mesh{
		registry: registry,
		invoker:  inv,
		logger:   slog.Default(),
		tracer:   otel.Tracer("meshwork/mesh"),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.resolver == nil {
		m.resolver = resolver.New(resolver.WithLogger(m.logger))
	}
	if m.engine == nil {
		m.engine = pipeline.New(inv, pipeline.WithLogger(m.logger), pipeline.WithMetrics(m.metrics))
	}
	return m, nil
}

// Registry returns the registry backing the mesh.
func (m *Mesh) Registry() *catalog.Registry { return m.registry }

// Catalog returns the current catalog snapshot.
func (m *Mesh) Catalog() *catalog.Catalog { return m.registry.Snapshot() }

// TraceStore returns the engine's trace store, possibly nil.
func (m *Mesh) TraceStore() pipeline.TraceStore { return m.engine.TraceStore() }

// Resolve turns text into a plan without executing it. A plan with
// missing arguments is returned together with the MISSING_ARGUMENT error.
func (m *Mesh) Resolve(ctx context.Context, text string) (*plan.Plan, error) {
	return m.resolver.Resolve(ctx, text, m.registry.Snapshot())
}

// ProcessQuery resolves text and executes it. One-step plans are invoked
// directly; longer plans run through the engine. Resolution failures
// return a failed result together with the error; execution failures are
// reported in the result only.
func (m *Mesh) ProcessQuery(ctx context.Context, text string) (*QueryResult, error) {
	ctx, span, queryID := m.start(ctx, EntryProcessQuery, text)
	defer span.End()

	cat := m.registry.Snapshot()
	p, err := m.resolver.Resolve(ctx, text, cat)
	if err != nil {
		m.failed(ctx, span, EntryProcessQuery, err)
		return failedQuery(queryID, p, err), err
	}

	var res *pipeline.Result
	if len(p.Steps) == 1 {
		res = m.invokeSingle(ctx, p, cat)
	} else {
		res = m.engine.Execute(ctx, p, cat)
	}
	m.finished(ctx, span, EntryProcessQuery, res)
	return newQueryResult(queryID, p, res), nil
}

// PipeLineMesh resolves text and always executes it through the engine so
// that every query leaves a uniform trace.
func (m *Mesh) PipeLineMesh(ctx context.Context, text string) (*PipelineResult, error) {
	ctx, span, queryID := m.start(ctx, EntryPipeline, text)
	defer span.End()

	cat := m.registry.Snapshot()
	p, err := m.resolver.Resolve(ctx, text, cat)
	if err != nil {
		m.failed(ctx, span, EntryPipeline, err)
		return failedPipeline(queryID, p, err), err
	}
	res := m.engine.Execute(ctx, p, cat)
	m.finished(ctx, span, EntryPipeline, res)
	return newPipelineResult(queryID, p, res), nil
}

// ExecutePlan runs an explicit plan through the engine. Invalid plans
// come back as aborted results carrying INVALID_PLAN.
func (m *Mesh) ExecutePlan(ctx context.Context, p *plan.Plan) (*PipelineResult, error) {
	query := ""
	if p != nil {
		query = p.Query
	}
	ctx, span, queryID := m.start(ctx, EntryPlan, query)
	defer span.End()

	res := m.engine.Execute(ctx, p, m.registry.Snapshot())
	m.finished(ctx, span, EntryPlan, res)
	return newPipelineResult(queryID, p, res), nil
}

// invokeSingle calls the only step of p without the engine, bounded by
// the engine's query timeout. The result has the same shape the engine
// would produce.
func (m *Mesh) invokeSingle(ctx context.Context, p *plan.Plan, cat *catalog.Catalog) *pipeline.Result {
	res := &pipeline.Result{
		RunID:  uuid.NewString(),
		PlanID: p.ID,
		Query:  p.Query,
		State:  pipeline.StateCompleted,
	}
	if err := p.ValidateAgainst(cat); err != nil {
		res.State = pipeline.StateAborted
		res.Failure = plan.NewStepError(err)
		return res
	}
	step := p.Steps[0]
	args := make(map[string]interface{}, len(step.Args))
	for name, arg := range step.Args {
		args[name] = arg.Value
	}
	limit := m.engine.QueryTimeout()
	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	op, _ := cat.Operation(step.OperationRef())
	r := m.invoker.Invoke(ctx, invoker.NewCall(step.Index, op, args))
	res.Steps = []plan.StepResult{r}
	res.StartedAt, res.FinishedAt = r.StartedAt, r.FinishedAt
	if !r.Succeeded() {
		res.State = pipeline.StateAborted
		res.Failure, res.FailedStep = r.Error, &r.Step
		if err := ctx.Err(); err != nil {
			res.Failure = plan.NewStepError(pipeline.TimeoutError(err, limit, 0))
		}
	}
	return res
}

func (m *Mesh) start(ctx context.Context, entry, text string) (context.Context, trace.Span, string) {
	queryID := telemetry.QueryIDFromContext(ctx)
	if queryID == "" {
		queryID = uuid.NewString()
		ctx = telemetry.WithQueryID(ctx, queryID)
	}
	ctx, span := m.tracer.Start(ctx, "mesh."+entry,
		trace.WithAttributes(telemetry.QueryAttributes(queryID, text)...),
	)
	m.logger.InfoContext(ctx, "mesh.query.start",
		slog.String("entry", entry),
		slog.String("query", text),
	)
	return ctx, span, queryID
}

func (m *Mesh) failed(ctx context.Context, span trace.Span, entry string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.metrics.RecordQuery(ctx, entry, pipeline.StatusFailed)
	m.metrics.RecordError(ctx, err, "resolver")
	m.logger.WarnContext(ctx, "mesh.query.unresolved",
		slog.String("entry", entry),
		slog.String("code", string(errors.CodeOf(err))),
		slog.String("error", err.Error()),
	)
}

func (m *Mesh) finished(ctx context.Context, span trace.Span, entry string, res *pipeline.Result) {
	status := res.Status()
	span.SetAttributes(telemetry.PlanAttributes(res.PlanID, len(res.Steps), status)...)
	if err := res.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	m.metrics.RecordQuery(ctx, entry, status)
	m.logger.InfoContext(ctx, "mesh.query.completed",
		slog.String("entry", entry),
		slog.String("run_id", res.RunID),
		slog.String("status", status),
		slog.Int("steps", len(res.Steps)),
	)
}

// Reconcile applies the services section of cfg: new or changed services
// are (re)registered and services no longer listed are deregistered. It
// is the config watcher callback.
func (m *Mesh) Reconcile(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	m.mu.Lock()
	prev := m.services
	m.services = cfg
	m.mu.Unlock()

	changed, removed := config.ServiceChanges(prev, cfg)
	for _, id := range removed {
		if m.registry.Deregister(id) {
			m.logger.InfoContext(ctx, "mesh.service.removed", slog.String("service", id))
		}
	}
	endpoints := make([]catalog.Endpoint, 0, len(changed))
	for _, id := range changed {
		svc := cfg.Services[id]
		endpoints = append(endpoints, discovery.ServiceEndpoint{
			ID:        id,
			Address:   svc.Address,
			Transport: svc.Transport,
		}.CatalogEndpoint())
	}
	if len(endpoints) == 0 {
		return nil
	}
	err := m.registry.RegisterAll(ctx, endpoints)
	if err != nil {
		m.logger.WarnContext(ctx, "mesh.reconcile.failed", slog.String("error", err.Error()))
	}
	return err
}

// Watch reconciles services whenever w reloads the configuration.
func (m *Mesh) Watch(ctx context.Context, w *config.Watcher) {
	m.mu.Lock()
	if m.services == nil {
		m.services = w.Config()
	}
	m.mu.Unlock()
	w.OnChange(func(cfg *config.Config) {
		_ = m.Reconcile(ctx, cfg)
	})
}

// Close releases transports, trace stores and background tasks opened
// for the mesh, in reverse order.
func (m *Mesh) Close() error {
	m.mu.Lock()
	closers := m.closers
	m.closers = nil
	m.mu.Unlock()
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
