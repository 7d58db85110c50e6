// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package resolver turns request text into an executable plan against a
// catalog snapshot. Text is split into action clauses, each clause picks
// its best-ranked operation, and a SlotFiller binds arguments. Identifier
// arguments a clause does not mention are bound to shared context or to
// an earlier step; anything still unbound stays an explicit placeholder.
package resolver

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/plan"
	"github.com/jllopis/meshwork/pkg/telemetry"
)

// DefaultMinConfidence is the lowest Lookup confidence accepted for a clause.
const DefaultMinConfidence = 0.5

// creationVerbs start the names of operations that produce new entities.
var creationVerbs = map[string]struct{}{
	"schedule": {}, "create": {}, "order": {}, "generate": {}, "submit": {},
	"setup": {}, "add": {}, "process": {}, "book": {},
}

// Resolver maps request text to plans. It holds no per-request state and
// is safe for concurrent use.
type Resolver struct {
	filler        SlotFiller
	minConfidence float64
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSlotFiller replaces the heuristic argument extractor.
func WithSlotFiller(f SlotFiller) Option {
	return func(r *Resolver) {
		if f != nil {
			r.filler = f
		}
	}
}

// WithMinConfidence sets the confidence threshold for clause matches.
func WithMinConfidence(c float64) Option {
	return func(r *Resolver) {
		if c > 0 {
			r.minConfidence = c
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns a Resolver using the Heuristic slot filler by default.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		filler:        Heuristic{},
		minConfidence: DefaultMinConfidence,
		logger:        slog.Default(),
		tracer:        otel.Tracer("meshwork/resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve builds a plan for text against c. When required arguments stay
// unbound the plan is returned together with a MISSING_ARGUMENT error
// naming them; callers must not execute such a plan. A clause that
// matches no operation well enough fails the whole request with
// UNRESOLVABLE_INTENT.
func (r *Resolver) Resolve(ctx context.Context, text string, c *catalog.Catalog) (*plan.Plan, error) {
	text = strings.TrimSpace(text)
	ctx, span := r.tracer.Start(ctx, "resolver.resolve",
		trace.WithAttributes(telemetry.QueryAttributes(telemetry.QueryIDFromContext(ctx), text)...),
	)
	defer span.End()

	p, err := r.resolve(ctx, text, c)
	if p != nil {
		span.SetAttributes(telemetry.PlanAttributes(p.ID, len(p.Steps), "")...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.DebugContext(ctx, "resolver.resolve.failed",
			slog.String("code", string(errors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
	}
	return p, err
}

func (r *Resolver) resolve(ctx context.Context, text string, c *catalog.Catalog) (*plan.Plan, error) {
	if text == "" {
		return nil, errors.New(errors.CodeInvalidInput, "empty request", nil)
	}
	if c == nil || c.Len() == 0 {
		return nil, errors.New(errors.CodeUnresolvableIntent, "catalog is empty", nil).
			WithContext("clause", text)
	}

	shared, clauses := r.splitClauses(text, c)
	if len(clauses) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "request has no actionable clause", nil)
	}
	r.logger.DebugContext(ctx, "resolver.clauses",
		slog.String("shared", shared),
		slog.Int("clauses", len(clauses)),
	)

	steps := make([]plan.Step, 0, len(clauses))
	for i, clause := range clauses {
		op, err := r.pick(clause, i, c)
		if err != nil {
			return nil, err
		}
		steps = append(steps, r.bind(i, clause, shared, op, steps))
		trace.SpanFromContext(ctx).AddEvent("resolver.clause", trace.WithAttributes(
			attribute.Int("clause.index", i),
			attribute.String("operation", op.Ref().String()),
		))
	}

	p, err := plan.New(text, steps)
	if err != nil {
		return nil, err
	}
	if err := p.MissingArguments(); err != nil {
		return p, err
	}
	return p, nil
}

func (r *Resolver) pick(clause string, index int, c *catalog.Catalog) (catalog.Operation, error) {
	matches := c.Lookup(clause)
	if len(matches) == 0 || matches[0].Confidence < r.minConfidence {
		e := errors.New(errors.CodeUnresolvableIntent, "no operation matches clause: "+clause, nil).
			WithContext("clause", clause).
			WithContext("index", index)
		if len(matches) > 0 {
			e.WithContext("best", matches[0].Operation.Ref().String()).
				WithContext("confidence", matches[0].Confidence)
		}
		return catalog.Operation{}, e
	}
	return matches[0].Operation, nil
}

// bind fills op's arguments for clause. Values the filler extracts win;
// identifiers fall back to the most recent earlier step that carries or
// produces them; required parameters left over become placeholders.
func (r *Resolver) bind(index int, clause, shared string, op catalog.Operation, earlier []plan.Step) plan.Step {
	values := r.filler.Fill(clause, shared, op)
	args := make(map[string]plan.Argument, len(op.Parameters))
	for _, p := range op.Parameters {
		if v, ok := values[p.Name]; ok {
			args[p.Name] = plan.Literal(v)
			continue
		}
		if isIDParam(p.Name) {
			if ref, ok := reference(p.Name, earlier); ok {
				args[p.Name] = ref
				continue
			}
		}
		if p.Required {
			args[p.Name] = plan.Missing()
		}
	}
	return plan.Step{
		Index:     index,
		Clause:    clause,
		Service:   op.ServiceID,
		Operation: op.Name,
		Args:      args,
	}
}

func reference(param string, earlier []plan.Step) (plan.Argument, bool) {
	for i := len(earlier) - 1; i >= 0; i-- {
		s := earlier[i]
		if a, ok := s.Args[param]; ok && !a.Missing {
			return plan.Ref(s.Index, param), true
		}
		if produces(s.Operation, param) {
			return plan.Ref(s.Index, param), true
		}
	}
	return plan.Argument{}, false
}

// produces reports whether an operation named like "orderLabTests"
// creates the entity an identifier parameter such as "labOrderId" names.
func produces(operation, param string) bool {
	words := nameWords(operation)
	if len(words) == 0 {
		return false
	}
	if _, ok := creationVerbs[words[0]]; !ok {
		return false
	}
	have := make(map[string]struct{}, len(words))
	for _, w := range words {
		have[catalog.Normalize(w)] = struct{}{}
	}
	entity := nameWords(strings.TrimSuffix(param, "Id"))
	if len(entity) == 0 {
		return false
	}
	for _, w := range entity {
		if _, ok := have[catalog.Normalize(w)]; !ok {
			return false
		}
	}
	return true
}
