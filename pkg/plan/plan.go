// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package plan holds the query-scoped execution model: a Plan is an ordered
// list of Steps whose arguments are literals, references to earlier steps'
// outputs, or explicit missing placeholders. Steps only ever reference
// steps with a strictly lower index, so every valid plan is a DAG.
package plan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/errors"
)

// Reference points at a field of an earlier step's output.
type Reference struct {
	Step  int    `json:"step" yaml:"step"`
	Field string `json:"field" yaml:"field"`
}

func (r Reference) String() string {
	return fmt.Sprintf("step[%d].%s", r.Step, r.Field)
}

// Argument is exactly one of a literal Value, a Ref or Missing.
type Argument struct {
	Value   interface{}
	Ref     *Reference
	Missing bool
}

// Literal returns a literal argument.
func Literal(v interface{}) Argument { return Argument{Value: v} }

// Ref returns an argument bound to field of step's output.
func Ref(step int, field string) Argument {
	return Argument{Ref: &Reference{Step: step, Field: field}}
}

// Missing returns a placeholder for a required argument nobody could bind.
func Missing() Argument { return Argument{Missing: true} }

// IsLiteral reports whether a carries a literal value.
func (a Argument) IsLiteral() bool { return a.Ref == nil && !a.Missing }

func (a Argument) String() string {
	switch {
	case a.Missing:
		return "<missing>"
	case a.Ref != nil:
		return "$" + a.Ref.String()
	default:
		return fmt.Sprint(a.Value)
	}
}

// Step is one resolved call.
type Step struct {
	Index     int                 `json:"index" yaml:"index"`
	Clause    string              `json:"clause,omitempty" yaml:"clause,omitempty"`
	Service   string              `json:"service" yaml:"service"`
	Operation string              `json:"operation" yaml:"operation"`
	Args      map[string]Argument `json:"args" yaml:"args"`
	DependsOn []int               `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// OperationRef returns the catalog identity of the step's operation.
func (s Step) OperationRef() catalog.OperationRef {
	return catalog.OperationRef{ServiceID: s.Service, Name: s.Operation}
}

// Dependencies returns the sorted, distinct steps s waits for: explicit
// DependsOn entries plus every referenced step.
func (s Step) Dependencies() []int {
	seen := map[int]struct{}{}
	for _, d := range s.DependsOn {
		seen[d] = struct{}{}
	}
	for _, arg := range s.Args {
		if arg.Ref != nil {
			seen[arg.Ref.Step] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// MissingParams returns the names of missing arguments, sorted.
func (s Step) MissingParams() []string {
	var out []string
	for name, arg := range s.Args {
		if arg.Missing {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Plan is an ordered set of steps produced for one query.
type Plan struct {
	ID                string    `json:"id" yaml:"id"`
	Query             string    `json:"query,omitempty" yaml:"query,omitempty"`
	Steps             []Step    `json:"steps" yaml:"steps"`
	ContinueOnFailure bool      `json:"continue_on_failure,omitempty" yaml:"continue_on_failure,omitempty"`
	CreatedAt         time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Option configures a plan built by New.
type Option func(*Plan)

// WithContinueOnFailure lets independent steps run after a failure.
func WithContinueOnFailure(enabled bool) Option {
	return func(p *Plan) { p.ContinueOnFailure = enabled }
}

// WithID overrides the generated plan id.
func WithID(id string) Option {
	return func(p *Plan) {
		if strings.TrimSpace(id) != "" {
			p.ID = id
		}
	}
}

// New builds a plan, numbering steps by position, and validates it.
func New(query string, steps []Step, opts ...Option) (*Plan, error) {
	p := &Plan{
		ID:        uuid.NewString(),
		Query:     query,
		Steps:     make([]Step, len(steps)),
		CreatedAt: time.Now().UTC(),
	}
	for i, s := range steps {
		s.Index = i
		if s.Args == nil {
			s.Args = map[string]Argument{}
		}
		p.Steps[i] = s
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the plan structure: indices match positions, every
// step names an operation and every reference or dependency points at a
// strictly earlier step.
func (p *Plan) Validate() error {
	if p == nil {
		return errors.New(errors.CodeInvalidPlan, "plan is nil", nil)
	}
	if len(p.Steps) == 0 {
		return errors.New(errors.CodeInvalidPlan, "plan has no steps", nil)
	}
	for i, s := range p.Steps {
		if s.Index != i {
			return invalid(i, fmt.Sprintf("step index %d does not match position %d", s.Index, i))
		}
		if strings.TrimSpace(s.Service) == "" || strings.TrimSpace(s.Operation) == "" {
			return invalid(i, "step must name a service and an operation")
		}
		for _, d := range s.DependsOn {
			if d < 0 || d >= i {
				return invalid(i, fmt.Sprintf("step %d depends on step %d; dependencies must precede the step", i, d))
			}
		}
		for name, arg := range s.Args {
			if arg.Ref == nil {
				continue
			}
			if arg.Ref.Step < 0 || arg.Ref.Step >= i {
				return invalid(i, fmt.Sprintf("argument %s references step %d; references must precede the step", name, arg.Ref.Step)).
					WithContext("parameter", name)
			}
			if strings.TrimSpace(arg.Ref.Field) == "" {
				return invalid(i, fmt.Sprintf("argument %s references step %d without a field", name, arg.Ref.Step)).
					WithContext("parameter", name)
			}
		}
	}
	return nil
}

// ValidateAgainst checks every step against the operations in c: the
// operation must exist, every argument must name a declared parameter,
// every required parameter must be bound (possibly as missing) and
// literal values must match the parameter type.
func (p *Plan) ValidateAgainst(c *catalog.Catalog) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for i, s := range p.Steps {
		op, ok := c.Operation(s.OperationRef())
		if !ok {
			return invalid(i, fmt.Sprintf("operation %s is not in the catalog", s.OperationRef())).
				WithContext("operation", s.OperationRef().String())
		}
		for name, arg := range s.Args {
			spec, ok := op.Param(name)
			if !ok {
				return invalid(i, fmt.Sprintf("operation %s has no parameter %q", op.Ref(), name)).
					WithContext("parameter", name)
			}
			if arg.IsLiteral() && !spec.Type.Accepts(arg.Value) {
				return invalid(i, fmt.Sprintf("parameter %q expects %s, got %T", name, spec.Type, arg.Value)).
					WithContext("parameter", name)
			}
		}
		for _, name := range op.RequiredParams() {
			if _, ok := s.Args[name]; !ok {
				return invalid(i, fmt.Sprintf("required parameter %q is not bound", name)).
					WithContext("parameter", name)
			}
		}
	}
	return nil
}

// MissingArguments returns a MissingArgument error naming every missing
// parameter in the plan, or nil when all are bound.
func (p *Plan) MissingArguments() error {
	var parts []string
	var params []string
	for _, s := range p.Steps {
		for _, name := range s.MissingParams() {
			parts = append(parts, fmt.Sprintf("%s (step %d, %s)", name, s.Index, s.Operation))
			params = append(params, name)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return errors.New(errors.CodeMissingArgument, "missing required arguments: "+strings.Join(parts, ", "), nil).
		WithContext("parameters", params)
}

// Dependents returns, for every step, the steps that depend on it.
func (p *Plan) Dependents() map[int][]int {
	out := make(map[int][]int, len(p.Steps))
	for _, s := range p.Steps {
		for _, d := range s.Dependencies() {
			out[d] = append(out[d], s.Index)
		}
	}
	return out
}

func invalid(step int, msg string) *errors.MeshError {
	return errors.New(errors.CodeInvalidPlan, msg, nil).WithContext("step", step)
}
