// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/plan"
)

// State is the final state of a pipeline run.
type State string

const (
	// StateCompleted means every step that could run did run.
	StateCompleted State = "completed"
	// StateAborted means the run stopped early: fail-fast, timeout or an
	// invalid plan.
	StateAborted State = "aborted"
)

// Result statuses as reported to callers.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Result is the outcome of one pipeline run. Steps holds the results of
// every step that finished, ordered by step index.
type Result struct {
	RunID      string            `json:"run_id"`
	PlanID     string            `json:"plan_id,omitempty"`
	Query      string            `json:"query,omitempty"`
	State      State             `json:"state"`
	Steps      []plan.StepResult `json:"trace"`
	Failure    *plan.StepError   `json:"failure,omitempty"`
	FailedStep *int              `json:"failed_step,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Section is one rendered step of a result.
type Section struct {
	StepLabel string `json:"stepLabel"`
	Text      string `json:"text"`
}

// OK reports whether the run completed without any failed step.
func (r *Result) OK() bool {
	if r == nil || r.State != StateCompleted || r.Failure != nil {
		return false
	}
	for _, s := range r.Steps {
		if !s.Succeeded() {
			return false
		}
	}
	return true
}

// Status summarizes the run: success, partial when some steps succeeded
// and others failed, failed otherwise.
func (r *Result) Status() string {
	if r.OK() {
		return StatusSuccess
	}
	for _, s := range r.Steps {
		if s.Succeeded() {
			return StatusPartial
		}
	}
	return StatusFailed
}

// Err returns the run's first failure as a *errors.MeshError, or nil.
func (r *Result) Err() error {
	if r == nil || r.Failure == nil {
		return nil
	}
	e := errors.New(r.Failure.Code, r.Failure.Message, nil).WithContext("run_id", r.RunID)
	if r.FailedStep != nil {
		e.WithContext("step", *r.FailedStep)
	}
	return e
}

// Step returns the result of the step at index, if it finished.
func (r *Result) Step(index int) (plan.StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == index {
			return s, true
		}
	}
	return plan.StepResult{}, false
}

// Sections renders each finished step as a labeled text block.
func (r *Result) Sections() []Section {
	out := make([]Section, 0, len(r.Steps))
	for _, s := range r.Steps {
		text := s.Output.Text
		if !s.Succeeded() && s.Error != nil {
			text = fmt.Sprintf("Error [%s]: %s", s.Error.Code, s.Error.Message)
		}
		out = append(out, Section{StepLabel: StepLabel(s), Text: text})
	}
	return out
}

// Text joins the sections into one document.
func (r *Result) Text() string {
	var b strings.Builder
	for i, sec := range r.Sections() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("=== ")
		b.WriteString(sec.StepLabel)
		b.WriteString(" ===\n")
		b.WriteString(sec.Text)
	}
	if r.Failure != nil && (r.State == StateAborted || len(r.Steps) == 0) {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Pipeline %s [%s]: %s", r.State, r.Failure.Code, r.Failure.Message)
	}
	return b.String()
}

// Map returns the finished step results keyed by step index.
func (r *Result) Map() map[int]plan.StepResult {
	out := make(map[int]plan.StepResult, len(r.Steps))
	for _, s := range r.Steps {
		out[s.Step] = s
	}
	return out
}

// StepLabel names a step result for display: "Step 1: billing.generateInvoice".
func StepLabel(s plan.StepResult) string {
	return fmt.Sprintf("Step %d: %s.%s", s.Step+1, s.Service, s.Operation)
}
