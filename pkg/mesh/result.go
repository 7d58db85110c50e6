// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"fmt"
	"strings"

	"github.com/jllopis/meshwork/pkg/pipeline"
	"github.com/jllopis/meshwork/pkg/plan"
)

// QueryResult is what ProcessQuery returns: a status and one labeled text
// section per executed step.
type QueryResult struct {
	QueryID  string             `json:"queryId"`
	Status   string             `json:"status"`
	Sections []pipeline.Section `json:"sections"`
	Error    *plan.StepError    `json:"error,omitempty"`
	Plan     *plan.Plan         `json:"plan,omitempty"`

	// Result is the underlying run, nil when resolution failed.
	Result *pipeline.Result `json:"-"`
}

// Text renders the sections, or the error when nothing ran.
func (r *QueryResult) Text() string {
	if r.Result != nil {
		return r.Result.Text()
	}
	var b strings.Builder
	for i, s := range r.Sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== %s ===\n%s", s.StepLabel, s.Text)
	}
	return b.String()
}

// PipelineResult is what PipeLineMesh and ExecutePlan return: a status and
// the ordered trace of step results.
type PipelineResult struct {
	QueryID    string            `json:"queryId"`
	RunID      string            `json:"runId,omitempty"`
	Status     string            `json:"status"`
	State      pipeline.State    `json:"state,omitempty"`
	Trace      []plan.StepResult `json:"trace"`
	Error      *plan.StepError   `json:"error,omitempty"`
	FailedStep *int              `json:"failedStep,omitempty"`
	Plan       *plan.Plan        `json:"plan,omitempty"`

	Result *pipeline.Result `json:"-"`
}

func newQueryResult(queryID string, p *plan.Plan, res *pipeline.Result) *QueryResult {
	return &QueryResult{
		QueryID:  queryID,
		Status:   res.Status(),
		Sections: res.Sections(),
		Error:    res.Failure,
		Plan:     p,
		Result:   res,
	}
}

func newPipelineResult(queryID string, p *plan.Plan, res *pipeline.Result) *PipelineResult {
	trace := res.Steps
	if trace == nil {
		trace = []plan.StepResult{}
	}
	return &PipelineResult{
		QueryID:    queryID,
		RunID:      res.RunID,
		Status:     res.Status(),
		State:      res.State,
		Trace:      trace,
		Error:      res.Failure,
		FailedStep: res.FailedStep,
		Plan:       p,
		Result:     res,
	}
}

func failedQuery(queryID string, p *plan.Plan, err error) *QueryResult {
	se := plan.NewStepError(err)
	return &QueryResult{
		QueryID: queryID,
		Status:  pipeline.StatusFailed,
		Sections: []pipeline.Section{{
			StepLabel: "Resolution",
			Text:      fmt.Sprintf("Error [%s]: %s", se.Code, se.Message),
		}},
		Error: se,
		Plan:  p,
	}
}

func failedPipeline(queryID string, p *plan.Plan, err error) *PipelineResult {
	return &PipelineResult{
		QueryID: queryID,
		Status:  pipeline.StatusFailed,
		State:   pipeline.StateAborted,
		Trace:   []plan.StepResult{},
		Error:   plan.NewStepError(err),
		Plan:    p,
	}
}
