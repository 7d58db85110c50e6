// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"strings"
	"time"

	"github.com/jllopis/meshwork/pkg/errors"
)

// Status of a finished step.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Output is what a service returned: the human-readable text and, when
// the payload was structured, the decoded data.
type Output struct {
	Text string      `json:"text"`
	Data interface{} `json:"data,omitempty"`
}

// Field walks a dot-separated path through structured data.
func (o Output) Field(path string) (interface{}, bool) {
	cur := o.Data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

// StepError is the serializable form of a step failure.
type StepError struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// NewStepError captures err's code and message.
func NewStepError(err error) *StepError {
	if err == nil {
		return nil
	}
	me := errors.AsMeshError(err)
	msg := me.Message
	if me.Err != nil {
		msg += ": " + me.Err.Error()
	}
	return &StepError{Code: me.Code, Message: msg}
}

// StepResult is the immutable record of one executed (or skipped) step.
type StepResult struct {
	Step       int                    `json:"step"`
	Service    string                 `json:"service"`
	Operation  string                 `json:"operation"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Status     Status                 `json:"status"`
	Output     Output                 `json:"output"`
	Error      *StepError             `json:"error,omitempty"`
	Attempts   int                    `json:"attempts"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Succeeded reports whether the step completed successfully.
func (r StepResult) Succeeded() bool { return r.Status == StatusSuccess }

// Duration is the wall time between start and finish.
func (r StepResult) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Err rebuilds the failure as a *errors.MeshError, or nil on success.
func (r StepResult) Err() error {
	if r.Error == nil {
		return nil
	}
	return errors.New(r.Error.Code, r.Error.Message, nil).
		WithContext("step", r.Step).
		WithContext("operation", r.Operation)
}

// Failed builds a failed result for step that never produced output.
func Failed(step Step, args map[string]interface{}, err error, at time.Time) StepResult {
	return StepResult{
		Step:       step.Index,
		Service:    step.Service,
		Operation:  step.Operation,
		Args:       args,
		Status:     StatusFailed,
		Error:      NewStepError(err),
		StartedAt:  at,
		FinishedAt: at,
	}
}
