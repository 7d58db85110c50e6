// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jllopis/meshwork/pkg/plan"
)

// TraceStore persists one event per finished step of every run.
type TraceStore interface {
	Record(ctx context.Context, event TraceEvent) error
	List(ctx context.Context, filter TraceFilter) ([]TraceEvent, error)
}

// TraceFilter limits trace queries. Zero fields match everything.
type TraceFilter struct {
	RunID  string
	PlanID string
	Status string
	Limit  int
}

// TraceEvent is the stored form of one step result.
type TraceEvent struct {
	RunID      string                 `json:"run_id"`
	PlanID     string                 `json:"plan_id"`
	Query      string                 `json:"query,omitempty"`
	Step       int                    `json:"step"`
	Service    string                 `json:"service"`
	Operation  string                 `json:"operation"`
	Status     string                 `json:"status"`
	Args       map[string]interface{} `json:"args,omitempty"`
	Output     string                 `json:"output,omitempty"`
	ErrorCode  string                 `json:"error_code,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Attempts   int                    `json:"attempts"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// NewTraceEvent captures r as run runID of p.
func NewTraceEvent(runID string, p *plan.Plan, r plan.StepResult) TraceEvent {
	ev := TraceEvent{
		RunID:      runID,
		Step:       r.Step,
		Service:    r.Service,
		Operation:  r.Operation,
		Status:     string(r.Status),
		Args:       r.Args,
		Output:     r.Output.Text,
		Attempts:   r.Attempts,
		StartedAt:  normalizeTraceTime(r.StartedAt),
		FinishedAt: normalizeTraceTime(r.FinishedAt),
	}
	if p != nil {
		ev.PlanID = p.ID
		ev.Query = p.Query
	}
	if r.Error != nil {
		ev.ErrorCode = string(r.Error.Code)
		ev.Error = r.Error.Message
	}
	return ev
}

// MemoryTraceStore keeps trace events in memory.
type MemoryTraceStore struct {
	mu     sync.Mutex
	events []TraceEvent
}

// NewMemoryTraceStore returns an in-memory trace store.
func NewMemoryTraceStore() *MemoryTraceStore {
	return &MemoryTraceStore{}
}

// Record appends a trace event.
func (s *MemoryTraceStore) Record(_ context.Context, event TraceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered trace events in recording order.
func (s *MemoryTraceStore) List(_ context.Context, filter TraceFilter) ([]TraceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TraceEvent, 0, len(s.events))
	for _, ev := range s.events {
		if filter.RunID != "" && ev.RunID != filter.RunID {
			continue
		}
		if filter.PlanID != "" && ev.PlanID != filter.PlanID {
			continue
		}
		if filter.Status != "" && ev.Status != filter.Status {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func encodeTraceArgs(args map[string]interface{}) ([]byte, error) {
	if args == nil {
		return []byte("null"), nil
	}
	return json.Marshal(args)
}

func decodeTraceArgs(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeTraceTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
