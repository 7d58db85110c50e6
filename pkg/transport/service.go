// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sort"
)

// Service is the server side of a transport: something that lists its
// operations and executes them. Transport servers adapt a Service to
// their wire format.
type Service interface {
	Operations() []OperationSpec
	Invoke(ctx context.Context, req InvokeRequest) *InvokeResponse
}

// HandlerFunc executes one operation. A returned error becomes an
// error-status response carrying the error text.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Operation pairs an operation spec with its handler.
type Operation struct {
	Spec    OperationSpec
	Handler HandlerFunc
}

// StaticService serves a fixed set of operations in declaration order.
type StaticService struct {
	ops   []Operation
	index map[string]int
}

// NewStaticService builds a service from ops. Later operations with the
// same name replace earlier ones.
func NewStaticService(ops ...Operation) *StaticService {
	s := &StaticService{index: make(map[string]int)}
	for _, op := range ops {
		if i, ok := s.index[op.Spec.Name]; ok {
			s.ops[i] = op
			continue
		}
		s.index[op.Spec.Name] = len(s.ops)
		s.ops = append(s.ops, op)
	}
	return s
}

// Operations implements Service.
func (s *StaticService) Operations() []OperationSpec {
	out := make([]OperationSpec, len(s.ops))
	for i, op := range s.ops {
		out[i] = op.Spec
	}
	return out
}

// Invoke implements Service. Handler panics become error responses.
func (s *StaticService) Invoke(ctx context.Context, req InvokeRequest) (resp *InvokeResponse) {
	i, ok := s.index[req.OperationName]
	if !ok {
		return &InvokeResponse{Status: StatusError, ErrorMessage: fmt.Sprintf("unknown operation %q", req.OperationName)}
	}
	op := s.ops[i]
	for _, p := range op.Spec.Parameters {
		if _, present := req.Arguments[p.Name]; p.Required && !present {
			return &InvokeResponse{Status: StatusError, ErrorMessage: fmt.Sprintf("missing required parameter %q", p.Name)}
		}
	}
	defer func() {
		if r := recover(); r != nil {
			resp = &InvokeResponse{Status: StatusError, ErrorMessage: fmt.Sprintf("operation %s panicked: %v", req.OperationName, r)}
		}
	}()
	payload, err := op.Handler(ctx, req.Arguments)
	if err != nil {
		return &InvokeResponse{Status: StatusError, ErrorMessage: err.Error()}
	}
	return &InvokeResponse{Status: StatusOK, Payload: payload}
}

// OperationNames returns the names served by svc, sorted.
func OperationNames(svc Service) []string {
	ops := svc.Operations()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	sort.Strings(names)
	return names
}
