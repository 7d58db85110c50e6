// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package meshtest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jllopis/meshwork/pkg/transport"
)

// OperationBuilder helps build transport operations for tests.
type OperationBuilder struct {
	spec    transport.OperationSpec
	handler transport.HandlerFunc
}

// NewOperation starts building an operation named name. Without a handler
// the operation echoes "<name>: k=v, ..." for its arguments.
func NewOperation(name string) *OperationBuilder {
	return &OperationBuilder{spec: transport.OperationSpec{Name: name}}
}

// WithDescription sets the operation description.
func (b *OperationBuilder) WithDescription(desc string) *OperationBuilder {
	b.spec.Description = desc
	return b
}

// WithParameter appends a parameter.
func (b *OperationBuilder) WithParameter(name, paramType string, required bool) *OperationBuilder {
	b.spec.Parameters = append(b.spec.Parameters, transport.ParameterSpec{
		Name:     name,
		Type:     paramType,
		Required: required,
	})
	return b
}

// Handle sets the handler.
func (b *OperationBuilder) Handle(fn transport.HandlerFunc) *OperationBuilder {
	b.handler = fn
	return b
}

// Returns makes the operation return payload.
func (b *OperationBuilder) Returns(payload interface{}) *OperationBuilder {
	return b.Handle(func(context.Context, map[string]interface{}) (interface{}, error) {
		return payload, nil
	})
}

// Build returns the operation.
func (b *OperationBuilder) Build() transport.Operation {
	handler := b.handler
	if handler == nil {
		name := b.spec.Name
		handler = func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return Echo(name, args), nil
		}
	}
	return transport.Operation{Spec: b.spec, Handler: handler}
}

// Service builds a static service from builders.
func Service(ops ...*OperationBuilder) *transport.StaticService {
	built := make([]transport.Operation, len(ops))
	for i, op := range ops {
		built[i] = op.Build()
	}
	return transport.NewStaticService(built...)
}

// Echo renders name and args deterministically.
func Echo(name string, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return name + ": " + strings.Join(parts, ", ")
}
