// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the two calls every domain service answers,
// "list operations" and "invoke", and the set of wire transports that
// carry them.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jllopis/meshwork/pkg/errors"
)

// Invocation statuses reported by services.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ParameterSpec describes one operation parameter on the wire.
type ParameterSpec struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required" yaml:"required"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// OperationSpec is one entry of a service's operation list.
type OperationSpec struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Parameters  []ParameterSpec `json:"parameters" yaml:"parameters"`
}

// InvokeRequest asks a service to run one operation.
type InvokeRequest struct {
	OperationName string                 `json:"operationName"`
	Arguments     map[string]interface{} `json:"arguments"`
}

// InvokeResponse is a service's answer to an InvokeRequest. Payload is
// either a string or a JSON-compatible structured value.
type InvokeResponse struct {
	Status       string      `json:"status"`
	Payload      interface{} `json:"payload,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// OK reports whether the service accepted the call.
func (r *InvokeResponse) OK() bool {
	return r != nil && r.Status == StatusOK
}

// Transport carries discovery and invocation calls to a service address.
// Implementations classify failures: retryable conditions are returned as
// errors.CodeTransientTransport, rejections as errors.CodeApplication.
type Transport interface {
	Name() string
	ListOperations(ctx context.Context, address string) ([]OperationSpec, error)
	Invoke(ctx context.Context, address string, req InvokeRequest) (*InvokeResponse, error)
}

// Set holds the transports available to a mesh, keyed by name.
type Set struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewSet returns a set containing ts.
func NewSet(ts ...Transport) *Set {
	s := &Set{transports: make(map[string]Transport)}
	for _, t := range ts {
		s.Add(t)
	}
	return s
}

// Add registers t under t.Name(), replacing any previous transport.
func (s *Set) Add(t Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transports[t.Name()] = t
}

// For returns the transport named name, or the one inferred from the
// address scheme when name is empty.
func (s *Set) For(name, address string) (Transport, error) {
	if name == "" {
		name = InferName(address)
	}
	s.mu.RLock()
	t, ok := s.transports[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("no transport %q", name), nil).
			WithContext("address", address)
	}
	return t, nil
}

// Close closes every transport that holds resources.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, t := range s.transports {
		if c, ok := t.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// InferName maps an address scheme to a transport name:
// grpc:// selects "grpc", mcp:// and mcp+http(s):// select "mcp",
// everything else "http".
func InferName(address string) string {
	lower := strings.ToLower(strings.TrimSpace(address))
	switch {
	case strings.HasPrefix(lower, "grpc://"):
		return "grpc"
	case strings.HasPrefix(lower, "mcp://"), strings.HasPrefix(lower, "mcp+http"):
		return "mcp"
	default:
		return "http"
	}
}

// Transient wraps cause as a retryable transport error.
func Transient(msg string, cause error) *errors.MeshError {
	return errors.New(errors.CodeTransientTransport, msg, cause).WithRecoverable(true)
}

// Application wraps cause as a non-retryable application error.
func Application(msg string, cause error) *errors.MeshError {
	return errors.New(errors.CodeApplication, msg, cause).WithRecoverable(false)
}

// PayloadText renders a payload for humans: strings as-is, objects by
// their "message" field when present, anything else as JSON.
func PayloadText(payload interface{}) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprint(payload)
	}
	return string(data)
}
