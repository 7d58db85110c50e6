// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy used across the mesh.
// Every failure that crosses a component boundary is a *MeshError carrying
// a stable Code so callers can branch on the class of failure.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies mesh errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeDiscovery indicates a service could not be discovered or
	// returned a malformed operation list.
	CodeDiscovery ErrorCode = "DISCOVERY_ERROR"

	// CodeUnresolvableIntent indicates no operation matched a clause.
	CodeUnresolvableIntent ErrorCode = "UNRESOLVABLE_INTENT"

	// CodeMissingArgument indicates required parameters could not be bound.
	CodeMissingArgument ErrorCode = "MISSING_ARGUMENT"

	// CodeTransientTransport indicates a retryable transport failure.
	CodeTransientTransport ErrorCode = "TRANSIENT_TRANSPORT"

	// CodeApplication indicates the remote service rejected the call.
	CodeApplication ErrorCode = "APPLICATION_ERROR"

	// CodeDependencyAborted indicates a step was skipped because a step it
	// depends on failed.
	CodeDependencyAborted ErrorCode = "DEPENDENCY_ABORTED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeInvalidPlan indicates a plan failed structural validation.
	CodeInvalidPlan ErrorCode = "INVALID_PLAN"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeCircuitOpen indicates a call was rejected by an open circuit breaker.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"
)

// MeshError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type MeshError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *MeshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *MeshError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *MeshError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Attributes:  e.Attributes,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new MeshError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *MeshError {
	return &MeshError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Attributes:  make(map[string]string),
		Recoverable: code == CodeTransientTransport || code == CodeTimeout,
		StatusCode:  codeToStatusCode(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *MeshError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *MeshError) WithContext(key string, value interface{}) *MeshError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *MeshError) WithAttribute(key, value string) *MeshError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *MeshError) WithRecoverable(recoverable bool) *MeshError {
	e.Recoverable = recoverable
	return e
}

// AsMeshError returns the first MeshError in err's chain, or wraps err as
// an internal error when the chain carries none.
func AsMeshError(err error) *MeshError {
	if err == nil {
		return nil
	}
	var me *MeshError
	if stderrors.As(err, &me) {
		return me
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first MeshError in err's chain, or the
// empty code when there is none.
func CodeOf(err error) ErrorCode {
	var me *MeshError
	if stderrors.As(err, &me) {
		return me.Code
	}
	return ""
}

// HasCode reports whether err's chain carries a MeshError with code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRecoverable reports whether err is marked recoverable.
func IsRecoverable(err error) bool {
	var me *MeshError
	if stderrors.As(err, &me) {
		return me.Recoverable
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *MeshError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidInput, CodeInvalidPlan, CodeMissingArgument:
		return 400
	case CodeUnresolvableIntent:
		return 422
	case CodeTimeout:
		return 504
	case CodeTransientTransport, CodeCircuitOpen:
		return 503
	case CodeDiscovery, CodeApplication, CodeDependencyAborted:
		return 502
	default:
		return 500
	}
}
