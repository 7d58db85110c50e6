// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jllopis/meshwork/pkg/errors"
)

// CLIError wraps MeshError with CLI-specific formatting and hints.
type CLIError struct {
	*errors.MeshError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(me *errors.MeshError, hint string) *CLIError {
	return &CLIError{MeshError: me, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.MeshError == nil {
		return "unknown error"
	}
	msg := e.MeshError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the MeshError so errors.As and errors.CodeOf see it.
func (e *CLIError) Unwrap() error {
	if e.MeshError == nil {
		return nil
	}
	return e.MeshError
}

// PrintError writes the error to w.
func (e *CLIError) PrintError(w io.Writer, jsonOutput bool) {
	if jsonOutput {
		payload, _ := json.Marshal(map[string]any{"error": map[string]any{
			"code":    e.Code,
			"message": e.Message,
			"context": e.Context,
			"hint":    e.Hint,
		}})
		fmt.Fprintln(w, string(payload))
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Err != nil {
		fmt.Fprintf(w, "  Cause: %s\n", e.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// asCLIError returns err itself when it already is a CLIError.
func asCLIError(err error) *CLIError {
	if cliErr, ok := err.(*CLIError); ok {
		return cliErr
	}
	return WrapError(err)
}

// WrapError attaches the hint that matches err's code.
func WrapError(err error) *CLIError {
	me := errors.AsMeshError(err)
	return NewCLIError(me, hintFor(me))
}

func hintFor(me *errors.MeshError) string {
	switch me.Code {
	case errors.CodeUnresolvableIntent:
		if clause, ok := me.Context["clause"]; ok {
			return fmt.Sprintf("no operation matches %q; run 'meshctl catalog' to see what the mesh offers", clause)
		}
		return "run 'meshctl catalog' to see what the mesh offers"
	case errors.CodeMissingArgument:
		return "add the missing values to the query, or write a plan and use 'meshctl run-plan'"
	case errors.CodeDiscovery:
		return "check that the services are running and their addresses in the config"
	case errors.CodeTimeout:
		return "try increasing the timeout with --timeout or pipeline.query_timeout"
	case errors.CodeInvalidPlan:
		return "run 'meshctl resolve' to see a valid plan for a query"
	case errors.CodeCircuitOpen:
		return "the service kept failing; wait for invoker.breaker_cooldown and retry"
	case errors.CodeInvalidInput:
		return "run 'meshctl help' for usage information"
	default:
		return ""
	}
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	me := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithContext("reason", reason).
		WithRecoverable(false)
	return NewCLIError(me, "run 'meshctl help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	me := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(me, hint)
}
