// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("connection refused")
	me := New(CodeTransientTransport, "invoke failed", cause)

	if me.Code != CodeTransientTransport {
		t.Errorf("expected CodeTransientTransport, got %v", me.Code)
	}
	if me.Message != "invoke failed" {
		t.Errorf("expected message 'invoke failed', got %q", me.Message)
	}
	if !errors.Is(me, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
	if !me.Recoverable {
		t.Errorf("expected transient transport errors to be recoverable")
	}
	if me.StatusCode != 503 {
		t.Errorf("expected status 503, got %d", me.StatusCode)
	}
}

func TestApplicationErrorNotRecoverable(t *testing.T) {
	me := New(CodeApplication, "patient not found", nil)
	if me.Recoverable {
		t.Errorf("application errors must not be recoverable")
	}
}

func TestWithContextAndAttributes(t *testing.T) {
	me := New(CodeMissingArgument, "missing argument", nil).
		WithContext("parameter", "patientId").
		WithContext("step", 1).
		WithAttribute("operation", "getPatientHistory")

	if me.Context["parameter"] != "patientId" {
		t.Errorf("expected context parameter")
	}
	if me.Context["step"] != 1 {
		t.Errorf("expected context step")
	}
	if me.Attributes["operation"] != "getPatientHistory" {
		t.Errorf("expected attribute operation")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		me       *MeshError
		expected string
	}{
		{
			name:     "with cause",
			me:       New(CodeTimeout, "query timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] query timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			me:       New(CodeUnresolvableIntent, "no operation matches", nil),
			expected: "[UNRESOLVABLE_INTENT] no operation matches",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.me.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCodeOfWrapped(t *testing.T) {
	inner := New(CodeDiscovery, "unreachable", nil)
	wrapped := fmt.Errorf("register billing: %w", inner)

	if CodeOf(wrapped) != CodeDiscovery {
		t.Fatalf("expected DISCOVERY_ERROR, got %q", CodeOf(wrapped))
	}
	if !HasCode(wrapped, CodeDiscovery) {
		t.Fatalf("expected HasCode to match")
	}
	if HasCode(nil, CodeDiscovery) {
		t.Fatalf("nil error must not match")
	}
	if AsMeshError(wrapped) != inner {
		t.Fatalf("expected AsMeshError to find the inner error")
	}
}

func TestAsMeshErrorWrapsUnknown(t *testing.T) {
	me := AsMeshError(errors.New("boom"))
	if me.Code != CodeInternal {
		t.Fatalf("expected internal code, got %q", me.Code)
	}
	if AsMeshError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestMarshalJSON(t *testing.T) {
	me := New(CodeApplication, "claim rejected", errors.New("policy expired")).
		WithContext("step", 2)

	data, err := json.Marshal(me)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["code"] != "APPLICATION_ERROR" {
		t.Errorf("expected code, got %v", out["code"])
	}
	if out["error"] != "policy expired" {
		t.Errorf("expected cause text, got %v", out["error"])
	}
	if out["recoverable"] != false {
		t.Errorf("expected recoverable=false")
	}
}
