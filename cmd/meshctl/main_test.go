// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/meshwork/internal/healthcare"
	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/plan"
	"github.com/jllopis/meshwork/pkg/transport/httpjson"
)

func TestParseGlobalFlags(t *testing.T) {
	flags, rest, err := parseGlobalFlags([]string{
		"--config", "mesh.yaml", "--set=trace.store=memory", "--timeout", "5s", "--json",
		"query", "show", "balance",
	})
	if err != nil {
		t.Fatalf("parseGlobalFlags: %v", err)
	}
	if !flags.JSON {
		t.Errorf("expected --json to be set")
	}
	if flags.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", flags.Timeout)
	}
	if got := strings.Join(flags.ConfigArgs, " "); got != "--config mesh.yaml --set=trace.store=memory" {
		t.Errorf("unexpected config args %q", got)
	}
	if got := strings.Join(rest, " "); got != "query show balance" {
		t.Errorf("unexpected remaining args %q", got)
	}
	if configPath(flags.ConfigArgs) != "mesh.yaml" {
		t.Errorf("expected config path mesh.yaml")
	}
}

func TestParseGlobalFlagsErrors(t *testing.T) {
	tests := [][]string{
		{"--config"},
		{"--timeout", "soon"},
		{"--timeout=never"},
		{"--verbose"},
	}
	for _, args := range tests {
		if _, _, err := parseGlobalFlags(args); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}

func TestParseGlobalFlagsHelp(t *testing.T) {
	flags, rest, err := parseGlobalFlags([]string{"--json", "-h", "query"})
	if err != nil {
		t.Fatalf("parseGlobalFlags: %v", err)
	}
	if !flags.Help || rest != nil {
		t.Fatalf("expected help with no command, got %+v %v", flags, rest)
	}
}

func TestWrapErrorHints(t *testing.T) {
	unresolvable := errors.New(errors.CodeUnresolvableIntent, "no operation matches clause", nil).
		WithContext("clause", "launch the rocket")
	cliErr := WrapError(unresolvable)
	if !strings.Contains(cliErr.Hint, `"launch the rocket"`) {
		t.Errorf("expected hint to quote the clause, got %q", cliErr.Hint)
	}

	plain := WrapError(fmt.Errorf("boom"))
	if plain.Code != errors.CodeInternal {
		t.Errorf("expected INTERNAL_ERROR for plain errors, got %s", plain.Code)
	}
	if plain.Hint != "" {
		t.Errorf("expected no hint for internal errors, got %q", plain.Hint)
	}

	timeout := WrapError(errors.New(errors.CodeTimeout, "query deadline exceeded", nil))
	if !strings.Contains(timeout.Hint, "--timeout") {
		t.Errorf("expected timeout hint, got %q", timeout.Hint)
	}
}

func TestPrintErrorJSON(t *testing.T) {
	var buf bytes.Buffer
	NewInvalidArgumentError("lookup", "query text is required").PrintError(&buf, true)

	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Context map[string]any `json:"context"`
			Hint    string         `json:"hint"`
		} `json:"error"`
	}
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Error.Code != string(errors.CodeInvalidInput) {
		t.Errorf("unexpected code %q", payload.Error.Code)
	}
	if payload.Error.Context["argument"] != "lookup" {
		t.Errorf("expected argument context, got %v", payload.Error.Context)
	}
	if payload.Error.Hint == "" {
		t.Errorf("expected a hint")
	}
}

func TestPrintErrorText(t *testing.T) {
	var buf bytes.Buffer
	NewConfigError(fmt.Errorf("yaml: line 3"), "mesh.yaml").PrintError(&buf, false)
	out := buf.String()
	for _, want := range []string{"Error [INVALID_INPUT]: configuration error", "Cause: yaml: line 3", "Hint: check mesh.yaml"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}

func TestQueryFailure(t *testing.T) {
	if err := queryFailure("success", nil); err != nil {
		t.Fatalf("expected nil for success, got %v", err)
	}
	err := queryFailure("failed", &plan.StepError{Code: errors.CodeApplication, Message: "amount must be positive"})
	if err == nil {
		t.Fatalf("expected error for failed run")
	}
	if errors.CodeOf(err) != errors.CodeApplication {
		t.Errorf("expected APPLICATION_ERROR, got %s", errors.CodeOf(err))
	}
}

func TestCellFormatting(t *testing.T) {
	if got := normalizeCell("  a \n b  "); got != "a b" {
		t.Errorf("normalizeCell = %q", got)
	}
	if got := normalizeCell(""); got != "-" {
		t.Errorf("expected dash for empty cell, got %q", got)
	}
	if got := truncateMessage("generate invoice for patient", 10); got != "generat..." {
		t.Errorf("truncateMessage = %q", got)
	}
	if got := formatTime(time.Time{}); got != "-" {
		t.Errorf("expected dash for zero time, got %q", got)
	}
}

func TestWritePlan(t *testing.T) {
	p, err := plan.New("history then invoice", []plan.Step{
		{Service: "patient-records", Operation: "getMedicalHistory", Args: map[string]plan.Argument{
			"patientId": plan.Literal("PT-12345"),
		}},
		{Service: "billing", Operation: "generateInvoice", Args: map[string]plan.Argument{
			"patientId": plan.Ref(0, "patientId"),
			"amount":    plan.Literal(150.0),
		}},
	})
	if err != nil {
		t.Fatalf("plan.New: %v", err)
	}
	var buf bytes.Buffer
	writePlan(&buf, p)
	out := buf.String()
	for _, want := range []string{
		"(2 steps)",
		"1. patient-records.getMedicalHistory",
		"patientId = PT-12345",
		"2. billing.generateInvoice",
		"amount = 150",
		"patientId = $step[0].patientId",
		"after: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func billingConfig(t *testing.T) *config.Config {
	t.Helper()
	ts := httptest.NewServer(httpjson.NewHandler(healthcare.NewBilling(healthcare.NewIDs(0))))
	t.Cleanup(ts.Close)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Services = map[string]config.ServiceConfig{
		healthcare.Billing: {Address: ts.URL, Transport: "http"},
	}
	cfg.Discovery.Order = []string{"config"}
	cfg.Trace.Store = "memory"
	return cfg
}

func TestREPL(t *testing.T) {
	cfg := billingConfig(t)
	var buf bytes.Buffer
	out := &output{w: &buf}
	in := strings.NewReader("show balance for PT-1\n\nresolve generate invoice for PT-1\ncatalog\nquit\nshow balance for PT-2\n")

	if err := runREPL(context.Background(), cfg, out, in, "", 5*time.Second); err != nil {
		t.Fatalf("runREPL: %v", err)
	}
	got := buf.String()
	for _, want := range []string{
		"1 services",
		"Status: success",
		"PT-1",
		"1. billing.generateInvoice",
		"Error [MISSING_ARGUMENT]",
		"getAccountBalance",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in:\n%s", want, got)
		}
	}
	if strings.Contains(got, "PT-2") {
		t.Errorf("expected input after quit to be ignored")
	}
}

func TestRunQueryJSON(t *testing.T) {
	cfg := billingConfig(t)
	var buf bytes.Buffer
	out := &output{w: &buf, json: true}
	if err := runQuery(context.Background(), cfg, out, []string{"show", "balance", "for", "PT-1"}); err != nil {
		t.Fatalf("runQuery: %v", err)
	}
	var res struct {
		Status   string `json:"status"`
		Sections []struct {
			StepLabel string `json:"stepLabel"`
			Text      string `json:"text"`
		} `json:"sections"`
	}
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Status != "success" || len(res.Sections) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	if err := runQuery(context.Background(), cfg, out, nil); errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT without query text, got %v", err)
	}
}
