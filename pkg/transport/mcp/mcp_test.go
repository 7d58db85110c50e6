// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/meshwork/internal/healthcare"
	"github.com/jllopis/meshwork/pkg/transport"
)

func TestListAndCall(t *testing.T) {
	srv := mcpserver.NewTestStreamableHTTPServer(NewServer("diagnostics", "1.0.0", healthcare.NewDiagnostics(healthcare.NewIDs(0))))
	defer srv.Close()
	c := NewClient()
	defer c.Close()
	ctx := context.Background()
	addr := "mcp+" + srv.URL

	ops, err := c.ListOperations(ctx, addr)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var order *transport.OperationSpec
	for i := range ops {
		if ops[i].Name == "orderLabTests" {
			order = &ops[i]
		}
	}
	if order == nil {
		t.Fatalf("orderLabTests not discovered in %+v", ops)
	}
	if len(order.Parameters) != 3 || order.Parameters[0].Name != "patientId" || order.Parameters[1].Name != "testType" {
		t.Fatalf("expected declaration order to survive, got %+v", order.Parameters)
	}
	if !order.Parameters[0].Required {
		t.Fatalf("expected required flag")
	}

	resp, err := c.Invoke(ctx, addr, transport.InvokeRequest{
		OperationName: "orderLabTests",
		Arguments:     map[string]interface{}{"patientId": "PT-12345", "testType": "complete blood count", "urgency": "routine"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected ok, got %+v", resp)
	}
	data, ok := resp.Payload.(map[string]interface{})
	if !ok || data["labOrderId"] != "LAB-1" {
		t.Fatalf("unexpected payload %#v", resp.Payload)
	}
}

func TestToolErrorBecomesErrorStatus(t *testing.T) {
	srv := mcpserver.NewTestStreamableHTTPServer(NewServer("billing", "1.0.0", healthcare.NewBilling(healthcare.NewIDs(0))))
	defer srv.Close()
	c := NewClient()
	defer c.Close()

	resp, err := c.Invoke(context.Background(), "mcp+"+srv.URL, transport.InvokeRequest{
		OperationName: "generateInvoice",
		Arguments:     map[string]interface{}{"patientId": "PT-1", "serviceType": "x", "amount": -5.0},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.Status != transport.StatusError || resp.ErrorMessage == "" {
		t.Fatalf("expected error status, got %+v", resp)
	}
}

func TestHTTPURL(t *testing.T) {
	tests := map[string]string{
		"mcp://localhost:8873/mcp":        "http://localhost:8873/mcp",
		"mcp+https://svc.example.com/mcp": "https://svc.example.com/mcp",
		"http://localhost:8873/mcp":       "http://localhost:8873/mcp",
	}
	for in, want := range tests {
		if got := HTTPURL(in); got != want {
			t.Errorf("HTTPURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToolSchema(t *testing.T) {
	tool := Tool(transport.OperationSpec{
		Name: "createPatientRecord",
		Parameters: []transport.ParameterSpec{
			{Name: "patientName", Type: "string", Required: true},
			{Name: "age", Type: "int", Required: true},
			{Name: "insured", Type: "boolean"},
		},
	})
	age, ok := tool.InputSchema.Properties["age"].(map[string]interface{})
	if !ok || age["type"] != "integer" {
		t.Fatalf("expected integer schema for age, got %#v", tool.InputSchema.Properties["age"])
	}
	if len(tool.InputSchema.Required) != 2 {
		t.Fatalf("expected 2 required params, got %v", tool.InputSchema.Required)
	}
	spec := toolSpec(tool)
	if spec.Parameters[0].Name != "patientName" || spec.Parameters[2].Name != "insured" || spec.Parameters[2].Required {
		t.Fatalf("unexpected round trip %+v", spec.Parameters)
	}
}
