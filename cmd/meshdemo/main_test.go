// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/meshwork/internal/healthcare"
	"github.com/jllopis/meshwork/pkg/transport"
	"github.com/jllopis/meshwork/pkg/transport/httpjson"
)

func TestDemoEndpoints(t *testing.T) {
	endpoints, err := demoEndpoints("127.0.0.1", 9000, "mcp")
	if err != nil {
		t.Fatalf("demoEndpoints: %v", err)
	}
	if len(endpoints) != len(healthcare.Order()) {
		t.Fatalf("expected %d endpoints, got %d", len(healthcare.Order()), len(endpoints))
	}
	first := endpoints[0]
	if first.ID != healthcare.PatientRecords || first.Address != "mcp://127.0.0.1:9000/mcp" || first.port != 9000 {
		t.Errorf("unexpected first endpoint %+v", first)
	}
	if last := endpoints[len(endpoints)-1]; last.port != 9003 {
		t.Errorf("expected consecutive ports, got %d", last.port)
	}

	if _, err := demoEndpoints("127.0.0.1", 9000, "smtp"); err == nil {
		t.Errorf("expected error for unknown transport")
	}
	if _, err := demoEndpoints("127.0.0.1", 0, "http"); err == nil {
		t.Errorf("expected error for invalid port")
	}
}

func TestServicesYAML(t *testing.T) {
	endpoints, err := demoEndpoints("localhost", 8871, "grpc")
	if err != nil {
		t.Fatalf("demoEndpoints: %v", err)
	}
	out := servicesYAML(endpoints)
	for _, want := range []string{
		"services:\n",
		"  billing:\n    address: grpc://localhost:8874\n    transport: grpc\n    order: 4\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestServeHTTP(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	_ = lis.Close()

	errc := make(chan error, 1)
	stop, err := serve(addr, "http", healthcare.Billing, healthcare.NewBilling(healthcare.NewIDs(0)), errc)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	defer stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	specs, err := httpjson.New(nil).ListOperations(ctx, "http://"+addr)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = spec.Name
	}
	sort.Strings(names)
	want := transport.OperationNames(healthcare.NewBilling(healthcare.NewIDs(0)))
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("served operations %v, want %v", names, want)
	}
}
