// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/meshwork/internal/healthcare"
	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/meshtest"
	"github.com/jllopis/meshwork/pkg/transport"
)

func healthcareRegistry(t *testing.T) (*Registry, *meshtest.ScriptedTransport) {
	t.Helper()
	tr := meshtest.NewScriptedTransport("http")
	var endpoints []Endpoint
	services := healthcare.Services(nil)
	for i, id := range healthcare.Order() {
		addr := fmt.Sprintf("http://localhost:%d", 8871+i)
		tr.Serve(addr, services[id])
		endpoints = append(endpoints, Endpoint{ServiceID: id, Address: addr})
	}
	reg := NewRegistry(transport.NewSet(tr))
	if err := reg.RegisterAll(context.Background(), endpoints); err != nil {
		t.Fatalf("register all: %v", err)
	}
	return reg, tr
}

func TestRegisterAllKeepsOrder(t *testing.T) {
	reg, _ := healthcareRegistry(t)
	cat := reg.Snapshot()
	services := cat.Services()
	if len(services) != 4 {
		t.Fatalf("expected 4 services, got %d", len(services))
	}
	for i, id := range healthcare.Order() {
		if services[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, services[i].ID)
		}
	}
	if services[0].Transport != "http" {
		t.Fatalf("expected inferred transport, got %q", services[0].Transport)
	}
	op, ok := cat.Operation(OperationRef{ServiceID: healthcare.Billing, Name: "generateInvoice"})
	if !ok {
		t.Fatalf("expected generateInvoice")
	}
	amount, _ := op.Param("amount")
	if amount.Type != TypeNumber || !amount.Required {
		t.Fatalf("unexpected amount spec %+v", amount)
	}
}

func TestLookupRanking(t *testing.T) {
	reg, _ := healthcareRegistry(t)
	cat := reg.Snapshot()

	tests := []struct {
		query string
		want  string
	}{
		{"Schedule appointment for patient PT-12345 with Dr. Johnson", "scheduleAppointment"},
		{"Get medical history for patient PT-12345", "getPatientHistory"},
		{"generate invoice for $150 office visit", "generateInvoice"},
		{"show current account balance", "getAccountBalance"},
		{"review recent lab results", "getLabResults"},
		{"check upcoming appointments", "getUpcomingAppointments"},
		{"reschedule appointment APT-1 to March 3", "rescheduleAppointment"},
		{"schedule", "scheduleAppointment"},
		{"getVitalSigns", "getVitalSigns"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			matches := cat.Lookup(tt.query)
			if len(matches) == 0 {
				t.Fatalf("no matches")
			}
			if matches[0].Operation.Name != tt.want {
				t.Fatalf("expected %s, got %s (%+v)", tt.want, matches[0].Operation.Name, matches[0])
			}
		})
	}
}

func TestLookupDeterministic(t *testing.T) {
	reg, _ := healthcareRegistry(t)
	cat := reg.Snapshot()
	first := cat.Lookup("patient")
	for i := 0; i < 20; i++ {
		again := cat.Lookup("patient")
		if len(again) != len(first) {
			t.Fatalf("length changed between calls")
		}
		for j := range first {
			if again[j].Operation.Ref() != first[j].Operation.Ref() {
				t.Fatalf("order changed at %d: %v vs %v", j, again[j].Operation.Ref(), first[j].Operation.Ref())
			}
		}
	}
}

func TestLookupTieBreaksByRegistrationOrder(t *testing.T) {
	tr := meshtest.NewScriptedTransport("http")
	tr.Serve("http://a", meshtest.Service(meshtest.NewOperation("listWidgets").WithDescription("widgets")))
	tr.Serve("http://b", meshtest.Service(meshtest.NewOperation("listWidgets").WithDescription("widgets")))
	reg := NewRegistry(transport.NewSet(tr))
	ctx := context.Background()
	if _, err := reg.Register(ctx, Endpoint{ServiceID: "b", Address: "http://b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(ctx, Endpoint{ServiceID: "a", Address: "http://a"}); err != nil {
		t.Fatal(err)
	}
	matches := reg.Snapshot().Lookup("widgets")
	if len(matches) != 2 || matches[0].Operation.ServiceID != "b" {
		t.Fatalf("expected first-registered service first, got %+v", matches)
	}
}

func TestLookupNoMatch(t *testing.T) {
	reg, _ := healthcareRegistry(t)
	if m := reg.Snapshot().Lookup("teleport the spaceship"); len(m) != 0 {
		t.Fatalf("expected no matches, got %v", m[0].Operation.Name)
	}
}

func TestRegisterDiscoveryErrors(t *testing.T) {
	tr := meshtest.NewScriptedTransport("http")
	tr.Serve("http://dup", meshtest.Service(
		meshtest.NewOperation("a"),
	))
	reg := NewRegistry(transport.NewSet(tr))
	ctx := context.Background()

	_, err := reg.Register(ctx, Endpoint{ServiceID: "down", Address: "http://down"})
	if !errors.HasCode(err, errors.CodeDiscovery) {
		t.Fatalf("expected DISCOVERY_ERROR for unreachable service, got %v", err)
	}
	if reg.Snapshot().Len() != 0 {
		t.Fatalf("failed registration must not change the catalog")
	}

	_, err = reg.Register(ctx, Endpoint{ServiceID: "x", Address: "grpc://nowhere"})
	if !errors.HasCode(err, errors.CodeDiscovery) {
		t.Fatalf("expected DISCOVERY_ERROR for missing transport, got %v", err)
	}
}

func TestBuildDescriptorValidation(t *testing.T) {
	ep := Endpoint{ServiceID: "svc", Address: "http://svc"}
	tests := []struct {
		name  string
		specs []transport.OperationSpec
	}{
		{"missing name", []transport.OperationSpec{{Name: " "}}},
		{"duplicate operation", []transport.OperationSpec{{Name: "a"}, {Name: "a"}}},
		{"missing parameter name", []transport.OperationSpec{{Name: "a", Parameters: []transport.ParameterSpec{{Type: "string"}}}}},
		{"duplicate parameter", []transport.OperationSpec{{Name: "a", Parameters: []transport.ParameterSpec{
			{Name: "p", Type: "string"}, {Name: "p", Type: "string"},
		}}}},
		{"unknown type", []transport.OperationSpec{{Name: "a", Parameters: []transport.ParameterSpec{{Name: "p", Type: "blob"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildDescriptor(ep, tt.specs, time.Now())
			if !errors.HasCode(err, errors.CodeDiscovery) {
				t.Fatalf("expected DISCOVERY_ERROR, got %v", err)
			}
		})
	}
}

func TestParseParamType(t *testing.T) {
	tests := map[string]ParamType{
		"String":           TypeString,
		"java.lang.String": TypeString,
		"double":           TypeNumber,
		"int":              TypeInteger,
		"long":             TypeInteger,
		"boolean":          TypeBoolean,
	}
	for raw, want := range tests {
		got, ok := ParseParamType(raw)
		if !ok || got != want {
			t.Errorf("ParseParamType(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	if !TypeInteger.Accepts(3.0) || TypeInteger.Accepts(3.5) {
		t.Errorf("integer acceptance wrong")
	}
	if TypeNumber.Accepts("150") {
		t.Errorf("numeric strings must not be accepted")
	}
}

func TestRefreshSwapsAtomically(t *testing.T) {
	tr := meshtest.NewScriptedTransport("http")
	tr.Serve("http://svc", meshtest.Service(meshtest.NewOperation("oldOperation")))
	reg := NewRegistry(transport.NewSet(tr))
	ctx := context.Background()
	if _, err := reg.Register(ctx, Endpoint{ServiceID: "svc", Address: "http://svc"}); err != nil {
		t.Fatal(err)
	}

	pinned := reg.Snapshot()
	tr.Serve("http://svc", meshtest.Service(meshtest.NewOperation("newOperation")))
	if _, err := reg.Refresh(ctx, "svc"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if _, ok := pinned.FindOperation("oldOperation"); !ok {
		t.Fatalf("pinned snapshot must keep its operations")
	}
	if _, ok := pinned.FindOperation("newOperation"); ok {
		t.Fatalf("pinned snapshot must not see refreshed operations")
	}
	cur := reg.Snapshot()
	if _, ok := cur.FindOperation("newOperation"); !ok {
		t.Fatalf("current snapshot must see refreshed operations")
	}
	if cur.Version() <= pinned.Version() {
		t.Fatalf("version must increase")
	}
}

func TestRefreshFailureKeepsPrevious(t *testing.T) {
	tr := meshtest.NewScriptedTransport("http")
	tr.Serve("http://svc", meshtest.Service(meshtest.NewOperation("op")))
	reg := NewRegistry(transport.NewSet(tr))
	ctx := context.Background()
	if _, err := reg.Register(ctx, Endpoint{ServiceID: "svc", Address: "http://svc"}); err != nil {
		t.Fatal(err)
	}
	tr.Remove("http://svc")
	if _, err := reg.Refresh(ctx, "svc"); !errors.HasCode(err, errors.CodeDiscovery) {
		t.Fatalf("expected discovery error, got %v", err)
	}
	if _, ok := reg.Snapshot().FindOperation("op"); !ok {
		t.Fatalf("previous descriptor must stay published")
	}
	if _, err := reg.Refresh(ctx, "unknown"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestConcurrentReadersDuringRefresh(t *testing.T) {
	reg, _ := healthcareRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				cat := reg.Snapshot()
				if cat.Len() != 4 {
					t.Errorf("reader saw partial catalog with %d services", cat.Len())
					return
				}
				_ = cat.Lookup("patient history")
			}
		}()
	}
	for i := 0; i < 10; i++ {
		if err := reg.RefreshAll(ctx); err != nil {
			t.Fatalf("refresh all: %v", err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestDeregister(t *testing.T) {
	reg, _ := healthcareRegistry(t)
	if !reg.Deregister(healthcare.Billing) {
		t.Fatalf("expected billing to be removed")
	}
	if reg.Deregister(healthcare.Billing) {
		t.Fatalf("second deregister must report absence")
	}
	if _, ok := reg.Snapshot().FindOperation("generateInvoice"); ok {
		t.Fatalf("billing operations must be gone")
	}
}

// gatedTransport tracks how many discovery calls are in flight per
// address. With barrier set, a call waits until that many calls overlap.
type gatedTransport struct {
	hold    time.Duration
	barrier int

	mu          sync.Mutex
	inflight    map[string]int
	maxInflight map[string]int
	total       int
	maxTotal    int
	once        sync.Once
	reached     chan struct{}
}

func newGatedTransport(hold time.Duration, barrier int) *gatedTransport {
	return &gatedTransport{
		hold:        hold,
		barrier:     barrier,
		inflight:    make(map[string]int),
		maxInflight: make(map[string]int),
		reached:     make(chan struct{}),
	}
}

func (g *gatedTransport) Name() string { return "http" }

func (g *gatedTransport) ListOperations(ctx context.Context, address string) ([]transport.OperationSpec, error) {
	g.mu.Lock()
	g.inflight[address]++
	g.total++
	g.maxInflight[address] = max(g.maxInflight[address], g.inflight[address])
	g.maxTotal = max(g.maxTotal, g.total)
	if g.barrier > 0 && g.total >= g.barrier {
		g.once.Do(func() { close(g.reached) })
	}
	g.mu.Unlock()

	if g.barrier > 0 {
		select {
		case <-g.reached:
		case <-time.After(time.Second):
		}
	} else {
		time.Sleep(g.hold)
	}

	g.mu.Lock()
	g.inflight[address]--
	g.total--
	g.mu.Unlock()
	return []transport.OperationSpec{{Name: "op", Description: "operation"}}, nil
}

func (g *gatedTransport) Invoke(context.Context, string, transport.InvokeRequest) (*transport.InvokeResponse, error) {
	return &transport.InvokeResponse{Status: transport.StatusOK}, nil
}

func TestRefreshSerializedPerService(t *testing.T) {
	g := newGatedTransport(30*time.Millisecond, 0)
	reg := NewRegistry(transport.NewSet(g))
	ctx := context.Background()
	if _, err := reg.Register(ctx, Endpoint{ServiceID: "svc", Address: "http://svc"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Refresh(ctx, "svc"); err != nil {
				t.Errorf("refresh: %v", err)
			}
		}()
	}
	wg.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxInflight["http://svc"] != 1 {
		t.Fatalf("expected discovery of one service to be serialized, saw %d concurrent calls", g.maxInflight["http://svc"])
	}
}

func TestRegisterAllDiscoversConcurrently(t *testing.T) {
	g := newGatedTransport(0, 2)
	reg := NewRegistry(transport.NewSet(g))
	err := reg.RegisterAll(context.Background(), []Endpoint{
		{ServiceID: "a", Address: "http://a"},
		{ServiceID: "b", Address: "http://b"},
	})
	if err != nil {
		t.Fatalf("register all: %v", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.maxTotal != 2 {
		t.Fatalf("expected discovery of both services to overlap, max in flight %d", g.maxTotal)
	}
	if got := reg.Snapshot().Len(); got != 2 {
		t.Fatalf("expected 2 services, got %d", got)
	}
}

func TestRefreshDoesNotRestoreDeregisteredService(t *testing.T) {
	tr := meshtest.NewScriptedTransport("http")
	tr.Serve("http://svc", meshtest.Service(meshtest.NewOperation("op")))
	reg := NewRegistry(transport.NewSet(tr))
	ctx := context.Background()
	desc, err := reg.Register(ctx, Endpoint{ServiceID: "svc", Address: "http://svc"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	// A refresh that read the snapshot before Deregister ran.
	stale := desc.Endpoint()
	if !reg.Deregister("svc") {
		t.Fatalf("expected svc to be removed")
	}
	if _, err := reg.register(ctx, stale, true); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND for a stale refresh, got %v", err)
	}
	if _, ok := reg.Snapshot().Service("svc"); ok {
		t.Fatalf("stale refresh must not publish a deregistered service")
	}
	if tr.ListCount("http://svc") != 1 {
		t.Fatalf("stale refresh must not rediscover, got %d list calls", tr.ListCount("http://svc"))
	}
}

func TestRefreshAllRacingDeregister(t *testing.T) {
	tr := meshtest.NewScriptedTransport("http")
	tr.Serve("http://svc", meshtest.Service(meshtest.NewOperation("op")))
	reg := NewRegistry(transport.NewSet(tr))
	ctx := context.Background()
	if _, err := reg.Register(ctx, Endpoint{ServiceID: "svc", Address: "http://svc"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	lock := reg.serviceLock("svc")
	lock.Lock()
	removed := make(chan bool, 1)
	refreshed := make(chan error, 1)
	go func() { removed <- reg.Deregister("svc") }()
	go func() { refreshed <- reg.RefreshAll(ctx) }()
	time.Sleep(20 * time.Millisecond)
	lock.Unlock()

	if !<-removed {
		t.Fatalf("expected deregister to report the service")
	}
	if err := <-refreshed; err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if _, ok := reg.Snapshot().Service("svc"); ok {
		t.Fatalf("deregistered service must stay removed after a concurrent RefreshAll")
	}
}

func TestLookupSubstringIgnoresNameSeparators(t *testing.T) {
	d, err := BuildDescriptor(Endpoint{ServiceID: "lab", Address: "http://lab"}, []transport.OperationSpec{
		{Name: "get_lab_results", Description: "Lab results"},
		{Name: "order-lab-tests", Description: "Order tests"},
	}, time.Now())
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	cat := New(d)
	for query, want := range map[string]string{
		"get lab results": "get_lab_results",
		"order lab tests": "order-lab-tests",
		"get_lab_results": "get_lab_results",
	} {
		matches := cat.Lookup(query)
		if len(matches) == 0 || !matches[0].Substring || matches[0].Operation.Name != want {
			t.Fatalf("Lookup(%q) = %+v, want substring match on %s", query, matches, want)
		}
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("getUpcomingAppointments for the patient's HTTPServer")
	want := []string{"get", "upcoming", "appointment", "patient", "http", "server"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if Normalize("Shows") != "get" {
		t.Fatalf("expected synonym folding, got %q", Normalize("Shows"))
	}
}

func TestNewStandaloneCatalog(t *testing.T) {
	services := healthcare.Services(nil)
	var descs []*ServiceDescriptor
	for _, id := range []string{healthcare.Billing, healthcare.PatientRecords, healthcare.Billing} {
		d, err := BuildDescriptor(Endpoint{ServiceID: id, Address: "http://" + id}, services[id].Operations(), time.Now())
		if err != nil {
			t.Fatalf("descriptor: %v", err)
		}
		descs = append(descs, d)
	}
	cat := New(descs...)
	if got := cat.Services(); len(got) != 2 || got[0].ID != healthcare.Billing {
		t.Fatalf("unexpected services %+v", got)
	}
	if cat.Version() != 0 {
		t.Fatalf("standalone catalogs carry version 0")
	}
}
