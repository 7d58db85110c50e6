// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"context"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/meshwork/internal/healthcare"
	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/invoker"
	"github.com/jllopis/meshwork/pkg/meshtest"
	"github.com/jllopis/meshwork/pkg/pipeline"
	"github.com/jllopis/meshwork/pkg/plan"
	"github.com/jllopis/meshwork/pkg/transport"
	"github.com/jllopis/meshwork/pkg/transport/httpjson"
)

type harness struct {
	mesh      *Mesh
	transport *meshtest.ScriptedTransport
	invoker   *invoker.Invoker
	store     *pipeline.MemoryTraceStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tr := meshtest.NewScriptedTransport("http")
	services := healthcare.Services(healthcare.NewIDs(0))
	endpoints := make([]catalog.Endpoint, 0, len(services))
	for _, id := range healthcare.Order() {
		ep := catalog.Endpoint{ServiceID: id, Address: "http://" + id, Transport: "http"}
		tr.Serve(ep.Address, services[id])
		endpoints = append(endpoints, ep)
	}
	set := transport.NewSet(tr)
	registry := catalog.NewRegistry(set)
	if err := registry.RegisterAll(context.Background(), endpoints); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	inv := invoker.New(set, invoker.WithRetry(0, time.Millisecond, time.Millisecond))
	store := pipeline.NewMemoryTraceStore()
	m, err := New(registry, inv,
		WithEngine(pipeline.New(inv, pipeline.WithTraceStore(store))),
		WithTransports(set),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{mesh: m, transport: tr, invoker: inv, store: store}
}

func TestNewRequiresRegistryAndInvoker(t *testing.T) {
	inv := invoker.New(transport.NewSet())
	if _, err := New(nil, inv); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for nil registry, got %v", err)
	}
	if _, err := New(catalog.NewRegistry(transport.NewSet()), nil); err == nil {
		t.Fatalf("expected error for nil invoker")
	}
	if _, err := New(catalog.NewRegistry(transport.NewSet()), inv, WithEngine(nil)); err == nil {
		t.Fatalf("expected option error to fail New")
	}
}

func TestProcessQuerySingleStep(t *testing.T) {
	h := newHarness(t)
	res, err := h.mesh.ProcessQuery(context.Background(),
		"Schedule appointment for patient PT-12345 with Dr. Johnson for cardiology consultation on February 10, 2026")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if res.Status != pipeline.StatusSuccess {
		t.Fatalf("expected success, got %s: %+v", res.Status, res.Error)
	}
	if len(res.Sections) != 1 || res.Sections[0].StepLabel != "Step 1: appointments.scheduleAppointment" {
		t.Fatalf("unexpected sections %+v", res.Sections)
	}
	if !strings.Contains(res.Sections[0].Text, "Appointment ID: APT-1") {
		t.Errorf("unexpected text %q", res.Sections[0].Text)
	}
	if res.QueryID == "" {
		t.Errorf("expected a query id")
	}
	events, _ := h.store.List(context.Background(), pipeline.TraceFilter{})
	if len(events) != 0 {
		t.Errorf("expected single-step queries to bypass the engine, got %d trace events", len(events))
	}
}

func TestProcessQueryMatchesDirectInvocation(t *testing.T) {
	h := newHarness(t)
	res, err := h.mesh.ProcessQuery(context.Background(), "show balance for PT-1")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	got := res.Result.Steps[0]

	op, ok := h.mesh.Catalog().FindOperation("getAccountBalance")
	if !ok {
		t.Fatalf("getAccountBalance not in catalog")
	}
	direct := h.invoker.Invoke(context.Background(), invoker.NewCall(0, op, map[string]interface{}{"patientId": "PT-1"}))
	if got.Output.Text != direct.Output.Text || !reflect.DeepEqual(got.Args, direct.Args) {
		t.Fatalf("mesh result %+v differs from direct call %+v", got, direct)
	}
}

func TestProcessQueryMultiStep(t *testing.T) {
	h := newHarness(t)
	res, err := h.mesh.ProcessQuery(context.Background(),
		"Get medical history for patient PT-12345, then generate invoice for $150 office visit")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if res.Status != pipeline.StatusSuccess || len(res.Sections) != 2 {
		t.Fatalf("unexpected result %s with %d sections", res.Status, len(res.Sections))
	}
	if !strings.Contains(res.Sections[1].Text, "Patient ID: PT-12345") {
		t.Errorf("expected patient id threaded into invoice, got %q", res.Sections[1].Text)
	}
	if !strings.Contains(res.Text(), "=== Step 2: billing.generateInvoice ===") {
		t.Errorf("unexpected text %q", res.Text())
	}
}

func TestProcessQueryUnresolvable(t *testing.T) {
	h := newHarness(t)
	res, err := h.mesh.ProcessQuery(context.Background(), "launch the rocket")
	if !errors.HasCode(err, errors.CodeUnresolvableIntent) {
		t.Fatalf("expected UNRESOLVABLE_INTENT, got %v", err)
	}
	if res == nil || res.Status != pipeline.StatusFailed || res.Error == nil {
		t.Fatalf("expected failed result, got %+v", res)
	}
	if len(res.Sections) != 1 || !strings.HasPrefix(res.Sections[0].Text, "Error [UNRESOLVABLE_INTENT]") {
		t.Fatalf("unexpected sections %+v", res.Sections)
	}
	if len(h.transport.Calls()) != 0 {
		t.Fatalf("expected no invocation")
	}
}

func TestProcessQueryApplicationFailure(t *testing.T) {
	h := newHarness(t)
	h.transport.FailNext("getAccountBalance", transport.Application("account locked", nil))
	res, err := h.mesh.ProcessQuery(context.Background(), "show balance for PT-1")
	if err != nil {
		t.Fatalf("execution failures are reported in the result, got %v", err)
	}
	if res.Status != pipeline.StatusFailed || res.Error == nil || res.Error.Code != errors.CodeApplication {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProcessQuerySingleStepHonorsQueryTimeout(t *testing.T) {
	tr := meshtest.NewScriptedTransport("http")
	tr.Serve("http://billing", healthcare.NewBilling(healthcare.NewIDs(0)))
	tr.Delay("getAccountBalance", time.Second)
	set := transport.NewSet(tr)
	registry := catalog.NewRegistry(set)
	ctx := context.Background()
	if _, err := registry.Register(ctx, catalog.Endpoint{ServiceID: healthcare.Billing, Address: "http://billing", Transport: "http"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	inv := invoker.New(set, invoker.WithTimeout(time.Second), invoker.WithRetry(2, time.Millisecond, time.Millisecond))
	m, err := New(registry, inv, WithEngine(pipeline.New(inv, pipeline.WithQueryTimeout(30*time.Millisecond))))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	res, err := m.ProcessQuery(ctx, "show balance for PT-1")
	if err != nil {
		t.Fatalf("ProcessQuery: %v", err)
	}
	if res.Status != pipeline.StatusFailed || res.Error == nil || res.Error.Code != errors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("query timeout not applied to a one-step query: took %s", elapsed)
	}
}

func TestPipeLineMeshRecordsTrace(t *testing.T) {
	h := newHarness(t)
	res, err := h.mesh.PipeLineMesh(context.Background(), "show balance for PT-1")
	if err != nil {
		t.Fatalf("PipeLineMesh: %v", err)
	}
	if res.Status != pipeline.StatusSuccess || len(res.Trace) != 1 {
		t.Fatalf("unexpected result %s with %d steps", res.Status, len(res.Trace))
	}
	if res.Trace[0].Operation != "getAccountBalance" || !res.Trace[0].Succeeded() {
		t.Fatalf("unexpected trace %+v", res.Trace[0])
	}
	events, err := h.mesh.TraceStore().List(context.Background(), pipeline.TraceFilter{RunID: res.RunID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one trace event, got %d", len(events))
	}
}

func TestPipeLineMeshMissingArgument(t *testing.T) {
	h := newHarness(t)
	res, err := h.mesh.PipeLineMesh(context.Background(), "Get lab results")
	if !errors.HasCode(err, errors.CodeMissingArgument) {
		t.Fatalf("expected MISSING_ARGUMENT, got %v", err)
	}
	if res.Plan == nil || len(res.Plan.Steps) != 1 {
		t.Fatalf("expected the partial plan in the result, got %+v", res.Plan)
	}
	if len(res.Trace) != 0 || res.State != pipeline.StateAborted {
		t.Fatalf("expected nothing to run, got %+v", res)
	}
}

func TestExecutePlan(t *testing.T) {
	h := newHarness(t)
	p, err := plan.ParseYAML([]byte(`
query: invoice then pay
steps:
  - service: billing
    operation: generateInvoice
    args:
      patientId: PT-7
      serviceType: office visit
      amount: 150
  - service: billing
    operation: processPayment
    args:
      invoiceId: {ref: {step: 0, field: invoiceId}}
      amount: 162
      paymentMethod: card
`))
	if err != nil {
		t.Fatalf("ParseYAML: %v", err)
	}
	res, err := h.mesh.ExecutePlan(context.Background(), p)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if res.Status != pipeline.StatusSuccess {
		t.Fatalf("expected success, got %s: %+v", res.Status, res.Error)
	}
	if res.Trace[1].Args["invoiceId"] != "INV-1" {
		t.Fatalf("expected invoice id threaded, got %v", res.Trace[1].Args["invoiceId"])
	}

	bad := &plan.Plan{ID: "bad", Steps: []plan.Step{{Index: 0, Service: "billing", Operation: "nope"}}}
	res, _ = h.mesh.ExecutePlan(context.Background(), bad)
	if res.Error == nil || res.Error.Code != errors.CodeInvalidPlan {
		t.Fatalf("expected INVALID_PLAN, got %+v", res.Error)
	}
}

func TestReconcile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cfg := &config.Config{Services: map[string]config.ServiceConfig{
		healthcare.Billing:      {Address: "http://" + healthcare.Billing},
		healthcare.Appointments: {Address: "http://" + healthcare.Appointments},
	}}
	h.mesh.Reconcile(ctx, &config.Config{Services: map[string]config.ServiceConfig{}})
	if err := h.mesh.Reconcile(ctx, cfg); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	next := &config.Config{Services: map[string]config.ServiceConfig{
		healthcare.Billing: {Address: "http://" + healthcare.Billing},
	}}
	if err := h.mesh.Reconcile(ctx, next); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, ok := h.mesh.Catalog().Service(healthcare.Appointments); ok {
		t.Fatalf("expected appointments to be deregistered")
	}
	if _, ok := h.mesh.Catalog().Service(healthcare.Billing); !ok {
		t.Fatalf("expected billing to stay registered")
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	results, overall := h.mesh.Health(context.Background())
	if overall != HealthHealthy || len(results) != 4 {
		t.Fatalf("expected 4 healthy services, got %s %+v", overall, results)
	}
	h.transport.Remove("http://" + healthcare.Diagnostics)
	results, overall = h.mesh.Health(context.Background())
	if overall != HealthUnhealthy {
		t.Fatalf("expected unhealthy mesh, got %s", overall)
	}
	for _, r := range results {
		want := HealthHealthy
		if r.Service == healthcare.Diagnostics {
			want = HealthUnhealthy
		}
		if r.Status != want {
			t.Errorf("%s: expected %s, got %s (%s)", r.Service, want, r.Status, r.Message)
		}
	}
}

func TestFromConfigOverHTTP(t *testing.T) {
	srv := httptest.NewServer(httpjson.NewHandler(healthcare.NewBilling(healthcare.NewIDs(0))))
	defer srv.Close()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Discovery.Order = []string{"config"}
	cfg.Services = map[string]config.ServiceConfig{
		healthcare.Billing: {Address: srv.URL},
		"offline":          {Address: "http://127.0.0.1:1"},
	}
	cfg.Trace.Store = "memory"
	cfg.Catalog.RefreshSchedule = "@every 1h"

	m, err := FromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	defer m.Close()

	if _, ok := m.Catalog().Service("offline"); ok {
		t.Fatalf("expected unreachable service to be left out")
	}
	res, err := m.PipeLineMesh(context.Background(), "show balance for PT-1")
	if err != nil {
		t.Fatalf("PipeLineMesh: %v", err)
	}
	if res.Status != pipeline.StatusSuccess {
		t.Fatalf("expected success, got %+v", res.Error)
	}
	if !strings.Contains(res.Trace[0].Output.Text, "Account Balance for Patient PT-1") {
		t.Fatalf("unexpected output %q", res.Trace[0].Output.Text)
	}
}

func TestOpenTraceStore(t *testing.T) {
	if s, c, err := OpenTraceStore(config.TraceConfig{Store: "none"}); s != nil || c != nil || err != nil {
		t.Fatalf("expected no store")
	}
	if _, _, err := OpenTraceStore(config.TraceConfig{Store: "sqlite"}); err == nil {
		t.Fatalf("expected error without a path")
	}
	if _, _, err := OpenTraceStore(config.TraceConfig{Store: "etcd"}); err == nil {
		t.Fatalf("expected error for unknown store")
	}
	s, c, err := OpenTraceStore(config.TraceConfig{Store: "sqlite", Path: t.TempDir() + "/traces.db"})
	if err != nil || s == nil || c == nil {
		t.Fatalf("expected sqlite store, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestExecuteExamplePlanFile(t *testing.T) {
	h := newHarness(t)
	p, err := plan.Load("../../examples/healthcare/office-visit.plan.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.ID != "office-visit" || len(p.Steps) != 3 {
		t.Fatalf("unexpected plan %s with %d steps", p.ID, len(p.Steps))
	}
	res, err := h.mesh.ExecutePlan(context.Background(), p)
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if res.Status != pipeline.StatusSuccess || len(res.Trace) != 3 {
		t.Fatalf("expected three successful steps, got %s with %d: %+v", res.Status, len(res.Trace), res.Error)
	}
	if res.Trace[2].Args["invoiceId"] != "INV-1" {
		t.Fatalf("expected invoice threaded into payment, got %v", res.Trace[2].Args["invoiceId"])
	}
}
