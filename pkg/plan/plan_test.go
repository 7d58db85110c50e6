// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/jllopis/meshwork/internal/healthcare"
	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/errors"
)

func historyThenInvoice() []Step {
	return []Step{
		{Service: "patient-records", Operation: "getPatientHistory", Args: map[string]Argument{
			"patientId": Literal("PT-12345"),
		}},
		{Service: "billing", Operation: "generateInvoice", Args: map[string]Argument{
			"patientId":   Ref(0, "patientId"),
			"serviceType": Literal("office visit"),
			"amount":      Literal(150.0),
		}},
	}
}

func TestNewNumbersStepsAndValidates(t *testing.T) {
	p, err := New("history then invoice", historyThenInvoice())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ID == "" {
		t.Fatalf("expected generated id")
	}
	if p.Steps[1].Index != 1 {
		t.Fatalf("expected index 1, got %d", p.Steps[1].Index)
	}
	if deps := p.Steps[1].Dependencies(); !reflect.DeepEqual(deps, []int{0}) {
		t.Fatalf("unexpected dependencies %v", deps)
	}
	if got := p.Dependents()[0]; !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("unexpected dependents %v", got)
	}
}

func TestValidateRejectsForwardAndSelfReferences(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
	}{
		{"self reference", []Step{
			{Service: "s", Operation: "a", Args: map[string]Argument{"x": Ref(0, "x")}},
		}},
		{"forward reference", []Step{
			{Service: "s", Operation: "a", Args: map[string]Argument{"x": Ref(1, "x")}},
			{Service: "s", Operation: "b"},
		}},
		{"forward dependency", []Step{
			{Service: "s", Operation: "a", DependsOn: []int{1}},
			{Service: "s", Operation: "b"},
		}},
		{"negative reference", []Step{
			{Service: "s", Operation: "a"},
			{Service: "s", Operation: "b", Args: map[string]Argument{"x": Ref(-1, "x")}},
		}},
		{"reference without field", []Step{
			{Service: "s", Operation: "a"},
			{Service: "s", Operation: "b", Args: map[string]Argument{"x": Ref(0, "")}},
		}},
		{"missing operation", []Step{{Service: "s"}}},
		{"empty plan", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New("q", tt.steps); !errors.HasCode(err, errors.CodeInvalidPlan) {
				t.Fatalf("expected INVALID_PLAN, got %v", err)
			}
		})
	}
}

var testTime = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

func healthcareCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	services := healthcare.Services(nil)
	var descs []*catalog.ServiceDescriptor
	for _, id := range healthcare.Order() {
		d, err := catalog.BuildDescriptor(catalog.Endpoint{ServiceID: id, Address: "http://" + id}, services[id].Operations(), testTime)
		if err != nil {
			t.Fatalf("descriptor %s: %v", id, err)
		}
		descs = append(descs, d)
	}
	return catalog.New(descs...)
}

func TestValidateAgainstCatalog(t *testing.T) {
	c := healthcareCatalog(t)
	p, err := New("q", historyThenInvoice())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.ValidateAgainst(c); err != nil {
		t.Fatalf("ValidateAgainst: %v", err)
	}

	bad := historyThenInvoice()
	bad[1].Args["amount"] = Literal("150")
	p, _ = New("q", bad)
	if err := p.ValidateAgainst(c); !errors.HasCode(err, errors.CodeInvalidPlan) {
		t.Fatalf("expected type mismatch, got %v", err)
	}

	bad = historyThenInvoice()
	delete(bad[1].Args, "serviceType")
	p, _ = New("q", bad)
	if err := p.ValidateAgainst(c); !errors.HasCode(err, errors.CodeInvalidPlan) {
		t.Fatalf("expected unbound required parameter, got %v", err)
	}

	bad = historyThenInvoice()
	bad[0].Operation = "deletePatient"
	p, _ = New("q", bad)
	if err := p.ValidateAgainst(c); !errors.HasCode(err, errors.CodeInvalidPlan) {
		t.Fatalf("expected unknown operation, got %v", err)
	}
}

func TestMissingArguments(t *testing.T) {
	steps := historyThenInvoice()
	steps[1].Args["amount"] = Missing()
	p, err := New("q", steps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = p.MissingArguments()
	if !errors.HasCode(err, errors.CodeMissingArgument) {
		t.Fatalf("expected MISSING_ARGUMENT, got %v", err)
	}
	if got := errors.AsMeshError(err).Context["parameters"]; !reflect.DeepEqual(got, []string{"amount"}) {
		t.Fatalf("unexpected parameters %v", got)
	}

	p, _ = New("q", historyThenInvoice())
	if err := p.MissingArguments(); err != nil {
		t.Fatalf("expected no missing arguments, got %v", err)
	}
}

func TestArgumentJSON(t *testing.T) {
	in := map[string]Argument{
		"patientId":   Ref(0, "patientId"),
		"amount":      Literal(150.0),
		"serviceType": Missing(),
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]Argument
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["patientId"].Ref == nil || out["patientId"].Ref.Field != "patientId" {
		t.Fatalf("ref lost: %+v", out["patientId"])
	}
	if out["amount"].Value != 150.0 || !out["serviceType"].Missing {
		t.Fatalf("unexpected round trip %+v", out)
	}

	var bare Argument
	if err := json.Unmarshal([]byte(`{"city": "Springfield"}`), &bare); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := bare.Value.(map[string]interface{}); !ok {
		t.Fatalf("expected object literal, got %+v", bare)
	}
}

func TestLoadYAMLPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := `
id: billing-run
query: invoice for the last visit
continue_on_failure: true
steps:
  - service: patient-records
    operation: getPatientHistory
    args:
      patientId: PT-12345
  - service: billing
    operation: generateInvoice
    args:
      patientId:
        ref: {step: 0, field: patientId}
      serviceType: office visit
      amount: 150
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.ID != "billing-run" || !p.ContinueOnFailure || len(p.Steps) != 2 {
		t.Fatalf("unexpected plan %+v", p)
	}
	ref := p.Steps[1].Args["patientId"].Ref
	if ref == nil || ref.Step != 0 || ref.Field != "patientId" {
		t.Fatalf("expected reference, got %+v", p.Steps[1].Args["patientId"])
	}
	if p.Steps[1].Args["amount"].Value != 150.0 {
		t.Fatalf("expected numeric literal, got %#v", p.Steps[1].Args["amount"].Value)
	}
}

func TestParseJSONRejectsForwardReference(t *testing.T) {
	data := []byte(`{"steps": [
		{"service": "s", "operation": "a", "args": {"x": {"ref": {"step": 1, "field": "id"}}}},
		{"service": "s", "operation": "b"}
	]}`)
	if _, err := ParseJSON(data); !errors.HasCode(err, errors.CodeInvalidPlan) {
		t.Fatalf("expected INVALID_PLAN, got %v", err)
	}
}

func TestOutputField(t *testing.T) {
	o := Output{Data: map[string]interface{}{
		"invoiceId": "INV-1",
		"patient":   map[string]interface{}{"id": "PT-1"},
	}}
	if v, ok := o.Field("patient.id"); !ok || v != "PT-1" {
		t.Fatalf("expected nested field, got %v %v", v, ok)
	}
	if _, ok := o.Field("claimId"); ok {
		t.Fatalf("expected missing field")
	}
	if _, ok := (Output{Text: "plain"}).Field("x"); ok {
		t.Fatalf("text output has no fields")
	}
}

func TestStepErrorRoundTrip(t *testing.T) {
	err := errors.New(errors.CodeApplication, "invoice rejected", nil)
	r := Failed(Step{Index: 2, Service: "billing", Operation: "generateInvoice"}, nil, err, testTime)
	if r.Succeeded() || r.Error.Code != errors.CodeApplication {
		t.Fatalf("unexpected result %+v", r)
	}
	if !errors.HasCode(r.Err(), errors.CodeApplication) {
		t.Fatalf("expected rebuilt error, got %v", r.Err())
	}
}
