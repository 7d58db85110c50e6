// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/meshwork/pkg/errors"
)

// Arguments are written as {"value": v}, {"ref": {"step": n, "field": f}}
// or {"missing": true}. When decoding, a bare scalar or an object without
// those keys is taken as a literal.
type argumentWire struct {
	Value   interface{} `json:"value,omitempty"`
	Ref     *Reference  `json:"ref,omitempty"`
	Missing bool        `json:"missing,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (a Argument) MarshalJSON() ([]byte, error) {
	switch {
	case a.Missing:
		return json.Marshal(argumentWire{Missing: true})
	case a.Ref != nil:
		return json.Marshal(argumentWire{Ref: a.Ref})
	default:
		return json.Marshal(struct {
			Value interface{} `json:"value"`
		}{a.Value})
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Argument) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		var v interface{}
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return err
		}
		*a = Literal(v)
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}
	if !isWireObject(fields) {
		var v map[string]interface{}
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return err
		}
		*a = Literal(v)
		return nil
	}
	var w argumentWire
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return err
	}
	*a = Argument{Value: w.Value, Ref: w.Ref, Missing: w.Missing}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (a Argument) MarshalYAML() (interface{}, error) {
	switch {
	case a.Missing:
		return map[string]interface{}{"missing": true}, nil
	case a.Ref != nil:
		return map[string]interface{}{"ref": map[string]interface{}{"step": a.Ref.Step, "field": a.Ref.Field}}, nil
	default:
		return a.Value, nil
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Argument) UnmarshalYAML(node *yaml.Node) error {
	var v interface{}
	if err := node.Decode(&v); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.UnmarshalJSON(data)
}

func isWireObject(fields map[string]json.RawMessage) bool {
	if len(fields) == 0 {
		return false
	}
	for key := range fields {
		switch key {
		case "value", "ref", "missing":
		default:
			return false
		}
	}
	return true
}

// ParseJSON decodes and validates a plan.
func ParseJSON(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.New(errors.CodeInvalidPlan, "decode plan json", err)
	}
	return finish(&p)
}

// ParseYAML decodes and validates a plan.
func ParseYAML(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.New(errors.CodeInvalidPlan, "decode plan yaml", err)
	}
	return finish(&p)
}

// Load reads a plan file, choosing the decoder by extension (.json, else
// YAML).
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeNotFound, "read plan file", err).WithContext("path", path)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

// finish fills in what plan files may omit (id, step indices) and
// validates the result.
func finish(p *Plan) (*Plan, error) {
	steps := p.Steps
	opts := []Option{WithID(p.ID), WithContinueOnFailure(p.ContinueOnFailure)}
	for i := range steps {
		if steps[i].Index != 0 && steps[i].Index != i {
			return nil, invalid(i, "step index does not match its position")
		}
	}
	out, err := New(p.Query, steps, opts...)
	if err != nil {
		return nil, err
	}
	if !p.CreatedAt.IsZero() {
		out.CreatedAt = p.CreatedAt
	}
	return out, nil
}
