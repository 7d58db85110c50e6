// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/transport"
)

// ParamType is the normalized type of an operation parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

// ParseParamType normalizes the type names services report. Names from
// typed service stacks (double, long, java.lang.String, ...) are accepted.
func ParseParamType(raw string) (ParamType, bool) {
	t := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	switch t {
	case "string", "str", "text", "date", "datetime":
		return TypeString, true
	case "number", "double", "float", "decimal", "float64", "float32", "bigdecimal":
		return TypeNumber, true
	case "integer", "int", "long", "short", "int32", "int64":
		return TypeInteger, true
	case "boolean", "bool":
		return TypeBoolean, true
	default:
		return "", false
	}
}

// Accepts reports whether v is a valid value for the type. Numeric
// strings are not accepted; the resolver converts them before binding.
func (t ParamType) Accepts(v interface{}) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ParameterSpec describes one parameter of an operation.
type ParameterSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// Endpoint is where a service is reached and over which transport.
type Endpoint struct {
	ServiceID string `json:"serviceId"`
	Address   string `json:"address"`
	Transport string `json:"transport,omitempty"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s(%s)", e.ServiceID, e.Address)
}

// OperationRef identifies an operation within the catalog.
type OperationRef struct {
	ServiceID string `json:"service"`
	Name      string `json:"operation"`
}

func (r OperationRef) String() string {
	return r.ServiceID + "." + r.Name
}

// Operation is one named, parameterized capability of a service.
type Operation struct {
	ServiceID   string          `json:"serviceId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterSpec `json:"parameters"`
	Endpoint    Endpoint        `json:"endpoint"`
}

// Ref returns the operation's identity.
func (o Operation) Ref() OperationRef {
	return OperationRef{ServiceID: o.ServiceID, Name: o.Name}
}

// Param returns the parameter named name.
func (o Operation) Param(name string) (ParameterSpec, bool) {
	for _, p := range o.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParameterSpec{}, false
}

// RequiredParams returns the names of required parameters in order.
func (o Operation) RequiredParams() []string {
	var out []string
	for _, p := range o.Parameters {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// ServiceDescriptor is the result of one discovery call against a service.
// It is never mutated; re-discovery produces a new descriptor.
type ServiceDescriptor struct {
	ID           string      `json:"id"`
	Address      string      `json:"address"`
	Transport    string      `json:"transport"`
	Operations   []Operation `json:"operations"`
	DiscoveredAt time.Time   `json:"discoveredAt"`
}

// Endpoint returns the endpoint the descriptor was discovered from.
func (d *ServiceDescriptor) Endpoint() Endpoint {
	return Endpoint{ServiceID: d.ID, Address: d.Address, Transport: d.Transport}
}

// BuildDescriptor validates an operation list and builds a descriptor.
// Missing or duplicate operation names, missing or duplicate parameter
// names and unknown parameter types are discovery errors.
func BuildDescriptor(ep Endpoint, specs []transport.OperationSpec, now time.Time) (*ServiceDescriptor, error) {
	if ep.ServiceID == "" {
		return nil, errors.New(errors.CodeDiscovery, "service id is required", nil).
			WithContext("address", ep.Address)
	}
	desc := &ServiceDescriptor{
		ID:           ep.ServiceID,
		Address:      ep.Address,
		Transport:    ep.Transport,
		Operations:   make([]Operation, 0, len(specs)),
		DiscoveredAt: now,
	}
	seen := make(map[string]struct{}, len(specs))
	for i, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, malformed(ep, fmt.Sprintf("operation %d has no name", i))
		}
		if _, dup := seen[name]; dup {
			return nil, malformed(ep, fmt.Sprintf("duplicate operation %q", name))
		}
		seen[name] = struct{}{}

		params := make([]ParameterSpec, 0, len(spec.Parameters))
		pseen := make(map[string]struct{}, len(spec.Parameters))
		for j, p := range spec.Parameters {
			pname := strings.TrimSpace(p.Name)
			if pname == "" {
				return nil, malformed(ep, fmt.Sprintf("operation %q parameter %d has no name", name, j))
			}
			if _, dup := pseen[pname]; dup {
				return nil, malformed(ep, fmt.Sprintf("operation %q has duplicate parameter %q", name, pname))
			}
			pseen[pname] = struct{}{}
			pt, ok := ParseParamType(p.Type)
			if !ok {
				return nil, malformed(ep, fmt.Sprintf("operation %q parameter %q has unknown type %q", name, pname, p.Type))
			}
			params = append(params, ParameterSpec{
				Name:        pname,
				Type:        pt,
				Required:    p.Required,
				Description: p.Description,
			})
		}
		desc.Operations = append(desc.Operations, Operation{
			ServiceID:   ep.ServiceID,
			Name:        name,
			Description: strings.TrimSpace(spec.Description),
			Parameters:  params,
			Endpoint:    ep,
		})
	}
	return desc, nil
}

func malformed(ep Endpoint, msg string) *errors.MeshError {
	return errors.New(errors.CodeDiscovery, "malformed operation list: "+msg, nil).
		WithContext("service", ep.ServiceID).
		WithContext("address", ep.Address)
}
