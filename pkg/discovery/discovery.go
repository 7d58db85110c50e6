// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery finds the endpoints of domain services. Providers list
// endpoints from configuration, a Redis hash or an HTTP registry; a
// Resolver merges them in priority order.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/transport"
)

// ServiceEndpoint represents a discovered service entry.
type ServiceEndpoint struct {
	ID        string            `json:"id"`
	Address   string            `json:"address"`
	Transport string            `json:"transport,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
}

// CatalogEndpoint converts e into a catalog endpoint, inferring the
// transport from the address scheme when it is not set.
func (e ServiceEndpoint) CatalogEndpoint() catalog.Endpoint {
	name := strings.ToLower(strings.TrimSpace(e.Transport))
	if name == "" {
		name = transport.InferName(e.Address)
	}
	return catalog.Endpoint{
		ServiceID: strings.TrimSpace(e.ID),
		Address:   strings.TrimSpace(e.Address),
		Transport: name,
	}
}

// Provider lists service endpoints.
type Provider interface {
	List(ctx context.Context) ([]ServiceEndpoint, error)
}

// Registrar records service endpoints so that a Provider can list them.
type Registrar interface {
	Register(ctx context.Context, endpoint ServiceEndpoint) error
}

// Deregisterer removes endpoints. Both the registry and redis providers
// implement it.
type Deregisterer interface {
	Deregister(ctx context.Context, id string) (bool, error)
}

// Resolver aggregates providers in priority order.
type Resolver struct {
	providers []Provider
}

// NewResolver creates a resolver with providers in order of priority.
func NewResolver(providers ...Provider) (*Resolver, error) {
	filtered := make([]Provider, 0, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		filtered = append(filtered, provider)
	}
	if len(filtered) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "no discovery providers configured", nil)
	}
	return &Resolver{providers: filtered}, nil
}

// Resolve returns discovered endpoints in order, deduped by service id.
// The first provider listing an id wins.
func (r *Resolver) Resolve(ctx context.Context) ([]ServiceEndpoint, error) {
	if r == nil {
		return nil, errors.New(errors.CodeInternal, "resolver is nil", nil)
	}
	out := make([]ServiceEndpoint, 0)
	seen := map[string]struct{}{}
	for i, provider := range r.providers {
		entries, err := provider.List(ctx)
		if err != nil {
			return nil, errors.New(errors.CodeDiscovery, fmt.Sprintf("discovery provider %d failed", i), err).
				WithContext("provider", fmt.Sprintf("%T", provider))
		}
		for _, entry := range entries {
			key := normalizeKey(entry.ID)
			if key == "" || strings.TrimSpace(entry.Address) == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, entry)
		}
	}
	return out, nil
}

// ProviderOrder returns the configured provider order or defaults.
func ProviderOrder(order []string) []string {
	if len(order) == 0 {
		return []string{"config", "redis", "registry"}
	}
	out := make([]string, 0, len(order))
	seen := map[string]struct{}{}
	for _, item := range order {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	if len(out) == 0 {
		return []string{"config", "redis", "registry"}
	}
	return out
}

func normalizeKey(id string) string {
	return strings.TrimSpace(strings.ToLower(id))
}

// SortByID sorts endpoints by id and then address.
func SortByID(endpoints []ServiceEndpoint) {
	sort.Slice(endpoints, func(i, j int) bool {
		left := normalizeKey(endpoints[i].ID)
		right := normalizeKey(endpoints[j].ID)
		if left == right {
			return endpoints[i].Address < endpoints[j].Address
		}
		return left < right
	})
}
