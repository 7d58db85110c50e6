// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"strings"

	"github.com/jllopis/meshwork/pkg/config"
)

// ConfigProvider lists services from configuration.
type ConfigProvider struct {
	Entries []ServiceEndpoint
}

// NewConfigProvider builds a provider from config. Entries are ordered by
// service id.
func NewConfigProvider(cfg *config.Config) *ConfigProvider {
	provider := &ConfigProvider{}
	if cfg == nil {
		return provider
	}
	for _, id := range cfg.ServiceIDs() {
		svc := cfg.Services[id]
		provider.Entries = append(provider.Entries, ServiceEndpoint{
			ID:        strings.TrimSpace(id),
			Address:   strings.TrimSpace(svc.Address),
			Transport: strings.TrimSpace(svc.Transport),
			Labels:    cloneLabels(svc.Labels),
		})
	}
	return provider
}

// List returns configured endpoints.
func (p *ConfigProvider) List(_ context.Context) ([]ServiceEndpoint, error) {
	if p == nil {
		return nil, nil
	}
	return append([]ServiceEndpoint(nil), p.Entries...), nil
}

func cloneLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for key, value := range labels {
		out[key] = value
	}
	return out
}
