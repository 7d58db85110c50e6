// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"log/slog"
	"strings"

	"github.com/jllopis/meshwork/pkg/config"
)

// BuildProviders builds discovery providers based on config and order.
// Providers whose settings are missing are skipped.
func BuildProviders(cfg *config.Config) []Provider {
	order := ProviderOrder(nil)
	if cfg != nil {
		order = ProviderOrder(cfg.Discovery.Order)
	}
	providers := make([]Provider, 0, len(order))
	for _, item := range order {
		switch strings.ToLower(item) {
		case "config":
			providers = append(providers, NewConfigProvider(cfg))
		case "redis":
			if cfg == nil || strings.TrimSpace(cfg.Discovery.RedisURL) == "" {
				continue
			}
			provider, err := NewRedisProviderFromURL(cfg.Discovery.RedisURL, cfg.Discovery.RedisNamespace)
			if err != nil {
				slog.Warn("discovery.redis.config.invalid", slog.String("error", err.Error()))
				continue
			}
			providers = append(providers, provider)
		case "registry":
			if cfg != nil && strings.TrimSpace(cfg.Discovery.RegistryURL) != "" {
				provider := NewRegistryProvider(cfg.Discovery.RegistryURL)
				provider.AuthToken = strings.TrimSpace(cfg.Discovery.RegistryToken)
				providers = append(providers, provider)
			}
		default:
			slog.Warn("discovery.provider.unknown", slog.String("provider", item))
		}
	}
	return providers
}

// RegistrarFromConfig returns the registrar serving processes announce
// themselves to: the registry when configured, else redis.
func RegistrarFromConfig(cfg *config.Config) (Registrar, error) {
	if cfg == nil {
		return nil, nil
	}
	if url := strings.TrimSpace(cfg.Discovery.RegistryURL); url != "" {
		provider := NewRegistryProvider(url)
		provider.AuthToken = strings.TrimSpace(cfg.Discovery.RegistryToken)
		return provider, nil
	}
	if url := strings.TrimSpace(cfg.Discovery.RedisURL); url != "" {
		provider, err := NewRedisProviderFromURL(url, cfg.Discovery.RedisNamespace, WithRedisTTL(3*cfg.Discovery.Heartbeat))
		if err != nil {
			return nil, err
		}
		return provider, nil
	}
	return nil, nil
}
