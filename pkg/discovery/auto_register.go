// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/errors"
)

const defaultHeartbeat = 10 * time.Second

// StartAutoRegister registers the endpoint and refreshes it on interval
// until the returned cancel func is called. When registrar is also a
// Deregisterer the endpoint is removed once the heartbeat stops.
func StartAutoRegister(ctx context.Context, registrar Registrar, endpoint ServiceEndpoint, interval time.Duration) (context.CancelFunc, error) {
	if registrar == nil {
		return nil, errors.New(errors.CodeInvalidInput, "registrar not configured", nil)
	}
	if normalizeKey(endpoint.ID) == "" || endpoint.Address == "" {
		return nil, errors.New(errors.CodeInvalidInput, "service endpoint missing id or address", nil)
	}
	if interval <= 0 {
		interval = defaultHeartbeat
	}
	ctx, cancel := context.WithCancel(ctx)
	logger := slog.Default().With(slog.String("service", endpoint.ID))

	register := func() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := registrar.Register(ctx, endpoint); err != nil {
			logger.Warn("discovery.register.failed", slog.String("error", err.Error()))
		}
	}

	register()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if d, ok := registrar.(Deregisterer); ok {
					dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					if _, err := d.Deregister(dctx, endpoint.ID); err != nil {
						logger.Warn("discovery.deregister.failed", slog.String("error", err.Error()))
					}
					cancel()
				}
				return
			case <-ticker.C:
				register()
			}
		}
	}()

	return cancel, nil
}

// StartAutoRegisterFromConfig wires auto-register from config settings.
// It returns a nil cancel func when auto registration is disabled.
func StartAutoRegisterFromConfig(ctx context.Context, cfg *config.Config, endpoint ServiceEndpoint) (context.CancelFunc, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInvalidInput, "config is nil", nil)
	}
	if !cfg.Discovery.AutoRegister {
		return nil, nil
	}
	registrar, err := RegistrarFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return StartAutoRegister(ctx, registrar, endpoint, cfg.Discovery.Heartbeat)
}
