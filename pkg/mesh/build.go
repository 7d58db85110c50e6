// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/discovery"
	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/invoker"
	"github.com/jllopis/meshwork/pkg/pipeline"
	"github.com/jllopis/meshwork/pkg/resolver"
	"github.com/jllopis/meshwork/pkg/runtime"
	"github.com/jllopis/meshwork/pkg/telemetry"
	"github.com/jllopis/meshwork/pkg/transport"
	"github.com/jllopis/meshwork/pkg/transport/grpcx"
	"github.com/jllopis/meshwork/pkg/transport/httpjson"
	"github.com/jllopis/meshwork/pkg/transport/mcp"
)

type closerFunc func() error

func (fn closerFunc) Close() error { return fn() }

// DefaultTransports returns the HTTP/JSON, gRPC and MCP clients.
func DefaultTransports(clientName, version string) *transport.Set {
	return transport.NewSet(
		httpjson.New(nil),
		grpcx.New(),
		mcp.NewClient(mcp.WithClientInfo(clientName, version)),
	)
}

// OpenTraceStore returns the trace store selected by cfg, or nil when
// tracing is disabled. The returned closer is nil unless the store holds
// resources.
func OpenTraceStore(cfg config.TraceConfig) (pipeline.TraceStore, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", "none":
		return nil, nil, nil
	case "memory":
		return pipeline.NewMemoryTraceStore(), nil, nil
	case "sqlite":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, nil, errors.New(errors.CodeInvalidInput, "trace.path is required for the sqlite store", nil)
		}
		store, err := pipeline.OpenSQLiteTraceStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, errors.New(errors.CodeInvalidInput, "unknown trace store", nil).
			WithContext("store", cfg.Store)
	}
}

// FromConfig assembles a Mesh from cfg: transports, registry, invoker,
// engine and trace store, then discovers and registers every service the
// configured providers list. Services that fail discovery are logged and
// left out; the mesh still starts. A refresh schedule starts a Refresher
// that Close stops.
func FromConfig(ctx context.Context, cfg *config.Config, opts ...Option) (*Mesh, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInvalidInput, "config is nil", nil)
	}
	logger := slog.Default()
	metrics, err := telemetry.NewMeshMetrics()
	if err != nil {
		logger.Warn("mesh.metrics.unavailable", slog.String("error", err.Error()))
		metrics = nil
	}

	transports := DefaultTransports("meshwork", "dev")
	registry := catalog.NewRegistry(transports,
		catalog.WithDiscoveryTimeout(cfg.Catalog.DiscoveryTimeout),
		catalog.WithLogger(logger),
		catalog.WithMetrics(metrics),
	)
	inv := invoker.New(transports,
		invoker.WithConfig(cfg.Invoker),
		invoker.WithLogger(logger),
		invoker.WithMetrics(metrics),
	)
	store, storeCloser, err := OpenTraceStore(cfg.Trace)
	if err != nil {
		_ = transports.Close()
		return nil, err
	}
	engine := pipeline.New(inv,
		pipeline.WithConfig(cfg.Pipeline),
		pipeline.WithTraceStore(store),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)

	base := []Option{
		WithCloser(transports),
		WithCloser(storeCloser),
		WithTransports(transports),
		WithEngine(engine),
		WithResolver(resolver.New(
			resolver.WithMinConfidence(cfg.Resolver.MinConfidence),
			resolver.WithLogger(logger),
		)),
		WithLogger(logger),
		WithMetrics(metrics),
	}
	m, err := New(registry, inv, append(base, opts...)...)
	if err != nil {
		_ = transports.Close()
		if storeCloser != nil {
			_ = storeCloser.Close()
		}
		return nil, err
	}

	if err := m.discover(ctx, cfg); err != nil {
		m.logger.WarnContext(ctx, "mesh.discovery.partial", slog.String("error", err.Error()))
	}
	m.mu.Lock()
	m.services = cfg
	m.mu.Unlock()

	if schedule := strings.TrimSpace(cfg.Catalog.RefreshSchedule); schedule != "" {
		refresher, err := runtime.NewRefresher(registry, schedule,
			runtime.WithRefreshTimeout(cfg.Catalog.DiscoveryTimeout),
			runtime.WithRefreshLogger(m.logger),
			runtime.WithRefreshMetrics(metrics),
		)
		if err == nil {
			err = refresher.Start()
		}
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.closers = append(m.closers, closerFunc(func() error {
			refresher.Stop()
			return nil
		}))
	}
	return m, nil
}

// discover lists endpoints from the configured providers and registers
// them. Providers holding connections are closed with the mesh.
func (m *Mesh) discover(ctx context.Context, cfg *config.Config) error {
	providers := discovery.BuildProviders(cfg)
	for _, p := range providers {
		if c, ok := p.(io.Closer); ok {
			m.closers = append(m.closers, c)
		}
	}
	dr, err := discovery.NewResolver(providers...)
	if err != nil {
		return err
	}
	found, err := dr.Resolve(ctx)
	if err != nil {
		return err
	}
	endpoints := make([]catalog.Endpoint, len(found))
	for i, ep := range found {
		endpoints[i] = ep.CatalogEndpoint()
	}
	m.logger.InfoContext(ctx, "mesh.discovery.resolved", slog.Int("services", len(endpoints)))
	return m.registry.RegisterAll(ctx, endpoints)
}
