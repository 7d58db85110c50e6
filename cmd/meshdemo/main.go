// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Command meshdemo serves the reference healthcare services over HTTP,
// gRPC or MCP so meshctl has something to discover and call.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/jllopis/meshwork/internal/healthcare"
	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/discovery"
	"github.com/jllopis/meshwork/pkg/telemetry"
	"github.com/jllopis/meshwork/pkg/transport"
	"github.com/jllopis/meshwork/pkg/transport/grpcx"
	"github.com/jllopis/meshwork/pkg/transport/httpjson"
	"github.com/jllopis/meshwork/pkg/transport/mcp"
)

var version = "dev"

func main() {
	var (
		host         = flag.String("host", "127.0.0.1", "listen host")
		basePort     = flag.Int("base-port", 8871, "port of the first service; the rest follow")
		transportArg = flag.String("transport", "http", "transport: http, grpc or mcp")
		configPath   = flag.String("config", "", "config file used for discovery auto-registration")
		registryAddr = flag.String("registry-addr", "", "also serve a discovery registry on this address")
		printConfig  = flag.Bool("print-config", false, "print the services block for meshwork.yaml and exit")
	)
	flag.Parse()

	kind := strings.ToLower(strings.TrimSpace(*transportArg))
	endpoints, err := demoEndpoints(*host, *basePort, kind)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *printConfig {
		fmt.Print(servicesYAML(endpoints))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	shutdownTelemetry, err := telemetry.InitWithConfig("meshdemo", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		logger.Error("meshdemo.telemetry.failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services := healthcare.Services(nil)
	errc := make(chan error, len(endpoints)+1)
	var shutdowns []func(context.Context)

	if *registryAddr != "" {
		reg := discovery.NewRegistryServer(*registryAddr, cfg.Discovery.Heartbeat*3)
		reg.AuthToken = cfg.Discovery.RegistryToken
		srv := &http.Server{Addr: *registryAddr, Handler: reg.Handler(), ReadHeaderTimeout: 5 * time.Second}
		shutdowns = append(shutdowns, func(ctx context.Context) { _ = srv.Shutdown(ctx) })
		go func() { errc <- ignoreClosed(srv.ListenAndServe()) }()
		logger.Info("meshdemo.registry.listening", slog.String("addr", *registryAddr))
	}

	for _, ep := range endpoints {
		svc := services[ep.ID]
		listenAddr := fmt.Sprintf("%s:%d", *host, ep.port)
		stopFn, err := serve(listenAddr, kind, ep.ID, svc, errc)
		if err != nil {
			logger.Error("meshdemo.serve.failed", slog.String("service", ep.ID), slog.String("error", err.Error()))
			os.Exit(1)
		}
		shutdowns = append(shutdowns, stopFn)
		logger.Info("meshdemo.service.listening",
			slog.String("service", ep.ID),
			slog.String("address", ep.Address),
			slog.Any("operations", transport.OperationNames(svc)),
		)

		cancel, err := discovery.StartAutoRegisterFromConfig(ctx, cfg, ep.ServiceEndpoint)
		if err != nil {
			logger.Warn("meshdemo.register.failed", slog.String("service", ep.ID), slog.String("error", err.Error()))
		} else if cancel != nil {
			defer cancel()
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			logger.Error("meshdemo.server.failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(shutdowns) - 1; i >= 0; i-- {
		shutdowns[i](shutdownCtx)
	}
	_ = shutdownTelemetry(shutdownCtx)
	logger.Info("meshdemo.stopped", slog.String("version", version))
}

type demoEndpoint struct {
	discovery.ServiceEndpoint
	port int
}

// demoEndpoints assigns consecutive ports to the services in demo order.
func demoEndpoints(host string, basePort int, kind string) ([]demoEndpoint, error) {
	var scheme, suffix string
	switch kind {
	case "http":
		scheme = "http://"
	case "grpc":
		scheme = "grpc://"
	case "mcp":
		scheme, suffix = "mcp://", "/mcp"
	default:
		return nil, fmt.Errorf("unknown transport %q (want http, grpc or mcp)", kind)
	}
	if basePort <= 0 || basePort > 65535-len(healthcare.Order()) {
		return nil, fmt.Errorf("invalid base port %d", basePort)
	}
	out := make([]demoEndpoint, 0, len(healthcare.Order()))
	for i, id := range healthcare.Order() {
		port := basePort + i
		out = append(out, demoEndpoint{
			ServiceEndpoint: discovery.ServiceEndpoint{
				ID:        id,
				Address:   fmt.Sprintf("%s%s:%d%s", scheme, host, port, suffix),
				Transport: kind,
				Labels:    map[string]string{"demo": "healthcare"},
			},
			port: port,
		})
	}
	return out, nil
}

func servicesYAML(endpoints []demoEndpoint) string {
	var b strings.Builder
	b.WriteString("services:\n")
	for i, ep := range endpoints {
		fmt.Fprintf(&b, "  %s:\n    address: %s\n    transport: %s\n    order: %d\n", ep.ID, ep.Address, ep.Transport, i+1)
	}
	return b.String()
}

// serve starts svc on addr and returns its shutdown func. Serve errors
// other than a clean close are sent to errc.
func serve(addr, kind, id string, svc transport.Service, errc chan<- error) (func(context.Context), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "grpc":
		srv := grpc.NewServer()
		grpcx.RegisterService(srv, svc)
		go func() { errc <- ignoreClosed(srv.Serve(lis)) }()
		return func(context.Context) { srv.GracefulStop() }, nil
	default:
		handler := httpjson.NewHandler(svc)
		if kind == "mcp" {
			mux := http.NewServeMux()
			mux.Handle("/mcp", mcp.NewHTTPHandler(mcp.NewServer(id, version, svc)))
			handler = mux
		}
		srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
		go func() { errc <- ignoreClosed(srv.Serve(lis)) }()
		return func(ctx context.Context) { _ = srv.Shutdown(ctx) }, nil
	}
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}
