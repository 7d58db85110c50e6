// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jllopis/meshwork/pkg/errors"
)

func TestInit(t *testing.T) {
	shutdown, err := Init("test-service", "v0.0.1")
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("Shutdown function should not be nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitNoneAndUnknown(t *testing.T) {
	shutdown, err := InitWithConfig("svc", "v0", Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("none exporter: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := InitWithConfig("svc", "v0", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
	if _, err := InitWithConfig("svc", "v0", Config{Exporter: "otlp"}); err == nil {
		t.Fatalf("expected error for otlp without endpoint")
	}
}

func TestLoggerAddsTraceAndQueryID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "json")

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = WithQueryID(ctx, "q-1")

	logger.InfoContext(ctx, "mesh.query.start", slog.String("entry", "process"))

	var rec map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["query_id"] != "q-1" {
		t.Errorf("expected query_id, got %v", rec["query_id"])
	}
	if rec["trace_id"] == nil || rec["span_id"] == nil {
		t.Errorf("expected trace ids, got %v", rec)
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")
	logger.Info("dropped")
	logger.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output %q", out)
	}
	if ParseLogLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected info default")
	}
}

func TestMeshMetricsNilSafe(t *testing.T) {
	var m *MeshMetrics
	ctx := context.Background()
	m.RecordQuery(ctx, "process", "completed")
	m.RecordStep(ctx, "billing", "generateInvoice", "success", 1)
	m.RecordRetry(ctx, "billing")
	m.RecordDiscovery(ctx, "billing", true)
	m.RecordError(ctx, errors.New(errors.CodeTimeout, "x", nil), "invoker")
	m.RecordBreakerState(ctx, "billing", 2)
}

func TestMeshMetricsRecord(t *testing.T) {
	m, err := NewMeshMetrics()
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	ctx := context.Background()
	m.RecordQuery(ctx, "pipeline", "aborted")
	m.RecordStep(ctx, "billing", "generateInvoice", "failed", 12.5)
	m.RecordError(ctx, nil, "invoker")
}

func TestQueryAttributesTruncates(t *testing.T) {
	attrs := QueryAttributes("q", strings.Repeat("a", 300))
	var text string
	for _, a := range attrs {
		if a.Key == attribute.Key(AttrQueryText) {
			text = a.Value.AsString()
		}
	}
	if len(text) != 203 {
		t.Fatalf("expected truncated text, got %d chars", len(text))
	}
}
