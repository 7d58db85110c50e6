// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Invoker.MaxRetries != 2 {
		t.Errorf("expected 2 retries by default, got %d", cfg.Invoker.MaxRetries)
	}
	if cfg.Invoker.Timeout != 10*time.Second {
		t.Errorf("expected 10s invoker timeout, got %v", cfg.Invoker.Timeout)
	}
	if cfg.Resolver.MinConfidence != 0.5 {
		t.Errorf("expected min confidence 0.5, got %v", cfg.Resolver.MinConfidence)
	}
	if cfg.Pipeline.ContinueOnFailure {
		t.Errorf("expected fail-fast by default")
	}
	if len(cfg.Discovery.Order) != 3 {
		t.Errorf("expected default discovery order, got %v", cfg.Discovery.Order)
	}
	if cfg.Services == nil {
		t.Errorf("expected non-nil services map")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshwork.yaml")
	writeFile(t, path, `
services:
  appointments:
    address: http://localhost:8871
  billing:
    address: grpc://localhost:8872
    labels:
      team: finance
invoker:
  timeout: 2s
`)
	t.Setenv("MESHWORK_INVOKER_MAX_RETRIES", "4")
	t.Setenv("MESHWORK_PIPELINE_QUERY_TIMEOUT", "15s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.ServiceIDs(); len(got) != 2 || got[0] != "appointments" || got[1] != "billing" {
		t.Fatalf("unexpected services %v", got)
	}
	if cfg.Services["billing"].Labels["team"] != "finance" {
		t.Errorf("expected billing labels")
	}
	if cfg.Invoker.Timeout != 2*time.Second {
		t.Errorf("expected 2s timeout from file, got %v", cfg.Invoker.Timeout)
	}
	if cfg.Invoker.MaxRetries != 4 {
		t.Errorf("expected env override 4, got %d", cfg.Invoker.MaxRetries)
	}
	if cfg.Pipeline.QueryTimeout != 15*time.Second {
		t.Errorf("expected env query timeout, got %v", cfg.Pipeline.QueryTimeout)
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "config.yaml")
	writeFile(t, base, "log:\n  level: info\n")
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), "log:\n  level: debug\n")

	cfg, err := LoadWithProfile(base, "dev")
	if err != nil {
		t.Fatalf("LoadWithProfile failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected profile to override level, got %s", cfg.Log.Level)
	}

	cfg, err = LoadWithProfile(base, "prod")
	if err != nil {
		t.Fatalf("LoadWithProfile failed: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected base level with missing profile, got %s", cfg.Log.Level)
	}
}

func TestLoadWithCLIOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	writeFile(t, path, `{"pipeline": {"max_parallel": 2}, "trace": {"store": "memory"}}`)

	cfg, err := LoadWithCLI([]string{
		"query", "ignored positional",
		"--config", path,
		"--set", "pipeline.continue_on_failure=true",
		"--set=trace.store=SQLite",
		"--set", `services={"billing":{"address":"http://localhost:8872","transport":"http"}}`,
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Pipeline.MaxParallel != 2 {
		t.Errorf("expected max_parallel from file, got %d", cfg.Pipeline.MaxParallel)
	}
	if !cfg.Pipeline.ContinueOnFailure {
		t.Errorf("expected --set to enable continue_on_failure")
	}
	if cfg.Trace.Store != "sqlite" {
		t.Errorf("expected normalized store, got %q", cfg.Trace.Store)
	}
	if cfg.Services["billing"].Address != "http://localhost:8872" {
		t.Errorf("expected service from --set, got %+v", cfg.Services)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	if _, err := parseCLIOverrides([]string{"--config"}); err == nil {
		t.Fatalf("expected error for missing --config value")
	}
	if _, err := parseCLIOverrides([]string{"--set"}); err == nil {
		t.Fatalf("expected error for missing --set value")
	}
	if _, err := parseCLIOverrides([]string{"--set", "invalid"}); err == nil {
		t.Fatalf("expected error for invalid --set value")
	}
}

func TestProfileConfigPath(t *testing.T) {
	dir := t.TempDir()
	devPath := filepath.Join(dir, "config.dev.yaml")
	writeFile(t, devPath, "log: {}\n")
	basePath := filepath.Join(dir, "config.yaml")

	tests := []struct {
		name     string
		base     string
		profile  string
		wantPath string
	}{
		{name: "existing profile", base: basePath, profile: "dev", wantPath: devPath},
		{name: "nonexistent profile", base: basePath, profile: "prod"},
		{name: "empty profile", base: basePath},
		{name: "empty base", profile: "dev"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := profileConfigPath(tc.base, tc.profile); got != tc.wantPath {
				t.Errorf("profileConfigPath(%q, %q) = %q, want %q", tc.base, tc.profile, got, tc.wantPath)
			}
		})
	}
}

func TestServiceIDsHonorOrder(t *testing.T) {
	cfg := &Config{Services: map[string]ServiceConfig{
		"billing":         {Address: "http://b", Order: 4},
		"patient-records": {Address: "http://p", Order: 1},
		"appointments":    {Address: "http://a", Order: 2},
		"diagnostics":     {Address: "http://d", Order: 2},
	}}
	got := cfg.ServiceIDs()
	want := []string{"patient-records", "appointments", "diagnostics", "billing"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ServiceIDs() = %v, want %v", got, want)
		}
	}
}
