// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads mesh configuration from defaults, YAML files,
// MESHWORK_* environment variables and command line overrides, in that
// order of precedence (last wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "MESHWORK_"

type Config struct {
	Log       LogConfig                `koanf:"log"`
	Telemetry TelemetryConfig          `koanf:"telemetry"`
	Services  map[string]ServiceConfig `koanf:"services"`
	Discovery DiscoveryConfig          `koanf:"discovery"`
	Catalog   CatalogConfig            `koanf:"catalog"`
	Invoker   InvokerConfig            `koanf:"invoker"`
	Resolver  ResolverConfig           `koanf:"resolver"`
	Pipeline  PipelineConfig           `koanf:"pipeline"`
	Trace     TraceConfig              `koanf:"trace"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// ServiceConfig is a statically configured domain service.
type ServiceConfig struct {
	Address   string            `koanf:"address"`
	Transport string            `koanf:"transport"` // http, grpc, mcp; inferred from address when empty
	Labels    map[string]string `koanf:"labels"`
	// Order positions the service in registration order; ties sort by id.
	Order int `koanf:"order"`
}

// DiscoveryConfig selects where service endpoints come from.
type DiscoveryConfig struct {
	Order          []string `koanf:"order"` // config, redis, registry
	RedisURL       string   `koanf:"redis_url"`
	RedisNamespace string   `koanf:"redis_namespace"`
	RegistryURL    string   `koanf:"registry_url"`
	RegistryToken  string   `koanf:"registry_token"`
	// AutoRegister makes serving processes announce themselves to the
	// registry or redis provider every Heartbeat.
	AutoRegister bool          `koanf:"auto_register"`
	Heartbeat    time.Duration `koanf:"heartbeat"`
}

type CatalogConfig struct {
	RefreshSchedule  string        `koanf:"refresh_schedule"` // cron spec, empty disables
	DiscoveryTimeout time.Duration `koanf:"discovery_timeout"`
}

type InvokerConfig struct {
	Timeout          time.Duration `koanf:"timeout"`
	MaxRetries       int           `koanf:"max_retries"`
	InitialBackoff   time.Duration `koanf:"initial_backoff"`
	MaxBackoff       time.Duration `koanf:"max_backoff"`
	BreakerThreshold int           `koanf:"breaker_threshold"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown"`
}

type ResolverConfig struct {
	MinConfidence float64 `koanf:"min_confidence"`
}

type PipelineConfig struct {
	QueryTimeout      time.Duration `koanf:"query_timeout"`
	MaxParallel       int           `koanf:"max_parallel"`
	ContinueOnFailure bool          `koanf:"continue_on_failure"`
}

type TraceConfig struct {
	Store string `koanf:"store"` // none, memory, sqlite
	Path  string `koanf:"path"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"log.level":                    "info",
		"log.format":                   "text",
		"telemetry.exporter":           "none",
		"discovery.order":              []string{"config", "redis", "registry"},
		"discovery.redis_namespace":    "meshwork",
		"discovery.heartbeat":          "10s",
		"catalog.discovery_timeout":    "5s",
		"invoker.timeout":              "10s",
		"invoker.max_retries":          2,
		"invoker.initial_backoff":      "200ms",
		"invoker.max_backoff":          "5s",
		"invoker.breaker_threshold":    5,
		"invoker.breaker_cooldown":     "30s",
		"resolver.min_confidence":      0.5,
		"pipeline.query_timeout":       "60s",
		"pipeline.max_parallel":        4,
		"pipeline.continue_on_failure": false,
		"trace.store":                  "memory",
		"trace.path":                   "meshwork-traces.db",
	}
}

// Load reads configuration from defaults, the file at path (if any) and
// the environment.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile loads path and then merges the profile file next to it
// (config.yaml + "dev" -> config.dev.yaml) when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI loads configuration honoring --config, --profile (alias
// --env) and repeated --set key=value flags found in args. Other
// arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	opts, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, opts.sets)
}

func load(path, profile string, sets map[string]interface{}) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if p := profileConfigPath(path, profile); p != "" {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load %s: %w", p, err)
			}
		}
	}

	// MESHWORK_INVOKER_MAX_RETRIES -> invoker.max_retries
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(sets))
	for key := range sets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := k.Set(key, sets[key]); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + rest
}

func (c *Config) normalize() {
	if c.Services == nil {
		c.Services = map[string]ServiceConfig{}
	}
	if c.Invoker.MaxRetries < 0 {
		c.Invoker.MaxRetries = 0
	}
	if c.Pipeline.MaxParallel < 1 {
		c.Pipeline.MaxParallel = 1
	}
	c.Trace.Store = strings.ToLower(strings.TrimSpace(c.Trace.Store))
}

// ServiceIDs returns the configured service ids by Order, then id.
func (c *Config) ServiceIDs() []string {
	ids := make([]string, 0, len(c.Services))
	for id := range c.Services {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		oi, oj := c.Services[ids[i]].Order, c.Services[ids[j]].Order
		if oi != oj {
			return oi < oj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	candidate := strings.TrimSuffix(base, ext) + "." + profile + ext
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}

type cliOptions struct {
	path    string
	profile string
	sets    map[string]interface{}
}

func parseCLIOverrides(args []string) (cliOptions, error) {
	opts := cliOptions{sets: map[string]interface{}{}}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, raw, ok := strings.Cut(value, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return opts, fmt.Errorf("invalid --set %q, expected key=value", value)
			}
			opts.sets[key] = parseValue(raw)
		}
	}
	return opts, nil
}

// parseValue decodes scalars, lists and JSON objects; anything that does
// not decode stays a string.
func parseValue(raw string) interface{} {
	var v interface{}
	if err := yamlv3.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}
