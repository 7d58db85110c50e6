// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

// Command meshctl resolves and executes queries against a capability mesh
// and inspects its catalog and traces.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/telemetry"
)

var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(NewInvalidArgumentError("flags", err.Error()), global.JSON)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cmd := args[0]
	switch cmd {
	case "help":
		printUsage()
		return
	case "version":
		printVersion(global)
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(NewConfigError(err, configPath(global.ConfigArgs)), global.JSON)
	}
	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	shutdown, err := telemetry.InitWithConfig("meshctl", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		fatal(err, global.JSON)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(sctx)
	}()

	out := newOutput(os.Stdout, global.JSON)
	if cmd == "repl" {
		if err := runREPL(ctx, cfg, out, os.Stdin, configPath(global.ConfigArgs), global.Timeout); err != nil {
			fatal(err, global.JSON)
		}
		return
	}

	if global.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, global.Timeout)
		defer cancel()
	}

	switch cmd {
	case "catalog":
		err = runCatalog(ctx, cfg, out, args[1:])
	case "lookup":
		err = runLookup(ctx, cfg, out, args[1:])
	case "resolve":
		err = runResolve(ctx, cfg, out, args[1:])
	case "query":
		err = runQuery(ctx, cfg, out, args[1:])
	case "pipeline":
		err = runPipeline(ctx, cfg, out, args[1:])
	case "run-plan":
		err = runPlanFile(ctx, cfg, out, args[1:])
	case "traces":
		err = runTraces(ctx, cfg, out, args[1:])
	case "health":
		err = runHealth(ctx, cfg, out, args[1:])
	default:
		err = NewInvalidArgumentError(cmd, "unknown command")
	}
	if err != nil {
		fatal(err, global.JSON)
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{Timeout: 60 * time.Second}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--set":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="), strings.HasPrefix(arg, "--set="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

// output writes either JSON documents or human-readable text. Status
// words are colored only on a terminal.
type output struct {
	w     io.Writer
	json  bool
	color bool
}

func newOutput(w io.Writer, jsonOutput bool) *output {
	color := false
	if f, ok := w.(*os.File); ok && !jsonOutput {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &output{w: w, json: jsonOutput, color: color}
}

func (o *output) printJSON(value any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func (o *output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}

func (o *output) status(status string) string {
	if !o.color {
		return status
	}
	code := "33"
	switch status {
	case "success", "completed", "HEALTHY", "closed":
		code = "32"
	case "failed", "aborted", "UNHEALTHY", "open":
		code = "31"
	}
	return "\x1b[" + code + "m" + status + "\x1b[0m"
}

func (o *output) table() *tabwriter.Writer {
	return tabwriter.NewWriter(o.w, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func truncateMessage(value string, limit int) string {
	value = normalizeCell(value)
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format(time.RFC3339)
}

func printVersion(flags globalFlags) {
	if flags.JSON {
		_ = newOutput(os.Stdout, true).printJSON(map[string]string{"version": version})
		return
	}
	fmt.Println(version)
}

func printUsage() {
	fmt.Println(`meshctl - capability mesh client

Usage:
  meshctl [global flags] <command> [args]

Global flags:
  --config <path>      Path to meshwork.yaml
  --set key=value      Override config (repeatable)
  --timeout <dur>      Overall command timeout (default 60s)
  --json               JSON output

Commands:
  catalog                     List registered services and operations
  lookup <keyword>            Rank operations matching a keyword or clause
  resolve <text>              Show the plan a query resolves to
  query <text>                Resolve and execute (direct call for one step)
  pipeline <text>             Resolve and execute through the pipeline engine
  run-plan <file>             Execute a YAML or JSON plan file
  traces [--run <id>] [--status <s>] [--limit N]
  health                      Probe every registered service
  repl                        Read queries from stdin against one long-lived mesh;
                              --timeout applies per query and the config file is
                              watched for service changes
  version
  help`)
}

func fatal(err error, jsonOutput bool) {
	asCLIError(err).PrintError(os.Stderr, jsonOutput)
	os.Exit(1)
}
