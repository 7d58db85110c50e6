// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/mesh"
)

const replHelp = `Commands:
  <text>             resolve and execute (direct call for one step)
  pipeline <text>    execute through the pipeline engine
  resolve <text>     show the plan without executing
  lookup <keyword>   rank matching operations
  catalog            list operations
  health             probe services
  quit
`

// runREPL keeps one mesh open and evaluates a line at a time. The catalog
// refresh schedule stays active and, when the config came from a file,
// service changes in that file are reconciled while the session runs.
func runREPL(ctx context.Context, cfg *config.Config, out *output, in io.Reader, path string, timeout time.Duration) error {
	m, err := mesh.FromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if path != "" {
		w, err := config.NewWatcher(path)
		if err != nil {
			return NewConfigError(err, path)
		}
		m.Watch(ctx, w)
		w.Start(ctx)
		defer w.Stop()
	}

	if !out.json {
		out.printf("meshwork %s: %d services, catalog v%d. Type 'help' for commands.\n",
			version, m.Catalog().Len(), m.Catalog().Version())
	}
	scanner := bufio.NewScanner(in)
	for {
		if out.color {
			out.printf("mesh> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "help":
			out.printf("%s", replHelp)
			continue
		}

		qctx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			qctx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := evalLine(qctx, m, out, line)
		cancel()
		if err != nil {
			slog.DebugContext(ctx, "meshctl.repl.failed", slog.String("line", line), slog.String("error", err.Error()))
			asCLIError(err).PrintError(out.w, out.json)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func evalLine(ctx context.Context, m *mesh.Mesh, out *output, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "pipeline":
		if rest == "" {
			return NewInvalidArgumentError(cmd, "query text is required")
		}
		res, err := m.PipeLineMesh(ctx, rest)
		if err != nil {
			return err
		}
		return printPipeline(out, res)
	case "resolve":
		if rest == "" {
			return NewInvalidArgumentError(cmd, "query text is required")
		}
		p, err := m.Resolve(ctx, rest)
		return printResolved(out, p, err)
	case "lookup":
		if rest == "" {
			return NewInvalidArgumentError(cmd, "keyword is required")
		}
		return printLookup(out, m.Catalog(), rest)
	case "catalog":
		return printCatalog(out, m.Catalog())
	case "health":
		results, overall := m.Health(ctx)
		return printHealth(out, results, overall)
	default:
		res, err := m.ProcessQuery(ctx, line)
		if err != nil {
			return err
		}
		return printQuery(out, res)
	}
}
