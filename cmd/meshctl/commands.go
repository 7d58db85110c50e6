// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jllopis/meshwork/pkg/catalog"
	"github.com/jllopis/meshwork/pkg/config"
	"github.com/jllopis/meshwork/pkg/errors"
	"github.com/jllopis/meshwork/pkg/mesh"
	"github.com/jllopis/meshwork/pkg/pipeline"
	"github.com/jllopis/meshwork/pkg/plan"
)

func openMesh(ctx context.Context, cfg *config.Config) (*mesh.Mesh, error) {
	// One-shot commands never need the scheduled refresher.
	cfg.Catalog.RefreshSchedule = ""
	return mesh.FromConfig(ctx, cfg)
}

func queryText(cmd string, args []string) (string, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return "", NewInvalidArgumentError(cmd, "query text is required")
	}
	return text, nil
}

type catalogOperation struct {
	Service     string   `json:"service"`
	Operation   string   `json:"operation"`
	Description string   `json:"description"`
	Parameters  []string `json:"parameters"`
	Transport   string   `json:"transport"`
	Address     string   `json:"address"`
}

func runCatalog(ctx context.Context, cfg *config.Config, out *output, args []string) error {
	if len(args) > 0 {
		return NewInvalidArgumentError(args[0], "catalog takes no arguments")
	}
	m, err := openMesh(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()
	return printCatalog(out, m.Catalog())
}

func printCatalog(out *output, cat *catalog.Catalog) error {
	rows := make([]catalogOperation, 0, cat.Len())
	for _, op := range cat.Operations() {
		params := make([]string, len(op.Parameters))
		for i, p := range op.Parameters {
			params[i] = p.Name + ":" + string(p.Type)
			if !p.Required {
				params[i] += "?"
			}
		}
		rows = append(rows, catalogOperation{
			Service:     op.ServiceID,
			Operation:   op.Name,
			Description: op.Description,
			Parameters:  params,
			Transport:   op.Endpoint.Transport,
			Address:     op.Endpoint.Address,
		})
	}
	if out.json {
		return out.printJSON(map[string]any{"version": cat.Version(), "operations": rows})
	}
	if len(rows) == 0 {
		out.printf("catalog is empty; configure services or a discovery provider\n")
		return nil
	}
	w := out.table()
	writeRow(w, "SERVICE", "OPERATION", "PARAMETERS", "DESCRIPTION")
	for _, r := range rows {
		writeRow(w, r.Service, r.Operation, strings.Join(r.Parameters, ", "), truncateMessage(r.Description, 48))
	}
	return w.Flush()
}

func runLookup(ctx context.Context, cfg *config.Config, out *output, args []string) error {
	keyword, err := queryText("lookup", args)
	if err != nil {
		return err
	}
	m, err := openMesh(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	return printLookup(out, m.Catalog(), keyword)
}

func printLookup(out *output, cat *catalog.Catalog, keyword string) error {
	matches := cat.Lookup(keyword)
	if out.json {
		type row struct {
			Operation  string  `json:"operation"`
			Confidence float64 `json:"confidence"`
			Substring  bool    `json:"substring"`
			NameHits   int     `json:"nameHits"`
			DescHits   int     `json:"descHits"`
		}
		rows := make([]row, len(matches))
		for i, mt := range matches {
			rows[i] = row{mt.Operation.Ref().String(), mt.Confidence, mt.Substring, mt.NameHits, mt.DescHits}
		}
		return out.printJSON(rows)
	}
	if len(matches) == 0 {
		out.printf("no operation matches %q\n", keyword)
		return nil
	}
	w := out.table()
	writeRow(w, "RANK", "OPERATION", "CONFIDENCE", "NAME HITS", "DESC HITS")
	for i, mt := range matches {
		writeRow(w, strconv.Itoa(i+1), mt.Operation.Ref().String(),
			strconv.FormatFloat(mt.Confidence, 'f', 2, 64),
			strconv.Itoa(mt.NameHits), strconv.Itoa(mt.DescHits))
	}
	return w.Flush()
}

func runResolve(ctx context.Context, cfg *config.Config, out *output, args []string) error {
	text, err := queryText("resolve", args)
	if err != nil {
		return err
	}
	m, err := openMesh(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	p, err := m.Resolve(ctx, text)
	return printResolved(out, p, err)
}

// printResolved shows p even when resolution reported missing arguments,
// then returns the resolution error.
func printResolved(out *output, p *plan.Plan, err error) error {
	if p == nil {
		return err
	}
	if out.json {
		if perr := out.printJSON(p); perr != nil {
			return perr
		}
	} else {
		writePlan(out.w, p)
	}
	return err
}

func runQuery(ctx context.Context, cfg *config.Config, out *output, args []string) error {
	text, err := queryText("query", args)
	if err != nil {
		return err
	}
	m, err := openMesh(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	res, err := m.ProcessQuery(ctx, text)
	if err != nil {
		return err
	}
	return printQuery(out, res)
}

func printQuery(out *output, res *mesh.QueryResult) error {
	if out.json {
		return out.printJSON(res)
	}
	out.printf("Status: %s\n\n%s\n", out.status(res.Status), res.Text())
	return queryFailure(res.Status, res.Error)
}

func runPipeline(ctx context.Context, cfg *config.Config, out *output, args []string) error {
	text, err := queryText("pipeline", args)
	if err != nil {
		return err
	}
	m, err := openMesh(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	res, err := m.PipeLineMesh(ctx, text)
	if err != nil {
		return err
	}
	return printPipeline(out, res)
}

func runPlanFile(ctx context.Context, cfg *config.Config, out *output, args []string) error {
	if len(args) != 1 {
		return NewInvalidArgumentError("run-plan", "exactly one plan file is required")
	}
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}
	m, err := openMesh(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	res, err := m.ExecutePlan(ctx, p)
	if err != nil {
		return err
	}
	return printPipeline(out, res)
}

func printPipeline(out *output, res *mesh.PipelineResult) error {
	if out.json {
		return out.printJSON(res)
	}
	out.printf("Run %s: %s (%s)\n\n", res.RunID, out.status(res.Status), res.State)
	w := out.table()
	writeRow(w, "STEP", "OPERATION", "STATUS", "ATTEMPTS", "DURATION", "OUTPUT")
	for _, s := range res.Trace {
		text := s.Output.Text
		if s.Error != nil {
			text = fmt.Sprintf("[%s] %s", s.Error.Code, s.Error.Message)
		}
		writeRow(w, strconv.Itoa(s.Step+1), s.Service+"."+s.Operation, out.status(string(s.Status)),
			strconv.Itoa(s.Attempts), s.Duration().String(), truncateMessage(text, 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return queryFailure(res.Status, res.Error)
}

// queryFailure turns a failed run into the command's exit error.
func queryFailure(status string, failure *plan.StepError) error {
	if status == pipeline.StatusSuccess || failure == nil {
		return nil
	}
	return WrapError(errors.New(failure.Code, failure.Message, nil))
}

func runTraces(ctx context.Context, cfg *config.Config, out *output, args []string) error {
	cmd := flag.NewFlagSet("traces", flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	runID := cmd.String("run", "", "run id")
	planID := cmd.String("plan", "", "plan id")
	status := cmd.String("status", "", "step status (success, failed)")
	limit := cmd.Int("limit", 50, "maximum events")
	if err := cmd.Parse(args); err != nil {
		return NewInvalidArgumentError("traces", err.Error())
	}
	store, closer, err := mesh.OpenTraceStore(cfg.Trace)
	if err != nil {
		return err
	}
	if store == nil {
		return NewCLIError(errors.New(errors.CodeInvalidInput, "trace store is disabled", nil),
			"set trace.store=sqlite and trace.path to keep traces between runs")
	}
	if closer != nil {
		defer closer.Close()
	}
	events, err := store.List(ctx, pipeline.TraceFilter{RunID: *runID, PlanID: *planID, Status: *status, Limit: *limit})
	if err != nil {
		return err
	}
	if out.json {
		return out.printJSON(events)
	}
	w := out.table()
	writeRow(w, "RUN", "STEP", "OPERATION", "STATUS", "ATTEMPTS", "STARTED", "DETAIL")
	for _, ev := range events {
		detail := ev.Output
		if ev.ErrorCode != "" {
			detail = "[" + ev.ErrorCode + "] " + ev.Error
		}
		writeRow(w, ev.RunID, strconv.Itoa(ev.Step+1), ev.Service+"."+ev.Operation, out.status(ev.Status),
			strconv.Itoa(ev.Attempts), formatTime(ev.StartedAt), truncateMessage(detail, 48))
	}
	return w.Flush()
}

func runHealth(ctx context.Context, cfg *config.Config, out *output, args []string) error {
	if len(args) > 0 {
		return NewInvalidArgumentError(args[0], "health takes no arguments")
	}
	m, err := openMesh(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	results, overall := m.Health(ctx)
	return printHealth(out, results, overall)
}

func printHealth(out *output, results []mesh.HealthResult, overall mesh.HealthStatus) error {
	if out.json {
		return out.printJSON(map[string]any{"status": overall, "services": results})
	}
	out.printf("Mesh: %s\n\n", out.status(string(overall)))
	w := out.table()
	writeRow(w, "SERVICE", "STATUS", "BREAKER", "OPERATIONS", "MESSAGE")
	for _, r := range results {
		writeRow(w, r.Service, out.status(string(r.Status)), r.Breaker, strconv.Itoa(r.Operations), truncateMessage(r.Message, 48))
	}
	return w.Flush()
}

// writePlan renders p one step per block with its arguments sorted.
func writePlan(w io.Writer, p *plan.Plan) {
	fmt.Fprintf(w, "Plan %s (%d steps)\n", p.ID, len(p.Steps))
	for _, s := range p.Steps {
		fmt.Fprintf(w, "\n%d. %s.%s\n", s.Index+1, s.Service, s.Operation)
		if s.Clause != "" {
			fmt.Fprintf(w, "   clause: %s\n", s.Clause)
		}
		names := make([]string, 0, len(s.Args))
		for name := range s.Args {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "   %s = %s\n", name, s.Args[name])
		}
		if deps := s.Dependencies(); len(deps) > 0 {
			labels := make([]string, len(deps))
			for i, d := range deps {
				labels[i] = strconv.Itoa(d + 1)
			}
			fmt.Fprintf(w, "   after: %s\n", strings.Join(labels, ", "))
		}
	}
}
