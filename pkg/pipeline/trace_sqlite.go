// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jllopis/meshwork/pkg/errors"
)

// SQLiteTraceStore persists trace events in SQLite.
type SQLiteTraceStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteTraceStore wraps db and ensures the schema exists.
func NewSQLiteTraceStore(db *sql.DB) (*SQLiteTraceStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if err := ensureTraceSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteTraceStore{db: db}, nil
}

// OpenSQLiteTraceStore opens (or creates) the database file at path.
func OpenSQLiteTraceStore(path string) (*SQLiteTraceStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trace store %s: %w", path, err)
	}
	store, err := NewSQLiteTraceStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// Close closes the database when the store opened it.
func (s *SQLiteTraceStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Record stores a single trace event.
func (s *SQLiteTraceStore) Record(ctx context.Context, event TraceEvent) error {
	args, err := encodeTraceArgs(event.Args)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mesh_trace_events (
			run_id, plan_id, query, step, service, operation, status, args_json,
			output_text, error_code, error_text, attempts, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.PlanID,
		event.Query,
		event.Step,
		event.Service,
		event.Operation,
		event.Status,
		string(args),
		event.Output,
		event.ErrorCode,
		event.Error,
		event.Attempts,
		normalizeTraceTime(event.StartedAt),
		normalizeTraceTime(event.FinishedAt),
	)
	return err
}

// List returns trace events matching the filter, oldest first.
func (s *SQLiteTraceStore) List(ctx context.Context, filter TraceFilter) ([]TraceEvent, error) {
	query := `
		SELECT run_id, plan_id, query, step, service, operation, status, args_json,
			output_text, error_code, error_text, attempts, started_at, finished_at
		FROM mesh_trace_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.RunID != "" {
		addFilter("run_id = ?", filter.RunID)
	}
	if filter.PlanID != "" {
		addFilter("plan_id = ?", filter.PlanID)
	}
	if filter.Status != "" {
		addFilter("status = ?", filter.Status)
	}
	query += where + " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []TraceEvent
	for rows.Next() {
		var (
			event    TraceEvent
			argsJSON sql.NullString
			started  sql.NullTime
			finished sql.NullTime
		)
		if err := rows.Scan(
			&event.RunID,
			&event.PlanID,
			&event.Query,
			&event.Step,
			&event.Service,
			&event.Operation,
			&event.Status,
			&argsJSON,
			&event.Output,
			&event.ErrorCode,
			&event.Error,
			&event.Attempts,
			&started,
			&finished,
		); err != nil {
			return nil, err
		}
		if argsJSON.Valid {
			if decoded, err := decodeTraceArgs([]byte(argsJSON.String)); err == nil {
				event.Args = decoded
			}
		}
		if started.Valid {
			event.StartedAt = started.Time
		}
		if finished.Valid {
			event.FinishedAt = finished.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureTraceSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS mesh_trace_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			plan_id TEXT NOT NULL,
			query TEXT NOT NULL DEFAULT '',
			step INTEGER NOT NULL,
			service TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			args_json TEXT,
			output_text TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			error_text TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_mesh_trace_run ON mesh_trace_events(run_id);
		CREATE INDEX IF NOT EXISTS idx_mesh_trace_plan ON mesh_trace_events(plan_id);
		CREATE INDEX IF NOT EXISTS idx_mesh_trace_status ON mesh_trace_events(status);
	`)
	return err
}
