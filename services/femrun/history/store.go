// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history is an append-only ledger of machine runs in SQLite.
//
// The database runs in WAL mode so the CLI can read history while a
// server process is writing to it.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one completed machine run.
type Run struct {
	ID        string    `json:"id"`
	Machine   string    `json:"machine"`
	Family    string    `json:"family"`
	Analysis  string    `json:"analysis,omitempty"`
	Directory string    `json:"directory"`
	FromStage string    `json:"from_stage"`
	ToStage   string    `json:"to_stage"`
	Failed    bool      `json:"failed"`
	Aborted   bool      `json:"aborted"`
	Errors    int       `json:"errors"`
	Warnings  int       `json:"warnings"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
}

// Outcome is a one-word summary of the run.
func (r Run) Outcome() string {
	switch {
	case r.Failed:
		return "failed"
	case r.Aborted:
		return "aborted"
	default:
		return "ok"
	}
}

// Filter narrows List.
type Filter struct {
	// Machine restricts to one machine name when non-empty.
	Machine string

	// Limit caps the result; zero means 50.
	Limit int
}

// Store is the run ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		machine    TEXT NOT NULL,
		family     TEXT NOT NULL,
		analysis   TEXT,
		directory  TEXT NOT NULL,
		from_stage TEXT NOT NULL,
		to_stage   TEXT NOT NULL,
		failed     INTEGER NOT NULL DEFAULT 0,
		aborted    INTEGER NOT NULL DEFAULT 0,
		errors     INTEGER NOT NULL DEFAULT 0,
		warnings   INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		stopped_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_machine ON runs(machine, stopped_at);
	CREATE INDEX IF NOT EXISTS idx_runs_stopped ON runs(stopped_at);
	`)
	return err
}

// Record appends r and returns it with its ID filled in.
func (s *Store) Record(ctx context.Context, r Run) (Run, error) {
	if r.Machine == "" {
		return r, errors.New("history: machine is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	err := retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, machine, family, analysis, directory, from_stage, to_stage,
			                   failed, aborted, errors, warnings, started_at, stopped_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Machine, r.Family, r.Analysis, r.Directory, r.FromStage, r.ToStage,
			boolInt(r.Failed), boolInt(r.Aborted), r.Errors, r.Warnings,
			r.StartedAt.UTC().Format(timeLayout), r.StoppedAt.UTC().Format(timeLayout),
		)
		return err
	})
	if err != nil {
		return r, fmt.Errorf("record run of %s: %w", r.Machine, err)
	}
	return r, nil
}

// List returns runs, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, machine, family, COALESCE(analysis, ''), directory, from_stage, to_stage,
	                 failed, aborted, errors, warnings, started_at, stopped_at
	          FROM runs`
	var args []any
	if f.Machine != "" {
		query += ` WHERE machine = ?`
		args = append(args, f.Machine)
	}
	query += ` ORDER BY stopped_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var failed, aborted int
		var started, stopped string
		if err := rows.Scan(&r.ID, &r.Machine, &r.Family, &r.Analysis, &r.Directory,
			&r.FromStage, &r.ToStage, &failed, &aborted, &r.Errors, &r.Warnings,
			&started, &stopped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Failed = failed != 0
		r.Aborted = aborted != 0
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.StoppedAt, _ = time.Parse(timeLayout, stopped)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes runs that stopped before cutoff and returns how many.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := retryOnContention(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE stopped_at < ?`,
			cutoff.UTC().Format(timeLayout))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
