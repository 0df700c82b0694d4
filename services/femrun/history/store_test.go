// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndList(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := s.Record(ctx, Run{
		Machine: "Beam.SolverElmer", Family: "elmer", Analysis: "Beam.Analysis",
		Directory: "/tmp/a", FromStage: "check", ToStage: "done",
		StartedAt: base, StoppedAt: base.Add(time.Second),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = s.Record(ctx, Run{
		Machine: "Beam.SolverElmer", Family: "elmer", Directory: "/tmp/a",
		FromStage: "check", ToStage: "check", Failed: true, Errors: 2, Warnings: 1,
		StartedAt: base.Add(time.Minute), StoppedAt: base.Add(time.Minute + time.Second),
	})
	require.NoError(t, err)
	_, err = s.Record(ctx, Run{
		Machine: "Plate.Solver", Family: "elmer", Directory: "/tmp/b",
		FromStage: "solve", ToStage: "solve", Aborted: true,
		StartedAt: base, StoppedAt: base.Add(2 * time.Second),
	})
	require.NoError(t, err)

	runs, err := s.List(ctx, Filter{Machine: "Beam.SolverElmer"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "failed", runs[0].Outcome())
	assert.Equal(t, 2, runs[0].Errors)
	assert.Equal(t, "ok", runs[1].Outcome())
	assert.Equal(t, "Beam.Analysis", runs[1].Analysis)
	assert.True(t, runs[1].StoppedAt.Equal(base.Add(time.Second)))

	all, err := s.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Beam.SolverElmer", all[0].Machine)

	n, err := s.Prune(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_Validation(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
	s := openTemp(t)
	_, err = s.Record(context.Background(), Run{})
	assert.Error(t, err)
}

func TestRetryOnContention(t *testing.T) {
	calls := 0
	err := retryOnContention(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("no such table: runs")
	assert.ErrorIs(t, retryOnContention(context.Background(), func() error { calls++; return permanent }), permanent)
	assert.Equal(t, 1, calls)

	calls = 0
	assert.Error(t, retryOnContention(context.Background(), func() error {
		calls++
		return errors.New("SQLITE_LOCKED")
	}))
	assert.Equal(t, maxRetries+1, calls)
}
