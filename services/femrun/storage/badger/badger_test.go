// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestCheckpointStore_RoundTripInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	store := NewCheckpointStore(db)
	ctx := context.Background()

	_, err = store.Load(ctx, "Beam.SolverElmer")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)

	require.NoError(t, store.Save(ctx, Checkpoint{
		Machine: "Beam.SolverElmer",
		Family:  "elmer",
		Stage:   "done",
		Output:  "ALL DONE",
	}))
	require.NoError(t, store.Save(ctx, Checkpoint{Machine: "Beam.Alt", Stage: "check", Failed: true}))

	cp, err := store.Load(ctx, "Beam.SolverElmer")
	require.NoError(t, err)
	assert.Equal(t, "ALL DONE", cp.Output)
	assert.False(t, cp.UpdatedAt.IsZero())

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Beam.Alt", all[0].Machine)
	assert.True(t, all[0].Failed)

	require.NoError(t, store.Delete(ctx, "Beam.Alt"))
	require.NoError(t, store.Delete(ctx, "Beam.Alt"))
	all, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.Error(t, store.Save(ctx, Checkpoint{}))
}

func TestCheckpointStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.GCInterval = 50 * time.Millisecond

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, NewCheckpointStore(db).Save(context.Background(), Checkpoint{Machine: "m", Stage: "solve"}))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, dir, db.Path())
	cp, err := NewCheckpointStore(db).Load(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, "solve", cp.Stage)
}

func TestStore_CancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewCheckpointStore(db).Save(ctx, Checkpoint{Machine: "m"}), context.Canceled)
}
