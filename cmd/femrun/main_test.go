// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/femrun/services/femrun/history"
)

const stubVTU = `<?xml version="1.0"?>
<VTKFile type="UnstructuredGrid" version="1.0" byte_order="LittleEndian">
  <UnstructuredGrid>
    <Piece NumberOfPoints="4" NumberOfCells="1">
      <PointData>
        <DataArray type="Float64" Name="temperature" format="ascii">1 2 3 4</DataArray>
      </PointData>
    </Piece>
  </UnstructuredGrid>
</VTKFile>
`

const completeDoc = `version: 1
name: Beam
entities:
  - name: Analysis
    kind: analysis
    members: [Mesh, Steel, Input, SolverElmer]
  - name: Mesh
    kind: mesh.gmsh
  - name: Steel
    kind: material.solid
  - name: Input
    kind: freetext
    properties:
      Text: |
        Header
          Mesh DB "." "mesh"
        End
  - name: SolverElmer
    kind: solver.elmer
`

const emptyDoc = `version: 1
name: Empty
entities:
  - name: Analysis
    kind: analysis
    members: [SolverElmer]
  - name: SolverElmer
    kind: solver.elmer
`

type env struct {
	dir     string
	config  string
	history string
}

// newEnv writes a config with on-disk stores and the given solver binary.
func newEnv(t *testing.T, binary string) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{dir: dir, config: filepath.Join(dir, "femrun.yaml"), history: filepath.Join(dir, "history.db")}
	cfg := fmt.Sprintf(`directory:
  policy: temporary
solvers:
  ElmerSolver: %q
logging:
  level: error
telemetry:
  traces: none
  metrics: none
storage:
  checkpoints: %q
  history: %q
server:
  port: 12230
`, binary, filepath.Join(dir, "checkpoints"), e.history)
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o644))
	return e
}

func (e *env) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *env) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--config", e.config, "--no-color"))
	err := root.Execute()
	return out.String(), err
}

func stubElmer(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub solver is a POSIX shell script")
	}
	path := filepath.Join(t.TempDir(), "ElmerSolver")
	script := "#!/bin/sh\necho \"ELMER SOLVER STARTED\"\ncat > case0001.vtu <<'EOF_VTU'\n" + stubVTU + "EOF_VTU\necho \"ALL DONE\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestCheck_ReportsEveryProblem(t *testing.T) {
	e := newEnv(t, filepath.Join(t.TempDir(), "missing", "ElmerSolver"))
	doc := e.write(t, "empty.femdoc", emptyDoc)

	out, err := e.exec(t, "check", doc)

	assert.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out, "== Empty.SolverElmer (elmer) ==")
	assert.Contains(t, out, "Mesh object missing.")
	assert.Contains(t, out, "No material object defined in the analysis.")
	assert.Contains(t, out, "Analysis without solver input text is not supported.")
	assert.Contains(t, out, "ElmerSolver binary not found (required).")
	assert.Contains(t, out, "failed, stage check")
}

func TestRun_EndToEnd(t *testing.T) {
	e := newEnv(t, stubElmer(t))
	doc := e.write(t, "beam.femdoc", completeDoc)
	workdir := t.TempDir()

	out, err := e.exec(t, "run", doc, "SolverElmer", "--directory", workdir, "--follow", "--save")
	require.NoError(t, err, out)

	assert.Contains(t, out, "[Beam.SolverElmer] ALL DONE")
	assert.Contains(t, out, "reached stage done")
	assert.FileExists(t, filepath.Join(workdir, "case.sif"))
	assert.FileExists(t, filepath.Join(workdir, "case0001.vtu"))

	saved, err := os.ReadFile(doc)
	require.NoError(t, err)
	assert.Contains(t, string(saved), "SolverElmerOutput")
	assert.Contains(t, string(saved), "SolverElmerResult")

	store, err := history.Open(e.history)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.List(context.Background(), history.Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "Beam.SolverElmer", runs[0].Machine)
	assert.Equal(t, "ok", runs[0].Outcome())
}

func TestRun_RejectsBadArguments(t *testing.T) {
	e := newEnv(t, stubElmer(t))
	doc := e.write(t, "beam.femdoc", completeDoc)

	_, err := e.exec(t, "run", doc, "--target", "done")
	assert.ErrorContains(t, err, "invalid target")

	_, err = e.exec(t, "run", doc, "Steel")
	assert.ErrorContains(t, err, "solver not found")

	_, err = e.exec(t, "run", filepath.Join(e.dir, "nope.femdoc"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHistory_ListsRunsAsJSON(t *testing.T) {
	e := newEnv(t, stubElmer(t))
	doc := e.write(t, "beam.femdoc", completeDoc)

	_, err := e.exec(t, "run", doc, "--target", "check")
	require.NoError(t, err)

	out, err := e.exec(t, "history", "--json")
	require.NoError(t, err)
	var runs []history.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs), out)
	require.Len(t, runs, 1)
	assert.Equal(t, "check", runs[0].FromStage)
	assert.Equal(t, "prepare", runs[0].ToStage)

	out, err = e.exec(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "Beam.SolverElmer")
	assert.Contains(t, out, "check → prepare")

	out, err = e.exec(t, "history", "--prune", "1ns")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 1 runs")
}

func TestRenderRuns_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderRuns(&buf, nil, false))
	assert.Equal(t, "no runs recorded\n", buf.String())
}

func TestWaitSettled(t *testing.T) {
	t.Run("collapses bursts", func(t *testing.T) {
		dirty := make(chan struct{}, 1)
		dirty <- struct{}{}
		go func() {
			time.Sleep(10 * time.Millisecond)
			dirty <- struct{}{}
		}()
		start := time.Now()
		assert.True(t, waitSettled(context.Background(), dirty, 50*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, waitSettled(ctx, make(chan struct{}), time.Second))
	})
}
