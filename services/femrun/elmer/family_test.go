// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package elmer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/machine"
	"github.com/AleutianAI/femrun/services/femrun/task"
)

const sampleVTU = `<?xml version="1.0"?>
<VTKFile type="UnstructuredGrid" version="1.0" byte_order="LittleEndian">
  <UnstructuredGrid>
    <Piece NumberOfPoints="8" NumberOfCells="1">
      <PointData>
        <DataArray type="Float64" Name="displacement" NumberOfComponents="3" format="ascii">0 0 0</DataArray>
        <DataArray type="Float64" Name="vonmises" format="ascii">0</DataArray>
      </PointData>
      <CellData>
        <DataArray type="Int32" Name="GeometryIds" format="ascii">1</DataArray>
      </CellData>
    </Piece>
  </UnstructuredGrid>
</VTKFile>
`

// stubSolver writes an executable shell script standing in for
// ElmerSolver and returns a resolver for it.
func stubSolver(t *testing.T, body string) BinaryResolver {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub solver is a POSIX shell script")
	}
	path := filepath.Join(t.TempDir(), "ElmerSolver")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return BinaryFunc(func(name string) (string, error) {
		if name != BinaryName {
			return "", errors.New("unexpected binary " + name)
		}
		return path, nil
	})
}

var noBinary = BinaryFunc(func(string) (string, error) { return "", errors.New("not installed") })

func succeeding(t *testing.T) BinaryResolver {
	return stubSolver(t, `echo "ELMER SOLVER (v 9.0) STARTED"
test -f case.sif || { echo "missing case.sif" >&2; exit 4; }
cat > case0001.vtu <<'EOF_VTU'
`+sampleVTU+`EOF_VTU
echo "warning: convergence slow" >&2
echo "ALL DONE"
`)
}

type beam struct {
	doc      *document.Document
	analysis *document.Entity
	solver   *document.Entity
}

// newBeam builds a complete, solvable analysis.
func newBeam(t *testing.T) *beam {
	t.Helper()
	h := document.NewHub(nil)
	d, err := h.NewDocument("Beam")
	require.NoError(t, err)
	b := &beam{doc: d}
	b.analysis, err = d.AddEntity(document.KindAnalysis, "Analysis")
	require.NoError(t, err)
	add := func(kind document.Kind, name string) *document.Entity {
		e, err := d.AddEntity(kind, name)
		require.NoError(t, err)
		require.NoError(t, b.analysis.AddMember(e))
		return e
	}
	add(document.KindMeshGmsh, "Mesh")
	add(document.KindMaterialSolid, "Steel")
	add(document.KindConstraintFixed, "Fixed")
	add(document.KindFreeText, "Input").Set(PropText, "Header\n  Mesh DB \".\" \"mesh\"\nEnd")
	b.solver = add(document.KindSolverElmer, "SolverElmer")
	return b
}

func newMachine(t *testing.T, b *beam, fam machine.Family) *machine.Machine {
	t.Helper()
	m, err := machine.New(machine.Config{
		Solver:    b.solver,
		Directory: t.TempDir(),
		Family:    fam,
		Registry:  task.NewRegistry(),
	})
	require.NoError(t, err)
	return m
}

func TestFamily_EndToEnd(t *testing.T) {
	b := newBeam(t)
	m := newMachine(t, b, New(succeeding(t)))

	require.NoError(t, m.Run(context.Background()))

	require.False(t, m.Failed(), "errors: %v", m.Report().Errors())
	assert.False(t, m.Aborted())
	assert.Equal(t, machine.StageDone, m.Stage())

	sif, err := os.ReadFile(filepath.Join(m.Directory(), SIFName))
	require.NoError(t, err)
	assert.Contains(t, string(sif), "Mesh DB")
	start, err := os.ReadFile(filepath.Join(m.Directory(), StartInfoName))
	require.NoError(t, err)
	assert.Equal(t, "case.sif\n", string(start))

	assert.Equal(t, []string{
		"ELMER SOLVER (v 9.0) STARTED",
		"warning: convergence slow",
		"ALL DONE",
	}, m.SolveOutput().Lines())

	out, ok := b.doc.Entity("SolverElmerOutput")
	require.True(t, ok)
	assert.Equal(t, document.KindText, out.Kind())
	assert.True(t, out.Bool("ReadOnly"))
	assert.Contains(t, out.GetString(PropText), "ALL DONE")
	assert.Equal(t, "SolverElmerOutput", b.solver.GetString(PropOutput))
	assert.True(t, b.analysis.HasMember("SolverElmerOutput"))

	res, ok := b.doc.Entity("SolverElmerResult")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(m.Directory(), "case0001.vtu"), res.GetString(PropFile))
	points, _ := res.Get("Points")
	assert.Equal(t, 8, points)
	assert.Equal(t, "displacement,vonmises,GeometryIds", res.GetString("Fields"))
	assert.Equal(t, "SolverElmerResult", b.solver.GetString(PropResult))

	assert.NotEmpty(t, m.Report().Infos())
	assert.Empty(t, m.Report().Warnings())
}

func TestFamily_RerunUpdatesExistingEntities(t *testing.T) {
	b := newBeam(t)
	m := newMachine(t, b, New(succeeding(t)))
	require.NoError(t, m.Run(context.Background()))
	require.Equal(t, machine.StageDone, m.Stage())

	require.True(t, m.Reset(machine.StageSolve))
	require.NoError(t, m.Run(context.Background()))
	assert.False(t, m.Failed())
	assert.Len(t, b.doc.EntitiesOfKind(document.KindText), 1)
	assert.Len(t, b.doc.EntitiesOfKind(document.KindPipeline), 1)
}

func TestFamily_CheckAccumulatesErrors(t *testing.T) {
	h := document.NewHub(nil)
	d, err := h.NewDocument("Empty")
	require.NoError(t, err)
	a, err := d.AddEntity(document.KindAnalysis, "Analysis")
	require.NoError(t, err)
	s, err := d.AddEntity(document.KindSolverElmer, "Solver")
	require.NoError(t, err)
	require.NoError(t, a.AddMember(s))

	m := newMachine(t, &beam{doc: d, analysis: a, solver: s}, New(noBinary))
	require.NoError(t, m.RunTo(context.Background(), machine.StageSolve))

	assert.True(t, m.Failed())
	assert.Equal(t, machine.StageCheck, m.Stage())
	errs := m.Report().Errors()
	require.Len(t, errs, 4)
	assert.Contains(t, errs[0], "Mesh object missing")
	assert.Contains(t, errs[1], "No material")
	assert.Contains(t, errs[2], "solver input text")
	assert.Contains(t, errs[3], "ElmerSolver binary not found")
	assert.False(t, m.StageTask(machine.StagePrepare).Running())
	assert.True(t, m.StageTask(machine.StagePrepare).StartTime().IsZero(), "prepare never started")
}

func TestFamily_CheckMeshTypeAndUnsupportedConstraint(t *testing.T) {
	b := newBeam(t)
	require.NoError(t, b.doc.RemoveEntity("Mesh"))
	netgen, err := b.doc.AddEntity(document.KindMeshNetgen, "Netgen")
	require.NoError(t, err)
	require.NoError(t, b.analysis.AddMember(netgen))
	pressure, err := b.doc.AddEntity(document.KindConstraintPressure, "Pressure")
	require.NoError(t, err)
	require.NoError(t, b.analysis.AddMember(pressure))

	m := newMachine(t, b, New(succeeding(t)))
	require.NoError(t, m.RunTo(context.Background(), machine.StageCheck))

	assert.True(t, m.Failed())
	require.Len(t, m.Report().Errors(), 1)
	assert.Contains(t, m.Report().Errors()[0], "mesh.netgen")
	require.Len(t, m.Report().Warnings(), 1)
	assert.Contains(t, m.Report().Warnings()[0], "Pressure")
}

func TestFamily_WarningsDoNotStopProgress(t *testing.T) {
	b := newBeam(t)
	pressure, err := b.doc.AddEntity(document.KindConstraintPressure, "Pressure")
	require.NoError(t, err)
	require.NoError(t, b.analysis.AddMember(pressure))

	m := newMachine(t, b, New(succeeding(t)))
	require.NoError(t, m.Run(context.Background()))
	assert.False(t, m.Failed())
	assert.Equal(t, machine.StageDone, m.Stage())
	assert.Len(t, m.Report().Warnings(), 1)
}

func TestFamily_EmptyFreeText(t *testing.T) {
	b := newBeam(t)
	input, _ := b.doc.Entity("Input")
	input.Set(PropText, "   \n")

	m := newMachine(t, b, New(succeeding(t)))
	require.NoError(t, m.RunTo(context.Background(), machine.StageCheck))
	require.Len(t, m.Report().Errors(), 1)
	assert.Contains(t, m.Report().Errors()[0], "must not be empty")
}

func TestFamily_NonZeroExitFailsSolve(t *testing.T) {
	b := newBeam(t)
	m := newMachine(t, b, New(stubSolver(t, "echo 'ERROR:: cannot open mesh'\nexit 3\n")))

	require.NoError(t, m.Run(context.Background()))

	assert.True(t, m.Failed())
	assert.Equal(t, machine.StageSolve, m.Stage())
	require.Len(t, m.Report().Errors(), 1)
	assert.Contains(t, m.Report().Errors()[0], "exit code: 3")
	out, ok := b.doc.Entity("SolverElmerOutput")
	require.True(t, ok, "output is kept for a failed run")
	assert.Contains(t, out.GetString(PropText), "cannot open mesh")
	_, ok = b.doc.Entity("SolverElmerResult")
	assert.False(t, ok)
}

func TestFamily_AbortInterruptsSolver(t *testing.T) {
	b := newBeam(t)
	fam := New(stubSolver(t, "echo started\nexec sleep 30\n"), WithWaitDelay(2*time.Second))
	m := newMachine(t, b, fam)

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool { return m.SolveOutput().Len() > 0 }, 10*time.Second, 10*time.Millisecond)

	began := time.Now()
	m.Abort()
	m.Join()

	assert.Less(t, time.Since(began), 10*time.Second)
	assert.True(t, m.Aborted())
	assert.False(t, m.Failed())
	assert.Equal(t, machine.StageSolve, m.Stage())
	_, ok := b.doc.Entity("SolverElmerOutput")
	assert.False(t, ok, "aborted runs do not store output")
}

func TestFamily_ResultMissing(t *testing.T) {
	b := newBeam(t)
	m := newMachine(t, b, New(stubSolver(t, "echo done\n")))
	require.NoError(t, m.Run(context.Background()))

	assert.True(t, m.Failed())
	assert.Equal(t, machine.StageResults, m.Stage())
	require.Len(t, m.Report().Errors(), 1)
	assert.Contains(t, m.Report().Errors()[0], "case0001.vtu")
}

func TestFamily_InputWriterFailure(t *testing.T) {
	b := newBeam(t)
	failing := inputWriterFunc(func(context.Context, Input) ([]string, error) {
		return nil, errors.New("unsupported element type")
	})
	m := newMachine(t, b, New(succeeding(t), WithInputWriter(failing)))
	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, machine.StagePrepare, m.Stage())
	require.Len(t, m.Report().Errors(), 1)
	assert.Contains(t, m.Report().Errors()[0], "unsupported element type")
}

type inputWriterFunc func(context.Context, Input) ([]string, error)

func (f inputWriterFunc) Write(ctx context.Context, in Input) ([]string, error) { return f(ctx, in) }

func TestVTUReader(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	res, err := VTUReader{}.Read(context.Background(), write("ok.vtu", sampleVTU))
	require.NoError(t, err)
	assert.Equal(t, 8, res.Points)
	assert.Equal(t, 1, res.Cells)
	assert.Equal(t, []string{"displacement", "vonmises"}, res.PointFields)
	assert.Equal(t, []string{"GeometryIds"}, res.CellFields)

	appended := strings.Replace(sampleVTU, "  </UnstructuredGrid>",
		"  </UnstructuredGrid>\n  <AppendedData encoding=\"raw\">_\x01\x02<<&&\x00", 1)
	res, err = VTUReader{}.Read(context.Background(), write("raw.vtu", appended))
	require.NoError(t, err)
	assert.Equal(t, 8, res.Points)

	_, err = VTUReader{}.Read(context.Background(), write("poly.vtp", `<VTKFile type="PolyData"></VTKFile>`))
	assert.ErrorIs(t, err, ErrNotUnstructuredGrid)

	_, err = VTUReader{}.Read(context.Background(), write("empty.vtu", ""))
	assert.ErrorIs(t, err, ErrNotUnstructuredGrid)

	_, err = VTUReader{}.Read(context.Background(), write("bad.vtu", `<VTKFile type="UnstructuredGrid"><Piece NumberOfPoints="x"/></VTKFile>`))
	assert.Error(t, err)

	_, err = VTUReader{}.Read(context.Background(), filepath.Join(dir, "missing.vtu"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSIFWriter(t *testing.T) {
	dir := t.TempDir()
	_, err := SIFWriter{}.Write(context.Background(), Input{Directory: dir, FreeText: " "})
	assert.Error(t, err)

	files, err := SIFWriter{}.Write(context.Background(), Input{Directory: dir, FreeText: "Header\nEnd"})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, SIFName), filepath.Join(dir, StartInfoName)}, files)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")

	assert.Equal(t, "case0012.vtu", ResultFileName(12))
}
