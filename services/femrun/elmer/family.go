// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package elmer runs analyses with the Elmer FEM solver.
//
// The solver is an external process started in the case directory. Its
// input is case.sif, written from the analysis' free-text member; its
// result is case0001.vtu, loaded into a pipeline entity of the document.
package elmer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/machine"
	"github.com/AleutianAI/femrun/services/femrun/report"
)

const (
	// FamilyName identifies the family in machines and history.
	FamilyName = "elmer"

	// BinaryName is the solver executable looked up through the resolver.
	BinaryName = "ElmerSolver"

	// PropText holds the free-text solver input and the solver output.
	PropText = "Text"

	// PropOutput links a solver to its output text entity.
	PropOutput = "Output"

	// PropResult links a solver to its result pipeline entity.
	PropResult = "Result"

	// PropFile is the result file a pipeline entity was loaded from.
	PropFile = "File"
)

// SupportedConstraints are the constraint kinds the input writer handles.
// Others are reported as warnings and ignored.
var SupportedConstraints = []document.Kind{
	document.KindConstraintFixed,
	document.KindConstraintForce,
	document.KindConstraintDisplacement,
	document.KindConstraintSelfWeight,
	document.KindConstraintTemperature,
	document.KindConstraintHeatFlux,
	document.KindConstraintInitialTemperature,
}

// ResultFileName is the n-th numbered result file, case0001.vtu first.
func ResultFileName(n int) string {
	return fmt.Sprintf("case%04d.vtu", n)
}

// BinaryResolver finds solver executables.
type BinaryResolver interface {
	BinaryPath(name string) (string, error)
}

// BinaryFunc adapts a function to BinaryResolver.
type BinaryFunc func(name string) (string, error)

func (f BinaryFunc) BinaryPath(name string) (string, error) { return f(name) }

// Family implements machine.Family for Elmer.
type Family struct {
	binaries   BinaryResolver
	writer     InputWriter
	reader     ResultReader
	binaryName string
	waitDelay  time.Duration
}

// Option configures a Family.
type Option func(*Family)

// WithInputWriter replaces the SIF writer.
func WithInputWriter(w InputWriter) Option {
	return func(f *Family) { f.writer = w }
}

// WithResultReader replaces the VTU reader.
func WithResultReader(r ResultReader) Option {
	return func(f *Family) { f.reader = r }
}

// WithBinaryName changes the executable name passed to the resolver.
func WithBinaryName(name string) Option {
	return func(f *Family) { f.binaryName = name }
}

// WithWaitDelay bounds how long an interrupted solver may take to exit
// before it is killed.
func WithWaitDelay(d time.Duration) Option {
	return func(f *Family) { f.waitDelay = d }
}

// New creates the family.
func New(binaries BinaryResolver, opts ...Option) *Family {
	f := &Family{
		binaries:   binaries,
		writer:     SIFWriter{},
		reader:     VTUReader{},
		binaryName: BinaryName,
		waitDelay:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns FamilyName.
func (f *Family) Name() string { return FamilyName }

// Check validates the analysis. Every problem is reported; nothing stops
// at the first one.
func (f *Family) Check(_ context.Context, c *machine.Case) error {
	rep := c.Report()
	analysis := c.Analysis()
	if analysis == nil {
		rep.Error(report.KeyAnalysisMissing, c.Solver.UniqueName())
		return nil
	}

	mesh, n := document.SingleMember(analysis, document.KindMesh)
	switch {
	case n == 0:
		rep.Error(report.KeyMeshMissing)
	case n > 1:
		rep.Error(report.KeyMeshTooMany)
	case !mesh.IsDerivedFrom(document.KindMeshGmsh):
		rep.Error(report.KeyMeshUnsupported, mesh.Label(), mesh.Kind())
	}

	if len(document.MembersOf(analysis, document.KindMaterial)) == 0 {
		rep.Error(report.KeyMaterialMissing)
	}

	for _, con := range document.MembersOf(analysis, document.KindConstraint) {
		if !slices.ContainsFunc(SupportedConstraints, con.IsDerivedFrom) {
			rep.Warning(report.KeyConstraintUnsupported, con.Label())
		}
	}

	texts := document.MembersOf(analysis, document.KindFreeText)
	switch {
	case len(texts) == 0:
		rep.Error(report.KeyFreeTextMissing)
	case strings.TrimSpace(texts[0].GetString(PropText)) == "":
		rep.Error(report.KeyFreeTextEmpty)
	}

	if _, err := f.binaries.BinaryPath(f.binaryName); err != nil {
		c.Logger.Debug("binary lookup failed", slog.String("binary", f.binaryName), slog.Any("error", err))
		rep.Error(report.KeyBinaryNotFound, f.binaryName)
	}
	return nil
}

// Prepare writes the solver input into the case directory.
func (f *Family) Prepare(ctx context.Context, c *machine.Case) error {
	rep := c.Report()
	info, err := os.Stat(c.Directory)
	switch {
	case errors.Is(err, os.ErrNotExist):
		rep.Error(report.KeyWorkdirMissing, c.Directory)
		return nil
	case err != nil:
		return err
	case !info.IsDir():
		rep.Error(report.KeyWorkdirNotDirectory, c.Directory)
		return nil
	}

	in := Input{Solver: c.Solver, Analysis: c.Analysis(), Directory: c.Directory}
	if texts := document.MembersOf(in.Analysis, document.KindFreeText); len(texts) > 0 {
		in.FreeText = texts[0].GetString(PropText)
	}
	files, err := f.writer.Write(ctx, in)
	if err != nil {
		rep.Error(report.KeyCreateInputFailed, err)
		return nil
	}
	c.Logger.Debug("input written", slog.Any("files", files))
	rep.Info(report.KeyInputWritten, c.Directory)
	return nil
}

// Solve runs the solver and streams its console into the solve output.
// On abort the process group is interrupted, and the solver killed if it
// has not exited within the wait delay.
func (f *Family) Solve(ctx context.Context, c *machine.Case) error {
	rep := c.Report()
	bin, err := f.binaries.BinaryPath(f.binaryName)
	if err != nil {
		rep.Error(report.KeyBinaryNotFound, f.binaryName)
		return nil
	}

	cmd := exec.CommandContext(ctx, bin)
	cmd.Dir = c.Directory
	isolate(cmd)
	cmd.WaitDelay = f.waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("solver stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	started := time.Now()
	if err := cmd.Start(); err != nil {
		rep.Error(report.KeySolverStartFailed, bin, err)
		return nil
	}
	c.Logger.Info("solver started", slog.String("binary", bin), slog.Int("pid", cmd.Process.Pid))

	out := c.Output()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		out.Append(strings.TrimRight(scanner.Text(), "\r"))
	}
	waitErr := cmd.Wait()

	if c.Task.Aborted() {
		c.Logger.Info("solver interrupted", slog.Duration("elapsed", time.Since(started)))
		return nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(waitErr, &exitErr):
		rep.Error(report.KeyExecSolverFailed, exitErr.ExitCode())
	case waitErr != nil:
		rep.Error(report.KeySolverStartFailed, bin, waitErr)
	default:
		rep.Info(report.KeySolverFinished, time.Since(started).Round(time.Millisecond))
	}

	if err := storeOutput(c, out.String()); err != nil {
		rep.Error(report.KeyOutputWriteFailed, err)
	}
	return nil
}

// Results loads the first result file into the solver's pipeline entity.
func (f *Family) Results(ctx context.Context, c *machine.Case) error {
	rep := c.Report()
	path := filepath.Join(c.Directory, ResultFileName(1))
	if _, err := os.Stat(path); err != nil {
		rep.Error(report.KeyResultMissing, path)
		return nil
	}
	res, err := f.reader.Read(ctx, path)
	if err != nil {
		rep.Error(report.KeyResultReadFailed, path, err)
		return nil
	}

	pipeline, err := ensureLinked(c, PropResult, document.KindPipeline, "Result")
	if err != nil {
		rep.Error(report.KeyOutputWriteFailed, err)
		return nil
	}
	pipeline.Set(PropFile, path)
	pipeline.Set("Points", res.Points)
	pipeline.Set("Cells", res.Cells)
	pipeline.Set("Fields", strings.Join(res.Fields(), ","))
	rep.Info(report.KeyResultLoaded, filepath.Base(path))
	return nil
}

func storeOutput(c *machine.Case, text string) error {
	e, err := ensureLinked(c, PropOutput, document.KindText, "Output")
	if err != nil {
		return err
	}
	e.Set(PropText, text)
	return nil
}

// ensureLinked returns the entity named <solver><suffix>, creating it,
// grouping it into the analysis and linking it from the solver's prop on
// first use.
func ensureLinked(c *machine.Case, prop string, kind document.Kind, suffix string) (*document.Entity, error) {
	doc := c.Solver.Document()
	name := c.Solver.Name() + suffix
	if e, ok := doc.Entity(name); ok {
		return e, nil
	}
	e, err := doc.AddEntity(kind, name)
	if err != nil {
		return nil, err
	}
	e.SetLabel(c.Solver.Label() + suffix)
	if kind == document.KindText {
		e.Set("ReadOnly", true)
	}
	if a := c.Analysis(); a != nil {
		if err := a.AddMember(e); err != nil {
			return nil, err
		}
	}
	c.Solver.Set(prop, name)
	return e, nil
}
