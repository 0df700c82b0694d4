// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package machine drives a solver through check, prepare, solve and
// results.
//
// A Machine is itself a task: starting it runs the stage tasks in order,
// beginning at the current stage, until the target stage has completed or
// a stage fails or is aborted. Completed stages are remembered, so a
// second run picks up where the first stopped. Reset moves the machine
// back; a reset that lands while a run is in flight wins over whatever
// that run would have committed.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/events"
	"github.com/AleutianAI/femrun/services/femrun/task"
)

var (
	tracer = otel.Tracer("femrun.machine")
	meter  = otel.Meter("femrun.machine")

	metricsOnce  sync.Once
	machineRuns  metric.Int64Counter
	machineReset metric.Int64Counter
)

// ErrInvalidConfig is returned by New for incomplete configuration.
var ErrInvalidConfig = errors.New("invalid machine configuration")

// Config describes one machine.
type Config struct {
	// Solver is the solver entity. Its unique name is the machine's name.
	Solver *document.Entity

	// Directory is the working directory for the case files.
	Directory string

	// Family implements the stages.
	Family Family

	// Registry is where the machine registers while running. Defaults to
	// task.DefaultRegistry().
	Registry *task.Registry

	Logger *slog.Logger
}

// Machine is the staged controller for one solver.
//
// Thread Safety: All methods are safe for concurrent use.
type Machine struct {
	*task.Task

	solver    *document.Entity
	directory string
	family    Family
	logger    *slog.Logger
	stages    [StageDone]*task.Task

	// launch serializes StartTo so the target of a run in flight cannot
	// be replaced by a losing concurrent request.
	launch sync.Mutex

	mu       sync.Mutex
	state    Stage
	pending  Stage
	target   Stage
	isReset  bool
	inFlight bool
}

// New creates a machine at StageCheck with target StageResults.
func New(cfg Config) (*Machine, error) {
	if cfg.Solver == nil {
		return nil, fmt.Errorf("%w: solver is required", ErrInvalidConfig)
	}
	if cfg.Family == nil {
		return nil, fmt.Errorf("%w: family is required", ErrInvalidConfig)
	}
	if cfg.Directory == "" {
		return nil, fmt.Errorf("%w: directory is required", ErrInvalidConfig)
	}
	if cfg.Registry == nil {
		cfg.Registry = task.DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Machine{
		solver:    cfg.Solver,
		directory: cfg.Directory,
		family:    cfg.Family,
		target:    StageResults,
	}
	m.logger = cfg.Logger.With(
		slog.String("machine", cfg.Solver.UniqueName()),
		slog.String("family", cfg.Family.Name()),
	)
	initMetrics(m.logger)

	m.Task = task.New(cfg.Solver.UniqueName(), task.RunnerFunc(m.run),
		task.WithRegistry(cfg.Registry),
		task.WithLogger(m.logger),
		task.WithKind("machine"),
	)
	for s := StageCheck; s < StageDone; s++ {
		opts := []task.Option{
			task.WithRegistry(cfg.Registry),
			task.WithLogger(m.logger),
			task.WithKind(s.String()),
		}
		if s == StageSolve {
			opts = append(opts, task.WithOutput())
		}
		m.stages[s] = task.New("", task.RunnerFunc(m.stageBody(s)), opts...)
	}
	return m, nil
}

// Solver returns the solver entity.
func (m *Machine) Solver() *document.Entity { return m.solver }

// Directory returns the working directory.
func (m *Machine) Directory() string { return m.directory }

// Family returns the stage implementation.
func (m *Machine) Family() Family { return m.family }

// Analysis resolves the analysis owning the solver, or nil.
func (m *Machine) Analysis() *document.Entity {
	return document.FindAnalysisOf(m.solver)
}

// Stage returns the confirmed stage: the next stage a run would execute.
func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PendingStage returns the run cursor. While a run is in flight it is the
// stage currently executing.
func (m *Machine) PendingStage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Target returns the last stage a run will execute.
func (m *Machine) Target() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// SetTarget sets the last stage a run will execute, clamped to
// [StageCheck, StageResults]. A run already in flight keeps the target it
// started with.
func (m *Machine) SetTarget(s Stage) {
	if s < StageCheck {
		s = StageCheck
	}
	if s > StageResults {
		s = StageResults
	}
	m.mu.Lock()
	m.target = s
	m.mu.Unlock()
}

// StageTask returns the task that executes stage s, or nil for StageDone.
func (m *Machine) StageTask(s Stage) *task.Task {
	if s < StageCheck || s >= StageDone {
		return nil
	}
	return m.stages[s]
}

// SolveOutput is the console output of the most recent solve.
func (m *Machine) SolveOutput() *task.Output {
	return m.stages[StageSolve].Output()
}

// StartTo sets the target and starts a run in one step. It returns
// task.ErrAlreadyRunning, leaving the target untouched, while a run is in
// flight.
func (m *Machine) StartTo(ctx context.Context, target Stage) error {
	m.launch.Lock()
	defer m.launch.Unlock()
	if m.Running() {
		return fmt.Errorf("start %s: %w", m.Name(), task.ErrAlreadyRunning)
	}
	m.SetTarget(target)
	return m.Start(ctx)
}

// RunTo is StartTo followed by Join.
func (m *Machine) RunTo(ctx context.Context, target Stage) error {
	if err := m.StartTo(ctx, target); err != nil {
		return err
	}
	m.Join()
	return nil
}

// Reset moves the machine back to s.
//
// # Description
//
// Does nothing unless s is before the run cursor, or, once a run in
// flight has already been reset, before the stage it was reset to.
// Otherwise the stage
// becomes s immediately, and any run in flight will not commit its
// progress when it finishes. Stage tasks already running are not
// interrupted.
//
// # Outputs
//
//   - bool: True if the reset took effect.
func (m *Machine) Reset(s Stage) bool {
	m.mu.Lock()
	limit := m.pending
	if m.isReset && m.inFlight {
		// The run's progress was already discarded by an earlier reset.
		limit = m.state
	}
	if s >= limit {
		m.mu.Unlock()
		return false
	}
	from := m.state
	m.isReset = true
	m.state = s
	if !m.inFlight {
		m.pending = s
	}
	inFlight := m.inFlight
	m.mu.Unlock()

	if machineReset != nil {
		machineReset.Add(context.Background(), 1, metric.WithAttributes(attribute.String("stage", s.String())))
	}
	m.logger.Info("machine reset",
		slog.String("from", from.String()),
		slog.String("to", s.String()),
		slog.Bool("in_flight", inFlight),
	)
	m.Events().Emit(events.TypeStageChanged, events.StageData{From: int(from), To: int(s), Reset: true})
	return true
}

// Status is a point-in-time view of a machine.
type Status struct {
	Name      string    `json:"name"`
	Family    string    `json:"family"`
	Analysis  string    `json:"analysis,omitempty"`
	Directory string    `json:"directory"`
	Stage     Stage     `json:"stage"`
	Target    Stage     `json:"target"`
	Running   bool      `json:"running"`
	Failed    bool      `json:"failed"`
	Aborted   bool      `json:"aborted"`
	StartedAt time.Time `json:"started_at,omitzero"`
	StoppedAt time.Time `json:"stopped_at,omitzero"`
	ElapsedMS int64     `json:"elapsed_ms"`
}

// Status returns a snapshot of the machine.
func (m *Machine) Status() Status {
	st := Status{
		Name:      m.Name(),
		Family:    m.family.Name(),
		Directory: m.directory,
		Stage:     m.Stage(),
		Target:    m.Target(),
		Running:   m.Running(),
		Failed:    m.Failed(),
		Aborted:   m.Aborted(),
		StartedAt: m.StartTime(),
		StoppedAt: m.StopTime(),
		ElapsedMS: m.Elapsed().Milliseconds(),
	}
	if a := m.Analysis(); a != nil {
		st.Analysis = a.UniqueName()
	}
	return st
}

// run is the controller body.
func (m *Machine) run(ctx context.Context, t *task.Task) error {
	m.mu.Lock()
	m.isReset = false
	m.inFlight = true
	m.pending = m.state
	from, target := m.state, m.target
	m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "femrun.machine.Run",
		trace.WithAttributes(
			attribute.String("machine", m.Name()),
			attribute.String("family", m.family.Name()),
			attribute.String("from", from.String()),
			attribute.String("target", target.String()),
		),
	)
	defer span.End()
	if machineRuns != nil {
		machineRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("family", m.family.Name())))
	}

	for !t.Aborted() && !t.Failed() {
		m.mu.Lock()
		s := m.pending
		m.mu.Unlock()
		if s > target {
			break
		}

		st := m.StageTask(s)
		m.runStage(ctx, t, s, st)
		t.Report().Extend(st.Report())

		switch {
		case st.Failed():
			m.logger.Warn("stage failed", slog.String("stage", s.String()))
			t.Fail()
		case st.Aborted():
			m.logger.Info("stage aborted", slog.String("stage", s.String()))
			t.Abort()
		default:
			m.mu.Lock()
			m.pending++
			m.mu.Unlock()
		}
	}

	to, committed := m.commit()
	span.SetAttributes(
		attribute.String("to", to.String()),
		attribute.Bool("committed", committed),
	)
	if t.Failed() {
		span.SetStatus(codes.Error, "stage failed")
	}
	return nil
}

// runStage runs one stage task with the machine's abort relayed to it.
func (m *Machine) runStage(ctx context.Context, t *task.Task, s Stage, st *task.Task) {
	relay := t.OnCancel(st.Abort)
	defer t.RemoveOnCancel(relay)

	if err := st.Start(ctx); err != nil {
		m.logger.Error("stage did not start", slog.String("stage", s.String()), slog.Any("error", err))
		st.Fail()
		return
	}
	// An abort that landed before the stage started is not seen by it.
	if t.Aborted() && !st.Aborted() {
		st.Abort()
	}
	st.Join()
}

// commit publishes the run cursor unless a reset happened meanwhile.
func (m *Machine) commit() (Stage, bool) {
	m.mu.Lock()
	m.inFlight = false
	if m.isReset {
		s := m.state
		m.pending = s
		m.mu.Unlock()
		return s, false
	}
	from := m.state
	m.state = m.pending
	to := m.state
	m.mu.Unlock()

	if from != to {
		m.Events().Emit(events.TypeStageChanged, events.StageData{From: int(from), To: int(to)})
	}
	return to, true
}

func (m *Machine) stageBody(s Stage) task.RunnerFunc {
	return func(ctx context.Context, t *task.Task) error {
		c := &Case{
			Solver:    m.solver,
			Directory: m.directory,
			Task:      t,
			Logger:    m.logger.With(slog.String("stage", s.String())),
		}
		switch s {
		case StageCheck:
			return m.family.Check(ctx, c)
		case StagePrepare:
			return m.family.Prepare(ctx, c)
		case StageSolve:
			return m.family.Solve(ctx, c)
		case StageResults:
			return m.family.Results(ctx, c)
		}
		return fmt.Errorf("no body for stage %s", s)
	}
}

func initMetrics(logger *slog.Logger) {
	metricsOnce.Do(func() {
		var err error
		machineRuns, err = meter.Int64Counter("femrun_machine_runs_total",
			metric.WithDescription("Machine runs started"),
		)
		if err != nil {
			logger.Error("failed to create machine_runs counter", slog.Any("error", err))
		}
		machineReset, err = meter.Int64Counter("femrun_machine_resets_total",
			metric.WithDescription("Resets that took effect"),
		)
		if err != nil {
			logger.Error("failed to create machine_resets counter", slog.Any("error", err))
		}
	})
}
