// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package solve hands out one machine per solver entity.
//
// The Manager caches machines so repeated requests for the same solver
// return the same machine, with its completed stages, until the model or
// the directory settings change. It attaches a document observer to the
// hub on first use so model edits reset the affected machines.
package solve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/events"
	"github.com/AleutianAI/femrun/services/femrun/history"
	"github.com/AleutianAI/femrun/services/femrun/machine"
	"github.com/AleutianAI/femrun/services/femrun/observer"
	"github.com/AleutianAI/femrun/services/femrun/report"
	"github.com/AleutianAI/femrun/services/femrun/storage/badger"
	"github.com/AleutianAI/femrun/services/femrun/task"
	"github.com/AleutianAI/femrun/services/femrun/workdir"
)

var (
	// ErrNotSolver is returned for an entity that is not a solver.
	ErrNotSolver = errors.New("entity is not a solver")

	// ErrNoFamily is returned when no family is registered for a solver kind.
	ErrNoFamily = errors.New("no solver family registered")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("manager closed")
)

// Settings supplies the directory configuration.
type Settings interface {
	DirectoryPolicy() workdir.Policy
	CustomDirectory() string
}

// FamilyFactory builds the family for a solver entity.
type FamilyFactory func(solver *document.Entity) (machine.Family, error)

type entry struct {
	solver *document.Entity
	m      *machine.Machine

	mu       sync.Mutex
	from     machine.Stage
	dropped  bool
	watchIDs []string
}

// Manager owns the process-wide machine table.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	hub         *document.Hub
	settings    Settings
	alloc       *workdir.Allocator
	registry    *task.Registry
	checkpoints *badger.CheckpointStore
	history     *history.Store
	logger      *slog.Logger

	attachOnce sync.Once
	observerID uint64
	releases   sync.WaitGroup

	mu       sync.Mutex
	families map[document.Kind]FamilyFactory
	entries  map[string]*entry
	closed   bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithAllocator replaces the default directory allocator.
func WithAllocator(a *workdir.Allocator) Option {
	return func(m *Manager) { m.alloc = a }
}

// WithRegistry sets the task registry machines register in.
func WithRegistry(r *task.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithCheckpoints persists each machine's state after every run and
// restores the last solver output when a machine is built.
func WithCheckpoints(s *badger.CheckpointStore) Option {
	return func(m *Manager) { m.checkpoints = s }
}

// WithHistory records every run in the ledger.
func WithHistory(s *history.Store) Option {
	return func(m *Manager) { m.history = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a manager for the documents of hub.
func NewManager(hub *document.Hub, settings Settings, opts ...Option) *Manager {
	m := &Manager{
		hub:      hub,
		settings: settings,
		registry: task.DefaultRegistry(),
		logger:   slog.Default(),
		families: make(map[document.Kind]FamilyFactory),
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.alloc == nil {
		m.alloc = workdir.NewAllocator(workdir.WithLogger(m.logger))
	}
	return m
}

// RegisterFamily makes factory serve solvers deriving from kind. The most
// specific registered kind wins.
func (m *Manager) RegisterFamily(kind document.Kind, factory FamilyFactory) {
	m.mu.Lock()
	m.families[kind] = factory
	m.mu.Unlock()
}

// Allocator returns the directory allocator.
func (m *Manager) Allocator() *workdir.Allocator { return m.alloc }

// Machine returns the machine of solver, allocating its directory under
// the configured policy.
func (m *Manager) Machine(solver *document.Entity) (*machine.Machine, error) {
	return m.MachineAt(solver, "")
}

// MachineAt is Machine with an explicit working directory. A non-empty
// path selects the external policy.
//
// # Description
//
// A running machine of the same solver entity is always returned as is.
// An idle cached machine is reused while its directory is still valid for
// the current settings. Anything else, including a machine left behind by
// a replaced entity of the same name, is discarded and a fresh one is
// built at StageCheck.
func (m *Manager) MachineAt(solver *document.Entity, path string) (*machine.Machine, error) {
	if solver == nil || !solver.IsDerivedFrom(document.KindSolver) {
		return nil, ErrNotSolver
	}
	m.attach()

	policy := m.settings.DirectoryPolicy()
	if path != "" {
		policy = workdir.PolicyExternal
	}
	req := m.request(solver, path)
	key := solver.UniqueName()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	if e, ok := m.entries[key]; ok {
		if e.solver == solver && (e.m.Running() || m.alloc.StillValid(e.m.Directory(), policy, req)) {
			return e.m, nil
		}
		m.logger.Info("discarding stale machine", slog.String("machine", key))
		m.dropLocked(key, e)
	}

	factory, err := m.familyLocked(solver)
	if err != nil {
		return nil, err
	}
	fam, err := factory(solver)
	if err != nil {
		return nil, fmt.Errorf("build family for %s: %w", key, err)
	}
	dir, err := m.alloc.Allocate(policy, req)
	if err != nil {
		return nil, fmt.Errorf("allocate directory for %s: %w", key, err)
	}
	mc, err := machine.New(machine.Config{
		Solver:    solver,
		Directory: dir,
		Family:    fam,
		Registry:  m.registry,
		Logger:    m.logger,
	})
	if err != nil {
		_ = m.alloc.Release(dir)
		return nil, err
	}

	e := &entry{solver: solver, m: mc}
	e.watchIDs = []string{
		mc.Subscribe(func(*events.Event) { e.setFrom(mc.Stage()) }, events.TypeStarting),
		mc.Subscribe(func(*events.Event) { m.recordRun(e) }, events.TypeStopped),
	}
	m.entries[key] = e
	m.restoreOutput(mc)

	m.logger.Info("machine created",
		slog.String("machine", key),
		slog.String("family", fam.Name()),
		slog.String("policy", policy.String()),
		slog.String("directory", dir),
	)
	return mc, nil
}

// Lookup returns the cached machine named name.
func (m *Manager) Lookup(name string) (*machine.Machine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, false
	}
	return e.m, true
}

// Machines returns the cached machines ordered by name.
func (m *Manager) Machines() []*machine.Machine {
	m.mu.Lock()
	out := make([]*machine.Machine, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.m)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b *machine.Machine) int { return strings.Compare(a.Name(), b.Name()) })
	return out
}

// MachinesOfAnalysis implements observer.MachineIndex.
func (m *Manager) MachinesOfAnalysis(analysis *document.Entity) []observer.Resettable {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var out []observer.Resettable
	for _, e := range entries {
		if document.FindAnalysisOf(e.solver) == analysis {
			out = append(out, e.m)
		}
	}
	return out
}

// MachineOfSolver implements observer.MachineIndex.
func (m *Manager) MachineOfSolver(solver *document.Entity) (observer.Resettable, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[solver.UniqueName()]
	if !ok || e.solver != solver {
		return nil, false
	}
	return e.m, true
}

// Teardown implements observer.MachineIndex. A running machine is
// aborted and its directory released once it has stopped.
func (m *Manager) Teardown(solver *document.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := solver.UniqueName()
	if e, ok := m.entries[key]; ok && e.solver == solver {
		m.dropLocked(key, e)
	}
}

// TeardownDocument implements observer.MachineIndex.
func (m *Manager) TeardownDocument(doc *document.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.solver.Document() == doc {
			m.dropLocked(key, e)
		}
	}
}

// Close detaches from the hub, tears down every machine and waits for
// aborted machines to stop.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for key, e := range m.entries {
		m.dropLocked(key, e)
	}
	m.mu.Unlock()

	if m.observerID != 0 {
		m.hub.RemoveObserver(m.observerID)
	}
	m.releases.Wait()
	return m.alloc.Close()
}

// attach registers the observer once.
func (m *Manager) attach() {
	m.attachOnce.Do(func() {
		m.observerID = m.hub.AddObserver(observer.New(m, observer.WithLogger(m.logger)))
		m.logger.Debug("document observer attached")
	})
}

func (m *Manager) request(solver *document.Entity, path string) workdir.Request {
	doc := solver.Document()
	return workdir.Request{
		DocumentName: doc.Name(),
		DocumentPath: doc.FileName(),
		SolverLabel:  solver.Label(),
		CustomBase:   m.settings.CustomDirectory(),
		Path:         path,
	}
}

func (m *Manager) familyLocked(solver *document.Entity) (FamilyFactory, error) {
	var best document.Kind
	var factory FamilyFactory
	for kind, f := range m.families {
		if solver.IsDerivedFrom(kind) && len(kind) > len(best) {
			best, factory = kind, f
		}
	}
	if factory == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoFamily, solver.Kind())
	}
	return factory, nil
}

// dropLocked forgets e and releases its directory. Caller holds m.mu.
func (m *Manager) dropLocked(key string, e *entry) {
	delete(m.entries, key)
	e.mu.Lock()
	e.dropped = true
	e.mu.Unlock()
	release := func() {
		for _, id := range e.watchIDs {
			e.m.Events().Unsubscribe(id)
		}
		if err := m.alloc.Release(e.m.Directory()); err != nil {
			m.logger.Warn("release directory failed", slog.String("machine", key), slog.Any("error", err))
		}
	}
	if !e.m.Running() {
		release()
		return
	}
	e.m.Abort()
	m.releases.Add(1)
	go func() {
		defer m.releases.Done()
		e.m.Join()
		release()
	}()
}

func (e *entry) setFrom(s machine.Stage) {
	e.mu.Lock()
	e.from = s
	e.mu.Unlock()
}

func (e *entry) fromStage() machine.Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.from
}

func (e *entry) isDropped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// restoreOutput loads the last saved solver output into a new machine.
func (m *Manager) restoreOutput(mc *machine.Machine) {
	if m.checkpoints == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cp, err := m.checkpoints.Load(ctx, mc.Name())
	if err != nil {
		if !errors.Is(err, badger.ErrCheckpointNotFound) {
			m.logger.Warn("load checkpoint failed", slog.String("machine", mc.Name()), slog.Any("error", err))
		}
		return
	}
	if cp.Output == "" {
		return
	}
	out := mc.SolveOutput()
	out.Replace(cp.Output)
	m.logger.Info(report.Format(report.KeyOutputRestored, out.Len()), slog.String("machine", mc.Name()))
}

// recordRun persists the outcome of a finished run. It runs on the
// machine's goroutine before Join returns. A machine that was torn down
// while running leaves no checkpoint, so a rebuilt machine of the same
// name never inherits its output.
func (m *Manager) recordRun(e *entry) {
	mc := e.m
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := mc.Status()
	if m.checkpoints != nil && !e.isDropped() {
		err := m.checkpoints.Save(ctx, badger.Checkpoint{
			Machine:   st.Name,
			Family:    st.Family,
			Directory: st.Directory,
			Stage:     st.Stage.String(),
			Failed:    st.Failed,
			Aborted:   st.Aborted,
			Output:    mc.SolveOutput().String(),
		})
		if err != nil {
			m.logger.Warn("save checkpoint failed", slog.String("machine", st.Name), slog.Any("error", err))
		}
	}
	if m.history != nil {
		rep := mc.Report()
		_, err := m.history.Record(ctx, history.Run{
			Machine:   st.Name,
			Family:    st.Family,
			Analysis:  st.Analysis,
			Directory: st.Directory,
			FromStage: e.fromStage().String(),
			ToStage:   st.Stage.String(),
			Failed:    st.Failed,
			Aborted:   st.Aborted,
			Errors:    len(rep.Errors()),
			Warnings:  len(rep.Warnings()),
			StartedAt: st.StartedAt,
			StoppedAt: st.StoppedAt,
		})
		if err != nil {
			m.logger.Warn("record history failed", slog.String("machine", st.Name), slog.Any("error", err))
		}
	}
}
