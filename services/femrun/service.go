// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package femrun ties the document hub, the machine manager and the run
// ledger together behind one Service, and exposes it over HTTP.
package femrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/femrun/pkg/extensions"
	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/elmer"
	"github.com/AleutianAI/femrun/services/femrun/history"
	"github.com/AleutianAI/femrun/services/femrun/machine"
	"github.com/AleutianAI/femrun/services/femrun/solve"
	"github.com/AleutianAI/femrun/services/femrun/storage/badger"
	"github.com/AleutianAI/femrun/services/femrun/task"
)

// ServiceVersion is the femrun service version.
const ServiceVersion = "0.1.0"

// Settings is what the service needs from configuration.
// *config.FemrunConfig satisfies it.
type Settings interface {
	solve.Settings
	elmer.BinaryResolver
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Settings Settings

	// Checkpoints and History are optional.
	Checkpoints *badger.CheckpointStore
	History     *history.Store

	Logger *slog.Logger

	// ManagerOptions are applied after the options derived from the
	// fields above.
	ManagerOptions []solve.Option

	// ElmerOptions configure the built-in elmer family.
	ElmerOptions []elmer.Option

	// Extensions guard the HTTP API. Nil providers admit every request.
	Extensions extensions.Options
}

// Service is the application facade.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	hub     *document.Hub
	manager *solve.Manager
	history *history.Store
	logger  *slog.Logger
	ext     extensions.Options

	// ctx bounds runs started without waiting.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	watchers map[string]*document.Watcher
	closed   bool
}

// NewService creates a service with an empty hub and the elmer family
// registered for elmer solvers.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := document.NewHub(logger)

	opts := []solve.Option{solve.WithLogger(logger)}
	if cfg.Checkpoints != nil {
		opts = append(opts, solve.WithCheckpoints(cfg.Checkpoints))
	}
	if cfg.History != nil {
		opts = append(opts, solve.WithHistory(cfg.History))
	}
	opts = append(opts, cfg.ManagerOptions...)
	manager := solve.NewManager(hub, cfg.Settings, opts...)

	binaries := cfg.Settings
	elmerOpts := cfg.ElmerOptions
	manager.RegisterFamily(document.KindSolverElmer, func(*document.Entity) (machine.Family, error) {
		return elmer.New(binaries, elmerOpts...), nil
	})

	ext := cfg.Extensions
	defaults := extensions.DefaultOptions()
	if ext.AuthProvider == nil {
		ext.AuthProvider = defaults.AuthProvider
	}
	if ext.AuthzProvider == nil {
		ext.AuthzProvider = defaults.AuthzProvider
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		ext:      ext,
		hub:      hub,
		manager:  manager,
		history:  cfg.History,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		watchers: make(map[string]*document.Watcher),
	}
}

// Hub returns the document hub.
func (s *Service) Hub() *document.Hub { return s.hub }

// Manager returns the machine manager.
func (s *Service) Manager() *solve.Manager { return s.manager }

// OpenDocument loads a saved document. With watch set, external edits
// to the file are reloaded into the model.
func (s *Service) OpenDocument(path string, watch bool) (*document.Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	doc, err := s.hub.Open(path)
	if err != nil {
		return nil, err
	}
	s.logger.Info("document opened", slog.String("document", doc.Name()), slog.String("path", doc.FileName()))
	if watch {
		if err := s.Watch(doc); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

// Watch starts reloading doc whenever its file changes.
func (s *Service) Watch(doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServiceClosed
	}
	if _, ok := s.watchers[doc.Name()]; ok {
		return nil
	}
	logger := s.logger.With(slog.String("document", doc.Name()))
	w, err := document.NewWatcher(doc, document.WatcherOptions{
		Logger: logger,
		OnReload: func(changes document.Changes, err error) {
			if err != nil {
				logger.Warn("reload failed", slog.Any("error", err))
				return
			}
			if !changes.Empty() {
				logger.Info("document reloaded from disk")
			}
		},
	})
	if err != nil {
		return err
	}
	if err := w.Start(s.ctx); err != nil {
		w.Stop()
		return err
	}
	s.watchers[doc.Name()] = w
	return nil
}

// Documents describes the open documents.
func (s *Service) Documents() []DocumentInfo {
	s.mu.Lock()
	watching := make(map[string]bool, len(s.watchers))
	for name := range s.watchers {
		watching[name] = true
	}
	s.mu.Unlock()

	docs := s.hub.Documents()
	out := make([]DocumentInfo, 0, len(docs))
	for _, d := range docs {
		info := DocumentInfo{Name: d.Name(), Path: d.FileName(), Solvers: []string{}, Watching: watching[d.Name()]}
		for _, e := range d.EntitiesOfKind(document.KindSolver) {
			info.Solvers = append(info.Solvers, e.Name())
		}
		out = append(out, info)
	}
	return out
}

// CloseDocument stops watching doc and closes it. Its machines are torn
// down by the observer.
func (s *Service) CloseDocument(name string) error {
	doc, ok := s.hub.Document(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, name)
	}
	s.mu.Lock()
	w := s.watchers[name]
	delete(s.watchers, name)
	s.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	return s.hub.Close(doc)
}

// Solver resolves a solver entity.
func (s *Service) Solver(ref MachineRef) (*document.Entity, error) {
	doc, ok := s.hub.Document(ref.Document)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, ref.Document)
	}
	e, ok := doc.Entity(ref.Solver)
	if !ok || !e.IsDerivedFrom(document.KindSolver) {
		return nil, fmt.Errorf("%w: %s in %s", ErrSolverNotFound, ref.Solver, ref.Document)
	}
	return e, nil
}

// Run runs the machine of a solver up to the requested target.
//
// # Description
//
// The machine is obtained from the manager, so a completed stage is not
// repeated unless the model changed since. Without Wait the run is
// started in the background and Run returns immediately.
//
// # Outputs
//
//   - *machine.Machine: The machine that ran.
//   - error: ErrDocumentNotFound, ErrSolverNotFound, ErrInvalidStage,
//     ErrMachineRunning, or a directory allocation error.
func (s *Service) Run(ctx context.Context, req RunRequest) (*machine.Machine, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	target := machine.StageResults
	if req.Target != "" {
		t, err := machine.ParseStage(req.Target)
		if err != nil || t > machine.StageResults {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStage, req.Target)
		}
		target = t
	}
	solver, err := s.Solver(req.MachineRef)
	if err != nil {
		return nil, err
	}
	mc, err := s.manager.MachineAt(solver, req.Directory)
	if err != nil {
		return nil, err
	}
	if req.Wait {
		// A client that goes away aborts its run.
		stop := context.AfterFunc(ctx, mc.Abort)
		err = mc.RunTo(ctx, target)
		stop()
	} else {
		err = mc.StartTo(s.ctx, target)
	}
	if errors.Is(err, task.ErrAlreadyRunning) || errors.Is(err, task.ErrDuplicateTask) {
		return mc, fmt.Errorf("%w: %s", ErrMachineRunning, mc.Name())
	}
	if err != nil {
		return mc, err
	}
	s.logger.Info("machine run requested",
		slog.String("machine", mc.Name()),
		slog.String("target", target.String()),
		slog.Bool("wait", req.Wait),
	)
	return mc, nil
}

// Abort aborts a running machine. An idle machine is left untouched.
func (s *Service) Abort(ref MachineRef) (*machine.Machine, error) {
	mc, err := s.machine(ref)
	if err != nil {
		return nil, err
	}
	if mc.Running() {
		mc.Abort()
		s.logger.Info("machine abort requested", slog.String("machine", mc.Name()))
	}
	return mc, nil
}

// Reset moves a machine back to stage. Reports whether it took effect.
func (s *Service) Reset(ref MachineRef, stage string) (*machine.Machine, bool, error) {
	st, err := machine.ParseStage(stage)
	if err != nil || st > machine.StageResults {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidStage, stage)
	}
	mc, err := s.machine(ref)
	if err != nil {
		return nil, false, err
	}
	return mc, mc.Reset(st), nil
}

// Output returns the console output of the machine's last solve.
func (s *Service) Output(ref MachineRef) (*machine.Machine, []string, error) {
	mc, err := s.machine(ref)
	if err != nil {
		return nil, nil, err
	}
	return mc, mc.SolveOutput().Lines(), nil
}

// Statuses returns a snapshot of every machine.
func (s *Service) Statuses() []machine.Status {
	machines := s.manager.Machines()
	out := make([]machine.Status, 0, len(machines))
	for _, mc := range machines {
		out = append(out, mc.Status())
	}
	return out
}

// History lists recorded runs.
func (s *Service) History(ctx context.Context, f history.Filter) ([]history.Run, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.List(ctx, f)
}

// Close stops watchers, aborts running machines and waits for them.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}
	err := s.manager.Close()
	s.cancel()
	return err
}

func (s *Service) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServiceClosed
	}
	return nil
}

// machine returns the cached machine of ref without building one.
func (s *Service) machine(ref MachineRef) (*machine.Machine, error) {
	solver, err := s.Solver(ref)
	if err != nil {
		return nil, err
	}
	mc, ok := s.manager.Lookup(solver.UniqueName())
	if !ok || mc.Solver() != solver {
		return nil, fmt.Errorf("%w: %s", ErrMachineNotFound, solver.UniqueName())
	}
	return mc, nil
}
