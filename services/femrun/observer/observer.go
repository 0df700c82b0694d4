// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observer invalidates machines when the model they were built
// from changes.
package observer

import (
	"log/slog"

	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/machine"
)

// Resettable is the part of a machine the observer drives.
type Resettable interface {
	Name() string
	Reset(s machine.Stage) bool
}

// MachineIndex gives the observer access to live machines without
// handing it ownership of them.
type MachineIndex interface {
	// MachinesOfAnalysis returns the live machines whose solver is a
	// member of analysis.
	MachinesOfAnalysis(analysis *document.Entity) []Resettable

	// MachineOfSolver returns the live machine of solver, if any.
	MachineOfSolver(solver *document.Entity) (Resettable, bool)

	// Teardown forgets the machine of solver and releases its directory.
	Teardown(solver *document.Entity)

	// TeardownDocument does Teardown for every machine of doc.
	TeardownDocument(doc *document.Document)
}

// ModelKinds are the entity kinds that make up a model. A change to any
// entity deriving from one of them invalidates its analysis.
var ModelKinds = []document.Kind{
	document.KindMesh,
	document.KindMaterial,
	document.KindConstraint,
	document.KindFreeText,
}

// IgnoredProperties never invalidate anything. Output and Result are
// written on the solver by the machines themselves.
var IgnoredProperties = []string{
	document.PropLabel,
	"Output",
	"Result",
}

// Observer implements document.Observer.
//
// Thread Safety: Safe for concurrent use; it holds no mutable state of
// its own.
type Observer struct {
	index   MachineIndex
	kinds   []document.Kind
	ignored map[string]struct{}
	logger  *slog.Logger
}

// Option configures an Observer.
type Option func(*Observer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithModelKinds replaces ModelKinds.
func WithModelKinds(kinds ...document.Kind) Option {
	return func(o *Observer) {
		o.kinds = kinds
	}
}

// New creates an observer over index.
func New(index MachineIndex, opts ...Option) *Observer {
	o := &Observer{
		index:   index,
		kinds:   ModelKinds,
		ignored: make(map[string]struct{}, len(IgnoredProperties)),
		logger:  slog.Default(),
	}
	for _, p := range IgnoredProperties {
		o.ignored[p] = struct{}{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnEntityCreated resets the owning analysis of a new model entity.
func (o *Observer) OnEntityCreated(e *document.Entity) {
	if o.isModel(e) {
		o.resetAnalysisOf(e, "created")
	}
}

// OnEntityDeleted tears down the machine of a deleted solver, or resets
// the owning analysis of a deleted model entity. The entity is still a
// member of its analysis when this runs.
func (o *Observer) OnEntityDeleted(e *document.Entity) {
	if e.IsDerivedFrom(document.KindSolver) {
		o.logger.Debug("solver deleted", slog.String("solver", e.UniqueName()))
		o.index.Teardown(e)
		return
	}
	if o.isModel(e) {
		o.resetAnalysisOf(e, "deleted")
	}
}

// OnPropertyChanged resets the machines affected by the change.
func (o *Observer) OnPropertyChanged(e *document.Entity, prop string) {
	if _, skip := o.ignored[prop]; skip {
		return
	}
	if e.IsDerivedFrom(document.KindSolver) {
		if m, ok := o.index.MachineOfSolver(e); ok {
			if m.Reset(machine.StageCheck) {
				o.logger.Info("solver changed, machine reset",
					slog.String("machine", m.Name()),
					slog.String("property", prop),
				)
			}
		}
		return
	}
	if o.isModel(e) {
		o.resetAnalysisOf(e, "changed "+prop)
	}
}

// OnDocumentDeleted tears down every machine of d.
func (o *Observer) OnDocumentDeleted(d *document.Document) {
	o.logger.Debug("document closed", slog.String("document", d.Name()))
	o.index.TeardownDocument(d)
}

func (o *Observer) isModel(e *document.Entity) bool {
	for _, k := range o.kinds {
		if e.IsDerivedFrom(k) {
			return true
		}
	}
	return false
}

func (o *Observer) resetAnalysisOf(e *document.Entity, why string) {
	analysis := document.FindAnalysisOf(e)
	if analysis == nil {
		return
	}
	for _, m := range o.index.MachinesOfAnalysis(analysis) {
		if m.Reset(machine.StageCheck) {
			o.logger.Info("model changed, machine reset",
				slog.String("machine", m.Name()),
				slog.String("entity", e.UniqueName()),
				slog.String("change", why),
			)
		}
	}
}
