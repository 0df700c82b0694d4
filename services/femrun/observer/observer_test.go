// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observer

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/machine"
	"github.com/AleutianAI/femrun/services/femrun/task"
)

// fakeIndex maps solvers to machines and records teardowns.
type fakeIndex struct {
	mu        sync.Mutex
	machines  map[*document.Entity]Resettable
	teardowns []string
	closed    []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{machines: make(map[*document.Entity]Resettable)}
}

func (f *fakeIndex) MachinesOfAnalysis(analysis *document.Entity) []Resettable {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Resettable
	for solver, m := range f.machines {
		if document.FindAnalysisOf(solver) == analysis {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeIndex) MachineOfSolver(solver *document.Entity) (Resettable, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.machines[solver]
	return m, ok
}

func (f *fakeIndex) Teardown(solver *document.Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.machines, solver)
	f.teardowns = append(f.teardowns, solver.UniqueName())
}

func (f *fakeIndex) TeardownDocument(doc *document.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, doc.Name())
}

// counter is a Resettable that counts resets.
type counter struct {
	name   string
	resets []machine.Stage
}

func (c *counter) Name() string { return c.name }
func (c *counter) Reset(s machine.Stage) bool {
	c.resets = append(c.resets, s)
	return true
}

type model struct {
	hub      *document.Hub
	doc      *document.Document
	a, b     *document.Entity
	solverA  *document.Entity
	solverB  *document.Entity
	steelA   *document.Entity
	steelB   *document.Entity
	orphaned *document.Entity
}

// twoAnalyses builds one document with analyses A and B, each holding a
// material and a solver.
func twoAnalyses(t *testing.T) *model {
	t.Helper()
	m := &model{hub: document.NewHub(nil)}
	var err error
	m.doc, err = m.hub.NewDocument("Plate")
	require.NoError(t, err)

	add := func(kind document.Kind, name string, into *document.Entity) *document.Entity {
		e, err := m.doc.AddEntity(kind, name)
		require.NoError(t, err)
		if into != nil {
			require.NoError(t, into.AddMember(e))
		}
		return e
	}
	m.a = add(document.KindAnalysis, "A", nil)
	m.b = add(document.KindAnalysis, "B", nil)
	m.steelA = add(document.KindMaterialSolid, "SteelA", m.a)
	m.steelB = add(document.KindMaterialSolid, "SteelB", m.b)
	m.solverA = add(document.KindSolverElmer, "SolverA", m.a)
	m.solverB = add(document.KindSolverElmer, "SolverB", m.b)
	m.orphaned = add(document.KindMesh, "Loose", nil)
	return m
}

func attach(t *testing.T, m *model) (*fakeIndex, *counter, *counter) {
	t.Helper()
	idx := newFakeIndex()
	ca := &counter{name: "A"}
	cb := &counter{name: "B"}
	idx.machines[m.solverA] = ca
	idx.machines[m.solverB] = cb
	m.hub.AddObserver(New(idx))
	return idx, ca, cb
}

func TestObserver_ModelChangeResetsOnlyOwningAnalysis(t *testing.T) {
	m := twoAnalyses(t)
	_, ca, cb := attach(t, m)

	m.steelA.Set("YoungsModulus", "210 GPa")

	assert.Equal(t, []machine.Stage{machine.StageCheck}, ca.resets)
	assert.Empty(t, cb.resets)
}

func TestObserver_IgnoredPropertiesNeverReset(t *testing.T) {
	m := twoAnalyses(t)
	_, ca, _ := attach(t, m)

	m.steelA.SetLabel("S235")
	m.solverA.SetLabel("Elmer")
	m.solverA.Set("Output", "SolverAOutput")
	m.solverA.Set("Result", "SolverAResult")

	assert.Empty(t, ca.resets)
}

func TestObserver_FreeTextEditResetsAnalysis(t *testing.T) {
	m := twoAnalyses(t)
	_, ca, cb := attach(t, m)

	input, err := m.doc.AddEntity(document.KindFreeText, "Input")
	require.NoError(t, err)
	require.NoError(t, m.a.AddMember(input))
	ca.resets = nil

	input.Set("Text", "Header\nEnd")

	assert.Equal(t, []machine.Stage{machine.StageCheck}, ca.resets)
	assert.Empty(t, cb.resets)
}

func TestObserver_SolverChangeResetsOwnMachine(t *testing.T) {
	m := twoAnalyses(t)
	_, ca, cb := attach(t, m)

	m.solverB.Set("SteadyState", false)

	assert.Empty(t, ca.resets)
	assert.Equal(t, []machine.Stage{machine.StageCheck}, cb.resets)
}

func TestObserver_NonModelAndOrphanedEntitiesIgnored(t *testing.T) {
	m := twoAnalyses(t)
	_, ca, cb := attach(t, m)

	m.orphaned.Set("CharacteristicLength", 2.0)
	text, err := m.doc.AddEntity(document.KindText, "Notes")
	require.NoError(t, err)
	require.NoError(t, m.a.AddMember(text))
	text.Set("Body", "hello")

	assert.Empty(t, ca.resets)
	assert.Empty(t, cb.resets)
}

func TestObserver_DeletionResetsAnalysisAndTearsDownSolver(t *testing.T) {
	m := twoAnalyses(t)
	idx, ca, _ := attach(t, m)

	require.NoError(t, m.doc.RemoveEntity("SteelA"))
	assert.Len(t, ca.resets, 1, "entity is still grouped when the deletion is observed")

	require.NoError(t, m.doc.RemoveEntity("SolverB"))
	assert.Equal(t, []string{"Plate.SolverB"}, idx.teardowns)

	require.NoError(t, m.hub.Close(m.doc))
	assert.Equal(t, []string{"Plate"}, idx.closed)
}

func TestObserver_CustomModelKinds(t *testing.T) {
	m := twoAnalyses(t)
	idx := newFakeIndex()
	ca := &counter{name: "A"}
	idx.machines[m.solverA] = ca
	m.hub.AddObserver(New(idx, WithModelKinds(document.KindMesh)))

	m.steelA.Set("Density", "7900")
	assert.Empty(t, ca.resets)
}

func TestObserver_ResetsRealMachinesOfAnalysis(t *testing.T) {
	m := twoAnalyses(t)
	reg := task.NewRegistry()
	build := func(solver *document.Entity) *machine.Machine {
		mc, err := machine.New(machine.Config{
			Solver:    solver,
			Directory: t.TempDir(),
			Family:    machine.FamilyFuncs{FamilyName: "stub"},
			Registry:  reg,
		})
		require.NoError(t, err)
		require.NoError(t, mc.Run(context.Background()))
		require.Equal(t, machine.StageDone, mc.Stage())
		return mc
	}
	ma := build(m.solverA)
	mb := build(m.solverB)

	idx := newFakeIndex()
	idx.machines[m.solverA] = ma
	idx.machines[m.solverB] = mb
	m.hub.AddObserver(New(idx))

	m.steelA.Set("PoissonRatio", 0.3)

	assert.Equal(t, machine.StageCheck, ma.Stage())
	assert.Equal(t, machine.StageDone, mb.Stage())
}
