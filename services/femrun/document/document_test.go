// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is an Observer that logs notifications as strings.
type recorder struct {
	mu     sync.Mutex
	events []string
	onDel  func(e *Entity)
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) OnEntityCreated(e *Entity) { r.add("created:" + e.Name()) }
func (r *recorder) OnEntityDeleted(e *Entity) {
	if r.onDel != nil {
		r.onDel(e)
	}
	r.add("deleted:" + e.Name())
}
func (r *recorder) OnPropertyChanged(e *Entity, prop string) { r.add("changed:" + e.Name() + "." + prop) }
func (r *recorder) OnDocumentDeleted(d *Document)            { r.add("closed:" + d.Name()) }

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// beam builds a small analysis: mesh, material, fixed constraint, solver.
func beam(t *testing.T, h *Hub) (*Document, *Entity) {
	t.Helper()
	d, err := h.NewDocument("Beam")
	require.NoError(t, err)
	analysis, err := d.AddEntity(KindAnalysis, "Analysis")
	require.NoError(t, err)
	for _, ent := range []struct {
		kind Kind
		name string
	}{
		{KindMeshGmsh, "Mesh"},
		{KindMaterialSolid, "Steel"},
		{KindConstraintFixed, "Fixed"},
		{KindSolverElmer, "SolverElmer"},
	} {
		e, err := d.AddEntity(ent.kind, ent.name)
		require.NoError(t, err)
		require.NoError(t, analysis.AddMember(e))
	}
	return d, analysis
}

func TestKind_IsDerivedFrom(t *testing.T) {
	assert.True(t, KindConstraintFixed.IsDerivedFrom(KindConstraint))
	assert.True(t, KindMesh.IsDerivedFrom(KindMesh))
	assert.False(t, KindMesh.IsDerivedFrom(KindMeshGmsh))
	assert.False(t, Kind("meshes").IsDerivedFrom(KindMesh))
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("mesh.").Valid())
}

func TestDocument_NotificationsAndLookup(t *testing.T) {
	h := NewHub(nil)
	rec := &recorder{}
	h.AddObserver(rec)

	d, analysis := beam(t, h)
	assert.Equal(t, "Beam.SolverElmer", mustEntity(t, d, "SolverElmer").UniqueName())
	assert.Contains(t, rec.snapshot(), "created:Mesh")
	assert.Contains(t, rec.snapshot(), "changed:Analysis.Group")

	rec.reset()
	steel := mustEntity(t, d, "Steel")
	steel.Set("YoungsModulus", "210 GPa")
	steel.SetLabel("S235")
	assert.Equal(t, []string{"changed:Steel.YoungsModulus", "changed:Steel.Label"}, rec.snapshot())
	assert.Equal(t, "210 GPa", steel.GetString("YoungsModulus"))

	assert.Same(t, analysis, FindAnalysisOf(steel))
	assert.Len(t, MembersOf(analysis, KindConstraint), 1)
	assert.Len(t, d.EntitiesOfKind(KindMaterial), 1)
}

func TestDocument_AddEntityValidation(t *testing.T) {
	h := NewHub(nil)
	d, err := h.NewDocument("D")
	require.NoError(t, err)

	_, err = d.AddEntity(KindMesh, "")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = d.AddEntity(KindMesh, "a.b")
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = d.AddEntity(KindMesh, "M")
	require.NoError(t, err)
	_, err = d.AddEntity(KindMesh, "M")
	assert.ErrorIs(t, err, ErrDuplicateEntity)

	_, err = h.NewDocument("D")
	assert.ErrorIs(t, err, ErrDuplicateDocument)
}

func TestDocument_RemoveNotifiesBeforeDetaching(t *testing.T) {
	h := NewHub(nil)
	d, analysis := beam(t, h)

	var analysisAtDelete *Entity
	rec := &recorder{onDel: func(e *Entity) { analysisAtDelete = FindAnalysisOf(e) }}
	h.AddObserver(rec)

	require.NoError(t, d.RemoveEntity("Fixed"))

	assert.Same(t, analysis, analysisAtDelete)
	assert.False(t, analysis.HasMember("Fixed"))
	_, ok := d.Entity("Fixed")
	assert.False(t, ok)
	assert.Equal(t, []string{"deleted:Fixed", "changed:Analysis.Group"}, rec.snapshot())

	assert.ErrorIs(t, d.RemoveEntity("Fixed"), ErrEntityNotFound)
}

func TestHub_CloseNotifies(t *testing.T) {
	h := NewHub(nil)
	rec := &recorder{}
	id := h.AddObserver(rec)
	d, err := h.NewDocument("Beam")
	require.NoError(t, err)

	require.NoError(t, h.Close(d))
	assert.Equal(t, []string{"closed:Beam"}, rec.snapshot())
	_, ok := h.Document("Beam")
	assert.False(t, ok)
	assert.ErrorIs(t, h.Close(d), ErrDocumentNotFound)

	assert.True(t, h.RemoveObserver(id))
	assert.Zero(t, h.ObserverCount())
}

func TestHub_ObserverPanicIsContained(t *testing.T) {
	h := NewHub(nil)
	h.AddObserver(panicky{})
	rec := &recorder{}
	h.AddObserver(rec)

	d, err := h.NewDocument("D")
	require.NoError(t, err)
	require.NotPanics(t, func() {
		_, err = d.AddEntity(KindMesh, "M")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"created:M"}, rec.snapshot())
}

type panicky struct{}

func (panicky) OnEntityCreated(*Entity)           { panic("observer bug") }
func (panicky) OnEntityDeleted(*Entity)           {}
func (panicky) OnPropertyChanged(*Entity, string) {}
func (panicky) OnDocumentDeleted(*Document)       {}

func TestDocument_SaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	h := NewHub(nil)
	d, _ := beam(t, h)
	mustEntity(t, d, "Steel").Set("Density", "7900 kg/m^3")

	assert.ErrorIs(t, d.Save(), ErrNotSaved)
	path := filepath.Join(dir, "beam.femdoc")
	require.NoError(t, d.SaveAs(path))
	assert.Equal(t, path, d.FileName())

	other := NewHub(nil)
	opened, err := other.Open(path)
	require.NoError(t, err)
	assert.Equal(t, "Beam", opened.Name())
	assert.Equal(t, path, opened.FileName())
	assert.Len(t, opened.Entities(), 5)

	steel := mustEntity(t, opened, "Steel")
	assert.Equal(t, KindMaterialSolid, steel.Kind())
	assert.Equal(t, "7900 kg/m^3", steel.GetString("Density"))
	assert.NotNil(t, FindAnalysisOf(steel))
}

func TestOpen_RejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	h := NewHub(nil)

	dup := filepath.Join(dir, "dup.femdoc")
	require.NoError(t, os.WriteFile(dup, []byte("version: 1\nentities:\n  - {name: A, kind: mesh}\n  - {name: A, kind: mesh}\n"), 0o644))
	_, err := h.Open(dup)
	assert.ErrorIs(t, err, ErrBadFile)

	future := filepath.Join(dir, "future.femdoc")
	require.NoError(t, os.WriteFile(future, []byte("version: 99\n"), 0o644))
	_, err = h.Open(future)
	assert.ErrorIs(t, err, ErrBadFile)

	noname := filepath.Join(dir, "Bracket.femdoc")
	require.NoError(t, os.WriteFile(noname, []byte("version: 1\n"), 0o644))
	d, err := h.Open(noname)
	require.NoError(t, err)
	assert.Equal(t, "Bracket", d.Name())
}

func TestDocument_ReloadAppliesDifference(t *testing.T) {
	dir := t.TempDir()
	h := NewHub(nil)
	d, _ := beam(t, h)
	path := filepath.Join(dir, "beam.femdoc")
	require.NoError(t, d.SaveAs(path))

	rec := &recorder{}
	h.AddObserver(rec)

	changes, err := d.Reload()
	require.NoError(t, err)
	assert.True(t, changes.Empty())
	assert.Empty(t, rec.snapshot())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	edited := strings.Replace(string(data), "    - name: Fixed\n      kind: constraint.fixed\n", "", 1)
	edited += "    - name: Load\n      kind: constraint.force\n      properties:\n        Force: 500\n"
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	changes, err = d.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"Fixed"}, changes.Deleted)
	assert.Equal(t, []string{"Load"}, changes.Created)
	load := mustEntity(t, d, "Load")
	v, _ := load.Get("Force")
	assert.Equal(t, 500, v)

	events := rec.snapshot()
	assert.Contains(t, events, "deleted:Fixed")
	assert.Contains(t, events, "created:Load")
	assert.Contains(t, events, "changed:Load.Force")
}

func TestWatcher_ReloadsOnExternalEdit(t *testing.T) {
	dir := t.TempDir()
	h := NewHub(nil)
	d, _ := beam(t, h)
	path := filepath.Join(dir, "beam.femdoc")
	require.NoError(t, d.SaveAs(path))

	reloaded := make(chan Changes, 4)
	w, err := NewWatcher(d, WatcherOptions{
		Debounce: 20 * time.Millisecond,
		OnReload: func(c Changes, err error) {
			if err == nil && !c.Empty() {
				reloaded <- c
			}
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	other := NewHub(nil)
	copyDoc, err := other.Open(path)
	require.NoError(t, err)
	mustEntity(t, copyDoc, "Steel").Set("Density", "7850 kg/m^3")
	require.NoError(t, copyDoc.Save())

	select {
	case c := <-reloaded:
		assert.Equal(t, []string{"Steel"}, c.Changed)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the document")
	}
	assert.Equal(t, "7850 kg/m^3", mustEntity(t, d, "Steel").GetString("Density"))
}

func TestNewWatcher_RequiresSavedDocument(t *testing.T) {
	h := NewHub(nil)
	d, err := h.NewDocument("Unsaved")
	require.NoError(t, err)
	_, err = NewWatcher(d, WatcherOptions{})
	assert.ErrorIs(t, err, ErrNotSaved)
}

func mustEntity(t *testing.T, d *Document, name string) *Entity {
	t.Helper()
	e, ok := d.Entity(name)
	require.True(t, ok, "entity %s", name)
	return e
}
