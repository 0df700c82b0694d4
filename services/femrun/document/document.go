// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package document is the in-process host model femrun operates on.
//
// A Hub owns open Documents; a Document owns named Entities. Entities have
// a dotted Kind, a label, free-form properties and an optional member list
// (analyses group the mesh, materials, constraints and solvers of one
// simulation case). Every mutation is reported to the Hub's observers
// after the model's locks are released.
//
// Documents persist as YAML. A Watcher reloads a saved document when its
// file changes on disk and replays the difference as ordinary change
// notifications.
package document

import (
	"fmt"
	"slices"
	"sync"

	"github.com/AleutianAI/femrun/pkg/validation"
)

// Document is a named collection of entities.
//
// Thread Safety: Safe for concurrent use.
type Document struct {
	hub  *Hub
	name string

	mu       sync.RWMutex
	fileName string
	entities map[string]*Entity
	order    []string
}

func newDocument(h *Hub, name string) *Document {
	return &Document{
		hub:      h,
		name:     name,
		entities: make(map[string]*Entity),
	}
}

// Name returns the document name.
func (d *Document) Name() string { return d.name }

// Hub returns the owning hub.
func (d *Document) Hub() *Hub { return d.hub }

// FileName returns where the document was last saved or opened from.
// Empty for a document that has never been saved.
func (d *Document) FileName() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fileName
}

// AddEntity creates an entity and notifies observers.
func (d *Document) AddEntity(kind Kind, name string) (*Entity, error) {
	e, err := d.addEntity(kind, name)
	if err != nil {
		return nil, err
	}
	d.hub.entityCreated(e)
	return e, nil
}

func (d *Document) addEntity(kind Kind, name string) (*Entity, error) {
	clean, err := validation.SanitizeEntityName(name)
	if err != nil || !kind.Valid() {
		return nil, fmt.Errorf("add %q of kind %q: %w", name, kind, ErrInvalidName)
	}
	name = clean
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entities[name]; ok {
		return nil, fmt.Errorf("add %q to %s: %w", name, d.name, ErrDuplicateEntity)
	}
	e := &Entity{
		doc:   d,
		name:  name,
		kind:  kind,
		label: name,
		props: make(map[string]any),
	}
	d.entities[name] = e
	d.order = append(d.order, name)
	return e, nil
}

// RemoveEntity deletes an entity.
//
// # Description
//
// Observers are notified before the entity leaves the document so they
// can still resolve the analysis it belonged to. The entity is then
// dropped from every member list that referenced it.
func (d *Document) RemoveEntity(name string) error {
	e, ok := d.Entity(name)
	if !ok {
		return fmt.Errorf("remove %q from %s: %w", name, d.name, ErrEntityNotFound)
	}
	d.hub.entityDeleted(e)

	for _, other := range d.Entities() {
		if other != e && other.dropMember(name) {
			d.hub.propertyChanged(other, PropGroup)
		}
	}

	d.mu.Lock()
	delete(d.entities, name)
	if i := slices.Index(d.order, name); i >= 0 {
		d.order = slices.Delete(d.order, i, i+1)
	}
	d.mu.Unlock()
	return nil
}

// Entity returns the entity called name.
func (d *Document) Entity(name string) (*Entity, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entities[name]
	return e, ok
}

// Entities returns all entities in creation order.
func (d *Document) Entities() []*Entity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Entity, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.entities[name])
	}
	return out
}

// EntitiesOfKind returns entities deriving from kind, in creation order.
func (d *Document) EntitiesOfKind(kind Kind) []*Entity {
	var out []*Entity
	for _, e := range d.Entities() {
		if e.kind.IsDerivedFrom(kind) {
			out = append(out, e)
		}
	}
	return out
}
