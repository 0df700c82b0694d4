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
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Well-known property names.
const (
	PropLabel = "Label"
	PropGroup = "Group"
)

// Entity is one object of a document.
//
// Thread Safety: Safe for concurrent use.
type Entity struct {
	doc  *Document
	name string
	kind Kind

	mu      sync.RWMutex
	label   string
	props   map[string]any
	members []string
}

// Name returns the document-unique name.
func (e *Entity) Name() string { return e.name }

// Kind returns the entity kind.
func (e *Entity) Kind() Kind { return e.kind }

// Document returns the owning document.
func (e *Entity) Document() *Document { return e.doc }

// UniqueName returns "<document>.<entity>", unique across a hub.
func (e *Entity) UniqueName() string {
	return e.doc.name + "." + e.name
}

// IsDerivedFrom reports whether the entity's kind derives from kind.
func (e *Entity) IsDerivedFrom(kind Kind) bool {
	return e.kind.IsDerivedFrom(kind)
}

// Label returns the user-visible name.
func (e *Entity) Label() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.label
}

// SetLabel renames the entity for display and notifies PropLabel.
func (e *Entity) SetLabel(label string) {
	e.mu.Lock()
	e.label = label
	e.mu.Unlock()
	e.doc.hub.propertyChanged(e, PropLabel)
}

// Get returns a property value.
func (e *Entity) Get(prop string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.props[prop]
	return v, ok
}

// GetString returns a property rendered as a string, "" when absent.
func (e *Entity) GetString(prop string) string {
	v, ok := e.Get(prop)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns a boolean property, false when absent or not a bool.
func (e *Entity) Bool(prop string) bool {
	v, _ := e.Get(prop)
	b, _ := v.(bool)
	return b
}

// Set stores a property and notifies observers. Setting PropLabel is the
// same as SetLabel.
func (e *Entity) Set(prop string, value any) {
	if prop == PropLabel {
		e.SetLabel(fmt.Sprint(value))
		return
	}
	e.mu.Lock()
	e.props[prop] = value
	e.mu.Unlock()
	e.doc.hub.propertyChanged(e, prop)
}

// Unset removes a property. Observers are notified only if it existed.
func (e *Entity) Unset(prop string) {
	e.mu.Lock()
	_, ok := e.props[prop]
	delete(e.props, prop)
	e.mu.Unlock()
	if ok {
		e.doc.hub.propertyChanged(e, prop)
	}
}

// Properties returns a copy of all properties.
func (e *Entity) Properties() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.props)
}

// Members returns the grouped entities that still exist, in order.
func (e *Entity) Members() []*Entity {
	e.mu.RLock()
	names := slices.Clone(e.members)
	e.mu.RUnlock()

	out := make([]*Entity, 0, len(names))
	for _, name := range names {
		if m, ok := e.doc.Entity(name); ok {
			out = append(out, m)
		}
	}
	return out
}

// HasMember reports whether name is in the member list.
func (e *Entity) HasMember(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Contains(e.members, name)
}

// AddMember appends m to the member list and notifies PropGroup.
// Adding an existing member is a no-op.
func (e *Entity) AddMember(m *Entity) error {
	if m.doc != e.doc {
		return fmt.Errorf("add %s to %s: %w", m.UniqueName(), e.UniqueName(), ErrForeignEntity)
	}
	e.mu.Lock()
	if slices.Contains(e.members, m.name) {
		e.mu.Unlock()
		return nil
	}
	e.members = append(e.members, m.name)
	e.mu.Unlock()
	e.doc.hub.propertyChanged(e, PropGroup)
	return nil
}

// RemoveMember drops m from the member list and notifies PropGroup.
func (e *Entity) RemoveMember(m *Entity) bool {
	if !e.dropMember(m.name) {
		return false
	}
	e.doc.hub.propertyChanged(e, PropGroup)
	return true
}

func (e *Entity) dropMember(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := slices.Index(e.members, name)
	if i < 0 {
		return false
	}
	e.members = slices.Delete(e.members, i, i+1)
	return true
}

func (e *Entity) memberNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.members)
}
