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
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Observer receives change notifications for every document of a Hub.
//
// Callbacks run synchronously on the goroutine that made the change and
// never while the model holds a lock, so observers may read the model.
type Observer interface {
	OnEntityCreated(e *Entity)
	OnEntityDeleted(e *Entity)
	OnPropertyChanged(e *Entity, prop string)
	OnDocumentDeleted(d *Document)
}

type observerEntry struct {
	id  uint64
	obs Observer
}

// Hub is the application-level owner of open documents and the event
// source observers attach to.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu        sync.RWMutex
	docs      map[string]*Document
	observers []observerEntry
	nextID    uint64
	logger    *slog.Logger
}

// NewHub creates a hub with no documents.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{docs: make(map[string]*Document), logger: logger}
}

// NewDocument creates and registers an empty, unsaved document.
func (h *Hub) NewDocument(name string) (*Document, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("new document: %w", ErrInvalidName)
	}
	d := newDocument(h, name)
	if err := h.register(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (h *Hub) register(d *Document) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.docs[d.name]; ok {
		return fmt.Errorf("document %q: %w", d.name, ErrDuplicateDocument)
	}
	h.docs[d.name] = d
	return nil
}

// Document returns the open document called name.
func (h *Hub) Document(name string) (*Document, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.docs[name]
	return d, ok
}

// Documents returns all open documents sorted by name.
func (h *Hub) Documents() []*Document {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Document, 0, len(h.docs))
	for _, d := range h.docs {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Document) int { return strings.Compare(a.name, b.name) })
	return out
}

// Close notifies observers that d is being deleted and forgets it.
func (h *Hub) Close(d *Document) error {
	h.mu.Lock()
	if h.docs[d.name] != d {
		h.mu.Unlock()
		return fmt.Errorf("close %q: %w", d.name, ErrDocumentNotFound)
	}
	h.mu.Unlock()

	h.each(func(o Observer) { o.OnDocumentDeleted(d) })

	h.mu.Lock()
	delete(h.docs, d.name)
	h.mu.Unlock()
	return nil
}

// AddObserver attaches o to all documents. Returns a handle for
// RemoveObserver.
func (h *Hub) AddObserver(o Observer) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.observers = append(h.observers, observerEntry{id: h.nextID, obs: o})
	return h.nextID
}

// RemoveObserver detaches an observer.
func (h *Hub) RemoveObserver(id uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.observers {
		if e.id == id {
			h.observers = slices.Delete(h.observers, i, i+1)
			return true
		}
	}
	return false
}

// ObserverCount returns the number of attached observers.
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// each invokes fn for every observer, recovering observer panics.
func (h *Hub) each(fn func(Observer)) {
	h.mu.RLock()
	entries := slices.Clone(h.observers)
	h.mu.RUnlock()

	for _, e := range entries {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("document observer panicked", "panic", r)
				}
			}()
			fn(e.obs)
		}()
	}
}

func (h *Hub) entityCreated(e *Entity) {
	h.each(func(o Observer) { o.OnEntityCreated(e) })
}

func (h *Hub) entityDeleted(e *Entity) {
	h.each(func(o Observer) { o.OnEntityDeleted(e) })
}

func (h *Hub) propertyChanged(e *Entity, prop string) {
	h.each(func(o Observer) { o.OnPropertyChanged(e, prop) })
}
