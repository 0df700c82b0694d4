// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package task

import (
	"slices"
	"sync"
)

// Registry tracks named tasks that are currently running.
//
// Tasks with an empty name are never registered.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	running map[string]*Task
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used by tasks that
// were not given one explicitly.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{running: make(map[string]*Task)}
}

func (r *Registry) add(t *Task) error {
	if t.name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.running[t.name]; taken {
		return &DuplicateTaskError{Name: t.name}
	}
	r.running[t.name] = t
	return nil
}

// remove drops t only if it is the task registered under its name.
func (r *Registry) remove(t *Task) {
	if t.name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[t.name] == t {
		delete(r.running, t.name)
	}
}

// Lookup returns the running task registered under name.
func (r *Registry) Lookup(name string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.running[name]
	return t, ok
}

// Names returns the sorted names of all running tasks.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.running))
	for name := range r.running {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of running named tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}
