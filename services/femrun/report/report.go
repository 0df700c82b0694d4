// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report collects diagnostics produced while running a solver.
//
// A Report keeps three ordered lists: infos, warnings and errors. Messages
// come from a fixed catalog of keys (see catalog.go); adding a message with
// an unknown key is a programming error and panics. A report is valid when
// it has no errors.
package report

import (
	"slices"
	"sync"
)

// Severity classifies a message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Report is an ordered set of diagnostics.
//
// Thread Safety: Safe for concurrent use.
type Report struct {
	mu       sync.RWMutex
	infos    []string
	warnings []string
	errors   []string
}

// New returns an empty report.
func New() *Report {
	return &Report{}
}

// Info appends an info message built from the catalog.
func (r *Report) Info(key string, args ...any) {
	msg := Format(key, args...)
	r.mu.Lock()
	r.infos = append(r.infos, msg)
	r.mu.Unlock()
}

// Warning appends a warning message built from the catalog.
func (r *Report) Warning(key string, args ...any) {
	msg := Format(key, args...)
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

// Error appends an error message built from the catalog.
func (r *Report) Error(key string, args ...any) {
	msg := Format(key, args...)
	r.mu.Lock()
	r.errors = append(r.errors, msg)
	r.mu.Unlock()
}

// Infos returns a copy of the info messages.
func (r *Report) Infos() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.infos)
}

// Warnings returns a copy of the warning messages.
func (r *Report) Warnings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.warnings)
}

// Errors returns a copy of the error messages.
func (r *Report) Errors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.errors)
}

// IsValid reports whether the report has no errors.
func (r *Report) IsValid() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.errors) == 0
}

// IsEmpty reports whether the report has no messages at all.
func (r *Report) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.infos) == 0 && len(r.warnings) == 0 && len(r.errors) == 0
}

// Extend appends all of other's messages, keeping their order.
// Extending a report with itself doubles it.
func (r *Report) Extend(other *Report) {
	if other == nil {
		return
	}
	infos, warnings, errs := other.Infos(), other.Warnings(), other.Errors()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, infos...)
	r.warnings = append(r.warnings, warnings...)
	r.errors = append(r.errors, errs...)
}

// Merge returns a new report holding a's messages followed by b's.
func Merge(a, b *Report) *Report {
	out := New()
	out.Extend(a)
	out.Extend(b)
	return out
}

// Snapshot is a serializable copy of a report.
type Snapshot struct {
	Infos    []string `json:"infos"`
	Warnings []string `json:"warnings"`
	Errors   []string `json:"errors"`
	Valid    bool     `json:"valid"`
}

// Snapshot returns a copy suitable for JSON encoding.
func (r *Report) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		Infos:    nonNil(r.infos),
		Warnings: nonNil(r.warnings),
		Errors:   nonNil(r.errors),
		Valid:    len(r.errors) == 0,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
