// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workdir allocates working directories for solver runs and
// remembers how each one was obtained.
//
// # Policies
//
//	temporary  fresh directory under the temp root, deleted on Release
//	beside     <document path without extension>/<solver label>
//	custom     <custom base>/<document name>/<solver label>
//	external   a caller-supplied path, used as-is and never deleted
//
// Beside and custom candidates already handed out are uniquified with a
// _NNN suffix. The provenance table lets a cached machine check that its
// directory still matches the configured policy.
package workdir

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// Policy selects how a working directory is obtained.
type Policy int

const (
	PolicyTemporary Policy = iota
	PolicyBeside
	PolicyCustom
	PolicyExternal
)

var policyNames = map[Policy]string{
	PolicyTemporary: "temporary",
	PolicyBeside:    "beside",
	PolicyCustom:    "custom",
	PolicyExternal:  "external",
}

// String returns the config name of the policy.
func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy converts a config name into a Policy.
func ParsePolicy(s string) (Policy, error) {
	for p, name := range policyNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return PolicyTemporary, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Request describes the directory being asked for.
type Request struct {
	// DocumentName is the host document name.
	DocumentName string

	// DocumentPath is where the document is saved. Empty if never saved.
	DocumentPath string

	// SolverLabel is the user-visible solver name.
	SolverLabel string

	// CustomBase is the configured base for PolicyCustom.
	CustomBase string

	// Path is the directory for PolicyExternal.
	Path string
}

// Record is the provenance entry of an allocated directory.
type Record struct {
	Path        string    `json:"path"`
	Policy      Policy    `json:"policy"`
	Base        string    `json:"base"`
	AllocatedAt time.Time `json:"allocated_at"`
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithTempRoot sets the parent of temporary directories. Default: os.TempDir().
func WithTempRoot(dir string) Option {
	return func(a *Allocator) {
		a.tempRoot = dir
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Allocator hands out working directories.
//
// Thread Safety: Safe for concurrent use. Uniquify, creation and
// recording happen under one lock so concurrent requests never receive
// the same path.
type Allocator struct {
	mu       sync.Mutex
	records  map[string]Record
	tempRoot string
	logger   *slog.Logger
}

// NewAllocator creates an allocator with an empty provenance table.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		records: make(map[string]Record),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns a directory for req according to policy.
//
// # Description
//
// Temporary directories are created with os.MkdirTemp. Beside and custom
// directories are derived from the document, uniquified against the
// provenance table and created if absent. External paths are recorded
// as-is without touching the filesystem.
//
// # Outputs
//
//   - string: The absolute directory path.
//   - error: *NotSavedError, *InvalidPathError, or a filesystem error.
func (a *Allocator) Allocate(policy Policy, req Request) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		path string
		base string
		err  error
	)
	switch policy {
	case PolicyTemporary:
		base = a.tempRoot
		if base == "" {
			base = os.TempDir()
		}
		path, err = os.MkdirTemp(base, "femrun-"+sanitize(req.SolverLabel)+"-")
		if err != nil {
			return "", fmt.Errorf("create temporary directory: %w", err)
		}
	case PolicyBeside, PolicyCustom:
		base, err = deriveBase(policy, req)
		if err != nil {
			return "", err
		}
		path = a.uniquify(filepath.Join(base, sanitize(req.SolverLabel)))
		if err := os.MkdirAll(path, 0o755); err != nil {
			return "", fmt.Errorf("create working directory %s: %w", path, err)
		}
	case PolicyExternal:
		if req.Path == "" {
			return "", &InvalidPathError{Path: req.Path, Cause: os.ErrNotExist}
		}
		path = filepath.Clean(req.Path)
		base = filepath.Dir(path)
	default:
		return "", fmt.Errorf("%w: %v", ErrUnknownPolicy, policy)
	}

	a.records[path] = Record{Path: path, Policy: policy, Base: base, AllocatedAt: time.Now()}
	a.logger.Debug("allocated working directory",
		slog.String("path", path),
		slog.String("policy", policy.String()),
	)
	return path, nil
}

// Base returns the parent directory policy would derive for req. Only
// meaningful for PolicyBeside and PolicyCustom.
func Base(policy Policy, req Request) (string, error) {
	return deriveBase(policy, req)
}

func deriveBase(policy Policy, req Request) (string, error) {
	switch policy {
	case PolicyBeside:
		if req.DocumentPath == "" {
			return "", &NotSavedError{Document: req.DocumentName}
		}
		return strings.TrimSuffix(req.DocumentPath, filepath.Ext(req.DocumentPath)), nil
	case PolicyCustom:
		info, err := os.Stat(req.CustomBase)
		if err != nil {
			return "", &InvalidPathError{Path: req.CustomBase, Cause: err}
		}
		if !info.IsDir() {
			return "", &InvalidPathError{Path: req.CustomBase}
		}
		return filepath.Join(req.CustomBase, sanitize(req.DocumentName)), nil
	default:
		return "", fmt.Errorf("%w: %v has no derived base", ErrUnknownPolicy, policy)
	}
}

// uniquify appends _001, _002, ... while candidate is already recorded.
// Caller holds a.mu.
func (a *Allocator) uniquify(candidate string) string {
	if _, taken := a.records[candidate]; !taken {
		return candidate
	}
	for i := 1; ; i++ {
		next := fmt.Sprintf("%s_%03d", candidate, i)
		if _, taken := a.records[next]; !taken {
			return next
		}
	}
}

// StillValid reports whether path was allocated under policy and, for
// beside and custom, whether its recorded base is still what policy
// derives for req. A temporary directory removed from disk is not valid.
func (a *Allocator) StillValid(path string, policy Policy, req Request) bool {
	a.mu.Lock()
	rec, ok := a.records[path]
	a.mu.Unlock()
	if !ok || rec.Policy != policy {
		return false
	}
	switch policy {
	case PolicyBeside, PolicyCustom:
		base, err := deriveBase(policy, req)
		return err == nil && base == rec.Base
	case PolicyTemporary:
		info, err := os.Stat(path)
		return err == nil && info.IsDir()
	case PolicyExternal:
		return req.Path == "" || filepath.Clean(req.Path) == path
	}
	return false
}

// Lookup returns the provenance record of path.
func (a *Allocator) Lookup(path string) (Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[path]
	return rec, ok
}

// Records returns all provenance records sorted by path.
func (a *Allocator) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(x, y Record) int { return strings.Compare(x.Path, y.Path) })
	return out
}

// Release forgets path. Temporary directories are removed from disk;
// other policies leave the files in place for the user.
func (a *Allocator) Release(path string) error {
	a.mu.Lock()
	rec, ok := a.records[path]
	delete(a.records, path)
	a.mu.Unlock()

	if !ok || rec.Policy != PolicyTemporary {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove temporary directory %s: %w", path, err)
	}
	a.logger.Debug("removed temporary directory", slog.String("path", path))
	return nil
}

// Close releases every recorded directory. Returns the first error.
func (a *Allocator) Close() error {
	var first error
	for _, rec := range a.Records() {
		if err := a.Release(rec.Path); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator || r == 0 {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "solver"
	}
	return name
}
