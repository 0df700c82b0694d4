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
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

const fileVersion = 1

// fileDoc is the on-disk YAML layout.
type fileDoc struct {
	Version  int          `yaml:"version"`
	Name     string       `yaml:"name"`
	Entities []fileEntity `yaml:"entities"`
}

type fileEntity struct {
	Name       string         `yaml:"name"`
	Kind       Kind           `yaml:"kind"`
	Label      string         `yaml:"label,omitempty"`
	Members    []string       `yaml:"members,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

// Changes summarizes what Reload applied.
type Changes struct {
	Created []string
	Deleted []string
	Changed []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Created) == 0 && len(c.Deleted) == 0 && len(c.Changed) == 0
}

// Save writes the document to its current file name.
func (d *Document) Save() error {
	path := d.FileName()
	if path == "" {
		return fmt.Errorf("save %s: %w", d.name, ErrNotSaved)
	}
	return d.SaveAs(path)
}

// SaveAs writes the document to path and makes path its file name. The
// file is replaced atomically.
func (d *Document) SaveAs(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("save %s: %w", d.name, err)
	}
	data, err := yaml.Marshal(d.snapshot())
	if err != nil {
		return fmt.Errorf("encode %s: %w", d.name, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("save %s: %w", d.name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".*")
	if err != nil {
		return fmt.Errorf("save %s: %w", d.name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", d.name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", d.name, err)
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save %s: %w", d.name, err)
	}

	d.mu.Lock()
	d.fileName = abs
	d.mu.Unlock()
	return nil
}

func (d *Document) snapshot() fileDoc {
	fd := fileDoc{Version: fileVersion, Name: d.name}
	for _, e := range d.Entities() {
		fe := fileEntity{
			Name:    e.name,
			Kind:    e.kind,
			Members: e.memberNames(),
		}
		if label := e.Label(); label != e.name {
			fe.Label = label
		}
		if props := e.Properties(); len(props) > 0 {
			fe.Properties = props
		}
		fd.Entities = append(fd.Entities, fe)
	}
	return fd
}

func readFile(path string) (*fileDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fd fileDoc
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadFile, path, err)
	}
	if fd.Version > fileVersion {
		return nil, fmt.Errorf("%w: %s: version %d is newer than %d", ErrBadFile, path, fd.Version, fileVersion)
	}
	seen := make(map[string]bool, len(fd.Entities))
	for _, fe := range fd.Entities {
		if seen[fe.Name] {
			return nil, fmt.Errorf("%w: %s: entity %q listed twice", ErrBadFile, path, fe.Name)
		}
		seen[fe.Name] = true
	}
	return &fd, nil
}

// Open reads a document file and registers it with the hub. The document
// name comes from the file, or from the file's base name when missing.
// Opening does not notify observers.
func (h *Hub) Open(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fd, err := readFile(abs)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	name := fd.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}

	d := newDocument(h, name)
	d.fileName = abs
	for _, fe := range fd.Entities {
		e, err := d.addEntity(fe.Kind, fe.Name)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		if fe.Label != "" {
			e.label = fe.Label
		}
		if fe.Properties != nil {
			e.props = fe.Properties
		}
		e.members = slices.Clone(fe.Members)
	}
	if err := h.register(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the document file and applies the difference through
// the normal mutation methods, so observers see one notification per
// changed entity or property.
func (d *Document) Reload() (Changes, error) {
	var changes Changes
	path := d.FileName()
	if path == "" {
		return changes, fmt.Errorf("reload %s: %w", d.name, ErrNotSaved)
	}
	fd, err := readFile(path)
	if err != nil {
		return changes, fmt.Errorf("reload %s: %w", d.name, err)
	}

	want := make(map[string]fileEntity, len(fd.Entities))
	for _, fe := range fd.Entities {
		want[fe.Name] = fe
	}
	for _, e := range d.Entities() {
		if fe, ok := want[e.name]; !ok || fe.Kind != e.kind {
			if err := d.RemoveEntity(e.name); err != nil {
				return changes, err
			}
			changes.Deleted = append(changes.Deleted, e.name)
		}
	}

	for _, fe := range fd.Entities {
		e, ok := d.Entity(fe.Name)
		if !ok {
			e, err = d.AddEntity(fe.Kind, fe.Name)
			if err != nil {
				return changes, fmt.Errorf("reload %s: %w", d.name, err)
			}
			changes.Created = append(changes.Created, fe.Name)
			e.apply(fe)
			continue
		}
		if e.apply(fe) {
			changes.Changed = append(changes.Changed, fe.Name)
		}
	}
	return changes, nil
}

// apply brings e in line with fe, notifying each change. Returns true if
// anything changed.
func (e *Entity) apply(fe fileEntity) bool {
	changed := false

	label := fe.Label
	if label == "" {
		label = fe.Name
	}
	if e.Label() != label {
		e.SetLabel(label)
		changed = true
	}

	current := e.Properties()
	keys := slices.Sorted(maps.Keys(current))
	for _, k := range keys {
		if _, ok := fe.Properties[k]; !ok {
			e.Unset(k)
			changed = true
		}
	}
	for _, k := range slices.Sorted(maps.Keys(fe.Properties)) {
		v := fe.Properties[k]
		if old, ok := current[k]; !ok || !reflect.DeepEqual(old, v) {
			e.Set(k, v)
			changed = true
		}
	}

	if !slices.Equal(e.memberNames(), fe.Members) {
		e.mu.Lock()
		e.members = slices.Clone(fe.Members)
		e.mu.Unlock()
		e.doc.hub.propertyChanged(e, PropGroup)
		changed = true
	}
	return changed
}
