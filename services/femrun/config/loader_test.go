// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/femrun/services/femrun/workdir"
)

func TestLoadFile_CreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "femrun.yaml")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, workdir.PolicyTemporary, cfg.DirectoryPolicy())
	assert.Equal(t, 12230, cfg.Server.Port)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".femrun", "history.db"), cfg.Storage.History)
}

func TestLoadFile_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "femrun.yaml")
	body := "directory:\n  policy: custom\n  custom: " + dir + "\nserver:\n  port: 9000\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, workdir.PolicyCustom, cfg.DirectoryPolicy())
	assert.Equal(t, dir, cfg.CustomDirectory())
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "prometheus", cfg.Telemetry.Metrics, "unset sections keep their defaults")
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown policy", "directory:\n  policy: cloud\n"},
		{"custom without path", "directory:\n  policy: custom\n"},
		{"bad port", "server:\n  port: 70000\n"},
		{"otlp without endpoint", "telemetry:\n  traces: otlp\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"not yaml", "directory: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "femrun.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := LoadFile(path)
			assert.Error(t, err)
		})
	}
}

func TestBinaryPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "FakeSolver")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexit 0\n"), 0o755))

	cfg := DefaultConfig()
	cfg.Solvers["FakeSolver"] = bin
	got, err := cfg.BinaryPath("FakeSolver")
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	cfg.Solvers["Missing"] = filepath.Join(dir, "nope")
	_, err = cfg.BinaryPath("Missing")
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	_, err = cfg.BinaryPath("definitely-not-a-solver-binary")
	assert.ErrorIs(t, err, ErrBinaryNotFound)

	delete(cfg.Solvers, "FakeSolver")
	t.Setenv("PATH", dir)
	got, err = cfg.BinaryPath("FakeSolver")
	require.NoError(t, err)
	assert.Equal(t, bin, got)
}

func TestDirectoryPolicy_Fallback(t *testing.T) {
	cfg := FemrunConfig{Directory: DirectoryConfig{Policy: "???"}}
	assert.Equal(t, workdir.PolicyTemporary, cfg.DirectoryPolicy())
}
