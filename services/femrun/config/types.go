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
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/AleutianAI/femrun/services/femrun/workdir"
)

// ErrBinaryNotFound is returned by BinaryPath when a solver binary is
// neither configured nor on PATH.
var ErrBinaryNotFound = errors.New("solver binary not found")

type FemrunConfig struct {
	// Directory: where case directories are created
	Directory DirectoryConfig `yaml:"directory"`

	// Solvers: binary name -> path. Empty path means look it up on PATH.
	Solvers map[string]string `yaml:"solvers"`

	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
}

type DirectoryConfig struct {
	Policy string `yaml:"policy" validate:"oneof=temporary beside custom"`
	Custom string `yaml:"custom,omitempty" validate:"required_if=Policy custom"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	Traces  string `yaml:"traces" validate:"oneof=none stdout otlp"`
	Metrics string `yaml:"metrics" validate:"oneof=none stdout prometheus"`
	// Endpoint is the OTLP gRPC collector, host:port.
	Endpoint string `yaml:"endpoint,omitempty" validate:"required_if=Traces otlp"`
}

type StorageConfig struct {
	// Checkpoints is the badger directory. Empty disables checkpoints.
	Checkpoints string `yaml:"checkpoints,omitempty"`
	// History is the sqlite file. Empty disables the run ledger.
	History string `yaml:"history,omitempty"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`

	// Token, when set, is required as a bearer token on every API route
	// except health.
	Token string `yaml:"token,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() FemrunConfig {
	return FemrunConfig{
		Directory: DirectoryConfig{Policy: workdir.PolicyTemporary.String()},
		Solvers:   map[string]string{"ElmerSolver": ""},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{Traces: "none", Metrics: "prometheus"},
		Storage: StorageConfig{
			Checkpoints: "~/.femrun/checkpoints",
			History:     "~/.femrun/history.db",
		},
		Server: ServerConfig{Port: 12230},
	}
}

// DirectoryPolicy returns the configured allocation policy, falling back
// to temporary for anything unparseable.
func (c *FemrunConfig) DirectoryPolicy() workdir.Policy {
	p, err := workdir.ParsePolicy(c.Directory.Policy)
	if err != nil {
		return workdir.PolicyTemporary
	}
	return p
}

// CustomDirectory returns the base directory of the custom policy.
func (c *FemrunConfig) CustomDirectory() string {
	return expandHome(c.Directory.Custom)
}

// BinaryPath resolves a solver binary: the configured path if any, else
// a PATH lookup of name.
func (c *FemrunConfig) BinaryPath(name string) (string, error) {
	candidate := name
	if p := c.Solvers[name]; p != "" {
		candidate = expandHome(p)
	}
	if filepath.IsAbs(candidate) {
		if _, err := exec.LookPath(candidate); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, candidate, err)
		}
		return candidate, nil
	}
	path, err := exec.LookPath(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, candidate)
	}
	return path, nil
}
