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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is the process configuration once Load has run.
	Global FemrunConfig
	once   sync.Once

	validate = validator.New()
)

// DefaultPath is ~/.femrun/femrun.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".femrun", "femrun.yaml"), nil
}

// Load reads the default config file into Global, creating it on first
// run. Only the first call does any work.
func Load() error {
	var err error
	once.Do(func() {
		var path string
		if path, err = DefaultPath(); err != nil {
			return
		}
		var cfg FemrunConfig
		if cfg, err = LoadFile(path); err == nil {
			Global = cfg
		}
	})
	return err
}

// LoadFile reads and validates the config at path, writing the defaults
// there first if the file does not exist.
func LoadFile(path string) (FemrunConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return FemrunConfig{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FemrunConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FemrunConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.Storage.Checkpoints = expandHome(cfg.Storage.Checkpoints)
	cfg.Storage.History = expandHome(cfg.Storage.History)
	cfg.Logging.Dir = expandHome(cfg.Logging.Dir)
	if err := Validate(&cfg); err != nil {
		return FemrunConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the struct tags of cfg.
func Validate(cfg *FemrunConfig) error {
	return validate.Struct(cfg)
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
