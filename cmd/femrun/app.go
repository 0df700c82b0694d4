// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/femrun/pkg/extensions"
	"github.com/AleutianAI/femrun/services/femrun"
	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/history"
	"github.com/AleutianAI/femrun/services/femrun/storage/badger"
)

// app is a service plus the stores it was built on.
type app struct {
	svc         *femrun.Service
	checkpoints *badger.DB
	history     *history.Store
}

// openApp opens the configured stores and builds the service.
func (c *cli) openApp() (*app, error) {
	a := &app{}
	logger := c.logger.Slog()
	cfg := femrun.ServiceConfig{Settings: &c.cfg, Logger: logger}
	if token := c.cfg.Server.Token; token != "" {
		cfg.Extensions = extensions.DefaultOptions().
			WithAuth(extensions.NewTokenAuthProvider(token)).
			WithAuthz(&extensions.RoleAuthzProvider{})
	}

	if path := c.cfg.Storage.Checkpoints; path != "" {
		bcfg := badger.DefaultConfig(path)
		bcfg.Logger = logger
		db, err := badger.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open checkpoints: %w", err)
		}
		a.checkpoints = db
		cfg.Checkpoints = badger.NewCheckpointStore(db)
	}
	if path := c.cfg.Storage.History; path != "" {
		store, err := history.Open(path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.history = store
		cfg.History = store
	}
	a.svc = femrun.NewService(cfg)
	return a, nil
}

// Close shuts the service down before the stores it writes to.
func (a *app) Close() error {
	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Close())
	}
	if a.history != nil {
		errs = append(errs, a.history.Close())
	}
	if a.checkpoints != nil {
		errs = append(errs, a.checkpoints.Close())
	}
	return errors.Join(errs...)
}

// solvers resolves the named solvers of doc, or all of them when names
// is empty.
func (a *app) solvers(doc *document.Document, names []string) ([]*document.Entity, error) {
	if len(names) == 0 {
		all := doc.EntitiesOfKind(document.KindSolver)
		if len(all) == 0 {
			return nil, fmt.Errorf("%s has no solvers: %w", doc.Name(), femrun.ErrSolverNotFound)
		}
		return all, nil
	}
	out := make([]*document.Entity, 0, len(names))
	for _, name := range names {
		e, err := a.svc.Solver(femrun.MachineRef{Document: doc.Name(), Solver: name})
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
