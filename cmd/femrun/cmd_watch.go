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
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/femrun/services/femrun/events"
	"github.com/AleutianAI/femrun/services/femrun/machine"
)

func newWatchCmd(c *cli) *cobra.Command {
	var target string
	var settle time.Duration
	cmd := &cobra.Command{
		Use:   "watch <document> [solver...]",
		Short: "Rerun machines whenever the document changes on disk",
		Long: `Runs the solvers once, then watches the document file. Every external
edit that touches an analysis resets its machines, and they are run again
from the reset stage once the edits have settled. Stop with Ctrl-C.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage, err := machine.ParseStage(target)
			if err != nil || stage > machine.StageResults {
				return fmt.Errorf("invalid target %q", target)
			}
			return c.watch(cmd, args[0], args[1:], stage, settle)
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "results", "last stage to run")
	cmd.Flags().DurationVar(&settle, "settle", 500*time.Millisecond, "quiet period before rerunning")
	return cmd
}

func (c *cli) watch(cmd *cobra.Command, path string, names []string, target machine.Stage, settle time.Duration) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := c.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.svc.OpenDocument(path, true)
	if err != nil {
		return err
	}

	dirty := make(chan struct{}, 1)
	watched := make(map[*machine.Machine]bool)
	out := cmd.OutOrStdout()
	styled := c.styled(cmd)

	for {
		solvers, err := a.solvers(doc, names)
		if err != nil {
			return err
		}
		ms, err := machinesFor(a.svc.Manager(), solvers, "")
		if err != nil {
			return err
		}
		for _, mc := range ms {
			if watched[mc] {
				continue
			}
			watched[mc] = true
			mc.Subscribe(func(e *events.Event) {
				if d, ok := e.Data.(events.StageData); ok && d.Reset {
					select {
					case dirty <- struct{}{}:
					default:
					}
				}
			}, events.TypeStageChanged)
		}

		if err := runAll(ctx, ms, target); err != nil {
			return err
		}
		if err := printReports(out, styled, ms); err != nil && !errors.Is(err, errRunFailed) {
			return err
		}
		c.logger.Info("waiting for changes", "document", doc.Name())

		if !waitSettled(ctx, dirty, settle) {
			return nil
		}
	}
}

// waitSettled blocks until a change arrives and no further change comes
// within settle. Returns false when ctx is done.
func waitSettled(ctx context.Context, dirty <-chan struct{}, settle time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-dirty:
	}
	timer := time.NewTimer(settle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-dirty:
			timer.Reset(settle)
		case <-timer.C:
			return true
		}
	}
}
