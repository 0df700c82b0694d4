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
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/femrun/pkg/ux"
	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/events"
	"github.com/AleutianAI/femrun/services/femrun/machine"
	"github.com/AleutianAI/femrun/services/femrun/report"
	"github.com/AleutianAI/femrun/services/femrun/solve"
)

type runOptions struct {
	target    string
	directory string
	follow    bool
	save      bool
	tui       bool
}

func newRunCmd(c *cli) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <document> [solver...]",
		Short: "Run solver machines up to a target stage",
		Long: `Opens a saved document and runs the machine of each named solver (all
solvers when none are named) concurrently up to the target stage.

Examples:
  femrun run beam.femdoc                     # every solver, through results
  femrun run beam.femdoc SolverElmer -t solve
  femrun run beam.femdoc --follow            # stream solver console output`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := machine.ParseStage(opts.target)
			if err != nil || target > machine.StageResults {
				return fmt.Errorf("invalid target %q", opts.target)
			}
			return c.runDocument(cmd, args[0], args[1:], target, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.target, "target", "t", "results", "last stage to run: check, prepare, solve or results")
	cmd.Flags().StringVarP(&opts.directory, "directory", "d", "", "use this working directory instead of the configured policy")
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "print solver output lines as they arrive")
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show a live progress view (terminal only)")
	cmd.Flags().BoolVar(&opts.save, "save", false, "write solver output and result links back into the document")
	return cmd
}

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check <document> [solver...]",
		Short: "Validate analyses without solving",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDocument(cmd, args[0], args[1:], machine.StageCheck, &runOptions{})
		},
	}
}

func (c *cli) runDocument(cmd *cobra.Command, path string, names []string, target machine.Stage, opts *runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := c.openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.svc.OpenDocument(path, false)
	if err != nil {
		return err
	}
	solvers, err := a.solvers(doc, names)
	if err != nil {
		return err
	}
	ms, err := machinesFor(a.svc.Manager(), solvers, opts.directory)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.follow {
		for _, mc := range ms {
			follow(out, mc)
		}
	}
	if opts.tui && c.styled(cmd) {
		err = runWithProgress(ctx, ms, target, cmd.ErrOrStderr())
	} else {
		err = runAll(ctx, ms, target)
	}
	if err != nil {
		return err
	}
	if opts.save {
		if err := doc.Save(); err != nil {
			c.logger.Warn("could not save document", "document", doc.Name(), "error", err)
		}
	}
	return printReports(out, c.styled(cmd), ms)
}

func machinesFor(mgr *solve.Manager, solvers []*document.Entity, dir string) ([]*machine.Machine, error) {
	if dir != "" && len(solvers) > 1 {
		return nil, fmt.Errorf("--directory needs exactly one solver, got %d", len(solvers))
	}
	ms := make([]*machine.Machine, 0, len(solvers))
	for _, s := range solvers {
		mc, err := mgr.MachineAt(s, dir)
		if err != nil {
			return nil, err
		}
		ms = append(ms, mc)
	}
	return ms, nil
}

// runAll runs every machine to target concurrently. Cancelling ctx
// aborts the machines still running.
func runAll(ctx context.Context, ms []*machine.Machine, target machine.Stage) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, mc := range ms {
		g.Go(func() error {
			stop := context.AfterFunc(ctx, mc.Abort)
			defer stop()
			if err := mc.RunTo(ctx, target); err != nil {
				return fmt.Errorf("run %s: %w", mc.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

var followMu sync.Mutex

// follow echoes the machine's solver output, prefixed with its name.
func follow(w io.Writer, mc *machine.Machine) {
	mc.StageTask(machine.StageSolve).Subscribe(func(e *events.Event) {
		if d, ok := e.Data.(events.LineData); ok {
			followMu.Lock()
			fmt.Fprintf(w, "[%s] %s\n", mc.Name(), d.Line)
			followMu.Unlock()
		}
	}, events.TypeLine)
}

// printReports renders one block per machine and returns errRunFailed
// when any machine failed.
func printReports(w io.Writer, styled bool, ms []*machine.Machine) error {
	p := ux.NewPrinter(w, styled)
	failed := false
	for _, mc := range ms {
		st := mc.Status()
		if err := p.Title(fmt.Sprintf("%s (%s)", st.Name, st.Family)); err != nil {
			return err
		}
		if err := report.Render(w, mc.Report(), styled); err != nil {
			return err
		}
		switch {
		case st.Failed:
			failed = true
			_ = p.Error(fmt.Sprintf("failed, stage %s", st.Stage))
		case st.Aborted:
			failed = true
			_ = p.Warning(fmt.Sprintf("aborted at stage %s", st.Stage))
		default:
			_ = p.Success(fmt.Sprintf("reached stage %s in %s  %s", st.Stage, mc.Elapsed().Round(time.Millisecond),
				p.Progress(int(st.Stage), int(machine.StageDone), 12)))
		}
	}
	if failed {
		return errRunFailed
	}
	return nil
}
