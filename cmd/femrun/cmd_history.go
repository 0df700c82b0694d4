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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/femrun/pkg/ux"
	"github.com/AleutianAI/femrun/services/femrun/history"
)

var errHistoryDisabled = errors.New("storage.history is not configured")

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		filter   history.Filter
		asJSON   bool
		pruneAge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded machine runs",
		Long: `Lists runs from the history ledger, newest first.

Examples:
  femrun history
  femrun history --machine Beam.SolverElmer --limit 5
  femrun history --prune 720h      # delete runs older than 30 days`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.cfg.Storage.History
			if path == "" {
				return errHistoryDisabled
			}
			store, err := history.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if pruneAge > 0 {
				n, err := store.Prune(cmd.Context(), time.Now().Add(-pruneAge))
				if err != nil {
					return err
				}
				return ux.NewPrinter(out, c.styled(cmd)).Success(fmt.Sprintf("pruned %d runs", n))
			}

			runs, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON {
				if runs == nil {
					runs = []history.Run{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			return renderRuns(out, runs, c.styled(cmd))
		},
	}
	cmd.Flags().StringVarP(&filter.Machine, "machine", "m", "", "only runs of this machine (<document>.<solver>)")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().DurationVar(&pruneAge, "prune", 0, "delete runs older than this instead of listing")
	return cmd
}

// renderRuns writes runs as a table.
func renderRuns(w io.Writer, runs []history.Run, styled bool) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STOPPED", "MACHINE", "FAMILY", "STAGES", "OUTCOME", "ERRORS", "WARNINGS", "DURATION")
	for _, r := range runs {
		t.Row(
			r.StoppedAt.Local().Format("2006-01-02 15:04:05"),
			r.Machine,
			r.Family,
			r.FromStage+" → "+r.ToStage,
			r.Outcome(),
			strconv.Itoa(r.Errors),
			strconv.Itoa(r.Warnings),
			r.StoppedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
		)
	}
	if styled {
		t.StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return ux.Styles.Title
			}
			if col == 4 && row >= 0 && row < len(runs) {
				switch runs[row].Outcome() {
				case "failed":
					return ux.Styles.Error
				case "aborted":
					return ux.Styles.Warning
				}
			}
			return lipgloss.NewStyle()
		})
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
