// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command femrun checks, prepares, solves and loads results for the
// solvers of saved analysis documents.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/femrun/pkg/logging"
	"github.com/AleutianAI/femrun/services/femrun/config"
)

// errRunFailed makes the process exit non-zero after the reports have
// been printed.
var errRunFailed = errors.New("one or more machines failed")

// cli holds state shared by the subcommands of one invocation.
type cli struct {
	configPath string
	logLevel   string
	noColor    bool

	cfg    config.FemrunConfig
	logger *logging.Logger
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "femrun",
		Short:         "Run staged solver machines for analysis documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.femrun/femrun.yaml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().BoolVar(&c.noColor, "no-color", false, "plain output even on a terminal")

	root.AddCommand(
		newRunCmd(c),
		newCheckCmd(c),
		newWatchCmd(c),
		newServeCmd(c),
		newHistoryCmd(c),
	)
	return root
}

// setup loads the config and builds the logger.
func (c *cli) setup(cmd *cobra.Command) error {
	path := c.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	c.cfg = cfg

	levelName := cfg.Logging.Level
	if c.logLevel != "" {
		levelName = c.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	stderr := cmd.ErrOrStderr()
	f, isFile := stderr.(*os.File)
	c.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "femrun",
		JSON:    cfg.Logging.JSON || (isFile && !logging.IsTerminal(f)),
		Output:  stderr,
	})
	return nil
}

// styled reports whether stdout output should carry colors.
func (c *cli) styled(cmd *cobra.Command) bool {
	if c.noColor {
		return false
	}
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && logging.IsTerminal(f)
}
