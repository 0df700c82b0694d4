// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package machine

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/report"
	"github.com/AleutianAI/femrun/services/femrun/task"
)

// Case is what a stage body sees of the machine it runs for.
type Case struct {
	Solver    *document.Entity
	Directory string
	Task      *task.Task
	Logger    *slog.Logger
}

// Analysis resolves the analysis that owns the solver. It is looked up on
// every call so regrouping in the document is always reflected.
func (c *Case) Analysis() *document.Entity {
	return document.FindAnalysisOf(c.Solver)
}

// Report is the report of the running stage task.
func (c *Case) Report() *report.Report {
	return c.Task.Report()
}

// Output is the running task's output buffer; nil outside the solve stage.
func (c *Case) Output() *task.Output {
	return c.Task.Output()
}

// Family implements the four stages for one kind of solver.
//
// Each method runs on its stage task's goroutine. Diagnostics go into
// c.Report(); an error entry fails the stage. Returning an error also
// fails the stage. Long-running methods must stop when ctx is done.
type Family interface {
	Name() string
	Check(ctx context.Context, c *Case) error
	Prepare(ctx context.Context, c *Case) error
	Solve(ctx context.Context, c *Case) error
	Results(ctx context.Context, c *Case) error
}

// StageFunc is one stage body.
type StageFunc func(ctx context.Context, c *Case) error

// FamilyFuncs builds a Family from functions. A nil function succeeds
// without doing anything.
type FamilyFuncs struct {
	FamilyName string
	CheckFn    StageFunc
	PrepareFn  StageFunc
	SolveFn    StageFunc
	ResultsFn  StageFunc
}

// Name returns FamilyName.
func (f FamilyFuncs) Name() string { return f.FamilyName }

// Check runs CheckFn.
func (f FamilyFuncs) Check(ctx context.Context, c *Case) error { return call(f.CheckFn, ctx, c) }

// Prepare runs PrepareFn.
func (f FamilyFuncs) Prepare(ctx context.Context, c *Case) error { return call(f.PrepareFn, ctx, c) }

// Solve runs SolveFn.
func (f FamilyFuncs) Solve(ctx context.Context, c *Case) error { return call(f.SolveFn, ctx, c) }

// Results runs ResultsFn.
func (f FamilyFuncs) Results(ctx context.Context, c *Case) error { return call(f.ResultsFn, ctx, c) }

func call(fn StageFunc, ctx context.Context, c *Case) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, c)
}
