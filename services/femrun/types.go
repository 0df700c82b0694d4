// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package femrun

import (
	"github.com/AleutianAI/femrun/services/femrun/history"
	"github.com/AleutianAI/femrun/services/femrun/machine"
	"github.com/AleutianAI/femrun/services/femrun/report"
)

// MachineRef names a solver by document and entity name.
type MachineRef struct {
	Document string `json:"document" binding:"required"`
	Solver   string `json:"solver" binding:"required,entityname"`
}

// OpenRequest is the request body for POST /v1/femrun/documents.
type OpenRequest struct {
	// Path is the saved document file.
	Path string `json:"path" binding:"required"`

	// Watch reloads the document when the file changes on disk.
	Watch bool `json:"watch,omitempty"`
}

// DocumentInfo describes an open document.
type DocumentInfo struct {
	Name     string   `json:"name"`
	Path     string   `json:"path,omitempty"`
	Solvers  []string `json:"solvers"`
	Watching bool     `json:"watching"`
}

// RunRequest is the request body for POST /v1/femrun/machines/run.
type RunRequest struct {
	MachineRef

	// Target is the last stage to run: check, prepare, solve or results.
	// Empty means results.
	Target string `json:"target,omitempty" binding:"omitempty,oneof=check prepare solve results"`

	// Directory selects an external working directory. Empty uses the
	// configured policy.
	Directory string `json:"directory,omitempty"`

	// Wait blocks until the run has finished.
	Wait bool `json:"wait,omitempty"`
}

// ResetRequest is the request body for POST /v1/femrun/machines/reset.
type ResetRequest struct {
	MachineRef

	Stage string `json:"stage" binding:"required,oneof=check prepare solve results"`
}

// HealthResponse is returned by GET /v1/femrun/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Documents int    `json:"documents"`
	Machines  int    `json:"machines"`
}

// DocumentsResponse lists open documents.
type DocumentsResponse struct {
	Documents []DocumentInfo `json:"documents"`
}

// MachinesResponse lists machine statuses.
type MachinesResponse struct {
	Machines []machine.Status `json:"machines"`
}

// RunResponse describes a machine after a run request. Report is only
// set when the request waited.
type RunResponse struct {
	Machine machine.Status   `json:"machine"`
	Report  *report.Snapshot `json:"report,omitempty"`
}

// ResetResponse describes a reset request.
type ResetResponse struct {
	Applied bool           `json:"applied"`
	Machine machine.Status `json:"machine"`
}

// OutputResponse carries the console output of the last solve.
type OutputResponse struct {
	Machine string   `json:"machine"`
	Lines   []string `json:"lines"`
}

// HistoryResponse lists recorded runs, newest first.
type HistoryResponse struct {
	Runs []history.Run `json:"runs"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
