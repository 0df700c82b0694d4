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
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/femrun/services/femrun/document"
	"github.com/AleutianAI/femrun/services/femrun/history"
	"github.com/AleutianAI/femrun/services/femrun/solve"
	"github.com/AleutianAI/femrun/services/femrun/workdir"
)

// Handlers contains the HTTP handlers for femrun.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleHealth handles GET /v1/femrun/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   ServiceVersion,
		Documents: len(h.svc.Hub().Documents()),
		Machines:  len(h.svc.Manager().Machines()),
	})
}

// HandleListDocuments handles GET /v1/femrun/documents.
func (h *Handlers) HandleListDocuments(c *gin.Context) {
	c.JSON(http.StatusOK, DocumentsResponse{Documents: h.svc.Documents()})
}

// HandleOpenDocument handles POST /v1/femrun/documents.
//
// Request Body:
//
//	OpenRequest
//
// Response:
//
//	200 OK: DocumentInfo
//	400 Bad Request: Validation error
//	404 Not Found: File does not exist
//	409 Conflict: A document with the same name is open
func (h *Handlers) HandleOpenDocument(c *gin.Context) {
	logger := h.logger(c, "HandleOpenDocument")

	var req OpenRequest
	if !bind(c, logger, &req) {
		return
	}
	doc, err := h.svc.OpenDocument(req.Path, req.Watch)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	for _, info := range h.svc.Documents() {
		if info.Name == doc.Name() {
			c.JSON(http.StatusOK, info)
			return
		}
	}
	c.JSON(http.StatusOK, DocumentInfo{Name: doc.Name(), Path: doc.FileName(), Solvers: []string{}})
}

// HandleListMachines handles GET /v1/femrun/machines.
func (h *Handlers) HandleListMachines(c *gin.Context) {
	c.JSON(http.StatusOK, MachinesResponse{Machines: h.svc.Statuses()})
}

// HandleRun handles POST /v1/femrun/machines/run.
//
// Description:
//
//	Runs the solver's machine up to the target stage. Without wait the
//	response is sent as soon as the run has started.
//
// Request Body:
//
//	RunRequest
//
// Response:
//
//	200 OK: RunResponse (wait)
//	202 Accepted: RunResponse
//	400 Bad Request: Validation error
//	404 Not Found: Unknown document or solver
//	409 Conflict: Machine already running
func (h *Handlers) HandleRun(c *gin.Context) {
	logger := h.logger(c, "HandleRun")

	var req RunRequest
	if !bind(c, logger, &req) {
		return
	}
	mc, err := h.svc.Run(c.Request.Context(), req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	resp := RunResponse{Machine: mc.Status()}
	if !req.Wait {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	snap := mc.Report().Snapshot()
	resp.Report = &snap
	c.JSON(http.StatusOK, resp)
}

// HandleAbort handles POST /v1/femrun/machines/abort.
func (h *Handlers) HandleAbort(c *gin.Context) {
	logger := h.logger(c, "HandleAbort")

	var req MachineRef
	if !bind(c, logger, &req) {
		return
	}
	mc, err := h.svc.Abort(req)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, RunResponse{Machine: mc.Status()})
}

// HandleReset handles POST /v1/femrun/machines/reset.
func (h *Handlers) HandleReset(c *gin.Context) {
	logger := h.logger(c, "HandleReset")

	var req ResetRequest
	if !bind(c, logger, &req) {
		return
	}
	mc, applied, err := h.svc.Reset(req.MachineRef, req.Stage)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ResetResponse{Applied: applied, Machine: mc.Status()})
}

// HandleOutput handles GET /v1/femrun/machines/output?document=&solver=.
func (h *Handlers) HandleOutput(c *gin.Context) {
	logger := h.logger(c, "HandleOutput")

	ref := MachineRef{Document: c.Query("document"), Solver: c.Query("solver")}
	if ref.Document == "" || ref.Solver == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "document and solver are required",
			Code:  "INVALID_REQUEST",
		})
		return
	}
	mc, lines, err := h.svc.Output(ref)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	c.JSON(http.StatusOK, OutputResponse{Machine: mc.Name(), Lines: lines})
}

// HandleHistory handles GET /v1/femrun/history?machine=&limit=.
func (h *Handlers) HandleHistory(c *gin.Context) {
	logger := h.logger(c, "HandleHistory")

	f := history.Filter{Machine: c.Query("machine")}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_REQUEST",
			})
			return
		}
		f.Limit = n
	}
	runs, err := h.svc.History(c.Request.Context(), f)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	c.JSON(http.StatusOK, HistoryResponse{Runs: runs})
}

func (h *Handlers) logger(c *gin.Context, handler string) *slog.Logger {
	return h.svc.logger.With("request_id", getOrCreateRequestID(c), "handler", handler)
}

func bind(c *gin.Context, logger *slog.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return false
	}
	return true
}

// writeError maps service errors onto status codes.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	var notSaved *workdir.NotSavedError
	var badPath *workdir.InvalidPathError
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		status, code = http.StatusNotFound, "DOCUMENT_NOT_FOUND"
	case errors.Is(err, ErrSolverNotFound):
		status, code = http.StatusNotFound, "SOLVER_NOT_FOUND"
	case errors.Is(err, ErrMachineNotFound):
		status, code = http.StatusNotFound, "MACHINE_NOT_FOUND"
	case errors.Is(err, os.ErrNotExist):
		status, code = http.StatusNotFound, "FILE_NOT_FOUND"
	case errors.Is(err, ErrMachineRunning):
		status, code = http.StatusConflict, "MACHINE_RUNNING"
	case errors.Is(err, document.ErrDuplicateDocument):
		status, code = http.StatusConflict, "DOCUMENT_OPEN"
	case errors.Is(err, ErrInvalidStage):
		status, code = http.StatusBadRequest, "INVALID_STAGE"
	case errors.Is(err, document.ErrBadFile):
		status, code = http.StatusBadRequest, "BAD_DOCUMENT"
	case errors.As(err, &notSaved), errors.As(err, &badPath):
		status, code = http.StatusUnprocessableEntity, "DIRECTORY_UNAVAILABLE"
	case errors.Is(err, solve.ErrNoFamily):
		status, code = http.StatusUnprocessableEntity, "NO_FAMILY"
	case errors.Is(err, ErrHistoryDisabled):
		status, code = http.StatusNotImplemented, "HISTORY_DISABLED"
	case errors.Is(err, ErrServiceClosed), errors.Is(err, solve.ErrClosed):
		status, code = http.StatusServiceUnavailable, "SERVICE_CLOSED"
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	} else {
		logger.Warn("request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
