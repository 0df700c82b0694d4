// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Message keys. Every message added to a Report must use one of these.
const (
	KeyWorkdirMissing        = "wd_not_existent"
	KeyWorkdirNotDirectory   = "wd_not_directory"
	KeyBinaryNotFound        = "binary_not_found"
	KeyCreateInputFailed     = "create_inp_failed"
	KeyExecSolverFailed      = "exec_solver_failed"
	KeySolverStartFailed     = "solver_start_failed"
	KeyMeshMissing           = "mesh_missing"
	KeyMeshTooMany           = "mesh_too_many"
	KeyMeshUnsupported       = "mesh_unsupported_type"
	KeyMaterialMissing       = "material_missing"
	KeyConstraintUnsupported = "constraint_unsupported"
	KeyFreeTextMissing       = "freetext_missing"
	KeyFreeTextEmpty         = "freetext_empty"
	KeyResultMissing         = "result_missing"
	KeyResultReadFailed      = "result_read_failed"
	KeyOutputWriteFailed     = "output_write_failed"
	KeyAnalysisMissing       = "analysis_missing"
	KeyTaskFault             = "task_fault"
	KeyInputWritten          = "input_written"
	KeySolverFinished        = "solver_finished"
	KeyResultLoaded          = "result_loaded"
	KeyOutputRestored        = "output_restored"
)

// ErrUnknownMessage is the panic value (wrapped) for an unknown message key.
var ErrUnknownMessage = errors.New("unknown report message key")

// catalog maps a message key to its fmt format string.
var catalog = map[string]string{
	KeyWorkdirMissing:        "Working directory %s doesn't exist.",
	KeyWorkdirNotDirectory:   "Working directory %s is not a directory.",
	KeyBinaryNotFound:        "%s binary not found (required).",
	KeyCreateInputFailed:     "Failed to create input files: %v",
	KeyExecSolverFailed:      "Solver execution failed with exit code: %d",
	KeySolverStartFailed:     "Failed to start solver %s: %v",
	KeyMeshMissing:           "Mesh object missing.",
	KeyMeshTooMany:           "Too many meshes. More than one mesh is not supported.",
	KeyMeshUnsupported:       "Mesh %s is of type %s; only gmsh meshes are supported.",
	KeyMaterialMissing:       "No material object defined in the analysis.",
	KeyConstraintUnsupported: "Ignored unsupported constraint: %s",
	KeyFreeTextMissing:       "Analysis without solver input text is not supported.",
	KeyFreeTextEmpty:         "Solver input text must not be empty.",
	KeyResultMissing:         "Result file %s not found.",
	KeyResultReadFailed:      "Failed to read result file %s: %v",
	KeyOutputWriteFailed:     "Failed to store solver output: %v",
	KeyAnalysisMissing:       "Solver %s is not a member of any analysis.",
	KeyTaskFault:             "Unexpected fault in %s: %v",
	KeyInputWritten:          "Input files written to %s.",
	KeySolverFinished:        "Solver finished in %s.",
	KeyResultLoaded:          "Loaded result %s.",
	KeyOutputRestored:        "Restored saved solver output (%d lines).",
}

// Keys returns every known message key, sorted.
func Keys() []string {
	return slices.Sorted(maps.Keys(catalog))
}

// Known reports whether key is in the catalog.
func Known(key string) bool {
	_, ok := catalog[key]
	return ok
}

// Format renders the message for key. It panics with an error wrapping
// ErrUnknownMessage when key is not in the catalog.
func Format(key string, args ...any) string {
	format, ok := catalog[key]
	if !ok {
		panic(fmt.Errorf("%w: %q", ErrUnknownMessage, key))
	}
	return fmt.Sprintf(format, args...)
}
