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

import "errors"

// Sentinel errors for the femrun service.
var (
	// ErrDocumentNotFound indicates no open document has the given name.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrSolverNotFound indicates the document has no solver with the given name.
	ErrSolverNotFound = errors.New("solver not found")

	// ErrMachineNotFound indicates no machine has been built for the solver yet.
	ErrMachineNotFound = errors.New("machine not found")

	// ErrMachineRunning indicates the machine is already running.
	ErrMachineRunning = errors.New("machine is running")

	// ErrInvalidStage indicates an unparseable stage name.
	ErrInvalidStage = errors.New("invalid stage")

	// ErrHistoryDisabled indicates no run ledger is configured.
	ErrHistoryDisabled = errors.New("run history is disabled")

	// ErrServiceClosed indicates the service has been closed.
	ErrServiceClosed = errors.New("service closed")
)
