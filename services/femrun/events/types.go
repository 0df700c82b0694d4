// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events is the notification bus used by tasks and machines.
//
// Listeners subscribe to an Emitter and are invoked synchronously, in
// subscription order, on the goroutine that emits. A panicking listener is
// recovered and logged; the remaining listeners still run.
package events

import "time"

// Type identifies what happened.
type Type string

const (
	// TypeStarting fires before a task's body is launched.
	TypeStarting Type = "starting"

	// TypeStarted fires right after TypeStarting, still before the body runs.
	TypeStarted Type = "started"

	// TypeStopping fires from the completion continuation after bookkeeping.
	TypeStopping Type = "stopping"

	// TypeStopped is the last event of a run.
	TypeStopped Type = "stopped"

	// TypeAbort fires when cancellation is requested.
	TypeAbort Type = "abort"

	// TypeLine carries one line appended to a solve task's output.
	TypeLine Type = "line"

	// TypeOutput fires when a solve task's output is replaced wholesale.
	TypeOutput Type = "output"

	// TypeStageChanged fires when a machine's confirmed stage changes.
	TypeStageChanged Type = "stage_changed"
)

// Event is a single notification.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// LineData is the payload of TypeLine.
type LineData struct {
	Line string `json:"line"`
}

// OutputData is the payload of TypeOutput.
type OutputData struct {
	Text string `json:"text"`
}

// StageData is the payload of TypeStageChanged. Stages are carried as ints
// so this package does not depend on the machine package.
type StageData struct {
	From  int  `json:"from"`
	To    int  `json:"to"`
	Reset bool `json:"reset"`
}
