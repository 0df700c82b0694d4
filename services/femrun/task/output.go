// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package task

import (
	"slices"
	"strings"
	"sync"

	"github.com/AleutianAI/femrun/services/femrun/events"
)

// Output is the append-only log of a solve task.
//
// Thread Safety: Safe for concurrent use. Events are emitted after the
// lock is released.
type Output struct {
	mu      sync.RWMutex
	lines   []string
	emitter *events.Emitter
}

func newOutput(emitter *events.Emitter) *Output {
	return &Output{emitter: emitter}
}

// Append adds one line and emits events.TypeLine.
func (o *Output) Append(line string) {
	o.mu.Lock()
	o.lines = append(o.lines, line)
	o.mu.Unlock()
	o.emitter.Emit(events.TypeLine, events.LineData{Line: line})
}

// Replace swaps the whole buffer for text and emits events.TypeOutput.
// Used to load output saved by an earlier process.
func (o *Output) Replace(text string) {
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}
	o.mu.Lock()
	o.lines = lines
	o.mu.Unlock()
	o.emitter.Emit(events.TypeOutput, events.OutputData{Text: text})
}

// String joins all lines with newlines.
func (o *Output) String() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return strings.Join(o.lines, "\n")
}

// Lines returns a copy of the buffered lines.
func (o *Output) Lines() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.lines)
}

// Len returns the number of lines.
func (o *Output) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.lines)
}

func (o *Output) reset() {
	o.mu.Lock()
	o.lines = nil
	o.mu.Unlock()
}
