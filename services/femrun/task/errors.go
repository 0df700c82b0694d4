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
	"errors"
	"fmt"
)

// Sentinel errors for task lifecycle.
var (
	// ErrDuplicateTask indicates a task with the same name is already running.
	ErrDuplicateTask = errors.New("a task with this name is already running")

	// ErrAlreadyRunning indicates Start was called on a task that has not
	// finished its previous run.
	ErrAlreadyRunning = errors.New("task is already running")
)

// DuplicateTaskError is returned by Start when the name is taken.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("start task %q: %v", e.Name, ErrDuplicateTask)
}

func (e *DuplicateTaskError) Unwrap() error {
	return ErrDuplicateTask
}

// FaultError records a panic raised inside a task body.
type FaultError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("panic in task %s: %v", e.Task, e.Value)
}

// Unwrap exposes the panic value when it is itself an error.
func (e *FaultError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
