// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workdir

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSaved indicates the beside policy was used for a document that
	// has never been saved.
	ErrNotSaved = errors.New("document has not been saved")

	// ErrInvalidPath indicates the custom base path is missing or is not a
	// directory.
	ErrInvalidPath = errors.New("invalid working directory base")

	// ErrUnknownPolicy indicates an unrecognized policy name.
	ErrUnknownPolicy = errors.New("unknown directory policy")
)

// NotSavedError is returned when a directory beside an unsaved document is
// requested.
type NotSavedError struct {
	// Document is the document name.
	Document string
}

// Error implements the error interface.
func (e *NotSavedError) Error() string {
	return fmt.Sprintf("document %q must be saved before a working directory beside it can be used", e.Document)
}

// Unwrap returns ErrNotSaved.
func (e *NotSavedError) Unwrap() error {
	return ErrNotSaved
}

// InvalidPathError is returned when the custom base path is unusable.
type InvalidPathError struct {
	// Path is the configured base.
	Path string

	// Cause is the stat error, nil when the path exists but is a file.
	Cause error
}

// Error implements the error interface.
func (e *InvalidPathError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("working directory base %q: %v", e.Path, e.Cause)
	}
	return fmt.Sprintf("working directory base %q is not a directory", e.Path)
}

// Is matches ErrInvalidPath.
func (e *InvalidPathError) Is(target error) bool {
	return target == ErrInvalidPath
}

// Unwrap returns the underlying stat error.
func (e *InvalidPathError) Unwrap() error {
	return e.Cause
}
