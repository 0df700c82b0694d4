// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package document

import "errors"

// Sentinel errors for the document model.
var (
	// ErrDuplicateDocument indicates a document with the same name is open.
	ErrDuplicateDocument = errors.New("document already open")

	// ErrDocumentNotFound indicates no open document has the given name.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrDuplicateEntity indicates the entity name is taken in the document.
	ErrDuplicateEntity = errors.New("entity already exists")

	// ErrEntityNotFound indicates no entity has the given name.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidName indicates an empty or malformed entity name or kind.
	ErrInvalidName = errors.New("invalid entity name or kind")

	// ErrForeignEntity indicates an entity from another document was used.
	ErrForeignEntity = errors.New("entity belongs to another document")

	// ErrNotSaved indicates Save was called before the document had a path.
	ErrNotSaved = errors.New("document has no file name")

	// ErrBadFile indicates the document file could not be decoded.
	ErrBadFile = errors.New("malformed document file")
)
