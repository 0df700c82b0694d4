// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided names before they are used as
// entity names, directory names or lookup keys.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EntityNameTag is the struct tag registered by RegisterEntityName.
const EntityNameTag = "entityname"

// entityNamePattern matches entity names: a letter or underscore followed
// by letters, digits, underscores or hyphens. Dots are reserved for
// "Document.Entity" unique names.
var entityNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]{0,127}$`)

// ValidateEntityName validates the name of a document entity.
//
// Valid names:
//   - 1-128 characters
//   - start with a letter or underscore
//   - letters, digits, underscores and hyphens only
//
// Example:
//
//	if err := validation.ValidateEntityName(name); err != nil {
//	    return nil, fmt.Errorf("add entity: %w", err)
//	}
func ValidateEntityName(name string) error {
	if name == "" {
		return fmt.Errorf("entity name cannot be empty")
	}
	if !entityNamePattern.MatchString(name) {
		return fmt.Errorf("invalid entity name: %q (must start with a letter or underscore, then letters, digits, '_' or '-')", name)
	}
	return nil
}

// SanitizeEntityName trims and validates a name.
func SanitizeEntityName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateEntityName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// RegisterEntityName adds the "entityname" tag to v.
func RegisterEntityName(v *validator.Validate) error {
	return v.RegisterValidation(EntityNameTag, func(fl validator.FieldLevel) bool {
		return ValidateEntityName(fl.Field().String()) == nil
	})
}
