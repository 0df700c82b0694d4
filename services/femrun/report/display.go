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
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/femrun/pkg/ux"
)

// Render writes every message to w, infos first, then warnings, then
// errors. When styled is true lines carry themed icons and colors.
func Render(w io.Writer, r *Report, styled bool) error {
	p := ux.NewPrinter(w, styled)
	for _, m := range r.Infos() {
		if err := p.Info(m); err != nil {
			return fmt.Errorf("render report: %w", err)
		}
	}
	for _, m := range r.Warnings() {
		if err := p.Warning(m); err != nil {
			return fmt.Errorf("render report: %w", err)
		}
	}
	for _, m := range r.Errors() {
		if err := p.Error(m); err != nil {
			return fmt.Errorf("render report: %w", err)
		}
	}
	return nil
}

// Log writes the report to logger, one record per message, at the level
// matching each message's severity.
func Log(logger *slog.Logger, r *Report, args ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, m := range r.Infos() {
		logger.Info(m, args...)
	}
	for _, m := range r.Warnings() {
		logger.Warn(m, args...)
	}
	for _, m := range r.Errors() {
		logger.Error(m, args...)
	}
}
