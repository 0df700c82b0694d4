// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package elmer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/femrun/services/femrun/document"
)

const (
	// SIFName is the solver input file.
	SIFName = "case.sif"

	// StartInfoName tells ElmerSolver which input file to read.
	StartInfoName = "ELMERSOLVER_STARTINFO"
)

// Input is what an InputWriter works from.
type Input struct {
	Solver    *document.Entity
	Analysis  *document.Entity
	Directory string
	FreeText  string
}

// InputWriter produces the solver's input files in in.Directory and
// returns their paths.
type InputWriter interface {
	Write(ctx context.Context, in Input) ([]string, error)
}

// SIFWriter writes the free text verbatim as case.sif.
type SIFWriter struct{}

// Write implements InputWriter.
func (SIFWriter) Write(ctx context.Context, in Input) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.FreeText)
	if text == "" {
		return nil, errors.New("solver input text is empty")
	}

	sif := filepath.Join(in.Directory, SIFName)
	if err := writeFile(sif, text+"\n"); err != nil {
		return nil, err
	}
	start := filepath.Join(in.Directory, StartInfoName)
	if err := writeFile(start, SIFName+"\n"); err != nil {
		return nil, err
	}
	return []string{sif, start}, nil
}

// writeFile writes through a temp file so the solver never sees a
// partial input.
func writeFile(path, content string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
