// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package machine

import (
	"fmt"
	"strings"
)

// Stage is a step of the solver pipeline. A machine's stage is the next
// stage it will run; StageDone means everything up to results completed.
type Stage int

const (
	StageCheck Stage = iota
	StagePrepare
	StageSolve
	StageResults
	StageDone
)

var stageNames = [...]string{"check", "prepare", "solve", "results", "done"}

// String returns the lower-case stage name.
func (s Stage) String() string {
	if s < StageCheck || s > StageDone {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage converts a stage name, case-insensitively.
func ParseStage(name string) (Stage, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range stageNames {
		if s == n {
			return Stage(i), nil
		}
	}
	return StageCheck, fmt.Errorf("unknown stage %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(b []byte) error {
	v, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
