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

// FindAnalysisOf returns the analysis that lists e as a member, or nil.
// The lookup is done on every call so it always reflects the current
// grouping.
func FindAnalysisOf(e *Entity) *Entity {
	if e == nil || e.doc == nil {
		return nil
	}
	for _, a := range e.doc.EntitiesOfKind(KindAnalysis) {
		if a.HasMember(e.name) {
			return a
		}
	}
	return nil
}

// MembersOf returns the members of analysis deriving from kind.
func MembersOf(analysis *Entity, kind Kind) []*Entity {
	if analysis == nil {
		return nil
	}
	var out []*Entity
	for _, m := range analysis.Members() {
		if m.IsDerivedFrom(kind) {
			out = append(out, m)
		}
	}
	return out
}

// SingleMember returns the only member of analysis deriving from kind and
// the number of such members. The entity is nil unless the count is one.
func SingleMember(analysis *Entity, kind Kind) (*Entity, int) {
	members := MembersOf(analysis, kind)
	if len(members) != 1 {
		return nil, len(members)
	}
	return members[0], 1
}
