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

import "strings"

// Kind is a dotted entity type. A kind derives from every dotted prefix
// of itself: "constraint.fixed" derives from "constraint".
type Kind string

// Built-in kinds.
const (
	KindAnalysis Kind = "analysis"

	KindMesh       Kind = "mesh"
	KindMeshGmsh   Kind = "mesh.gmsh"
	KindMeshNetgen Kind = "mesh.netgen"

	KindMaterial      Kind = "material"
	KindMaterialSolid Kind = "material.solid"
	KindMaterialFluid Kind = "material.fluid"

	KindConstraint                   Kind = "constraint"
	KindConstraintFixed              Kind = "constraint.fixed"
	KindConstraintForce              Kind = "constraint.force"
	KindConstraintDisplacement       Kind = "constraint.displacement"
	KindConstraintPressure           Kind = "constraint.pressure"
	KindConstraintSelfWeight         Kind = "constraint.selfweight"
	KindConstraintTemperature        Kind = "constraint.temperature"
	KindConstraintHeatFlux           Kind = "constraint.heatflux"
	KindConstraintInitialTemperature Kind = "constraint.initialtemperature"

	KindSolver      Kind = "solver"
	KindSolverElmer Kind = "solver.elmer"

	// KindFreeText holds hand-written solver input.
	KindFreeText Kind = "freetext"

	// KindText is a plain text document, used for solver logs.
	KindText Kind = "text"

	// KindPipeline is a post-processing pipeline fed by a result file.
	KindPipeline Kind = "pipeline"

	KindGeometry Kind = "geometry"
)

// IsDerivedFrom reports whether k is base or a sub-kind of base.
func (k Kind) IsDerivedFrom(base Kind) bool {
	return k == base || strings.HasPrefix(string(k), string(base)+".")
}

// Valid reports whether k is a usable kind name.
func (k Kind) Valid() bool {
	s := string(k)
	return s != "" && !strings.ContainsAny(s, " \t\n") &&
		!strings.HasPrefix(s, ".") && !strings.HasSuffix(s, ".")
}
