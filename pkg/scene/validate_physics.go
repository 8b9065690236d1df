package scene

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Tier 2: physical validation (errors + warnings)
// ---------------------------------------------------------------------------

// validatePhysics checks body dimensions, materials and settings.
func validatePhysics(s *Scene) ([]ValidationError, []ValidationWarning) {
	var errs []ValidationError
	var warnings []ValidationWarning

	for _, node := range s.Nodes {
		bd, ok := node.Data.(BodyData)
		if !ok {
			continue
		}
		errs = append(errs, validateBody(node.ID, bd)...)
		errs = append(errs, validateMaterial(node.ID, bd.Material)...)
		if bd.Fixed && bd.Anchor {
			warnings = append(warnings, ValidationWarning{
				NodeID:  node.ID,
				Message: "body is both fixed and an anchor; anchor wins",
			})
		}
	}
	errs = append(errs, validateSettings(s.Settings)...)

	return errs, warnings
}

func positive(id NodeID, what string, v float64) []ValidationError {
	if v > 0 && !math.IsInf(v, 0) {
		return nil
	}
	return []ValidationError{{
		NodeID:   id,
		Message:  fmt.Sprintf("%s is %.4g, must be positive", what, v),
		Severity: SeverityError,
	}}
}

// validateBody checks the dimensions of one body.
func validateBody(id NodeID, bd BodyData) []ValidationError {
	var errs []ValidationError

	if bd.Radius < 0 {
		errs = append(errs, ValidationError{
			NodeID:   id,
			Message:  fmt.Sprintf("contact radius is %.4g, must not be negative", bd.Radius),
			Severity: SeverityError,
		})
	}

	switch bd.Kind {
	case BodyVolume:
		errs = append(errs, positive(id, "volume size X", bd.Size.X)...)
		errs = append(errs, positive(id, "volume size Y", bd.Size.Y)...)
		errs = append(errs, positive(id, "volume size Z", bd.Size.Z)...)
		for axis, c := range bd.Cells {
			if c < 1 {
				errs = append(errs, ValidationError{
					NodeID:   id,
					Message:  fmt.Sprintf("volume has %d cells along axis %d, need at least 1", c, axis),
					Severity: SeverityError,
				})
			}
		}

	case BodySurface:
		if bd.Shape == nil {
			errs = append(errs, ValidationError{
				NodeID:   id,
				Message:  "surface body has no shape",
				Severity: SeverityError,
			})
		} else {
			errs = append(errs, validateShape(id, bd.Shape)...)
		}

	case BodyStrand:
		if len(bd.Points) < 2 {
			errs = append(errs, ValidationError{
				NodeID:   id,
				Message:  fmt.Sprintf("strand has %d points, need at least 2", len(bd.Points)),
				Severity: SeverityError,
			})
		}
		errs = append(errs, positive(id, "strand radius", bd.Radius)...)
		if bd.Segment < 0 {
			errs = append(errs, ValidationError{
				NodeID:   id,
				Message:  fmt.Sprintf("strand segment length is %.4g, must not be negative", bd.Segment),
				Severity: SeverityError,
			})
		}

	default:
		errs = append(errs, ValidationError{
			NodeID:   id,
			Message:  fmt.Sprintf("unknown body kind %d", int(bd.Kind)),
			Severity: SeverityError,
		})
	}

	return errs
}

// validateShape checks a shape tree recursively.
func validateShape(id NodeID, sh *Shape) []ValidationError {
	var errs []ValidationError

	switch sh.Kind {
	case ShapeBox:
		errs = append(errs, positive(id, "box size X", sh.Size.X)...)
		errs = append(errs, positive(id, "box size Y", sh.Size.Y)...)
		errs = append(errs, positive(id, "box size Z", sh.Size.Z)...)
	case ShapeSphere:
		errs = append(errs, positive(id, "sphere radius", sh.Radius)...)
	case ShapeCylinder, ShapeCapsule:
		errs = append(errs, positive(id, sh.Kind.String()+" radius", sh.Radius)...)
		errs = append(errs, positive(id, sh.Kind.String()+" height", sh.Height)...)
	case ShapeUnion, ShapeDifference, ShapeIntersection:
		if len(sh.Children) < 2 {
			errs = append(errs, ValidationError{
				NodeID:   id,
				Message:  fmt.Sprintf("%s has %d shapes, need at least 2", sh.Kind, len(sh.Children)),
				Severity: SeverityError,
			})
		}
		for _, c := range sh.Children {
			if c == nil {
				errs = append(errs, ValidationError{
					NodeID:   id,
					Message:  fmt.Sprintf("%s has a nil shape", sh.Kind),
					Severity: SeverityError,
				})
				continue
			}
			errs = append(errs, validateShape(id, c)...)
		}
	default:
		errs = append(errs, ValidationError{
			NodeID:   id,
			Message:  fmt.Sprintf("unknown shape kind %d", int(sh.Kind)),
			Severity: SeverityError,
		})
	}

	return errs
}

// validateMaterial checks that the material constants are physical.
func validateMaterial(id NodeID, m Material) []ValidationError {
	var errs []ValidationError

	errs = append(errs, positive(id, "material stiffness", m.Stiffness)...)
	errs = append(errs, positive(id, "material density", m.Density)...)
	if m.Damping < 0 {
		errs = append(errs, ValidationError{
			NodeID:   id,
			Message:  fmt.Sprintf("material damping is %.4g, must not be negative", m.Damping),
			Severity: SeverityError,
		})
	}
	if m.PoissonRatio < 0 || m.PoissonRatio >= 0.5 {
		errs = append(errs, ValidationError{
			NodeID:   id,
			Message:  fmt.Sprintf("material Poisson ratio is %.4g, must be in [0, 0.5)", m.PoissonRatio),
			Severity: SeverityError,
		})
	}

	return errs
}

// validateSettings checks the scene-wide parameters.
func validateSettings(st Settings) []ValidationError {
	var errs []ValidationError
	add := func(format string, args ...any) {
		errs = append(errs, ValidationError{
			Message:  fmt.Sprintf(format, args...),
			Severity: SeverityError,
		})
	}

	if st.Solver != SolverFEM && st.Solver != SolverSprings {
		add("unknown solver %q, expected fem or springs", st.Solver)
	}
	if st.Dt <= 0 {
		add("time step is %.4g, must be positive", st.Dt)
	}
	if st.CollisionStiffness <= 0 {
		add("collision stiffness is %.4g, must be positive", st.CollisionStiffness)
	}
	if st.StiffnessGrowth < 0 {
		add("stiffness growth is %.4g, must not be negative", st.StiffnessGrowth)
	}
	if st.Threshold < 0 {
		add("collision threshold is %.4g, must not be negative", st.Threshold)
	}
	if st.MaxIterations < 1 {
		add("max iterations is %d, need at least 1", st.MaxIterations)
	}
	if st.Regions && st.RegionFactor < 1 {
		add("region factor is %.4g, must be at least 1", st.RegionFactor)
	}
	if st.CellSize < 1 {
		add("hierarchy cell size is %d, need at least 1", st.CellSize)
	}
	if st.MeshCells < 2 {
		add("mesh resolution is %d cells, need at least 2", st.MeshCells)
	}
	if d := st.Domain; d != nil {
		if d.Min.X >= d.Max.X || d.Min.Y >= d.Max.Y || d.Min.Z >= d.Max.Z {
			add("domain min (%g, %g, %g) is not below max (%g, %g, %g)",
				d.Min.X, d.Min.Y, d.Min.Z, d.Max.X, d.Max.Y, d.Max.Z)
		}
	}

	return errs
}

// ---------------------------------------------------------------------------
// Tier 3: solver warnings
// ---------------------------------------------------------------------------

// validateSolver warns about settings that are legal but likely to go
// wrong.
func validateSolver(s *Scene) []ValidationWarning {
	var warnings []ValidationWarning
	st := s.Settings

	if len(s.Bodies()) == 0 {
		warnings = append(warnings, ValidationWarning{Message: "scene has no bodies"})
	}
	if st.Corotated && st.Solver == SolverSprings {
		warnings = append(warnings, ValidationWarning{
			Message: "corotated has no effect under the springs solver",
		})
	}

	for _, node := range s.Bodies() {
		bd, ok := node.Data.(BodyData)
		if !ok || !SpringDriven(bd, st.Solver) || bd.Material.Stiffness <= 0 || st.Dt <= 0 {
			continue
		}
		if limit := StableStep(bd); st.Dt > limit {
			warnings = append(warnings, ValidationWarning{
				NodeID: node.ID,
				Message: fmt.Sprintf("stiff material under explicit integration: dt %.4g exceeds the stable step %.4g",
					st.Dt, limit),
			})
		}
	}

	return warnings
}

// SpringDriven reports whether the body is integrated by the explicit
// mass-spring scheme under the given solver. Only volume bodies have
// tetrahedra for the FEM solver; the others always use springs.
func SpringDriven(bd BodyData, solver SolverKind) bool {
	return solver == SolverSprings || bd.Kind != BodyVolume
}

// StableStep estimates the largest time step for which explicit
// integration of the body stays bounded, as sqrt(m/k) with m the mass of a
// typical node.
func StableStep(bd BodyData) float64 {
	m := bd.Material.Density
	if bd.Kind == BodyVolume {
		cells := bd.Cells
		for i := range cells {
			if cells[i] < 1 {
				cells[i] = 1
			}
		}
		m *= bd.Size.X / float64(cells[0]) * bd.Size.Y / float64(cells[1]) * bd.Size.Z / float64(cells[2])
	}
	return math.Sqrt(m / bd.Material.Stiffness)
}
