// Package anim advances meshes in time. An AnimSystem turns the forces
// accumulated on the nodes (collision penalties, gravity) plus its own
// constitutive forces into new velocities and positions.
//
// Two schemes are provided: ExplicitMassSpring, a symplectic Euler
// integrator over the mesh's edges, and ImplicitFEM, a backward Euler
// linear-elastic finite element integrator over its tetrahedra.
package anim

import (
	"errors"
	"fmt"

	"github.com/chazu/softbody/pkg/geometry"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultDt is the time step used when none is given.
const DefaultDt = 0.01

// Gravity is the acceleration applied when Base.Gravity is set.
var Gravity = geometry.Vec3{Y: -9.8}

var (
	// ErrNotPreprocessed is returned when stepping a mesh the system has
	// not prepared.
	ErrNotPreprocessed = errors.New("mesh not preprocessed")

	// ErrMeshChanged is returned when a mesh's nodes no longer match the
	// ones it was prepared with.
	ErrMeshChanged = errors.New("mesh changed since preprocessing")

	// ErrInvalidMaterial is returned for material constants outside their
	// physical range.
	ErrInvalidMaterial = errors.New("invalid material")

	// ErrInvalidTimeStep is returned when the time step is not positive.
	ErrInvalidTimeStep = errors.New("invalid time step")
)

// AnimSystem is a time integration scheme. Step consumes the forces already
// present on the nodes and does not clear them; callers reset forces
// between steps.
type AnimSystem interface {
	PreprocessMesh(m *geometry.Mesh) error
	PreprocessMeshes(meshes []*geometry.Mesh) error
	Step(m *geometry.Mesh) error
	StepMeshes(meshes []*geometry.Mesh) error
	Dt() float64
	SetDt(dt float64)
}

// Base holds the settings shared by every scheme.
type Base struct {
	// Gravity adds Gravity times mass to every node before a step.
	Gravity bool
	// Inertia keeps velocities between steps. Without it velocities are
	// reset after each position update, which relaxes the mesh
	// quasi-statically.
	Inertia bool

	dt float64
}

// NewBase returns settings with the given step, inertia on and gravity
// off.
func NewBase(dt float64) Base {
	return Base{Inertia: true, dt: dt}
}

func (b *Base) Dt() float64 { return b.dt }

func (b *Base) SetDt(dt float64) { b.dt = dt }

func (b *Base) checkDt() error {
	if b.dt <= 0 {
		return fmt.Errorf("%w: dt=%g", ErrInvalidTimeStep, b.dt)
	}
	return nil
}

// addGravity applies the gravity force to the free nodes.
func (b *Base) addGravity(nodes []*geometry.Node) {
	if !b.Gravity {
		return
	}
	for _, n := range nodes {
		if n.Free() {
			n.AddForce(r3.Scale(n.Mass, Gravity))
		}
	}
}

// finish marks the free nodes animated and, without inertia, drops their
// velocities.
func (b *Base) finish(nodes []*geometry.Node) {
	for _, n := range nodes {
		if !n.Free() {
			continue
		}
		n.Animated = true
		if !b.Inertia {
			n.Velocity = geometry.Vec3{}
		}
	}
}

// integrate advances free nodes with symplectic Euler: velocity first from
// the accumulated force, then position from the new velocity.
func integrate(nodes []*geometry.Node, dt float64) {
	for _, n := range nodes {
		if !n.Free() || n.Mass <= 0 {
			continue
		}
		n.Velocity = r3.Add(n.Velocity, r3.Scale(dt/n.Mass, n.Force))
		n.Position = r3.Add(n.Position, r3.Scale(dt, n.Velocity))
	}
}

// eachMesh runs fn over the meshes, stopping at the first error.
func eachMesh(meshes []*geometry.Mesh, fn func(*geometry.Mesh) error) error {
	for _, m := range meshes {
		if err := fn(m); err != nil {
			return fmt.Errorf("mesh %q: %w", m.Name, err)
		}
	}
	return nil
}
