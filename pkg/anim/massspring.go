package anim

import (
	"math"

	"github.com/chazu/softbody/pkg/geometry"
	"github.com/chazu/softbody/pkg/parallel"
	"gonum.org/v1/gonum/spatial/r3"
)

// ExplicitMassSpring integrates a network of damped springs, one per mesh
// edge, with symplectic Euler. Spring stiffness and damping come from the
// mesh material. It is only conditionally stable: stiff springs need small
// steps.
type ExplicitMassSpring struct {
	Base
}

var _ AnimSystem = (*ExplicitMassSpring)(nil)

// NewExplicitMassSpring returns a mass-spring system with inertia on.
func NewExplicitMassSpring(dt float64) *ExplicitMassSpring {
	return &ExplicitMassSpring{Base: NewBase(dt)}
}

// PreprocessMesh only validates the time step; springs carry their own
// rest lengths.
func (s *ExplicitMassSpring) PreprocessMesh(m *geometry.Mesh) error {
	return s.checkDt()
}

func (s *ExplicitMassSpring) PreprocessMeshes(meshes []*geometry.Mesh) error {
	return eachMesh(meshes, s.PreprocessMesh)
}

// Step applies gravity and spring forces to m and integrates its nodes.
func (s *ExplicitMassSpring) Step(m *geometry.Mesh) error {
	return s.step(m.Nodes, m.Edges, nil, m.Stiffness, m.Damping)
}

func (s *ExplicitMassSpring) StepMeshes(meshes []*geometry.Mesh) error {
	return eachMesh(meshes, s.Step)
}

// StepSprings steps a loose set of nodes and springs with explicit spring
// constants, then clamps the nodes inside limits. limits may be nil.
func (s *ExplicitMassSpring) StepSprings(nodes []*geometry.Node, edges []*geometry.Edge, limits *geometry.AABB, ks, kd float64) error {
	return s.step(nodes, edges, limits, ks, kd)
}

func (s *ExplicitMassSpring) step(nodes []*geometry.Node, edges []*geometry.Edge, limits *geometry.AABB, ks, kd float64) error {
	if err := s.checkDt(); err != nil {
		return err
	}
	s.addGravity(nodes)
	applySpringForces(edges, ks, kd)
	integrate(nodes, s.dt)
	if limits != nil {
		limits.Delimit(nodes)
	}
	s.finish(nodes)
	return nil
}

// applySpringForces computes every spring force in parallel and adds them
// to the nodes in edge order.
func applySpringForces(edges []*geometry.Edge, ks, kd float64) {
	forces := make([]geometry.Vec3, len(edges))
	parallel.Each(len(edges), func(i int) {
		forces[i] = SpringForce(edges[i], ks, kd)
	})
	for i, e := range edges {
		e.Node0.AddForce(forces[i])
		e.Node1.AddForce(r3.Scale(-1, forces[i]))
	}
}

// SpringForce returns the force the spring exerts on its first node; the
// second node receives the opposite. Springs with a rest length below
// geometry.Threshold exert nothing.
func SpringForce(e *geometry.Edge, ks, kd float64) geometry.Vec3 {
	r := e.RestLength
	if r <= geometry.Threshold {
		return geometry.Vec3{}
	}
	d := r3.Sub(e.Node1.Position, e.Node0.Position)
	v := r3.Sub(e.Node1.Velocity, e.Node0.Velocity)
	l := math.Max(r3.Norm(d), geometry.Threshold)
	magnitude := ks*(l/r-1) + kd*r3.Dot(v, d)/(l*r)
	return r3.Scale(magnitude/l, d)
}
