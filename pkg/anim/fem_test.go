package anim

import (
	"bytes"
	"errors"
	"log"
	"math"
	"strings"
	"testing"

	"github.com/chazu/softbody/pkg/geometry"
	"gonum.org/v1/gonum/mat"
)

var elastic = geometry.Material{Stiffness: 1000, Density: 1, Damping: 0.1, PoissonRatio: 0.3}

func block(cells int) *geometry.Mesh {
	return geometry.NewTetGrid("block", geometry.Vec3{}, geometry.Vec3{X: 1, Y: 1, Z: 1},
		[3]int{cells, cells, cells}, 0, elastic)
}

func quietFEM(dt float64) (*ImplicitFEM, *bytes.Buffer) {
	var buf bytes.Buffer
	s := NewImplicitFEM(dt)
	s.Logger = log.New(&buf, "", 0)
	return s, &buf
}

func TestPreprocessValidation(t *testing.T) {
	tests := []struct {
		name string
		mat  geometry.Material
		dt   float64
		want error
	}{
		{"zero stiffness", geometry.Material{Stiffness: 0, Density: 1, PoissonRatio: 0.3}, 0.01, ErrInvalidMaterial},
		{"negative poisson", geometry.Material{Stiffness: 1, Density: 1, PoissonRatio: -0.1}, 0.01, ErrInvalidMaterial},
		{"incompressible", geometry.Material{Stiffness: 1, Density: 1, PoissonRatio: 0.5}, 0.01, ErrInvalidMaterial},
		{"zero dt", elastic, 0, ErrInvalidTimeStep},
		{"valid", elastic, 0.01, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := block(1)
			m.Material = tt.mat
			s, _ := quietFEM(tt.dt)
			err := s.PreprocessMesh(m)
			if !errors.Is(err, tt.want) {
				t.Errorf("PreprocessMesh error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStepMisuse(t *testing.T) {
	s, _ := quietFEM(0.01)
	m := block(1)
	if err := s.Step(m); !errors.Is(err, ErrNotPreprocessed) {
		t.Fatalf("stepping an unknown mesh: %v", err)
	}
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}
	if err := s.Step(m); err != nil {
		t.Fatalf("step after preprocess: %v", err)
	}

	m.Nodes[3].ID = 99
	if err := s.Step(m); !errors.Is(err, ErrMeshChanged) {
		t.Errorf("renumbered node: %v", err)
	}
	m.Nodes[3].ID = 3
	m.Nodes = append(m.Nodes, geometry.NewNode(geometry.Vec3{}, len(m.Nodes), 0))
	if err := s.StepMeshes([]*geometry.Mesh{m}); !errors.Is(err, ErrMeshChanged) {
		t.Errorf("added node: %v", err)
	}

	s.Release(m)
	if err := s.Step(m); !errors.Is(err, ErrNotPreprocessed) {
		t.Errorf("released mesh: %v", err)
	}
}

func TestPreprocessRenumbersNodes(t *testing.T) {
	m := block(1)
	for i, n := range m.Nodes {
		n.ID = 100 + i
	}
	s, _ := quietFEM(0.01)
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}
	for i, n := range m.Nodes {
		if n.ID != i {
			t.Fatalf("node %d has id %d", i, n.ID)
		}
	}
}

func TestStiffnessNullSpace(t *testing.T) {
	m := block(2)
	s, _ := quietFEM(0.01)
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}
	k := s.system(m).k
	n, _ := k.Dims()

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if math.Abs(k.At(i, j)-k.At(j, i)) > 1e-9 {
				t.Fatalf("K is not symmetric at (%d, %d)", i, j)
			}
		}
	}

	modes := map[string]func(p geometry.Vec3) geometry.Vec3{
		"translation x": func(geometry.Vec3) geometry.Vec3 { return geometry.Vec3{X: 1} },
		"translation z": func(geometry.Vec3) geometry.Vec3 { return geometry.Vec3{Z: 1} },
		"rotation z":    func(p geometry.Vec3) geometry.Vec3 { return geometry.Vec3{X: -p.Y, Y: p.X} },
		"rotation x":    func(p geometry.Vec3) geometry.Vec3 { return geometry.Vec3{Y: -p.Z, Z: p.Y} },
	}
	for name, mode := range modes {
		u := mat.NewVecDense(n, nil)
		for i, node := range m.Nodes {
			setVec3(u, i, mode(node.InitPosition))
		}
		ku := mat.NewVecDense(n, nil)
		k.MulVecTo(ku, u)
		if r := mat.Norm(ku, math.Inf(1)); r > 1e-8 {
			t.Errorf("%s: |K u| = %g, want 0", name, r)
		}
	}
}

func TestRestStateIsEquilibrium(t *testing.T) {
	m := block(2)
	s, _ := quietFEM(0.01)
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if err := s.Step(m); err != nil {
			t.Fatal(err)
		}
	}
	if d := m.PositionDifference(); d.Max != 0 {
		t.Errorf("unloaded mesh moved by up to %g", d.Max)
	}
	if res, ok := s.LastSolve(m); !ok || !res.Converged {
		t.Errorf("LastSolve = %+v, %v", res, ok)
	}
}

func TestFixedNodesHoldUnderGravity(t *testing.T) {
	m := block(2)
	var fixed []*geometry.Node
	for _, n := range m.Nodes {
		if n.InitPosition.Y == 1 {
			n.Fix = true
			fixed = append(fixed, n)
		}
	}
	s, _ := quietFEM(0.01)
	s.Gravity = true
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		m.ClearForces()
		if err := s.Step(m); err != nil {
			t.Fatal(err)
		}
	}
	for _, n := range fixed {
		if n.Position != n.InitPosition {
			t.Fatalf("fixed node %d moved to %v", n.ID, n.Position)
		}
	}
	var sag float64
	for _, n := range m.Nodes {
		if !geometry.IsFinite(n.Position) {
			t.Fatalf("node %d is not finite", n.ID)
		}
		sag += n.Displacement().Y
	}
	if sag >= 0 {
		t.Errorf("hanging block did not sag: total y displacement %g", sag)
	}
}

func TestPullStretchesBar(t *testing.T) {
	m := geometry.NewTetGrid("bar", geometry.Vec3{}, geometry.Vec3{X: 2, Y: 0.5, Z: 0.5}, [3]int{4, 1, 1}, 0, elastic)
	var tip []*geometry.Node
	for _, n := range m.Nodes {
		switch n.InitPosition.X {
		case 0:
			n.Fix = true
		case 2:
			tip = append(tip, n)
		}
	}
	s, _ := quietFEM(0.01)
	s.Inertia = false
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		m.ClearForces()
		for _, n := range tip {
			n.AddForce(geometry.Vec3{X: 5})
		}
		if err := s.Step(m); err != nil {
			t.Fatal(err)
		}
	}
	for _, n := range tip {
		if n.Displacement().X <= 0 {
			t.Errorf("tip node %d moved by %v, want +x", n.ID, n.Displacement())
		}
		if n.Velocity != (geometry.Vec3{}) {
			t.Errorf("velocity kept without inertia: %v", n.Velocity)
		}
	}
}

func TestDegenerateTetrahedraAreSkipped(t *testing.T) {
	m := geometry.NewMesh("flat", elastic)
	p := []geometry.Vec3{
		{}, {X: 1}, {Y: 1}, {Z: 1},
		{X: 3}, {X: 4}, {X: 3, Y: 1}, {X: 4, Y: 1},
	}
	for i, v := range p {
		m.Nodes = append(m.Nodes, geometry.NewNode(v, i, 0))
	}
	m.Tetrahedra = []*geometry.Tetrahedron{
		geometry.NewTetrahedron(m.Nodes[0], m.Nodes[1], m.Nodes[2], m.Nodes[3]),
		geometry.NewTetrahedron(m.Nodes[4], m.Nodes[5], m.Nodes[6], m.Nodes[7]),
	}
	m.Compute(false)

	s, buf := quietFEM(0.01)
	s.Gravity = true
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}
	if got := s.Skipped(m); got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), "skipped 1 degenerate") {
		t.Errorf("log = %q", buf.String())
	}
	if err := s.Step(m); err != nil {
		t.Fatal(err)
	}
	for _, n := range m.Nodes[4:] {
		if n.Position != n.InitPosition {
			t.Errorf("node %d of the flat tetrahedron was integrated", n.ID)
		}
	}
}

func TestSetDtRebuildsSystem(t *testing.T) {
	m := block(1)
	s, _ := quietFEM(0.01)
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}
	s.SetDt(0.02)
	if err := s.Step(m); err != nil {
		t.Fatal(err)
	}
	if got := s.system(m).dt; got != 0.02 {
		t.Errorf("system assembled for dt %g, want 0.02", got)
	}
}

func TestCorotationIgnoresRigidRotation(t *testing.T) {
	rotate := func(m *geometry.Mesh) {
		for _, n := range m.Nodes {
			p := n.InitPosition
			n.Position = geometry.Vec3{X: -p.Y, Y: p.X, Z: p.Z}
		}
	}
	drift := func(corotated bool) float64 {
		m := block(1)
		rotate(m)
		before := make([]geometry.Vec3, len(m.Nodes))
		for i, n := range m.Nodes {
			before[i] = n.Position
		}
		s, _ := quietFEM(0.01)
		s.Corotated = corotated
		if err := s.PreprocessMesh(m); err != nil {
			t.Fatal(err)
		}
		if err := s.Step(m); err != nil {
			t.Fatal(err)
		}
		var worst float64
		for i, n := range m.Nodes {
			worst = math.Max(worst, geometry.Distance(before[i], n.Position))
		}
		return worst
	}

	if d := drift(true); d > 1e-9 {
		t.Errorf("corotated step moved a rigidly rotated block by %g", d)
	}
	if d := drift(false); d < 1e-4 {
		t.Errorf("linear step moved a rigidly rotated block by only %g; fixture too weak", d)
	}
}

func TestPolarRotation(t *testing.T) {
	c, s := math.Cos(0.7), math.Sin(0.7)
	rot := mat.NewDense(3, 3, []float64{c, -s, 0, s, c, 0, 0, 0, 1})
	stretch := mat.NewDense(3, 3, []float64{2, 0.1, 0, 0.1, 1, 0, 0, 0, 1.5})
	var f mat.Dense
	f.Mul(rot, stretch)

	r := polarRotation(&f)
	if !mat.EqualApprox(r, rot, 1e-9) {
		t.Errorf("rotation = %v, want %v", mat.Formatted(r), mat.Formatted(rot))
	}

	reflect := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
	if d := mat.Det(polarRotation(reflect)); math.Abs(d-1) > 1e-9 {
		t.Errorf("reflection gave det %g, want a proper rotation", d)
	}
}

// unitTet returns one tetrahedron on the unit axes with its apex lifted by
// 10%.
func unitTet() *geometry.Mesh {
	m := geometry.NewMesh("tet", elastic)
	for i, p := range []geometry.Vec3{{}, {X: 1}, {Y: 1}, {Z: 1}} {
		m.Nodes = append(m.Nodes, geometry.NewNode(p, i, 0))
	}
	m.Tetrahedra = []*geometry.Tetrahedron{
		geometry.NewTetrahedron(m.Nodes[0], m.Nodes[1], m.Nodes[2], m.Nodes[3]),
	}
	m.Compute(false)
	m.Nodes[3].Position = geometry.Vec3{Z: 1.1}
	return m
}

func TestStepSolvesBackwardEulerSystem(t *testing.T) {
	const dt = 0.01
	m := unitTet()
	s, _ := quietFEM(dt)
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}

	// Dense A = M + dt²K and b = -dt K u, the velocities starting at rest.
	k := s.system(m).k
	n, _ := k.Dims()
	a := mat.NewDense(n, n, nil)
	u := mat.NewVecDense(n, nil)
	for i, node := range m.Nodes {
		setVec3(u, i, node.Displacement())
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, dt*dt*k.At(i, j))
		}
		a.Set(i, i, a.At(i, i)+m.Nodes[i/3].Mass)
	}
	b := mat.NewVecDense(n, nil)
	k.MulVecTo(b, u)
	b.ScaleVec(-dt, b)
	var want mat.VecDense
	if err := want.SolveVec(a, b); err != nil {
		t.Fatal(err)
	}

	if err := s.Step(m); err != nil {
		t.Fatal(err)
	}
	got := mat.NewVecDense(n, nil)
	for i, node := range m.Nodes {
		setVec3(got, i, node.Velocity)
	}
	if !mat.EqualApprox(got, &want, 1e-6*mat.Norm(&want, math.Inf(1))) {
		t.Errorf("velocities\n%v\nwant\n%v", mat.Formatted(got.T()), mat.Formatted(want.T()))
	}
	if apex := m.Nodes[3].Velocity; apex.Z >= 0 {
		t.Errorf("stretched apex should move back down, velocity %v", apex)
	}
}

func TestRayleighDampingIsOptIn(t *testing.T) {
	apex := func(damping float64) geometry.Vec3 {
		m := unitTet()
		s, _ := quietFEM(0.01)
		s.RayleighDamping = damping
		if err := s.PreprocessMesh(m); err != nil {
			t.Fatal(err)
		}
		if err := s.Step(m); err != nil {
			t.Fatal(err)
		}
		return m.Nodes[3].Velocity
	}

	plain, damped := apex(0), apex(0.1)
	if math.Abs(damped.Z) >= math.Abs(plain.Z) {
		t.Errorf("damped apex speed %g, undamped %g", damped.Z, plain.Z)
	}

	// The material damping only drives springs.
	m := unitTet()
	m.Damping = 5
	s, _ := quietFEM(0.01)
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}
	if err := s.Step(m); err != nil {
		t.Fatal(err)
	}
	if got := m.Nodes[3].Velocity; geometry.Distance(got, plain) > 1e-9 {
		t.Errorf("material damping changed the FEM step: %v, want %v", got, plain)
	}
}

func TestIsolatedNodeFollowsItsForce(t *testing.T) {
	m := unitTet()
	m.Nodes[3].Position = m.Nodes[3].InitPosition
	loose := geometry.NewNode(geometry.Vec3{X: 5}, len(m.Nodes), 0)
	massless := geometry.NewNode(geometry.Vec3{X: 7}, len(m.Nodes)+1, 0)
	massless.Mass = 0
	m.Nodes = append(m.Nodes, loose, massless)

	s, _ := quietFEM(0.01)
	if err := s.PreprocessMesh(m); err != nil {
		t.Fatal(err)
	}
	loose.AddForce(geometry.Vec3{X: 100})
	massless.AddForce(geometry.Vec3{X: 100})
	if err := s.Step(m); err != nil {
		t.Fatal(err)
	}

	if got := loose.Velocity; geometry.Distance(got, geometry.Vec3{X: 1}) > 1e-6 {
		t.Errorf("isolated node velocity %v, want dt·f/m = (1, 0, 0)", got)
	}
	if massless.Position != massless.InitPosition || massless.Velocity != (geometry.Vec3{}) {
		t.Errorf("massless isolated node moved to %v", massless.Position)
	}
}
