package anim

import (
	"fmt"
	"log"
	"sync"

	"github.com/chazu/softbody/pkg/geometry"
	"github.com/chazu/softbody/pkg/linalg"
	"github.com/chazu/softbody/pkg/parallel"
	"gonum.org/v1/gonum/mat"
)

// minElementVolume is the rest volume below which a tetrahedron is left out
// of the stiffness matrix.
const minElementVolume = 1e-12

// ImplicitFEM integrates linear-elastic tetrahedral meshes with backward
// Euler. Each step solves
//
//	(M + dt²·K) v' = M v - dt (K u - f)
//
// for the new velocities v', where u is the displacement from rest and f
// the external forces on the nodes. Fixed and anchor nodes are held still,
// as are massless nodes outside every element.
//
// PreprocessMesh assembles K once per mesh. With Corotated set, the element
// rotations are extracted every step and K is rotated with them, which
// removes the spurious forces linear elements show under large rotations.
type ImplicitFEM struct {
	Base

	// Tolerance and MaxIterations bound each conjugate gradient solve.
	Tolerance     float64
	MaxIterations int
	Corotated     bool

	// RayleighDamping adds stiffness-proportional damping, making the
	// system matrix M + (dt² + dt·RayleighDamping)·K. Zero by default.
	RayleighDamping float64

	// Logger receives degenerate element and convergence notices. Nil
	// means log.Default().
	Logger *log.Logger

	mu      sync.Mutex
	systems map[*geometry.Mesh]*femSystem
}

var _ AnimSystem = (*ImplicitFEM)(nil)

// NewImplicitFEM returns an FEM system with inertia on and the default
// solver settings.
func NewImplicitFEM(dt float64) *ImplicitFEM {
	return &ImplicitFEM{
		Base:          NewBase(dt),
		Tolerance:     linalg.DefaultTolerance,
		MaxIterations: linalg.DefaultMaxIterations,
		systems:       make(map[*geometry.Mesh]*femSystem),
	}
}

func (s *ImplicitFEM) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

// element is one tetrahedron's contribution, in the global node numbering.
type element struct {
	nodes [4]int
	rest  [12]float64
	dmInv *mat.Dense
	ke    *mat.Dense
}

// femSystem is the per-mesh state built by PreprocessMesh.
type femSystem struct {
	nodes    []*geometry.Node
	elements []element
	skipped  int
	mass     []float64
	isolated []bool
	rest     *mat.VecDense

	k  *linalg.CSR
	a  *linalg.CSR
	cg *linalg.CG
	// dt and damping the system matrix was built with.
	dt      float64
	damping float64

	last linalg.Result
}

// ---------------------------------------------------------------------------
// Preprocessing
// ---------------------------------------------------------------------------

// PreprocessMesh validates the material, renumbers the mesh's node IDs to
// their index and assembles the stiffness matrix. Preprocessing a mesh again
// replaces its previous state.
func (s *ImplicitFEM) PreprocessMesh(m *geometry.Mesh) error {
	if err := s.checkDt(); err != nil {
		return err
	}
	d, err := elasticity(m.Material)
	if err != nil {
		return err
	}

	index := make(map[*geometry.Node]int, len(m.Nodes))
	for i, n := range m.Nodes {
		n.ID = i
		index[n] = i
	}

	built := make([]element, len(m.Tetrahedra))
	valid := make([]bool, len(m.Tetrahedra))
	for i, t := range m.Tetrahedra {
		for _, n := range t.Nodes() {
			if _, ok := index[n]; !ok {
				return fmt.Errorf("tetrahedron %d references a node outside the mesh", i)
			}
		}
	}
	parallel.Each(len(m.Tetrahedra), func(i int) {
		built[i], valid[i] = newElement(m.Tetrahedra[i], index, d)
	})

	sys := &femSystem{
		nodes:    append([]*geometry.Node(nil), m.Nodes...),
		mass:     make([]float64, 3*len(m.Nodes)),
		isolated: make([]bool, len(m.Nodes)),
		rest:     mat.NewVecDense(max(3*len(m.Nodes), 1), nil),
	}
	for i := range built {
		if valid[i] {
			sys.elements = append(sys.elements, built[i])
		} else {
			sys.skipped++
		}
	}
	if sys.skipped > 0 {
		s.logger().Printf("fem: %s: skipped %d degenerate tetrahedra", m.Name, sys.skipped)
	}

	// A node outside every element keeps the row A_ii = m. Only a massless
	// one would make the system singular.
	for i, n := range m.Nodes {
		sys.isolated[i] = n.Mass <= 0
	}
	for _, el := range sys.elements {
		for _, n := range el.nodes {
			sys.isolated[n] = false
		}
	}
	for i, n := range m.Nodes {
		for c := 0; c < 3; c++ {
			sys.mass[3*i+c] = n.Mass
		}
		sys.rest.SetVec(3*i, n.InitPosition.X)
		sys.rest.SetVec(3*i+1, n.InitPosition.Y)
		sys.rest.SetVec(3*i+2, n.InitPosition.Z)
	}

	blocks := make([]*mat.Dense, len(sys.elements))
	for i := range sys.elements {
		blocks[i] = sys.elements[i].ke
	}
	if sys.k, err = assemble(len(m.Nodes), sys.elements, blocks); err != nil {
		return fmt.Errorf("assemble stiffness: %w", err)
	}
	if !s.Corotated {
		if err := sys.buildSystem(s.dt, s.RayleighDamping, sys.k); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.systems == nil {
		s.systems = make(map[*geometry.Mesh]*femSystem)
	}
	s.systems[m] = sys
	s.mu.Unlock()
	return nil
}

func (s *ImplicitFEM) PreprocessMeshes(meshes []*geometry.Mesh) error {
	return eachMesh(meshes, s.PreprocessMesh)
}

// Release drops the state kept for the meshes.
func (s *ImplicitFEM) Release(meshes ...*geometry.Mesh) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range meshes {
		delete(s.systems, m)
	}
}

// Skipped returns how many degenerate tetrahedra of m were left out.
func (s *ImplicitFEM) Skipped(m *geometry.Mesh) int {
	if sys := s.system(m); sys != nil {
		return sys.skipped
	}
	return 0
}

// LastSolve reports how the most recent solve for m ended.
func (s *ImplicitFEM) LastSolve(m *geometry.Mesh) (linalg.Result, bool) {
	if sys := s.system(m); sys != nil {
		return sys.last, true
	}
	return linalg.Result{}, false
}

func (s *ImplicitFEM) system(m *geometry.Mesh) *femSystem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systems[m]
}

// elasticity returns the isotropic elasticity matrix in Voigt order
// (xx, yy, zz, xy, yz, zx).
func elasticity(m geometry.Material) (*mat.Dense, error) {
	e, nu := m.Stiffness, m.PoissonRatio
	if e <= 0 || nu < 0 || nu >= 0.5 {
		return nil, fmt.Errorf("%w: stiffness=%g poisson=%g", ErrInvalidMaterial, e, nu)
	}
	d := e / ((1 + nu) * (1 - 2*nu))
	d0, d1, d2 := d*(1-nu), d*nu, d*(1-2*nu)/2
	return mat.NewDense(6, 6, []float64{
		d0, d1, d1, 0, 0, 0,
		d1, d0, d1, 0, 0, 0,
		d1, d1, d0, 0, 0, 0,
		0, 0, 0, d2, 0, 0,
		0, 0, 0, 0, d2, 0,
		0, 0, 0, 0, 0, d2,
	}), nil
}

// newElement computes the rest stiffness V·Bᵀ·D·B of a tetrahedron. It
// reports false for tetrahedra too flat to invert.
func newElement(t *geometry.Tetrahedron, index map[*geometry.Node]int, d *mat.Dense) (element, bool) {
	var el element
	vol := t.InitVolume()
	if vol < minElementVolume {
		return el, false
	}

	nodes := t.Nodes()
	x0 := nodes[0].InitPosition
	dm := mat.NewDense(3, 3, nil)
	for c := 1; c < 4; c++ {
		p := nodes[c].InitPosition
		dm.Set(0, c-1, p.X-x0.X)
		dm.Set(1, c-1, p.Y-x0.Y)
		dm.Set(2, c-1, p.Z-x0.Z)
	}
	var inv mat.Dense
	if err := inv.Inverse(dm); err != nil {
		return el, false
	}

	// Rows of the inverse are the shape function gradients of nodes 1-3.
	var grad [4][3]float64
	for i := 1; i < 4; i++ {
		for j := 0; j < 3; j++ {
			grad[i][j] = inv.At(i-1, j)
			grad[0][j] -= grad[i][j]
		}
	}

	b := mat.NewDense(6, 12, nil)
	for i, g := range grad {
		c := 3 * i
		b.Set(0, c, g[0])
		b.Set(1, c+1, g[1])
		b.Set(2, c+2, g[2])
		b.Set(3, c, g[1])
		b.Set(3, c+1, g[0])
		b.Set(4, c+1, g[2])
		b.Set(4, c+2, g[1])
		b.Set(5, c, g[2])
		b.Set(5, c+2, g[0])
	}
	var db mat.Dense
	db.Mul(d, b)
	ke := mat.NewDense(12, 12, nil)
	ke.Mul(b.T(), &db)
	ke.Scale(vol, ke)

	for i, n := range nodes {
		el.nodes[i] = index[n]
		el.rest[3*i] = n.InitPosition.X
		el.rest[3*i+1] = n.InitPosition.Y
		el.rest[3*i+2] = n.InitPosition.Z
	}
	el.dmInv = &inv
	el.ke = ke
	return el, true
}

// assemble scatters the 12x12 element blocks into a global 3n x 3n matrix.
func assemble(n int, elements []element, blocks []*mat.Dense) (*linalg.CSR, error) {
	triplets := make([]linalg.Triplet, 0, len(elements)*144)
	for e, el := range elements {
		blk := blocks[e]
		for a := 0; a < 4; a++ {
			for b := 0; b < 4; b++ {
				for r := 0; r < 3; r++ {
					for c := 0; c < 3; c++ {
						v := blk.At(3*a+r, 3*b+c)
						if v == 0 {
							continue
						}
						triplets = append(triplets, linalg.Triplet{
							Row:   3*el.nodes[a] + r,
							Col:   3*el.nodes[b] + c,
							Value: v,
						})
					}
				}
			}
		}
	}
	return linalg.NewCSR(3*n, 3*n, triplets)
}

// buildSystem forms A = M + (dt² + dt·damping)·k and prepares its solver.
func (sys *femSystem) buildSystem(dt, damping float64, k *linalg.CSR) error {
	a, err := linalg.Add(1, linalg.Diag(sys.mass), dt*dt+dt*damping, k)
	if err != nil {
		return fmt.Errorf("system matrix: %w", err)
	}
	sys.a = a
	sys.cg = linalg.NewCG(a)
	sys.dt = dt
	sys.damping = damping
	return nil
}

// check verifies m still has the nodes it was prepared with.
func (sys *femSystem) check(m *geometry.Mesh) error {
	if len(m.Nodes) != len(sys.nodes) {
		return fmt.Errorf("%w: %d nodes, prepared with %d", ErrMeshChanged, len(m.Nodes), len(sys.nodes))
	}
	for i, n := range m.Nodes {
		if n != sys.nodes[i] || n.ID != i {
			return fmt.Errorf("%w: node %d", ErrMeshChanged, i)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stepping
// ---------------------------------------------------------------------------

// Step advances m by one time step.
func (s *ImplicitFEM) Step(m *geometry.Mesh) error {
	if err := s.checkDt(); err != nil {
		return err
	}
	sys := s.system(m)
	if sys == nil {
		return ErrNotPreprocessed
	}
	if err := sys.check(m); err != nil {
		return err
	}
	if len(m.Nodes) == 0 {
		return nil
	}

	s.addGravity(m.Nodes)

	n := 3 * len(m.Nodes)
	x := mat.NewVecDense(n, nil)
	v := mat.NewVecDense(n, nil)
	f := mat.NewVecDense(n, nil)
	for i, node := range m.Nodes {
		setVec3(x, i, node.Position)
		setVec3(v, i, node.Velocity)
		setVec3(f, i, node.Force)
	}

	elastic := mat.NewVecDense(n, nil)
	if s.Corotated {
		kr, g, err := sys.corotate(x)
		if err != nil {
			return fmt.Errorf("corotated stiffness: %w", err)
		}
		if err := sys.buildSystem(s.dt, s.RayleighDamping, kr); err != nil {
			return err
		}
		elastic = g
	} else {
		if sys.a == nil || sys.dt != s.dt || sys.damping != s.RayleighDamping {
			if err := sys.buildSystem(s.dt, s.RayleighDamping, sys.k); err != nil {
				return err
			}
		}
		u := mat.NewVecDense(n, nil)
		u.SubVec(x, sys.rest)
		sys.k.MulVecTo(elastic, u)
	}

	// b = M v - dt (K u - f)
	b := mat.NewVecDense(n, nil)
	b.SubVec(elastic, f)
	b.ScaleVec(-s.dt, b)
	for i := 0; i < n; i++ {
		b.SetVec(i, b.AtVec(i)+sys.mass[i]*v.AtVec(i))
	}

	constrained := make([]bool, n)
	for i, node := range m.Nodes {
		held := !node.Free() || sys.isolated[i]
		constrained[3*i], constrained[3*i+1], constrained[3*i+2] = held, held, held
	}

	sys.cg.Tolerance = s.Tolerance
	sys.cg.MaxIterations = s.MaxIterations
	sys.last = sys.cg.Solve(v, b, constrained)
	if !sys.last.Converged {
		s.logger().Printf("fem: %s: solver stopped after %d iterations, residual %.3g",
			m.Name, sys.last.Iterations, sys.last.Residual)
	}

	for i, node := range m.Nodes {
		if constrained[3*i] {
			continue
		}
		node.Velocity = vec3At(v, i)
		node.Position.X += s.dt * node.Velocity.X
		node.Position.Y += s.dt * node.Velocity.Y
		node.Position.Z += s.dt * node.Velocity.Z
	}
	s.finish(m.Nodes)
	return nil
}

func (s *ImplicitFEM) StepMeshes(meshes []*geometry.Mesh) error {
	return eachMesh(meshes, s.Step)
}

func setVec3(v *mat.VecDense, i int, p geometry.Vec3) {
	v.SetVec(3*i, p.X)
	v.SetVec(3*i+1, p.Y)
	v.SetVec(3*i+2, p.Z)
}

func vec3At(v *mat.VecDense, i int) geometry.Vec3 {
	return geometry.Vec3{X: v.AtVec(3 * i), Y: v.AtVec(3*i + 1), Z: v.AtVec(3*i + 2)}
}

// ---------------------------------------------------------------------------
// Corotation
// ---------------------------------------------------------------------------

// corotate returns the stiffness rotated into the current frame of every
// element together with the elastic forces R·K·(Rᵀx - x0).
func (sys *femSystem) corotate(x *mat.VecDense) (*linalg.CSR, *mat.VecDense, error) {
	blocks := make([]*mat.Dense, len(sys.elements))
	forces := make([][12]float64, len(sys.elements))
	parallel.Each(len(sys.elements), func(i int) {
		blocks[i], forces[i] = sys.elements[i].rotated(x)
	})

	g := mat.NewVecDense(x.Len(), nil)
	for e, el := range sys.elements {
		for a, node := range el.nodes {
			for c := 0; c < 3; c++ {
				k := 3*node + c
				g.SetVec(k, g.AtVec(k)+forces[e][3*a+c])
			}
		}
	}
	k, err := assemble(len(sys.nodes), sys.elements, blocks)
	return k, g, err
}

// rotated returns R·Ke·Rᵀ and R·Ke·(Rᵀx - x0) for the element, with R
// applied block-wise to each node.
func (el *element) rotated(x *mat.VecDense) (*mat.Dense, [12]float64) {
	r := el.rotation(x)
	rb := mat.NewDense(12, 12, nil)
	for a := 0; a < 4; a++ {
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				rb.Set(3*a+i, 3*a+j, r.At(i, j))
			}
		}
	}

	var rk mat.Dense
	rk.Mul(rb, el.ke)
	kr := mat.NewDense(12, 12, nil)
	kr.Mul(&rk, rb.T())

	xe := mat.NewVecDense(12, nil)
	for a, node := range el.nodes {
		for c := 0; c < 3; c++ {
			xe.SetVec(3*a+c, x.AtVec(3*node+c))
		}
	}
	var local mat.VecDense
	local.MulVec(rb.T(), xe)
	for i := 0; i < 12; i++ {
		local.SetVec(i, local.AtVec(i)-el.rest[i])
	}
	var g mat.VecDense
	g.MulVec(&rk, &local)

	var out [12]float64
	for i := range out {
		out[i] = g.AtVec(i)
	}
	return kr, out
}

// rotation extracts the rotation of the deformation gradient
// F = Ds·Dm⁻¹ of the element.
func (el *element) rotation(x *mat.VecDense) *mat.Dense {
	ds := mat.NewDense(3, 3, nil)
	n0 := el.nodes[0]
	for c := 1; c < 4; c++ {
		nc := el.nodes[c]
		for row := 0; row < 3; row++ {
			ds.Set(row, c-1, x.AtVec(3*nc+row)-x.AtVec(3*n0+row))
		}
	}
	var f mat.Dense
	f.Mul(ds, el.dmInv)
	return polarRotation(&f)
}

// polarRotation returns the rotation factor of the polar decomposition
// F = R·S, taken from the SVD F = U·Σ·Vᵀ as R = U·Vᵀ. A reflection is
// turned into a rotation by flipping the axis of the smallest singular
// value.
func polarRotation(f mat.Matrix) *mat.Dense {
	var svd mat.SVD
	if !svd.Factorize(f, mat.SVDFull) {
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	r := mat.NewDense(3, 3, nil)
	r.Mul(&u, v.T())
	if mat.Det(r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	return r
}
