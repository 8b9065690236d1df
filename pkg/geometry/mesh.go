package geometry

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/r3"
)

// Material holds the per-mesh constants consumed by the animation systems.
type Material struct {
	Stiffness    float64 // Young's modulus for FEM, spring constant for mass-spring
	Density      float64
	Damping      float64
	PoissonRatio float64
}

// Mesh aggregates the nodes and primitives of one body. The mesh owns its
// nodes; primitives reference them. BoundingBox is built once by the caller
// over the surface or volume primitives and refit every step.
type Mesh struct {
	Material
	ID   uuid.UUID
	Name string

	Nodes            []*Node
	SurfaceTriangles []*Triangle
	Triangles        []*Triangle
	Tetrahedra       []*Tetrahedron
	Edges            []*Edge
	BoundingBox      *HierarchicalAABB

	InitArea   float64
	InitVolume float64
}

// NewMesh returns an empty mesh with the given material.
func NewMesh(name string, m Material) *Mesh {
	return &Mesh{Material: m, ID: uuid.New(), Name: name}
}

func (m *Mesh) String() string {
	return fmt.Sprintf("mesh %s (%s): %d nodes, %d tets, %d surface triangles, %d edges",
		m.Name, m.ID.String()[:8], len(m.Nodes), len(m.Tetrahedra), len(m.SurfaceTriangles), len(m.Edges))
}

// Compute derives the topology the mesh is missing. With tetrahedra it
// extracts the surface triangles and, when edges is true, the tetrahedral
// edges. Without tetrahedra it takes the triangle list as the surface and,
// when edges is true, builds springs from triangle edges. It then sets node
// masses and the rest area and volume.
func (m *Mesh) Compute(edges bool) {
	if len(m.Tetrahedra) > 0 {
		if len(m.SurfaceTriangles) == 0 {
			m.TetsToTriangles()
		}
		if edges && len(m.Edges) == 0 {
			m.TetsToEdges()
		}
	} else {
		if len(m.SurfaceTriangles) == 0 {
			m.SurfaceTriangles = m.Triangles
		}
		if edges && len(m.Edges) == 0 {
			m.TrianglesToEdges()
		}
	}
	if len(m.Nodes) == 0 {
		if len(m.Tetrahedra) > 0 {
			m.TetsToNodes()
		} else if len(m.SurfaceTriangles) > 0 {
			m.TrianglesToNodes()
		} else {
			m.Nodes = NodesOf(m.Edges)
		}
	}
	m.ComputePerNodeMass()
	m.InitArea = m.Area()
	m.InitVolume = lo.SumBy(m.Tetrahedra, func(t *Tetrahedron) float64 { return t.InitVolume() })
}

// ResetIDs numbers the nodes by their index.
func (m *Mesh) ResetIDs() {
	for i, n := range m.Nodes {
		n.ID = i
	}
}

// ---------------------------------------------------------------------------
// Topology extraction
// ---------------------------------------------------------------------------

// TetsToNodes sets Nodes to the distinct nodes of the tetrahedra.
func (m *Mesh) TetsToNodes() {
	m.Nodes = NodesOf(m.Tetrahedra)
}

// TrianglesToNodes sets Nodes to the distinct nodes of the surface.
func (m *Mesh) TrianglesToNodes() {
	m.Nodes = NodesOf(m.SurfaceTriangles)
}

// TetsToEdges sets Edges to the distinct edges of the tetrahedra.
func (m *Mesh) TetsToEdges() {
	seen := make(map[[2]*Node]struct{})
	m.Edges = nil
	for _, t := range m.Tetrahedra {
		nodes := t.Nodes()
		for _, e := range tetEdges {
			m.addEdge(seen, nodes[e[0]], nodes[e[1]])
		}
	}
}

// TrianglesToEdges sets Edges to the distinct edges of the surface.
func (m *Mesh) TrianglesToEdges() {
	seen := make(map[[2]*Node]struct{})
	m.Edges = nil
	for _, t := range m.SurfaceTriangles {
		m.addEdge(seen, t.Node0, t.Node1)
		m.addEdge(seen, t.Node1, t.Node2)
		m.addEdge(seen, t.Node2, t.Node0)
	}
}

func (m *Mesh) addEdge(seen map[[2]*Node]struct{}, a, b *Node) {
	if _, ok := seen[[2]*Node{a, b}]; ok {
		return
	}
	if _, ok := seen[[2]*Node{b, a}]; ok {
		return
	}
	seen[[2]*Node{a, b}] = struct{}{}
	m.Edges = append(m.Edges, NewEdge(a, b))
}

// TetsToTriangles extracts the boundary of the tetrahedral mesh. A face
// shared by two tetrahedra is interior; a face seen once is on the surface.
// Surface faces keep the outward winding of their tetrahedron and their
// nodes are flagged as surface nodes.
func (m *Mesh) TetsToTriangles() {
	type face struct {
		tri   *Triangle
		count int
	}
	faces := make(map[[3]*Node]*face)
	var order [][3]*Node
	for _, t := range m.Tetrahedra {
		for _, tri := range t.Triangles() {
			key := sortedNodes(tri.Node0, tri.Node1, tri.Node2)
			if f, ok := faces[key]; ok {
				f.count++
				continue
			}
			faces[key] = &face{tri: tri, count: 1}
			order = append(order, key)
		}
	}

	m.SurfaceTriangles = m.SurfaceTriangles[:0]
	for _, key := range order {
		f := faces[key]
		if f.count != 1 {
			continue
		}
		for _, n := range f.tri.Nodes() {
			n.Surface = true
		}
		m.SurfaceTriangles = append(m.SurfaceTriangles, f.tri)
	}
}

// sortedNodes orders three nodes by id, breaking ties by position so keys
// stay stable on meshes whose ids have not been assigned.
func sortedNodes(a, b, c *Node) [3]*Node {
	ns := [3]*Node{a, b, c}
	less := func(x, y *Node) bool {
		if x.ID != y.ID {
			return x.ID < y.ID
		}
		px, py := x.InitPosition, y.InitPosition
		if px.X != py.X {
			return px.X < py.X
		}
		if px.Y != py.Y {
			return px.Y < py.Y
		}
		return px.Z < py.Z
	}
	if less(ns[1], ns[0]) {
		ns[0], ns[1] = ns[1], ns[0]
	}
	if less(ns[2], ns[1]) {
		ns[1], ns[2] = ns[2], ns[1]
	}
	if less(ns[1], ns[0]) {
		ns[0], ns[1] = ns[1], ns[0]
	}
	return ns
}

// ---------------------------------------------------------------------------
// Mass, measures and normals
// ---------------------------------------------------------------------------

// ComputePerNodeMass distributes mass to the nodes. With tetrahedra each
// node receives a quarter of density times the rest volume of every
// incident tetrahedron; without, every node gets mass equal to the density.
func (m *Mesh) ComputePerNodeMass() {
	for _, n := range m.Nodes {
		if len(m.Tetrahedra) == 0 {
			n.Mass = m.Density
		} else {
			n.Mass = 0
		}
	}
	for _, t := range m.Tetrahedra {
		share := t.InitVolume() * m.Density * 0.25
		for _, n := range t.Nodes() {
			n.Mass += share
		}
	}
}

// TotalMass returns the sum of node masses.
func (m *Mesh) TotalMass() float64 {
	return lo.SumBy(m.Nodes, func(n *Node) float64 { return n.Mass })
}

// Volume returns the current tetrahedral volume.
func (m *Mesh) Volume() float64 {
	return lo.SumBy(m.Tetrahedra, func(t *Tetrahedron) float64 { return t.Volume() })
}

// Area returns the current surface area.
func (m *Mesh) Area() float64 {
	return lo.SumBy(m.SurfaceTriangles, func(t *Triangle) float64 { return t.Area() })
}

// ComputeNormals sets each surface node's normal to the normalized sum of
// the area-weighted normals of its incident surface triangles.
func (m *Mesh) ComputeNormals() {
	for _, n := range m.Nodes {
		n.Normal = Vec3{}
	}
	for _, t := range m.SurfaceTriangles {
		fn := t.Normal()
		for _, n := range t.Nodes() {
			n.Normal = r3.Add(n.Normal, fn)
		}
	}
	for _, n := range m.Nodes {
		if u, ok := SafeUnit(n.Normal); ok {
			n.Normal = u
		}
	}
}

// Displacement summarizes how far nodes moved from their rest positions.
type Displacement struct {
	Mean float64
	Max  float64
	Min  float64
	RMS  float64
}

// PositionDifference measures the distance of every node from its rest
// position.
func (m *Mesh) PositionDifference() Displacement {
	return PositionDifference(m.Nodes)
}

// PositionDifference measures the distance of the nodes from their rest
// positions.
func PositionDifference(nodes []*Node) Displacement {
	if len(nodes) == 0 {
		return Displacement{}
	}
	d := Displacement{Min: math.Inf(1)}
	var sum, sum2 float64
	for _, n := range nodes {
		l := r3.Norm(n.Displacement())
		sum += l
		sum2 += l * l
		d.Max = math.Max(d.Max, l)
		d.Min = math.Min(d.Min, l)
	}
	count := float64(len(nodes))
	d.Mean = sum / count
	d.RMS = math.Sqrt(sum2 / count)
	return d
}

// ---------------------------------------------------------------------------
// Per-step helpers
// ---------------------------------------------------------------------------

// ClearForces zeroes all node forces.
func (m *Mesh) ClearForces() { ClearForces(m.Nodes) }

// ClearCollisions resets all node collide flags.
func (m *Mesh) ClearCollisions() { ClearCollisions(m.Nodes) }

// ClearVelocities zeroes all node velocities.
func (m *Mesh) ClearVelocities() { ClearVelocities(m.Nodes) }

// ResetPositions moves all nodes back to rest.
func (m *Mesh) ResetPositions() { ResetPositions(m.Nodes) }

// BuildBoundingBox builds the hierarchy over the surface triangles, or over
// the edges when the mesh has no surface.
func (m *Mesh) BuildBoundingBox(cellSize int) *HierarchicalAABB {
	if len(m.SurfaceTriangles) > 0 {
		m.BoundingBox = NewHierarchicalAABB(AsPrimitives(m.SurfaceTriangles), cellSize)
	} else {
		m.BoundingBox = NewHierarchicalAABB(AsPrimitives(m.Edges), cellSize)
	}
	return m.BoundingBox
}

// Copy returns a deep copy with fresh nodes and primitives over them. The
// bounding box is rebuilt if the original had one.
func (m *Mesh) Copy() *Mesh {
	c := NewMesh(m.Name, m.Material)
	c.InitArea = m.InitArea
	c.InitVolume = m.InitVolume

	remap := make(map[*Node]*Node, len(m.Nodes))
	for _, n := range m.Nodes {
		cp := *n
		remap[n] = &cp
		c.Nodes = append(c.Nodes, &cp)
	}
	get := func(n *Node) *Node {
		if cp, ok := remap[n]; ok {
			return cp
		}
		cp := *n
		remap[n] = &cp
		return &cp
	}
	copyTris := func(ts []*Triangle) []*Triangle {
		return lo.Map(ts, func(t *Triangle, _ int) *Triangle {
			return NewTriangle(get(t.Node0), get(t.Node1), get(t.Node2))
		})
	}
	c.SurfaceTriangles = copyTris(m.SurfaceTriangles)
	c.Triangles = copyTris(m.Triangles)
	c.Tetrahedra = lo.Map(m.Tetrahedra, func(t *Tetrahedron, _ int) *Tetrahedron {
		return NewTetrahedron(get(t.Node0), get(t.Node1), get(t.Node2), get(t.Node3))
	})
	c.Edges = lo.Map(m.Edges, func(e *Edge, _ int) *Edge {
		ce := NewEdge(get(e.Node0), get(e.Node1))
		ce.RestLength = e.RestLength
		return ce
	})
	if m.BoundingBox != nil {
		c.BuildBoundingBox(DefaultCellSize)
	}
	return c
}
