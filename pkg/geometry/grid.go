package geometry

import "gonum.org/v1/gonum/spatial/r3"

// kuhnPaths lists the axis orders of the six tetrahedra of a Kuhn cube
// split. Every tetrahedron runs from corner 0 to corner 7 along one path,
// so neighbouring cells split their shared faces the same way.
var kuhnPaths = [6][3]int{
	{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
}

// NewTetGrid builds a box of cells[0] x cells[1] x cells[2] cubes starting at
// origin with the given size, each cube split into six positively oriented
// tetrahedra. Surface triangles, edges and masses are computed and a
// hierarchy over the surface is built.
func NewTetGrid(name string, origin, size Vec3, cells [3]int, radius float64, mat Material) *Mesh {
	for i := range cells {
		if cells[i] < 1 {
			cells[i] = 1
		}
	}
	nx, ny, nz := cells[0]+1, cells[1]+1, cells[2]+1
	step := Vec3{X: size.X / float64(cells[0]), Y: size.Y / float64(cells[1]), Z: size.Z / float64(cells[2])}

	m := NewMesh(name, mat)
	index := func(i, j, k int) int { return (k*ny+j)*nx + i }
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				p := r3.Add(origin, Vec3{X: float64(i) * step.X, Y: float64(j) * step.Y, Z: float64(k) * step.Z})
				m.Nodes = append(m.Nodes, NewNode(p, len(m.Nodes), radius))
			}
		}
	}

	for k := 0; k < cells[2]; k++ {
		for j := 0; j < cells[1]; j++ {
			for i := 0; i < cells[0]; i++ {
				corner := func(bits [3]int) *Node {
					return m.Nodes[index(i+bits[0], j+bits[1], k+bits[2])]
				}
				for _, path := range kuhnPaths {
					var c [3]int
					v0 := corner(c)
					c[path[0]] = 1
					v1 := corner(c)
					c[path[1]] = 1
					v2 := corner(c)
					c[path[2]] = 1
					v3 := corner(c)
					t := &Tetrahedron{Node0: v0, Node1: v1, Node2: v2, Node3: v3}
					t.Orient()
					t.Update()
					m.Tetrahedra = append(m.Tetrahedra, t)
				}
			}
		}
	}

	m.Compute(true)
	m.BuildBoundingBox(DefaultCellSize)
	return m
}

// NewStrand builds a chain of capsule edges through points, with every
// node carrying the given radius. Mass is the material density per node.
func NewStrand(name string, points []Vec3, radius float64, mat Material) *Mesh {
	m := NewMesh(name, mat)
	for i, p := range points {
		m.Nodes = append(m.Nodes, NewNode(p, i, radius))
	}
	for i := 1; i < len(m.Nodes); i++ {
		m.Edges = append(m.Edges, NewEdge(m.Nodes[i-1], m.Nodes[i]))
	}
	m.ComputePerNodeMass()
	m.BuildBoundingBox(DefaultCellSize)
	return m
}
