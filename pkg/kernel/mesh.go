package kernel

import (
	"math"

	"github.com/chazu/softbody/pkg/geometry"
)

// Mesh is a flat triangle mesh, either straight out of a kernel or a
// snapshot of a simulated body's surface.
// All arrays are flat: vertices has 3 floats per vertex (x,y,z),
// normals has 3 floats per vertex, indices has 3 uint32s per triangle.
type Mesh struct {
	Vertices []float32 `json:"vertices"` // [x0,y0,z0, x1,y1,z1, ...]
	Normals  []float32 `json:"normals"`  // [nx0,ny0,nz0, ...]
	Indices  []uint32  `json:"indices"`  // [i0,i1,i2, ...] triangles
	BodyName string    `json:"bodyName"` // which scene body this came from
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices) / 3
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// IsEmpty returns true if the mesh has no geometry.
func (m *Mesh) IsEmpty() bool {
	return len(m.Vertices) == 0
}

func (m *Mesh) vertex(i uint32) geometry.Vec3 {
	return geometry.Vec3{
		X: float64(m.Vertices[3*i]),
		Y: float64(m.Vertices[3*i+1]),
		Z: float64(m.Vertices[3*i+2]),
	}
}

// Weld merges vertices closer than tolerance and returns the distinct
// positions together with the triangles re-indexed over them. Triangles
// that collapse onto fewer than three distinct vertices are dropped.
func (m *Mesh) Weld(tolerance float64) ([]geometry.Vec3, [][3]int) {
	if tolerance <= 0 {
		tolerance = 1e-6
	}
	type key [3]int64
	quantize := func(v geometry.Vec3) key {
		return key{
			int64(math.Round(v.X / tolerance)),
			int64(math.Round(v.Y / tolerance)),
			int64(math.Round(v.Z / tolerance)),
		}
	}

	var positions []geometry.Vec3
	index := make(map[key]int)
	remap := make([]int, m.VertexCount())
	for i := range remap {
		v := m.vertex(uint32(i))
		k := quantize(v)
		j, ok := index[k]
		if !ok {
			j = len(positions)
			index[k] = j
			positions = append(positions, v)
		}
		remap[i] = j
	}

	triangles := make([][3]int, 0, m.TriangleCount())
	for t := 0; t+2 < len(m.Indices); t += 3 {
		tri := [3]int{remap[m.Indices[t]], remap[m.Indices[t+1]], remap[m.Indices[t+2]]}
		if tri[0] == tri[1] || tri[1] == tri[2] || tri[0] == tri[2] {
			continue
		}
		triangles = append(triangles, tri)
	}
	return positions, triangles
}

// ToGeometry welds the mesh into a simulation mesh: one node per distinct
// vertex with the given radius, one triangle per face, a spring per
// triangle edge and a hierarchy over the surface.
func (m *Mesh) ToGeometry(name string, tolerance, radius float64, mat geometry.Material) *geometry.Mesh {
	positions, triangles := m.Weld(tolerance)
	g := geometry.NewMesh(name, mat)
	for i, p := range positions {
		g.Nodes = append(g.Nodes, geometry.NewNode(p, i, radius))
	}
	for _, t := range triangles {
		g.Triangles = append(g.Triangles, geometry.NewTriangle(g.Nodes[t[0]], g.Nodes[t[1]], g.Nodes[t[2]]))
	}
	for _, n := range g.Nodes {
		n.Surface = true
	}
	g.Compute(true)
	g.BuildBoundingBox(geometry.DefaultCellSize)
	return g
}

// FromGeometry snapshots the surface of a simulation mesh at its current
// positions. Surface triangles are indexed over the mesh's nodes, with
// area-weighted vertex normals. Meshes without triangles, such as strands,
// yield their nodes and no indices.
func FromGeometry(g *geometry.Mesh) *Mesh {
	g.ComputeNormals()
	index := make(map[*geometry.Node]uint32, len(g.Nodes))
	out := &Mesh{
		Vertices: make([]float32, 0, 3*len(g.Nodes)),
		Normals:  make([]float32, 0, 3*len(g.Nodes)),
		Indices:  make([]uint32, 0, 3*len(g.SurfaceTriangles)),
		BodyName: g.Name,
	}
	for i, n := range g.Nodes {
		index[n] = uint32(i)
		out.Vertices = append(out.Vertices, float32(n.Position.X), float32(n.Position.Y), float32(n.Position.Z))
		out.Normals = append(out.Normals, float32(n.Normal.X), float32(n.Normal.Y), float32(n.Normal.Z))
	}
	for _, t := range g.SurfaceTriangles {
		for _, n := range t.Nodes() {
			out.Indices = append(out.Indices, index[n])
		}
	}
	return out
}
