package geometry

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// Tetrahedron is a four-node volume element. A positively oriented
// tetrahedron has det(x1-x0, x2-x0, x3-x0) > 0 at rest.
type Tetrahedron struct {
	limits
	Node0 *Node
	Node1 *Node
	Node2 *Node
	Node3 *Node

	once       sync.Once
	initVolume float64
}

// tetFaces lists the node indices of each face, wound so that normals point
// outward for a positively oriented tetrahedron.
var tetFaces = [4][3]int{{0, 1, 3}, {0, 2, 1}, {0, 3, 2}, {1, 2, 3}}

// tetEdges lists the node indices of the six edges.
var tetEdges = [6][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}

// NewTetrahedron creates a tetrahedron and computes its limits.
func NewTetrahedron(n0, n1, n2, n3 *Node) *Tetrahedron {
	t := &Tetrahedron{Node0: n0, Node1: n1, Node2: n2, Node3: n3}
	t.Update()
	return t
}

func (t *Tetrahedron) Nodes() []*Node { return []*Node{t.Node0, t.Node1, t.Node2, t.Node3} }

// Update recomputes the limits from the current node positions.
func (t *Tetrahedron) Update() { t.fit(t.Node0, t.Node1, t.Node2, t.Node3) }

// InitVolume returns the rest volume. It is computed once, on first use,
// from the nodes' rest positions.
func (t *Tetrahedron) InitVolume() float64 {
	t.once.Do(func() {
		t.initVolume = math.Abs(signedVolume(t.Node0.InitPosition, t.Node1.InitPosition,
			t.Node2.InitPosition, t.Node3.InitPosition))
	})
	return t.initVolume
}

// Volume returns the current unsigned volume.
func (t *Tetrahedron) Volume() float64 {
	return math.Abs(t.SignedVolume())
}

// SignedVolume returns the current volume, negative when inverted.
func (t *Tetrahedron) SignedVolume() float64 {
	return signedVolume(t.Node0.Position, t.Node1.Position, t.Node2.Position, t.Node3.Position)
}

// Triangles returns the four faces as new triangles.
func (t *Tetrahedron) Triangles() []*Triangle {
	nodes := t.Nodes()
	out := make([]*Triangle, 0, 4)
	for _, f := range tetFaces {
		out = append(out, NewTriangle(nodes[f[0]], nodes[f[1]], nodes[f[2]]))
	}
	return out
}

// Edges returns the six edges as new springs.
func (t *Tetrahedron) Edges() []*Edge {
	nodes := t.Nodes()
	out := make([]*Edge, 0, 6)
	for _, e := range tetEdges {
		out = append(out, NewEdge(nodes[e[0]], nodes[e[1]]))
	}
	return out
}

// Orient swaps two nodes if the rest configuration is negatively oriented.
// It must run before InitVolume is first called.
func (t *Tetrahedron) Orient() {
	if signedVolume(t.Node0.InitPosition, t.Node1.InitPosition, t.Node2.InitPosition, t.Node3.InitPosition) < 0 {
		t.Node2, t.Node3 = t.Node3, t.Node2
	}
}

func signedVolume(x0, x1, x2, x3 Vec3) float64 {
	return Determinant(r3.Sub(x1, x0), r3.Sub(x2, x0), r3.Sub(x3, x0)) / 6
}
