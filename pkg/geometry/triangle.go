package geometry

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Triangle is a three-node face.
type Triangle struct {
	limits
	Node0 *Node
	Node1 *Node
	Node2 *Node
}

// NewTriangle creates a triangle and computes its limits.
func NewTriangle(n0, n1, n2 *Node) *Triangle {
	t := &Triangle{Node0: n0, Node1: n1, Node2: n2}
	t.Update()
	return t
}

func (t *Triangle) Nodes() []*Node { return []*Node{t.Node0, t.Node1, t.Node2} }

// Update recomputes the limits from the current node positions.
func (t *Triangle) Update() { t.fit(t.Node0, t.Node1, t.Node2) }

// Vertices returns the current node positions.
func (t *Triangle) Vertices() [3]Vec3 {
	return [3]Vec3{t.Node0.Position, t.Node1.Position, t.Node2.Position}
}

// Normal returns the unnormalized face normal (p1-p0)x(p2-p0).
func (t *Triangle) Normal() Vec3 {
	return r3.Cross(r3.Sub(t.Node1.Position, t.Node0.Position), r3.Sub(t.Node2.Position, t.Node0.Position))
}

// Area returns the current area.
func (t *Triangle) Area() float64 {
	return 0.5 * r3.Norm(t.Normal())
}

// InitArea returns the area at rest positions.
func (t *Triangle) InitArea() float64 {
	n := r3.Cross(r3.Sub(t.Node1.InitPosition, t.Node0.InitPosition), r3.Sub(t.Node2.InitPosition, t.Node0.InitPosition))
	return 0.5 * r3.Norm(n)
}

// Key identifies the triangle by its sorted node ids, independent of
// winding.
func (t *Triangle) Key() [3]int {
	ids := []int{t.Node0.ID, t.Node1.ID, t.Node2.ID}
	sort.Ints(ids)
	return [3]int{ids[0], ids[1], ids[2]}
}

// Edges returns the three boundary edges as new Edge values.
func (t *Triangle) Edges() []*Edge {
	return []*Edge{
		NewEdge(t.Node0, t.Node1),
		NewEdge(t.Node1, t.Node2),
		NewEdge(t.Node2, t.Node0),
	}
}
