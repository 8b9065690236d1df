package geometry

import (
	"math"

	"github.com/samber/lo"
)

// Edge is a two-node segment. In spring meshes RestLength is the natural
// length; in strands the node radii turn it into a capsule.
type Edge struct {
	limits
	Node0      *Node
	Node1      *Node
	RestLength float64
}

// NewEdge creates an edge whose rest length is the distance between the
// nodes' rest positions.
func NewEdge(n0, n1 *Node) *Edge {
	e := &Edge{Node0: n0, Node1: n1}
	e.RestLength = Distance(n0.InitPosition, n1.InitPosition)
	e.Update()
	return e
}

func (e *Edge) Nodes() []*Node { return []*Node{e.Node0, e.Node1} }

// Update recomputes the limits from the current node positions.
func (e *Edge) Update() { e.fit(e.Node0, e.Node1) }

// Length returns the current length.
func (e *Edge) Length() float64 {
	return Distance(e.Node0.Position, e.Node1.Position)
}

// Key identifies the edge by its node ids regardless of direction.
func (e *Edge) Key() [2]int {
	a, b := e.Node0.ID, e.Node1.ID
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// ComputeRestLengths sets each edge's rest length from its current node
// positions.
func ComputeRestLengths(edges []*Edge) {
	for _, e := range edges {
		e.RestLength = e.Length()
	}
}

// Resample splits every edge longer than maxLength into equal pieces no
// longer than maxLength. New nodes interpolate position and radius and are
// numbered after the highest existing id. It returns the new edge list and
// the nodes it created.
func Resample(edges []*Edge, maxLength float64) ([]*Edge, []*Node) {
	if maxLength <= Threshold {
		return edges, nil
	}
	nextID := lo.Max(lo.Map(NodesOf(edges), func(n *Node, _ int) int { return n.ID })) + 1

	var out []*Edge
	var created []*Node
	for _, e := range edges {
		l := e.Length()
		pieces := int(math.Ceil(l / maxLength))
		if pieces <= 1 {
			out = append(out, e)
			continue
		}
		prev := e.Node0
		for i := 1; i < pieces; i++ {
			t := float64(i) / float64(pieces)
			n := NewNode(Mix(e.Node0.Position, e.Node1.Position, t), nextID,
				e.Node0.Radius*(1-t)+e.Node1.Radius*t)
			n.InitPosition = Mix(e.Node0.InitPosition, e.Node1.InitPosition, t)
			n.Mass = e.Node0.Mass*(1-t) + e.Node1.Mass*t
			nextID++
			created = append(created, n)
			out = append(out, NewEdge(prev, n))
			prev = n
		}
		out = append(out, NewEdge(prev, e.Node1))
	}
	return out, created
}

// RemoveOutsideEdges drops edges that are not fully inside box.
func RemoveOutsideEdges(edges []*Edge, box *AABB) []*Edge {
	return lo.Filter(edges, func(e *Edge, _ int) bool {
		e.Update()
		return box.ContainsPrimitive(e)
	})
}
