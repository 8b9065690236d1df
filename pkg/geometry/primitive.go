// Package geometry holds the simulation data model: nodes, the primitives
// built over them, axis-aligned boxes, the bounding-box hierarchy and meshes.
package geometry

import (
	"math"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/r3"
)

// Primitive is a geometric element over shared nodes. Its limits are only
// valid after Update has been called with the current node positions.
type Primitive interface {
	Nodes() []*Node
	Update()
	LowerLimit() Vec3
	UpperLimit() Vec3
	Center() Vec3
}

// limits is the cached bounding interval embedded by every primitive.
type limits struct {
	lower Vec3
	upper Vec3
}

func (l *limits) LowerLimit() Vec3 { return l.lower }
func (l *limits) UpperLimit() Vec3 { return l.upper }

// Center returns the midpoint of the cached limits.
func (l *limits) Center() Vec3 {
	return r3.Scale(0.5, r3.Add(l.lower, l.upper))
}

// fit recomputes the limits from node positions grown by node radius.
func (l *limits) fit(nodes ...*Node) {
	lower := Vec3{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	upper := Vec3{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, n := range nodes {
		r := Vec3{X: n.Radius, Y: n.Radius, Z: n.Radius}
		lower = MinElem(lower, r3.Sub(n.Position, r))
		upper = MaxElem(upper, r3.Add(n.Position, r))
	}
	l.lower = lower
	l.upper = upper
}

// LimitsOverlap reports whether the cached limits of a and b intersect.
// Touching boxes overlap.
func LimitsOverlap(a, b Primitive) bool {
	al, au := a.LowerLimit(), a.UpperLimit()
	bl, bu := b.LowerLimit(), b.UpperLimit()
	return al.X <= bu.X && bl.X <= au.X &&
		al.Y <= bu.Y && bl.Y <= au.Y &&
		al.Z <= bu.Z && bl.Z <= au.Z
}

// IsAnchor reports whether every node of p is an anchor.
func IsAnchor(p Primitive) bool {
	return lo.EveryBy(p.Nodes(), func(n *Node) bool { return n.Anchor })
}

// SharesNode reports whether a and b reference at least one common node.
func SharesNode(a, b Primitive) bool {
	for _, na := range a.Nodes() {
		for _, nb := range b.Nodes() {
			if na == nb {
				return true
			}
		}
	}
	return false
}

// AsPrimitives widens a typed primitive slice for the hierarchy and the
// collision queries.
func AsPrimitives[P Primitive](ps []P) []Primitive {
	return lo.Map(ps, func(p P, _ int) Primitive { return p })
}

// UpdateAll refreshes the limits of every primitive.
func UpdateAll[P Primitive](ps []P) {
	for _, p := range ps {
		p.Update()
	}
}

// NodesOf returns the distinct nodes referenced by ps in first-seen order.
func NodesOf[P Primitive](ps []P) []*Node {
	return lo.Uniq(lo.FlatMap(ps, func(p P, _ int) []*Node { return p.Nodes() }))
}
