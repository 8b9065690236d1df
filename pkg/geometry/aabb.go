package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// AABB is an axis-aligned box. The empty box has +Inf lower and -Inf upper
// corners so that uniting into it always yields the other operand. All
// containment and overlap tests are inclusive.
type AABB struct {
	lower Vec3
	upper Vec3
}

// NewAABB returns an empty box.
func NewAABB() *AABB {
	b := &AABB{}
	b.Clear()
	return b
}

// NewAABBFromLimits returns the box [lower, upper].
func NewAABBFromLimits(lower, upper Vec3) *AABB {
	return &AABB{lower: lower, upper: upper}
}

// NewAABBFromPrimitives returns the union of the primitives' cached limits.
func NewAABBFromPrimitives(ps []Primitive) *AABB {
	b := NewAABB()
	b.UnitePrimitives(ps)
	return b
}

func (b *AABB) Lower() Vec3 { return b.lower }
func (b *AABB) Upper() Vec3 { return b.upper }

// SetLimits replaces both corners.
func (b *AABB) SetLimits(lower, upper Vec3) {
	b.lower = lower
	b.upper = upper
}

// Clear makes the box empty.
func (b *AABB) Clear() {
	b.lower = Vec3{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	b.upper = Vec3{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
}

// Empty reports whether the box contains no point.
func (b *AABB) Empty() bool {
	return b.lower.X > b.upper.X || b.lower.Y > b.upper.Y || b.lower.Z > b.upper.Z
}

// Center returns the midpoint of the box.
func (b *AABB) Center() Vec3 {
	return r3.Scale(0.5, r3.Add(b.lower, b.upper))
}

// Size returns upper - lower.
func (b *AABB) Size() Vec3 {
	return r3.Sub(b.upper, b.lower)
}

// Radius returns half the diagonal length, or 0 for an empty box.
func (b *AABB) Radius() float64 {
	if b.Empty() {
		return 0
	}
	return 0.5 * r3.Norm(b.Size())
}

// LongestAxis returns the axis of greatest extent, preferring x then y on
// ties.
func (b *AABB) LongestAxis() int {
	s := b.Size()
	switch {
	case s.X >= s.Y && s.X >= s.Z:
		return AxisX
	case s.Y >= s.Z:
		return AxisY
	default:
		return AxisZ
	}
}

func (b *AABB) String() string {
	return fmt.Sprintf("[(%g, %g, %g) (%g, %g, %g)]",
		b.lower.X, b.lower.Y, b.lower.Z, b.upper.X, b.upper.Y, b.upper.Z)
}

// ---------------------------------------------------------------------------
// Overlap and containment
// ---------------------------------------------------------------------------

func (b *AABB) collidesLimits(lower, upper Vec3) bool {
	return b.lower.X <= upper.X && lower.X <= b.upper.X &&
		b.lower.Y <= upper.Y && lower.Y <= b.upper.Y &&
		b.lower.Z <= upper.Z && lower.Z <= b.upper.Z
}

func (b *AABB) containsLimits(lower, upper Vec3) bool {
	return b.lower.X <= lower.X && upper.X <= b.upper.X &&
		b.lower.Y <= lower.Y && upper.Y <= b.upper.Y &&
		b.lower.Z <= lower.Z && upper.Z <= b.upper.Z
}

// Collides reports whether the boxes overlap.
func (b *AABB) Collides(o *AABB) bool { return b.collidesLimits(o.lower, o.upper) }

// CollidesPrimitive reports whether p's limits overlap the box.
func (b *AABB) CollidesPrimitive(p Primitive) bool {
	return b.collidesLimits(p.LowerLimit(), p.UpperLimit())
}

// CollidesNode reports whether the node's sphere overlaps the box.
func (b *AABB) CollidesNode(n *Node) bool {
	r := Vec3{X: n.Radius, Y: n.Radius, Z: n.Radius}
	return b.collidesLimits(r3.Sub(n.Position, r), r3.Add(n.Position, r))
}

// ContainsPoint reports whether v lies inside the box.
func (b *AABB) ContainsPoint(v Vec3) bool { return b.containsLimits(v, v) }

// Contains reports whether o lies fully inside the box.
func (b *AABB) Contains(o *AABB) bool { return b.containsLimits(o.lower, o.upper) }

// ContainsPrimitive reports whether p's limits lie fully inside the box.
func (b *AABB) ContainsPrimitive(p Primitive) bool {
	return b.containsLimits(p.LowerLimit(), p.UpperLimit())
}

// ---------------------------------------------------------------------------
// Union and refitting
// ---------------------------------------------------------------------------

// UnitePoint grows the box to include v.
func (b *AABB) UnitePoint(v Vec3) {
	b.lower = MinElem(b.lower, v)
	b.upper = MaxElem(b.upper, v)
}

// UniteLimits grows the box to include [lower, upper].
func (b *AABB) UniteLimits(lower, upper Vec3) {
	b.lower = MinElem(b.lower, lower)
	b.upper = MaxElem(b.upper, upper)
}

// Unite grows the box to include o.
func (b *AABB) Unite(o *AABB) { b.UniteLimits(o.lower, o.upper) }

// UnitePrimitives grows the box to include the cached limits of ps.
func (b *AABB) UnitePrimitives(ps []Primitive) {
	for _, p := range ps {
		b.UniteLimits(p.LowerLimit(), p.UpperLimit())
	}
}

// FitPrimitives updates every primitive and resets the box to their union.
func (b *AABB) FitPrimitives(ps []Primitive) {
	b.Clear()
	for _, p := range ps {
		p.Update()
		b.UniteLimits(p.LowerLimit(), p.UpperLimit())
	}
}

// FitNodes resets the box to the union of the nodes' spheres.
func (b *AABB) FitNodes(nodes []*Node) {
	b.Clear()
	for _, n := range nodes {
		r := Vec3{X: n.Radius, Y: n.Radius, Z: n.Radius}
		b.UniteLimits(r3.Sub(n.Position, r), r3.Add(n.Position, r))
	}
}

// Resize scales the box about its center: each half extent grows by factor
// times itself. Empty boxes are left alone.
func (b *AABB) Resize(factor float64) {
	if b.Empty() {
		return
	}
	axis := r3.Sub(b.upper, b.Center())
	b.lower = r3.Sub(b.lower, r3.Scale(factor, axis))
	b.upper = r3.Add(b.upper, r3.Scale(factor, axis))
}

// ---------------------------------------------------------------------------
// Domain constraints
// ---------------------------------------------------------------------------

// Delimit clamps free nodes back inside the box, axis by axis, and zeroes
// the velocity of any node it moves. It returns the number of nodes moved.
func (b *AABB) Delimit(nodes []*Node) int {
	moved := 0
	for _, n := range nodes {
		if !n.Free() {
			continue
		}
		if changed, _ := b.clampNode(n); changed {
			n.Velocity = Vec3{}
			moved++
		}
	}
	return moved
}

// Confine clamps every node, fixed and anchor nodes included, onto the box
// and zeroes the velocity of each node touching or crossing a wall. It
// returns the number of such nodes.
func (b *AABB) Confine(nodes []*Node) int {
	hits := 0
	for _, n := range nodes {
		if _, touched := b.clampNode(n); touched {
			n.Velocity = Vec3{}
			hits++
		}
	}
	return hits
}

// clampNode clamps n onto the box. moved reports a position change, touched
// that some coordinate now lies on a wall.
func (b *AABB) clampNode(n *Node) (moved, touched bool) {
	p := n.Position
	clampAxis := func(v *float64, lo, hi float64) {
		if *v <= lo {
			if *v != lo {
				moved = true
			}
			*v = lo
			touched = true
		} else if *v >= hi {
			if *v != hi {
				moved = true
			}
			*v = hi
			touched = true
		}
	}
	clampAxis(&p.X, b.lower.X, b.upper.X)
	clampAxis(&p.Y, b.lower.Y, b.upper.Y)
	clampAxis(&p.Z, b.lower.Z, b.upper.Z)
	n.Position = p
	return moved, touched
}

// FixOutsideNodes marks every node outside the box as fixed and returns how
// many it marked.
func (b *AABB) FixOutsideNodes(nodes []*Node) int {
	count := 0
	for _, n := range nodes {
		if !b.ContainsPoint(n.Position) {
			n.Fix = true
			count++
		}
	}
	return count
}
