package collision

import (
	"math"

	"github.com/chazu/softbody/pkg/geometry"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultThreshold is the default penetration floor for capsule contacts.
const DefaultThreshold = 0.1

// capsuleGap returns the closest points of two edges and the signed gap
// between their capsules. Each capsule's radius is the larger of its
// endpoint radii.
func capsuleGap(e0, e1 *geometry.Edge) (p0 geometry.Vec3, t0 float64, p1 geometry.Vec3, t1 float64, gap float64) {
	p0, t0, p1, t1 = geometry.ProjectSegments(e0.Node0.Position, e0.Node1.Position, e1.Node0.Position, e1.Node1.Position)
	r0 := math.Max(e0.Node0.Radius, e0.Node1.Radius)
	r1 := math.Max(e1.Node0.Radius, e1.Node1.Radius)
	gap = geometry.Distance(p0, p1) - (r0 + r1)
	return p0, t0, p1, t1, gap
}

// EdgesCollide reports whether the capsules around two edges overlap.
func EdgesCollide(e0, e1 *geometry.Edge) bool {
	_, _, _, _, gap := capsuleGap(e0, e1)
	return gap < 0
}

// capsuleContact tests two capsules and, on contact, pushes them apart
// along the line between their closest points. Penetrations shallower than
// threshold are treated as threshold deep. The force is split between each
// edge's endpoints by the closest point's parameter.
func capsuleContact(e0, e1 *geometry.Edge, stiffness, threshold float64, c *contacts) bool {
	p0, t0, p1, t1, gap := capsuleGap(e0, e1)
	if gap >= 0 {
		return false
	}
	c.touch(e0.Node0, e0.Node1, e1.Node0, e1.Node1)

	if gap > -threshold {
		gap = -threshold
	}
	dir, ok := geometry.SafeUnit(r3.Sub(p1, p0))
	if !ok {
		// The axes cross; separate along their common normal.
		dir, ok = geometry.SafeUnit(r3.Cross(
			r3.Sub(e0.Node1.Position, e0.Node0.Position),
			r3.Sub(e1.Node1.Position, e1.Node0.Position),
		))
		if !ok {
			return true
		}
	}

	f := r3.Scale(stiffness*gap, dir)
	c.addForce(e0.Node0, r3.Scale(1-t0, f))
	c.addForce(e0.Node1, r3.Scale(t0, f))
	c.addForce(e1.Node0, r3.Scale(-(1 - t1), f))
	c.addForce(e1.Node1, r3.Scale(-t1, f))
	return true
}
