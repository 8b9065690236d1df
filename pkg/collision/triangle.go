package collision

import (
	"math"

	"github.com/chazu/softbody/pkg/geometry"
	"gonum.org/v1/gonum/spatial/r3"
)

// degenerateNormal is the cross-product length below which a triangle has
// no usable plane.
const degenerateNormal = 1e-12

// coplanarEpsilon bounds |n0 x n1|^2 relative to |n0|^2 |n1|^2 for planes
// treated as coplanar.
const coplanarEpsilon = 1e-20

// triangleHit describes a confirmed triangle intersection: the unit normals
// and each triangle's signed distances to the other's plane.
type triangleHit struct {
	n0, n1 geometry.Vec3
	d0, d1 [3]float64
}

// TrianglesIntersect reports whether two triangles intersect. It is
// symmetric in its arguments and never panics on degenerate input.
func TrianglesIntersect(t0, t1 *geometry.Triangle) bool {
	_, ok := intersectTriangles(t0.Vertices(), t1.Vertices())
	return ok
}

// triangleContact tests two triangles and, on contact, pushes each
// penetrating vertex out along the opposing face normal by stiffness times
// its depth. All six nodes are flagged.
func triangleContact(t0, t1 *geometry.Triangle, stiffness float64, c *contacts) bool {
	hit, ok := intersectTriangles(t0.Vertices(), t1.Vertices())
	if !ok {
		return false
	}
	for i, n := range t0.Nodes() {
		if d := hit.d0[i]; d < 0 {
			c.addForce(n, r3.Scale(-d*stiffness, hit.n1))
		}
	}
	for i, n := range t1.Nodes() {
		if d := hit.d1[i]; d < 0 {
			c.addForce(n, r3.Scale(-d*stiffness, hit.n0))
		}
	}
	c.touch(t0.Nodes()...)
	c.touch(t1.Nodes()...)
	return true
}

func intersectTriangles(v0, v1 [3]geometry.Vec3) (triangleHit, bool) {
	var hit triangleHit

	n1 := r3.Cross(r3.Sub(v1[1], v1[0]), r3.Sub(v1[2], v1[0]))
	l1 := r3.Norm(n1)
	if l1 < degenerateNormal {
		return hit, false
	}
	hit.n1 = r3.Scale(1/l1, n1)
	for i := range v0 {
		hit.d0[i] = r3.Dot(hit.n1, r3.Sub(v0[i], v1[0]))
	}
	if sameSide(hit.d0) {
		return hit, false
	}

	n0 := r3.Cross(r3.Sub(v0[1], v0[0]), r3.Sub(v0[2], v0[0]))
	l0 := r3.Norm(n0)
	if l0 < degenerateNormal {
		return hit, false
	}
	hit.n0 = r3.Scale(1/l0, n0)
	for i := range v1 {
		hit.d1[i] = r3.Dot(hit.n0, r3.Sub(v1[i], v0[0]))
	}
	if sameSide(hit.d1) {
		return hit, false
	}

	dir := r3.Cross(hit.n0, hit.n1)
	if r3.Norm2(dir) <= coplanarEpsilon {
		return hit, coplanarOverlap(v0, v1, hit.n0)
	}

	// Project onto the largest axis of the intersection line; the intervals
	// are compared in that coordinate.
	axis := dominantAxis(dir)
	var p0, p1 [3]float64
	for i := 0; i < 3; i++ {
		p0[i] = geometry.Component(v0[i], axis)
		p1[i] = geometry.Component(v1[i], axis)
	}

	a0, b0, ok0 := interval(p0, hit.d0)
	a1, b1, ok1 := interval(p1, hit.d1)
	if !ok0 || !ok1 {
		return hit, coplanarOverlap(v0, v1, hit.n0)
	}
	if b0 < a1 || b1 < a0 {
		return hit, false
	}
	return hit, true
}

// sameSide reports whether all distances are nonzero and share one sign.
func sameSide(d [3]float64) bool {
	return (d[0] > 0 && d[1] > 0 && d[2] > 0) || (d[0] < 0 && d[1] < 0 && d[2] < 0)
}

func dominantAxis(v geometry.Vec3) int {
	ax, ay, az := math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)
	switch {
	case ax >= ay && ax >= az:
		return geometry.AxisX
	case ay >= az:
		return geometry.AxisY
	default:
		return geometry.AxisZ
	}
}

// interval returns the sorted extent on the intersection line of the
// segment where the triangle crosses the other plane. The pivot is the
// vertex alone on its side, chosen by sign comparison; ok is false when
// every distance is zero.
func interval(p, d [3]float64) (lo, hi float64, ok bool) {
	var pivot int
	switch {
	case d[0]*d[1] > 0:
		pivot = 2
	case d[0]*d[2] > 0:
		pivot = 1
	case d[1]*d[2] > 0 || d[0] != 0:
		pivot = 0
	case d[1] != 0:
		pivot = 1
	case d[2] != 0:
		pivot = 2
	default:
		return 0, 0, false
	}
	a, b := (pivot+1)%3, (pivot+2)%3
	ta := crossing(p[pivot], p[a], d[pivot], d[a])
	tb := crossing(p[pivot], p[b], d[pivot], d[b])
	if ta > tb {
		ta, tb = tb, ta
	}
	return ta, tb, true
}

// crossing interpolates the coordinate where the edge from the pivot to
// another vertex crosses the plane.
func crossing(pp, pv, dp, dv float64) float64 {
	den := dp - dv
	if den == 0 {
		return pp
	}
	return pp + (pv-pp)*dp/den
}

// ---------------------------------------------------------------------------
// Coplanar triangles
// ---------------------------------------------------------------------------

// coplanarOverlap tests two triangles lying in one plane by projecting them
// onto the coordinate plane most aligned with the normal.
func coplanarOverlap(v0, v1 [3]geometry.Vec3, n geometry.Vec3) bool {
	drop := dominantAxis(n)
	var a, b [3][2]float64
	for i := 0; i < 3; i++ {
		a[i] = project2(v0[i], drop)
		b[i] = project2(v1[i], drop)
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if segmentsIntersect2(a[i], a[(i+1)%3], b[j], b[(j+1)%3]) {
				return true
			}
		}
	}
	return pointInTriangle2(a[0], b) || pointInTriangle2(b[0], a)
}

func project2(v geometry.Vec3, drop int) [2]float64 {
	switch drop {
	case geometry.AxisX:
		return [2]float64{v.Y, v.Z}
	case geometry.AxisY:
		return [2]float64{v.X, v.Z}
	default:
		return [2]float64{v.X, v.Y}
	}
}

func orient2(a, b, c [2]float64) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment2(a, b, p [2]float64) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

func segmentsIntersect2(p1, p2, q1, q2 [2]float64) bool {
	d1 := orient2(q1, q2, p1)
	d2 := orient2(q1, q2, p2)
	d3 := orient2(p1, p2, q1)
	d4 := orient2(p1, p2, q2)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return (d1 == 0 && onSegment2(q1, q2, p1)) ||
		(d2 == 0 && onSegment2(q1, q2, p2)) ||
		(d3 == 0 && onSegment2(p1, p2, q1)) ||
		(d4 == 0 && onSegment2(p1, p2, q2))
}

func pointInTriangle2(p [2]float64, t [3][2]float64) bool {
	d0 := orient2(t[0], t[1], p)
	d1 := orient2(t[1], t[2], p)
	d2 := orient2(t[2], t[0], p)
	hasNeg := d0 < 0 || d1 < 0 || d2 < 0
	hasPos := d0 > 0 || d1 > 0 || d2 > 0
	return !(hasNeg && hasPos)
}
