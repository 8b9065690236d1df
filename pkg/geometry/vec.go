package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is the vector type for positions, velocities and forces.
type Vec3 = r3.Vec

// Threshold is the length below which segments are treated as points.
const Threshold = 0.001

// epsilon guards normalization of cross products and closest-point
// directions against division by zero.
const epsilon = 1e-12

// Axis indices.
const (
	AxisX = iota
	AxisY
	AxisZ
)

// Clamp limits v to the closed interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mix linearly interpolates between a (t=0) and b (t=1).
func Mix(a, b Vec3, t float64) Vec3 {
	return r3.Add(r3.Scale(1-t, a), r3.Scale(t, b))
}

// Distance returns |b - a|.
func Distance(a, b Vec3) float64 {
	return r3.Norm(r3.Sub(b, a))
}

// MinElem returns the componentwise minimum of a and b.
func MinElem(a, b Vec3) Vec3 {
	return Vec3{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)}
}

// MaxElem returns the componentwise maximum of a and b.
func MaxElem(a, b Vec3) Vec3 {
	return Vec3{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)}
}

// Component returns the coordinate of v on the given axis.
func Component(v Vec3, axis int) float64 {
	switch axis {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

// SafeUnit returns v normalized, or false when v is too short to normalize.
func SafeUnit(v Vec3) (Vec3, bool) {
	n := r3.Norm(v)
	if n < epsilon {
		return Vec3{}, false
	}
	return r3.Scale(1/n, v), true
}

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v Vec3) bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Determinant returns the determinant of the 3x3 matrix whose columns are
// a, b and c.
func Determinant(a, b, c Vec3) float64 {
	m := r3.NewMat([]float64{
		a.X, b.X, c.X,
		a.Y, b.Y, c.Y,
		a.Z, b.Z, c.Z,
	})
	return m.Det()
}

// ProjectPoint returns the point of segment ab closest to p together with
// its parameter t in [0, 1]. Segments shorter than Threshold collapse to a.
func ProjectPoint(p, a, b Vec3) (Vec3, float64) {
	ab := r3.Sub(b, a)
	l2 := r3.Norm2(ab)
	if l2 < Threshold*Threshold {
		return a, 0
	}
	t := Clamp(r3.Dot(r3.Sub(p, a), ab)/l2, 0, 1)
	return r3.Add(a, r3.Scale(t, ab)), t
}

// ProjectSegments returns the closest points between segments ab and cd:
// p0 on ab at parameter t0 and p1 on cd at parameter t1.
//
// Both segments are first projected onto the plane orthogonal to cd, where
// cd collapses to a point, which gives the parameter on ab. One round of
// alternating point projections then settles p1 and p0.
func ProjectSegments(a, b, c, d Vec3) (p0 Vec3, t0 float64, p1 Vec3, t1 float64) {
	dc := r3.Sub(d, c)
	l1 := r3.Norm2(dc)
	if l1 < Threshold*Threshold {
		p0, t0 = ProjectPoint(c, a, b)
		return p0, t0, c, 0
	}

	ap := r3.Sub(a, r3.Scale(r3.Dot(r3.Sub(a, c), dc)/l1, dc))
	bp := r3.Sub(b, r3.Scale(r3.Dot(r3.Sub(b, c), dc)/l1, dc))
	bap := r3.Sub(bp, ap)
	l0 := r3.Norm2(bap)
	if l0 >= Threshold*Threshold {
		t0 = Clamp(r3.Dot(r3.Sub(c, ap), bap)/l0, 0, 1)
	}

	p0 = Mix(a, b, t0)
	p1, t1 = ProjectPoint(p0, c, d)
	p0, t0 = ProjectPoint(p1, a, b)
	return p0, t0, p1, t1
}
