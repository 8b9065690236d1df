package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a rigid motion: a rotation followed by a translation.
type Transform struct {
	Rotation    *r3.Mat
	Translation Vec3
}

// Identity returns the transform that leaves points in place.
func Identity() Transform {
	return Transform{Rotation: r3.NewMat([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})}
}

// EulerRotation returns the rotation by the given angles in degrees about
// X, then Y, then Z.
func EulerRotation(degrees Vec3) *r3.Mat {
	x, y, z := degrees.X*math.Pi/180, degrees.Y*math.Pi/180, degrees.Z*math.Pi/180
	rx := r3.NewMat([]float64{
		1, 0, 0,
		0, math.Cos(x), -math.Sin(x),
		0, math.Sin(x), math.Cos(x),
	})
	ry := r3.NewMat([]float64{
		math.Cos(y), 0, math.Sin(y),
		0, 1, 0,
		-math.Sin(y), 0, math.Cos(y),
	})
	rz := r3.NewMat([]float64{
		math.Cos(z), -math.Sin(z), 0,
		math.Sin(z), math.Cos(z), 0,
		0, 0, 1,
	})
	return compose(rz, compose(ry, rx))
}

// compose returns a·b.
func compose(a, b *r3.Mat) *r3.Mat {
	var cols [3]Vec3
	for j, e := range []Vec3{{X: 1}, {Y: 1}, {Z: 1}} {
		cols[j] = a.MulVec(b.MulVec(e))
	}
	return r3.NewMat([]float64{
		cols[0].X, cols[1].X, cols[2].X,
		cols[0].Y, cols[1].Y, cols[2].Y,
		cols[0].Z, cols[1].Z, cols[2].Z,
	})
}

// NewTransform returns the transform rotating by the Euler angles in
// degrees, then translating.
func NewTransform(translation, degrees Vec3) Transform {
	return Transform{Rotation: EulerRotation(degrees), Translation: translation}
}

// Apply moves p.
func (t Transform) Apply(p Vec3) Vec3 {
	return r3.Add(t.Rotation.MulVec(p), t.Translation)
}

// Rotate turns a direction without translating it.
func (t Transform) Rotate(v Vec3) Vec3 {
	return t.Rotation.MulVec(v)
}

// Then returns the transform that applies inner first and t second.
func (t Transform) Then(inner Transform) Transform {
	return Transform{
		Rotation:    compose(t.Rotation, inner.Rotation),
		Translation: t.Apply(inner.Translation),
	}
}

// IsIdentity reports whether t leaves every point in place.
func (t Transform) IsIdentity() bool {
	id := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(t.Rotation.At(i, j)-id.Rotation.At(i, j)) > epsilon {
				return false
			}
		}
	}
	return t.Translation == Vec3{}
}

// Transform moves the mesh rigidly: positions, rest positions, velocities
// and normals. Primitive limits are refreshed and the hierarchy, if any, is
// refit.
func (m *Mesh) Transform(t Transform) {
	for _, n := range m.Nodes {
		n.Position = t.Apply(n.Position)
		n.InitPosition = t.Apply(n.InitPosition)
		n.Velocity = t.Rotate(n.Velocity)
		n.Normal = t.Rotate(n.Normal)
	}
	UpdateAll(m.Tetrahedra)
	UpdateAll(m.Triangles)
	UpdateAll(m.SurfaceTriangles)
	UpdateAll(m.Edges)
	if m.BoundingBox != nil {
		m.BoundingBox.Update()
	}
}
