package scene

import "github.com/chazu/softbody/pkg/geometry"

// Vec3 is a point or direction in scene space.
type Vec3 = geometry.Vec3

// ---------------------------------------------------------------------------
// Materials
// ---------------------------------------------------------------------------

// Material describes the constitutive constants of a body. Stiffness is
// Young's modulus under the FEM solver and the spring constant under the
// mass-spring solver.
type Material struct {
	Name         string  `json:"name,omitempty"`
	Stiffness    float64 `json:"stiffness"`
	Density      float64 `json:"density"`
	Damping      float64 `json:"damping"`
	PoissonRatio float64 `json:"poisson_ratio"`
}

// DefaultMaterial is used by bodies that name no material.
func DefaultMaterial() Material {
	return Material{
		Name:         "default",
		Stiffness:    1000,
		Density:      1,
		Damping:      0.1,
		PoissonRatio: 0.3,
	}
}

// Geometry converts the material to the per-mesh constants of the
// simulation.
func (m Material) Geometry() geometry.Material {
	return geometry.Material{
		Stiffness:    m.Stiffness,
		Density:      m.Density,
		Damping:      m.Damping,
		PoissonRatio: m.PoissonRatio,
	}
}

// ---------------------------------------------------------------------------
// Shapes
// ---------------------------------------------------------------------------

// ShapeKind enumerates the solid shapes a surface body can be built from.
type ShapeKind int

const (
	ShapeBox ShapeKind = iota
	ShapeSphere
	ShapeCylinder
	ShapeCapsule
	ShapeUnion
	ShapeDifference
	ShapeIntersection
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeBox:
		return "box"
	case ShapeSphere:
		return "sphere"
	case ShapeCylinder:
		return "cylinder"
	case ShapeCapsule:
		return "capsule"
	case ShapeUnion:
		return "union"
	case ShapeDifference:
		return "difference"
	case ShapeIntersection:
		return "intersection"
	default:
		return "unknown"
	}
}

// IsBoolean reports whether the kind combines child shapes.
func (k ShapeKind) IsBoolean() bool {
	return k == ShapeUnion || k == ShapeDifference || k == ShapeIntersection
}

// Shape is a tree of solid primitives and boolean operations, centered on
// the origin and then moved by Offset and Rotation (degrees, applied X then
// Y then Z before the offset).
type Shape struct {
	Kind     ShapeKind `json:"kind"`
	Size     Vec3      `json:"size,omitempty"`   // box
	Radius   float64   `json:"radius,omitempty"` // sphere, cylinder, capsule
	Height   float64   `json:"height,omitempty"` // cylinder, capsule; along z
	Children []*Shape  `json:"children,omitempty"`
	Offset   Vec3      `json:"offset,omitempty"`
	Rotation Vec3      `json:"rotation,omitempty"`
}

// ---------------------------------------------------------------------------
// Bodies
// ---------------------------------------------------------------------------

// BodyKind selects how a body is discretized.
type BodyKind int

const (
	BodyVolume  BodyKind = iota // tetrahedral box, FEM or springs over tet edges
	BodySurface                 // welded shell of a shape, springs over triangle edges
	BodyStrand                  // capsule polyline, springs along the chain
)

func (k BodyKind) String() string {
	switch k {
	case BodyVolume:
		return "volume"
	case BodySurface:
		return "surface"
	case BodyStrand:
		return "strand"
	default:
		return "unknown"
	}
}

// BodyData is the payload of a body node. Volume bodies are boxes of Size
// split into Cells, centered on the origin. Surface bodies tessellate
// Shape. Strands run through Points.
type BodyData struct {
	Kind     BodyKind `json:"kind"`
	Material Material `json:"material"`

	Size  Vec3   `json:"size,omitempty"`
	Cells [3]int `json:"cells,omitempty"`

	Shape *Shape `json:"shape,omitempty"`

	Points []Vec3 `json:"points,omitempty"`
	// Segment, when positive, resamples strand edges to at most this length.
	Segment float64 `json:"segment,omitempty"`

	// Radius is the contact radius of every node.
	Radius float64 `json:"radius,omitempty"`
	// Fixed holds every node of the body in place.
	Fixed bool `json:"fixed,omitempty"`
	// Anchor marks every node as a rigid anchor, excluded from
	// integration and from collision regions.
	Anchor   bool `json:"anchor,omitempty"`
	Velocity Vec3 `json:"velocity,omitempty"`
}

func (BodyData) nodeData() {}

// TransformData places its children. Rotation is in degrees and is
// applied before Translation.
type TransformData struct {
	Translation *Vec3 `json:"translation,omitempty"`
	Rotation    *Vec3 `json:"rotation,omitempty"`
}

func (TransformData) nodeData() {}

// GroupData is the payload of a group node.
type GroupData struct {
	Description string `json:"description,omitempty"`
}

func (GroupData) nodeData() {}
