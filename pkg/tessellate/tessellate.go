// Package tessellate walks a scene and produces one simulation mesh per
// body: tetrahedral grids for volume bodies, welded kernel shells for
// surface bodies and capsule chains for strands.
package tessellate

import (
	"fmt"
	"math"

	"github.com/chazu/softbody/pkg/geometry"
	"github.com/chazu/softbody/pkg/kernel"
	"github.com/chazu/softbody/pkg/scene"
	"gonum.org/v1/gonum/spatial/r3"
)

// weldFraction scales a solid's largest extent into the vertex weld
// tolerance.
const weldFraction = 1e-5

// Body is a scene body turned into a simulation mesh.
type Body struct {
	Node *scene.Node
	Data scene.BodyData
	Mesh *geometry.Mesh
	// Springs is set when the body is animated by the mass-spring system
	// regardless of the scene solver.
	Springs bool
}

// transformStack accumulates rigid placements during scene traversal.
type transformStack struct {
	frames []geometry.Transform
}

func newTransformStack() *transformStack {
	return &transformStack{frames: []geometry.Transform{geometry.Identity()}}
}

func (ts *transformStack) push(t geometry.Transform) {
	ts.frames = append(ts.frames, ts.top().Then(t))
}

func (ts *transformStack) pop() {
	if len(ts.frames) > 1 {
		ts.frames = ts.frames[:len(ts.frames)-1]
	}
}

// top returns the composition of every transform on the stack.
func (ts *transformStack) top() geometry.Transform {
	return ts.frames[len(ts.frames)-1]
}

// Tessellate walks the scene and produces one body per body node reached
// from the roots, using k for surface bodies. The tessellator is read-only
// and never mutates the scene.
func Tessellate(s *scene.Scene, k kernel.Kernel) ([]*Body, error) {
	if s == nil {
		return nil, nil
	}

	var bodies []*Body
	ts := newTransformStack()

	for _, rootID := range s.Roots {
		root := s.Get(rootID)
		if root == nil {
			continue
		}
		collected, err := walkNode(s, k, root, ts)
		if err != nil {
			return nil, fmt.Errorf("tessellate: error walking root %s: %w", rootID.Short(), err)
		}
		bodies = append(bodies, collected...)
	}

	return bodies, nil
}

// Meshes returns the meshes of the given bodies.
func Meshes(bodies []*Body) []*geometry.Mesh {
	meshes := make([]*geometry.Mesh, len(bodies))
	for i, b := range bodies {
		meshes[i] = b.Mesh
	}
	return meshes
}

// walkNode recursively traverses a node and its children, collecting bodies.
func walkNode(s *scene.Scene, k kernel.Kernel, n *scene.Node, ts *transformStack) ([]*Body, error) {
	switch n.Kind {
	case scene.NodeBody:
		return handleBody(s, k, n, ts)

	case scene.NodeTransform:
		return handleTransform(s, k, n, ts)

	case scene.NodeGroup:
		return handleGroup(s, k, n, ts)

	default:
		return nil, fmt.Errorf("unknown node kind: %v", n.Kind)
	}
}

// handleBody builds the mesh for a body node under the current placement.
func handleBody(s *scene.Scene, k kernel.Kernel, n *scene.Node, ts *transformStack) ([]*Body, error) {
	bd, ok := n.Data.(scene.BodyData)
	if !ok {
		return nil, fmt.Errorf("body node %s has unexpected data type %T", n.ID.Short(), n.Data)
	}

	name := n.Name
	if name == "" {
		name = n.ID.Short()
	}
	mat := bd.Material.Geometry()
	place := ts.top()
	cellSize := s.Settings.CellSize
	if cellSize <= 0 {
		cellSize = geometry.DefaultCellSize
	}

	var m *geometry.Mesh
	switch bd.Kind {
	case scene.BodyVolume:
		origin := r3.Scale(-0.5, bd.Size)
		m = geometry.NewTetGrid(name, origin, bd.Size, bd.Cells, bd.Radius, mat)
		if !place.IsIdentity() {
			m.Transform(place)
		}

	case scene.BodySurface:
		if bd.Shape == nil {
			return nil, fmt.Errorf("surface body %s has no shape", n.ID.Short())
		}
		solid, err := shapeSolid(k, bd.Shape)
		if err != nil {
			return nil, fmt.Errorf("surface body %s: %w", n.ID.Short(), err)
		}
		out, err := k.ToMesh(solid)
		if err != nil {
			return nil, fmt.Errorf("tessellate: ToMesh failed for node %s: %w", n.ID.Short(), err)
		}
		if out.IsEmpty() {
			return nil, fmt.Errorf("surface body %s tessellated to an empty mesh", n.ID.Short())
		}
		out.BodyName = name
		m = out.ToGeometry(name, weldTolerance(solid), bd.Radius, mat)
		if !place.IsIdentity() {
			m.Transform(place)
		}

	case scene.BodyStrand:
		if len(bd.Points) < 2 {
			return nil, fmt.Errorf("strand %s has %d points, need at least 2", n.ID.Short(), len(bd.Points))
		}
		points := make([]geometry.Vec3, len(bd.Points))
		for i, p := range bd.Points {
			points[i] = place.Apply(p)
		}
		m = geometry.NewStrand(name, points, bd.Radius, mat)
		if bd.Segment > 0 {
			edges, added := geometry.Resample(m.Edges, bd.Segment)
			m.Edges = edges
			m.Nodes = append(m.Nodes, added...)
			m.ComputePerNodeMass()
			m.BuildBoundingBox(cellSize)
		}

	default:
		return nil, fmt.Errorf("body node %s has unknown kind %v", n.ID.Short(), bd.Kind)
	}

	applyFlags(m, bd)
	if cellSize != geometry.DefaultCellSize {
		m.BuildBoundingBox(cellSize)
	}

	return []*Body{{
		Node:    n,
		Data:    bd,
		Mesh:    m,
		Springs: scene.SpringDriven(bd, s.Settings.Solver),
	}}, nil
}

// applyFlags copies the body-wide node flags and the initial velocity onto
// every node.
func applyFlags(m *geometry.Mesh, bd scene.BodyData) {
	for _, nd := range m.Nodes {
		if bd.Anchor {
			nd.Anchor = true
		} else if bd.Fixed {
			nd.Fix = true
		}
		nd.Velocity = bd.Velocity
	}
}

// handleTransform pushes the transform, recurses into children, then pops.
func handleTransform(s *scene.Scene, k kernel.Kernel, n *scene.Node, ts *transformStack) ([]*Body, error) {
	td, ok := n.Data.(scene.TransformData)
	if !ok {
		return nil, fmt.Errorf("transform node %s has unexpected data type %T", n.ID.Short(), n.Data)
	}

	var translation, rotation scene.Vec3
	if td.Translation != nil {
		translation = *td.Translation
	}
	if td.Rotation != nil {
		rotation = *td.Rotation
	}
	ts.push(geometry.NewTransform(translation, rotation))

	var bodies []*Body
	for _, child := range s.Children(n) {
		collected, err := walkNode(s, k, child, ts)
		if err != nil {
			ts.pop()
			return nil, err
		}
		bodies = append(bodies, collected...)
	}

	ts.pop()
	return bodies, nil
}

// handleGroup recurses into children transparently.
func handleGroup(s *scene.Scene, k kernel.Kernel, n *scene.Node, ts *transformStack) ([]*Body, error) {
	var bodies []*Body
	for _, child := range s.Children(n) {
		collected, err := walkNode(s, k, child, ts)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, collected...)
	}
	return bodies, nil
}

// ---------------------------------------------------------------------------
// Shapes
// ---------------------------------------------------------------------------

// shapeSolid builds the kernel solid for a shape tree. Capsules are a
// cylinder capped by two spheres.
func shapeSolid(k kernel.Kernel, sh *scene.Shape) (kernel.Solid, error) {
	if sh == nil {
		return nil, fmt.Errorf("nil shape")
	}

	var solid kernel.Solid
	switch sh.Kind {
	case scene.ShapeBox:
		solid = k.Box(sh.Size.X, sh.Size.Y, sh.Size.Z)
	case scene.ShapeSphere:
		solid = k.Sphere(sh.Radius)
	case scene.ShapeCylinder:
		solid = k.Cylinder(sh.Height, sh.Radius)
	case scene.ShapeCapsule:
		top := k.Translate(k.Sphere(sh.Radius), 0, 0, sh.Height/2)
		bottom := k.Translate(k.Sphere(sh.Radius), 0, 0, -sh.Height/2)
		solid = k.Union(k.Cylinder(sh.Height, sh.Radius), k.Union(top, bottom))
	case scene.ShapeUnion, scene.ShapeDifference, scene.ShapeIntersection:
		if len(sh.Children) < 2 {
			return nil, fmt.Errorf("%s has %d shapes, need at least 2", sh.Kind, len(sh.Children))
		}
		var err error
		solid, err = shapeSolid(k, sh.Children[0])
		if err != nil {
			return nil, err
		}
		for _, c := range sh.Children[1:] {
			next, err := shapeSolid(k, c)
			if err != nil {
				return nil, err
			}
			switch sh.Kind {
			case scene.ShapeUnion:
				solid = k.Union(solid, next)
			case scene.ShapeDifference:
				solid = k.Difference(solid, next)
			default:
				solid = k.Intersection(solid, next)
			}
		}
	default:
		return nil, fmt.Errorf("unknown shape kind %v", sh.Kind)
	}

	// Apply the shape's own rotation first, then its offset.
	if rot := sh.Rotation; rot != (scene.Vec3{}) {
		solid = k.Rotate(solid, rot.X, rot.Y, rot.Z)
	}
	if off := sh.Offset; off != (scene.Vec3{}) {
		solid = k.Translate(solid, off.X, off.Y, off.Z)
	}
	return solid, nil
}

// weldTolerance derives the vertex weld distance from the solid's extent.
func weldTolerance(s kernel.Solid) float64 {
	lo, hi := s.BoundingBox()
	extent := math.Max(hi[0]-lo[0], math.Max(hi[1]-lo[1], hi[2]-lo[2]))
	if extent <= 0 || math.IsInf(extent, 0) || math.IsNaN(extent) {
		return 1e-6
	}
	return extent * weldFraction
}
