package tessellate_test

import (
	"math"
	"strings"
	"testing"

	"github.com/chazu/softbody/pkg/geometry"
	"github.com/chazu/softbody/pkg/kernel"
	"github.com/chazu/softbody/pkg/kernel/sdfx"
	"github.com/chazu/softbody/pkg/scene"
	"github.com/chazu/softbody/pkg/tessellate"
)

// newKernel returns a coarse sdfx kernel for testing.
func newKernel() kernel.Kernel {
	return sdfx.NewWithCells(12)
}

// makeVolume creates a volume body node with the given name, size and cells.
func makeVolume(name string, size scene.Vec3, cells [3]int) *scene.Node {
	return &scene.Node{
		ID:   scene.NewNodeID("body/" + name),
		Kind: scene.NodeBody,
		Name: name,
		Data: scene.BodyData{
			Kind:     scene.BodyVolume,
			Material: scene.DefaultMaterial(),
			Size:     size,
			Cells:    cells,
		},
	}
}

// makeSurface creates a surface body node around a shape.
func makeSurface(name string, shape *scene.Shape) *scene.Node {
	return &scene.Node{
		ID:   scene.NewNodeID("body/" + name),
		Kind: scene.NodeBody,
		Name: name,
		Data: scene.BodyData{
			Kind:     scene.BodySurface,
			Material: scene.DefaultMaterial(),
			Shape:    shape,
			Radius:   0.01,
		},
	}
}

// makePlace creates a transform node with a translation and rotation.
func makePlace(name string, translation, rotation scene.Vec3, children ...scene.NodeID) *scene.Node {
	return &scene.Node{
		ID:       scene.NewNodeID("place/" + name),
		Kind:     scene.NodeTransform,
		Name:     name,
		Children: children,
		Data: scene.TransformData{
			Translation: &translation,
			Rotation:    &rotation,
		},
	}
}

// makeGroup creates a group node with children.
func makeGroup(name string, children ...scene.NodeID) *scene.Node {
	return &scene.Node{
		ID:       scene.NewNodeID("group/" + name),
		Kind:     scene.NodeGroup,
		Name:     name,
		Children: children,
		Data:     scene.GroupData{Description: name},
	}
}

func tessellate1(t *testing.T, s *scene.Scene) *tessellate.Body {
	t.Helper()
	bodies, err := tessellate.Tessellate(s, newKernel())
	if err != nil {
		t.Fatalf("Tessellate failed: %v", err)
	}
	if len(bodies) != 1 {
		t.Fatalf("expected 1 body, got %d", len(bodies))
	}
	return bodies[0]
}

func centroid(m *geometry.Mesh) geometry.Vec3 {
	var c geometry.Vec3
	for _, n := range m.Nodes {
		c.X += n.Position.X
		c.Y += n.Position.Y
		c.Z += n.Position.Z
	}
	k := float64(len(m.Nodes))
	return geometry.Vec3{X: c.X / k, Y: c.Y / k, Z: c.Z / k}
}

func near(a, b geometry.Vec3, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol && math.Abs(a.Z-b.Z) <= tol
}

func TestSingleVolume(t *testing.T) {
	s := scene.New()
	cube := makeVolume("cube", scene.Vec3{X: 2, Y: 1, Z: 1}, [3]int{2, 1, 1})
	s.AddNode(cube)
	s.AddRoot(cube.ID)

	b := tessellate1(t, s)
	m := b.Mesh
	if m.Name != "cube" {
		t.Errorf("expected mesh name %q, got %q", "cube", m.Name)
	}
	if len(m.Tetrahedra) != 12 {
		t.Errorf("expected 12 tetrahedra, got %d", len(m.Tetrahedra))
	}
	if math.Abs(m.Volume()-2) > 1e-9 {
		t.Errorf("volume = %g, want 2", m.Volume())
	}
	if c := centroid(m); !near(c, geometry.Vec3{}, 1e-9) {
		t.Errorf("volume body should be centered, centroid %v", c)
	}
	if b.Springs {
		t.Error("volume body under the FEM solver should not be spring driven")
	}
	if m.BoundingBox == nil {
		t.Error("mesh should have a hierarchy")
	}
}

func TestVolumeWithTransform(t *testing.T) {
	s := scene.New()
	bar := makeVolume("bar", scene.Vec3{X: 2, Y: 1, Z: 1}, [3]int{2, 1, 1})
	s.AddNode(bar)
	place := makePlace("place-bar", scene.Vec3{X: 5, Y: 1}, scene.Vec3{Z: 90}, bar.ID)
	s.AddNode(place)
	s.AddRoot(place.ID)

	m := tessellate1(t, s).Mesh
	if c := centroid(m); !near(c, geometry.Vec3{X: 5, Y: 1}, 1e-9) {
		t.Errorf("centroid %v, want (5, 1, 0)", c)
	}

	// A quarter turn about z swaps the long side onto y.
	box := m.BoundingBox.Box()
	size := box.Size()
	if math.Abs(size.X-1) > 1e-9 || math.Abs(size.Y-2) > 1e-9 {
		t.Errorf("rotated size %v, want (1, 2, 1)", size)
	}
	for _, n := range m.Nodes {
		if n.Position != n.InitPosition {
			t.Fatal("rest positions should follow the placement")
		}
	}
}

func TestNestedTransformsCompose(t *testing.T) {
	s := scene.New()
	cube := makeVolume("cube", scene.Vec3{X: 1, Y: 1, Z: 1}, [3]int{1, 1, 1})
	s.AddNode(cube)
	inner := makePlace("inner", scene.Vec3{X: 1}, scene.Vec3{}, cube.ID)
	s.AddNode(inner)
	outer := makePlace("outer", scene.Vec3{Z: 3}, scene.Vec3{Z: 90}, inner.ID)
	s.AddNode(outer)
	s.AddRoot(outer.ID)

	// The inner offset along x turns onto y before the outer lift.
	m := tessellate1(t, s).Mesh
	if c := centroid(m); !near(c, geometry.Vec3{Y: 1, Z: 3}, 1e-9) {
		t.Errorf("centroid %v, want (0, 1, 3)", c)
	}
}

func TestGroupOfBodies(t *testing.T) {
	s := scene.New()
	a := makeVolume("a", scene.Vec3{X: 1, Y: 1, Z: 1}, [3]int{1, 1, 1})
	b := makeVolume("b", scene.Vec3{X: 1, Y: 1, Z: 1}, [3]int{1, 1, 1})
	s.AddNode(a)
	s.AddNode(b)
	pa := makePlace("place-a", scene.Vec3{X: -1}, scene.Vec3{}, a.ID)
	pb := makePlace("place-b", scene.Vec3{X: 1}, scene.Vec3{}, b.ID)
	s.AddNode(pa)
	s.AddNode(pb)
	g := makeGroup("pair", pa.ID, pb.ID)
	s.AddNode(g)
	s.AddRoot(g.ID)

	bodies, err := tessellate.Tessellate(s, newKernel())
	if err != nil {
		t.Fatalf("Tessellate failed: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("expected 2 bodies, got %d", len(bodies))
	}
	meshes := tessellate.Meshes(bodies)
	want := map[string]float64{"a": -1, "b": 1}
	for _, m := range meshes {
		x, ok := want[m.Name]
		if !ok {
			t.Errorf("unexpected mesh %q", m.Name)
			continue
		}
		if c := centroid(m); math.Abs(c.X-x) > 1e-9 {
			t.Errorf("mesh %q centroid x = %g, want %g", m.Name, c.X, x)
		}
	}
}

func TestSurfaceSphere(t *testing.T) {
	s := scene.New()
	ball := makeSurface("ball", &scene.Shape{Kind: scene.ShapeSphere, Radius: 1})
	s.AddNode(ball)
	s.AddRoot(ball.ID)

	b := tessellate1(t, s)
	m := b.Mesh
	if !b.Springs {
		t.Error("surface bodies are always spring driven")
	}
	if len(m.Triangles) == 0 || len(m.Edges) == 0 {
		t.Fatalf("surface mesh should have triangles and edges, got %s", m)
	}
	if len(m.Tetrahedra) != 0 {
		t.Error("surface mesh should have no tetrahedra")
	}
	// Marching cubes is approximate.
	if c := centroid(m); !near(c, geometry.Vec3{}, 0.1) {
		t.Errorf("centroid %v, want near origin", c)
	}
	for _, n := range m.Nodes {
		if d := math.Sqrt(n.Position.X*n.Position.X + n.Position.Y*n.Position.Y + n.Position.Z*n.Position.Z); math.Abs(d-1) > 0.2 {
			t.Fatalf("node at distance %g from the center, want near 1", d)
		}
		if n.Radius != 0.01 {
			t.Fatalf("node radius %g, want 0.01", n.Radius)
		}
	}
}

func TestSurfaceCapsuleExtent(t *testing.T) {
	s := scene.New()
	pill := makeSurface("pill", &scene.Shape{Kind: scene.ShapeCapsule, Radius: 0.5, Height: 2})
	s.AddNode(pill)
	s.AddRoot(pill.ID)

	m := tessellate1(t, s).Mesh
	size := m.BoundingBox.Box().Size()
	if math.Abs(size.Z-3) > 0.3 {
		t.Errorf("capsule length %g, want near 3", size.Z)
	}
	if math.Abs(size.X-1) > 0.2 {
		t.Errorf("capsule width %g, want near 1", size.X)
	}
}

func TestSurfaceShapeOffset(t *testing.T) {
	s := scene.New()
	shape := &scene.Shape{
		Kind: scene.ShapeUnion,
		Children: []*scene.Shape{
			{Kind: scene.ShapeBox, Size: scene.Vec3{X: 1, Y: 1, Z: 1}},
			{Kind: scene.ShapeSphere, Radius: 0.5, Offset: scene.Vec3{X: 1}},
		},
		Offset: scene.Vec3{Z: 2},
	}
	body := makeSurface("lump", shape)
	s.AddNode(body)
	s.AddRoot(body.ID)

	m := tessellate1(t, s).Mesh
	box := m.BoundingBox.Box()
	if box.Lower().X > -0.4 || box.Upper().X < 1.4 {
		t.Errorf("union x range [%g, %g], want about [-0.5, 1.5]", box.Lower().X, box.Upper().X)
	}
	if c := box.Center(); math.Abs(c.Z-2) > 0.1 {
		t.Errorf("union center z %g, want near 2", c.Z)
	}
}

func TestStrandResampled(t *testing.T) {
	s := scene.New()
	strand := &scene.Node{
		ID:   scene.NewNodeID("body/rope"),
		Kind: scene.NodeBody,
		Name: "rope",
		Data: scene.BodyData{
			Kind:     scene.BodyStrand,
			Material: scene.DefaultMaterial(),
			Points:   []scene.Vec3{{}, {X: 1}, {X: 1, Y: 1}},
			Segment:  0.25,
			Radius:   0.05,
		},
	}
	place := makePlace("lift", scene.Vec3{Z: 1}, scene.Vec3{}, strand.ID)
	s.AddNode(strand)
	s.AddNode(place)
	s.AddRoot(place.ID)

	b := tessellate1(t, s)
	m := b.Mesh
	if !b.Springs {
		t.Error("strands are always spring driven")
	}
	if len(m.Edges) != 8 {
		t.Errorf("expected 8 edges after resampling, got %d", len(m.Edges))
	}
	if len(m.Nodes) != 9 {
		t.Errorf("expected 9 nodes after resampling, got %d", len(m.Nodes))
	}
	for _, e := range m.Edges {
		if e.RestLength > 0.25+1e-9 {
			t.Errorf("edge rest length %g exceeds the segment", e.RestLength)
		}
	}
	for _, n := range m.Nodes {
		if n.Position.Z != 1 {
			t.Fatalf("strand node at z = %g, want 1", n.Position.Z)
		}
		if n.Mass != 1 {
			t.Fatalf("strand node mass %g, want the density", n.Mass)
		}
	}
	if got := len(m.BoundingBox.All()); got != len(m.Edges) {
		t.Errorf("hierarchy holds %d edges, want %d", got, len(m.Edges))
	}
}

func TestBodyFlags(t *testing.T) {
	tests := []struct {
		name       string
		fixed      bool
		anchor     bool
		wantFix    bool
		wantAnchor bool
	}{
		{"free", false, false, false, false},
		{"fixed", true, false, true, false},
		{"anchor", false, true, false, true},
		{"anchor wins", true, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := scene.New()
			n := makeVolume("cube", scene.Vec3{X: 1, Y: 1, Z: 1}, [3]int{1, 1, 1})
			bd := n.Data.(scene.BodyData)
			bd.Fixed = tt.fixed
			bd.Anchor = tt.anchor
			bd.Velocity = scene.Vec3{X: 2}
			n.Data = bd
			s.AddNode(n)
			s.AddRoot(n.ID)

			for _, nd := range tessellate1(t, s).Mesh.Nodes {
				if nd.Fix != tt.wantFix || nd.Anchor != tt.wantAnchor {
					t.Fatalf("node fix=%v anchor=%v, want fix=%v anchor=%v", nd.Fix, nd.Anchor, tt.wantFix, tt.wantAnchor)
				}
				if nd.Velocity != (geometry.Vec3{X: 2}) {
					t.Fatalf("node velocity %v, want (2, 0, 0)", nd.Velocity)
				}
			}
		})
	}
}

func TestSolverSelection(t *testing.T) {
	s := scene.New()
	s.Settings.Solver = scene.SolverSprings
	cube := makeVolume("cube", scene.Vec3{X: 1, Y: 1, Z: 1}, [3]int{1, 1, 1})
	s.AddNode(cube)
	s.AddRoot(cube.ID)

	if !tessellate1(t, s).Springs {
		t.Error("volume body under the springs solver should be spring driven")
	}
}

func TestEmptyScene(t *testing.T) {
	bodies, err := tessellate.Tessellate(scene.New(), newKernel())
	if err != nil {
		t.Fatalf("Tessellate failed: %v", err)
	}
	if len(bodies) != 0 {
		t.Fatalf("expected 0 bodies, got %d", len(bodies))
	}

	bodies, err = tessellate.Tessellate(nil, newKernel())
	if err != nil || bodies != nil {
		t.Fatalf("nil scene should yield nothing, got %v, %v", bodies, err)
	}
}

func TestTessellateErrors(t *testing.T) {
	tests := []struct {
		name string
		node *scene.Node
		want string
	}{
		{
			name: "wrong data",
			node: &scene.Node{ID: scene.NewNodeID("bad"), Kind: scene.NodeBody, Data: scene.GroupData{}},
			want: "unexpected data type",
		},
		{
			name: "surface without shape",
			node: makeSurface("empty", nil),
			want: "has no shape",
		},
		{
			name: "boolean with one child",
			node: makeSurface("lonely", &scene.Shape{
				Kind:     scene.ShapeDifference,
				Children: []*scene.Shape{{Kind: scene.ShapeSphere, Radius: 1}},
			}),
			want: "need at least 2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := scene.New()
			s.AddNode(tt.node)
			s.AddRoot(tt.node.ID)

			_, err := tessellate.Tessellate(s, newKernel())
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}
