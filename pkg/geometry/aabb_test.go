package geometry

import (
	"math/rand"
	"testing"
)

func TestEmptyBox(t *testing.T) {
	b := NewAABB()
	if !b.Empty() {
		t.Fatal("new box should be empty")
	}
	if b.Radius() != 0 {
		t.Errorf("empty radius = %g", b.Radius())
	}
	b.Resize(2)
	if !b.Empty() {
		t.Error("resizing an empty box must leave it empty")
	}
	other := NewAABBFromLimits(Vec3{X: -1, Y: -1, Z: -1}, Vec3{X: 1, Y: 1, Z: 1})
	if b.Collides(other) || other.Collides(b) {
		t.Error("empty box collides with nothing")
	}
	b.Unite(other)
	if b.Lower() != other.Lower() || b.Upper() != other.Upper() {
		t.Errorf("uniting into empty box = %v, want %v", b, other)
	}
}

func TestUnionIsSmallestEnclosingBox(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		b := NewAABB()
		var pts []Vec3
		for i := 0; i < 1+rng.Intn(30); i++ {
			p := Vec3{X: rng.NormFloat64() * 10, Y: rng.NormFloat64() * 10, Z: rng.NormFloat64() * 10}
			pts = append(pts, p)
			b.UnitePoint(p)
		}
		lo, hi := b.Lower(), b.Upper()
		var touchLo, touchHi [3]bool
		for _, p := range pts {
			if !b.ContainsPoint(p) {
				t.Fatalf("trial %d: %v not inside %v", trial, p, b)
			}
			for axis := 0; axis < 3; axis++ {
				if Component(p, axis) == Component(lo, axis) {
					touchLo[axis] = true
				}
				if Component(p, axis) == Component(hi, axis) {
					touchHi[axis] = true
				}
			}
		}
		for axis := 0; axis < 3; axis++ {
			if !touchLo[axis] || !touchHi[axis] {
				t.Fatalf("trial %d: box %v is not tight on axis %d", trial, b, axis)
			}
		}
	}
}

func TestCollisionAndContainmentAreInclusive(t *testing.T) {
	a := NewAABBFromLimits(Vec3{}, Vec3{X: 1, Y: 1, Z: 1})
	tests := []struct {
		name     string
		b        *AABB
		collides bool
		contains bool
	}{
		{"touching face", NewAABBFromLimits(Vec3{X: 1}, Vec3{X: 2, Y: 1, Z: 1}), true, false},
		{"separate", NewAABBFromLimits(Vec3{X: 1.01}, Vec3{X: 2, Y: 1, Z: 1}), false, false},
		{"identical", NewAABBFromLimits(Vec3{}, Vec3{X: 1, Y: 1, Z: 1}), true, true},
		{"inner", NewAABBFromLimits(Vec3{X: 0.2, Y: 0.2, Z: 0.2}, Vec3{X: 0.5, Y: 0.5, Z: 0.5}), true, true},
		{"straddling", NewAABBFromLimits(Vec3{X: 0.5, Y: 0.5, Z: 0.5}, Vec3{X: 1.5, Y: 1.5, Z: 1.5}), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Collides(tt.b); got != tt.collides {
				t.Errorf("Collides = %v, want %v", got, tt.collides)
			}
			if got := tt.b.Collides(a); got != tt.collides {
				t.Errorf("Collides (swapped) = %v, want %v", got, tt.collides)
			}
			if got := a.Contains(tt.b); got != tt.contains {
				t.Errorf("Contains = %v, want %v", got, tt.contains)
			}
		})
	}
}

func TestResizeGrowsAboutCenter(t *testing.T) {
	b := NewAABBFromLimits(Vec3{X: 1, Y: 1, Z: 1}, Vec3{X: 3, Y: 5, Z: 1})
	b.Resize(0.5)
	if !vecApprox(b.Lower(), Vec3{X: 0.5, Y: 0, Z: 1}, 1e-12) ||
		!vecApprox(b.Upper(), Vec3{X: 3.5, Y: 6, Z: 1}, 1e-12) {
		t.Errorf("resized box = %v", b)
	}
}

func TestDelimitClampsFreeNodes(t *testing.T) {
	b := NewAABBFromLimits(Vec3{}, Vec3{X: 1, Y: 1, Z: 1})
	free := NewNode(Vec3{X: 2, Y: 0.5, Z: -1}, 0, 0)
	free.Velocity = Vec3{X: 3}
	inside := NewNode(Vec3{X: 0.5, Y: 0.5, Z: 0.5}, 1, 0)
	inside.Velocity = Vec3{Y: 1}
	fixed := NewNode(Vec3{X: 5}, 2, 0)
	fixed.Fix = true

	moved := b.Delimit([]*Node{free, inside, fixed})
	if moved != 1 {
		t.Fatalf("moved %d nodes, want 1", moved)
	}
	if free.Position != (Vec3{X: 1, Y: 0.5, Z: 0}) {
		t.Errorf("clamped position = %v", free.Position)
	}
	if free.Velocity != (Vec3{}) {
		t.Error("clamped node should lose its velocity")
	}
	if inside.Velocity != (Vec3{Y: 1}) {
		t.Error("inside node keeps its velocity")
	}
	if fixed.Position.X != 5 {
		t.Error("fixed nodes are not clamped")
	}
}

func TestConfineClampsEveryNode(t *testing.T) {
	b := NewAABBFromLimits(Vec3{}, Vec3{X: 1, Y: 1, Z: 1})
	fixed := NewNode(Vec3{X: 5}, 0, 0)
	fixed.Fix = true
	anchor := NewNode(Vec3{Y: -2}, 1, 0)
	anchor.Anchor = true
	wall := NewNode(Vec3{X: 1, Y: 0.5, Z: 0.5}, 2, 0)
	wall.Velocity = Vec3{X: 2}
	inside := NewNode(Vec3{X: 0.5, Y: 0.5, Z: 0.5}, 3, 0)
	inside.Velocity = Vec3{Y: 1}

	if hits := b.Confine([]*Node{fixed, anchor, wall, inside}); hits != 3 {
		t.Errorf("Confine = %d, want 3", hits)
	}
	if fixed.Position != (Vec3{X: 1}) || anchor.Position != (Vec3{}) {
		t.Errorf("fixed at %v, anchor at %v, want both clamped", fixed.Position, anchor.Position)
	}
	if wall.Position != (Vec3{X: 1, Y: 0.5, Z: 0.5}) || wall.Velocity != (Vec3{}) {
		t.Errorf("node on the wall at %v moving %v, want it stopped in place", wall.Position, wall.Velocity)
	}
	if inside.Velocity != (Vec3{Y: 1}) {
		t.Error("inside node keeps its velocity")
	}
}

func TestFixOutsideNodes(t *testing.T) {
	b := NewAABBFromLimits(Vec3{}, Vec3{X: 1, Y: 1, Z: 1})
	nodes := []*Node{NewNode(Vec3{X: 0.5}, 0, 0), NewNode(Vec3{X: -0.5}, 1, 0)}
	if n := b.FixOutsideNodes(nodes); n != 1 {
		t.Fatalf("fixed %d nodes, want 1", n)
	}
	if nodes[0].Fix || !nodes[1].Fix {
		t.Error("only the outside node should be fixed")
	}
}
