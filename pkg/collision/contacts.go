package collision

import "github.com/chazu/softbody/pkg/geometry"

// impulse is one force contribution to one node.
type impulse struct {
	node  *geometry.Node
	force geometry.Vec3
}

// contacts buffers the effects of collision tests run on one worker so the
// shared nodes are only written during the sequential apply phase.
type contacts struct {
	withForces bool
	impulses   []impulse
	touched    []*geometry.Node
	pairs      int
	prims      []geometry.Primitive
}

func (c *contacts) addForce(n *geometry.Node, f geometry.Vec3) {
	if !c.withForces {
		return
	}
	c.impulses = append(c.impulses, impulse{node: n, force: f})
}

func (c *contacts) touch(nodes ...*geometry.Node) {
	c.touched = append(c.touched, nodes...)
}

// apply writes buffered forces and collide flags into the nodes.
func (c *contacts) apply() {
	for _, im := range c.impulses {
		im.node.AddForce(im.force)
	}
	for _, n := range c.touched {
		n.Collide = true
	}
}

// applyAll applies every buffer in order and returns the total pair count.
func applyAll(bufs []*contacts) int {
	total := 0
	for _, b := range bufs {
		if b == nil {
			continue
		}
		b.apply()
		total += b.pairs
	}
	return total
}

// testPair dispatches on the primitive types. Only triangle against triangle
// and edge against edge can collide.
func testPair(a, b geometry.Primitive, stiffness, threshold float64, c *contacts) bool {
	switch pa := a.(type) {
	case *geometry.Triangle:
		if pb, ok := b.(*geometry.Triangle); ok {
			return triangleContact(pa, pb, stiffness, c)
		}
	case *geometry.Edge:
		if pb, ok := b.(*geometry.Edge); ok {
			return capsuleContact(pa, pb, stiffness, threshold, c)
		}
	}
	return false
}
