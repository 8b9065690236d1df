package geometry

import "gonum.org/v1/gonum/spatial/r3"

// Node is a simulation particle. Nodes are owned by one mesh and shared by
// every primitive built over them.
type Node struct {
	ID           int
	Position     Vec3
	InitPosition Vec3
	Velocity     Vec3
	Force        Vec3
	Normal       Vec3
	Mass         float64
	Radius       float64

	Fix      bool // excluded from integration
	Surface  bool // lies on a boundary face
	Anchor   bool // rigid reference point, excluded from integration
	Animated bool // set by an animation system step
	Collide  bool // set by collision detection
}

// NewNode creates a node at rest at pos with unit mass.
func NewNode(pos Vec3, id int, radius float64) *Node {
	return &Node{
		ID:           id,
		Position:     pos,
		InitPosition: pos,
		Mass:         1,
		Radius:       radius,
	}
}

// Free reports whether the node takes part in integration.
func (n *Node) Free() bool {
	return !n.Fix && !n.Anchor
}

// AddForce accumulates f into the node's force.
func (n *Node) AddForce(f Vec3) {
	n.Force = r3.Add(n.Force, f)
}

// Displacement returns Position - InitPosition.
func (n *Node) Displacement() Vec3 {
	return r3.Sub(n.Position, n.InitPosition)
}

// ClearForces zeroes the force accumulator of every node.
func ClearForces(nodes []*Node) {
	for _, n := range nodes {
		n.Force = Vec3{}
	}
}

// ClearVelocities zeroes the velocity of every node.
func ClearVelocities(nodes []*Node) {
	for _, n := range nodes {
		n.Velocity = Vec3{}
	}
}

// ClearCollisions resets the Collide flag of every node.
func ClearCollisions(nodes []*Node) {
	for _, n := range nodes {
		n.Collide = false
	}
}

// ResetPositions moves every node back to its rest position and drops its
// velocity.
func ResetPositions(nodes []*Node) {
	for _, n := range nodes {
		n.Position = n.InitPosition
		n.Velocity = Vec3{}
	}
}
