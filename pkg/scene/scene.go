package scene

import (
	"fmt"
	"sort"
)

// SolverKind selects the animation system used to resolve collisions.
type SolverKind string

const (
	SolverFEM     SolverKind = "fem"
	SolverSprings SolverKind = "springs"
)

// Box is an axis-aligned region given by its corners.
type Box struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// Settings are the scene-wide simulation parameters.
type Settings struct {
	Solver SolverKind `json:"solver"`
	Dt     float64    `json:"dt"`

	CollisionStiffness float64 `json:"collision_stiffness"`
	// StiffnessGrowth raises the collision stiffness by this fraction of
	// its initial value after every iteration that still collides.
	StiffnessGrowth float64 `json:"stiffness_growth"`
	Threshold       float64 `json:"threshold"`
	MaxIterations   int     `json:"max_iterations"`

	Gravity   bool `json:"gravity"`
	Inertia   bool `json:"inertia"`
	Corotated bool `json:"corotated"`

	// Regions resolves each contact region separately instead of the whole
	// scene at once. RegionFactor grows every region before slicing.
	Regions      bool    `json:"regions"`
	RegionFactor float64 `json:"region_factor"`

	// CellSize is the leaf bucket size of the bounding hierarchies.
	CellSize int `json:"cell_size"`
	// MeshCells is the marching cubes resolution for surface bodies.
	MeshCells int `json:"mesh_cells"`

	Domain *Box `json:"domain,omitempty"`
}

// DefaultSettings returns the settings of a script that sets none.
func DefaultSettings() Settings {
	return Settings{
		Solver:             SolverFEM,
		Dt:                 0.01,
		CollisionStiffness: 10,
		StiffnessGrowth:    0,
		Threshold:          0.1,
		MaxIterations:      500,
		Inertia:            true,
		RegionFactor:       1.5,
		CellSize:           10,
		MeshCells:          24,
	}
}

// Scene is the data structure produced by evaluating a scene script. Each
// evaluation produces a new scene.
type Scene struct {
	Nodes     map[NodeID]*Node  `json:"nodes"`
	Roots     []NodeID          `json:"roots"`
	NameIndex map[string]NodeID `json:"name_index"`
	Settings  Settings          `json:"settings"`
	Version   uint64            `json:"version"`
}

// New creates an empty scene with default settings.
func New() *Scene {
	return &Scene{
		Nodes:     make(map[NodeID]*Node),
		NameIndex: make(map[string]NodeID),
		Settings:  DefaultSettings(),
	}
}

// AddNode adds a node to the scene. It does not check for duplicates.
func (s *Scene) AddNode(n *Node) {
	s.Nodes[n.ID] = n
	if n.Name != "" {
		s.NameIndex[n.Name] = n.ID
	}
}

// AddRoot registers a node ID as a root of the scene. Adding an existing
// root is a no-op.
func (s *Scene) AddRoot(id NodeID) {
	for _, r := range s.Roots {
		if r == id {
			return
		}
	}
	s.Roots = append(s.Roots, id)
}

// RemoveRoot drops id from the roots, used when a node gains a parent.
func (s *Scene) RemoveRoot(id NodeID) {
	for i, r := range s.Roots {
		if r == id {
			s.Roots = append(s.Roots[:i], s.Roots[i+1:]...)
			return
		}
	}
}

// Lookup returns the node with the given user-assigned name, or nil.
func (s *Scene) Lookup(name string) *Node {
	id, ok := s.NameIndex[name]
	if !ok {
		return nil
	}
	return s.Nodes[id]
}

// MustLookup returns the node with the given name, or panics.
func (s *Scene) MustLookup(name string) *Node {
	n := s.Lookup(name)
	if n == nil {
		panic(fmt.Sprintf("scene: no node named %q", name))
	}
	return n
}

// Get returns the node with the given ID, or nil.
func (s *Scene) Get(id NodeID) *Node {
	return s.Nodes[id]
}

// Bodies returns all body nodes sorted by name, then id.
func (s *Scene) Bodies() []*Node {
	var bodies []*Node
	for _, n := range s.Nodes {
		if n.Kind == NodeBody {
			bodies = append(bodies, n)
		}
	}
	sort.Slice(bodies, func(i, j int) bool {
		if bodies[i].Name != bodies[j].Name {
			return bodies[i].Name < bodies[j].Name
		}
		return bodies[i].ID.String() < bodies[j].ID.String()
	})
	return bodies
}

// Children returns the child nodes of the given node.
func (s *Scene) Children(n *Node) []*Node {
	children := make([]*Node, 0, len(n.Children))
	for _, cid := range n.Children {
		if c := s.Nodes[cid]; c != nil {
			children = append(children, c)
		}
	}
	return children
}

// NodeCount returns the total number of nodes.
func (s *Scene) NodeCount() int {
	return len(s.Nodes)
}
