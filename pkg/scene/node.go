// Package scene defines the scene graph produced by evaluating a scene
// script: the bodies to simulate, the transforms and groups that place
// them, and the settings that drive collision resolution.
package scene

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// namespace seeds the deterministic node ids.
var namespace = uuid.MustParse("6f1c3f5e-2a49-4c47-9b0e-5d7c2e8a4b10")

// NodeID identifies a scene node. Ids are derived from the node's path, so
// evaluating the same script twice yields the same ids.
type NodeID uuid.UUID

// ZeroID is the unset id.
var ZeroID NodeID

// NewNodeID returns the id for the given path.
func NewNodeID(path string) NodeID {
	return NodeID(uuid.NewSHA1(namespace, []byte(path)))
}

// IsZero reports whether the id is unset.
func (id NodeID) IsZero() bool { return id == ZeroID }

func (id NodeID) String() string { return uuid.UUID(id).String() }

// Short returns the first 12 hex digits, enough to tell nodes apart in
// messages.
func (id NodeID) Short() string {
	return hex.EncodeToString(id[:6])
}

// NodeKind enumerates the types of nodes in the scene graph.
type NodeKind int

const (
	NodeBody      NodeKind = iota // simulated body (volume, surface, strand)
	NodeTransform                 // rigid placement (place)
	NodeGroup                     // logical grouping (group)
)

func (k NodeKind) String() string {
	switch k {
	case NodeBody:
		return "body"
	case NodeTransform:
		return "transform"
	case NodeGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Node is the fundamental element of the scene graph.
type Node struct {
	ID       NodeID   `json:"id"`
	Kind     NodeKind `json:"kind"`
	Name     string   `json:"name,omitempty"`
	Children []NodeID `json:"children,omitempty"`
	Data     NodeData `json:"data"`
}

// NodeData is the interface for kind-specific node payloads.
type NodeData interface {
	nodeData() // marker method restricting implementations to this package
}
