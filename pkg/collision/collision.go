// Package collision finds contacts between primitives held in bounding-box
// hierarchies and resolves them with penalty forces, hard domain limits, or
// by reporting the regions where they occur.
//
// Tree pairs are traversed in parallel, one task each, and the candidate
// primitive pairs they yield are then tested in parallel chunks. Each chunk
// buffers its forces and collide flags, and the buffers are applied to the
// shared nodes in pair order once all workers finish, so results do not
// depend on scheduling.
package collision

import (
	"github.com/chazu/softbody/pkg/geometry"
	"github.com/chazu/softbody/pkg/parallel"
	"github.com/samber/lo"
)

// ComputeCollisions tests every pair of distinct trees, injects penalty
// forces with the given stiffness into the nodes of colliding primitives
// and flags them. It returns the number of colliding primitive pairs.
func ComputeCollisions(trees []*geometry.HierarchicalAABB, stiffness, threshold float64) int {
	return applyAll(testPairs(crossPairs(trees), stiffness, threshold, true, false))
}

// ComputeSelfCollisions tests every tree against itself. Primitives that
// share a node are never tested against each other.
func ComputeSelfCollisions(trees []*geometry.HierarchicalAABB, stiffness, threshold float64) int {
	found := make([][]geometry.PrimitivePair, len(trees))
	parallel.EachGrain(len(trees), 1, func(i int) {
		found[i] = trees[i].SelfCollidingPairs()
	})
	return applyAll(testPairs(lo.Flatten(found), stiffness, threshold, true, false))
}

// ComputeTreeSelfCollisions is ComputeSelfCollisions for a single tree. The
// pair list is split across workers.
func ComputeTreeSelfCollisions(tree *geometry.HierarchicalAABB, stiffness, threshold float64) int {
	return applyAll(testPairs(tree.SelfCollidingPairs(), stiffness, threshold, true, false))
}

// crossPairs gathers the candidate primitive pairs of every pair of
// distinct trees, in (i, j) order. Each tree pair is traversed as its own
// task.
func crossPairs(trees []*geometry.HierarchicalAABB) []geometry.PrimitivePair {
	type treePair struct{ a, b int }
	var tps []treePair
	for i := range trees {
		for j := i + 1; j < len(trees); j++ {
			tps = append(tps, treePair{i, j})
		}
	}
	found := make([][]geometry.PrimitivePair, len(tps))
	parallel.EachGrain(len(tps), 1, func(k int) {
		found[k] = trees[tps[k].a].CollidingPairs(trees[tps[k].b])
	})
	return lo.Flatten(found)
}

// testPairs runs the narrow phase over pairs split into worker chunks. The
// returned buffers are in pair order.
func testPairs(pairs []geometry.PrimitivePair, stiffness, threshold float64, withForces, keepPrims bool) []*contacts {
	bufs := make([]*contacts, len(pairs))
	parallel.For(len(pairs), func(start, end int) {
		c := &contacts{withForces: withForces}
		for _, pair := range pairs[start:end] {
			if testPair(pair.A, pair.B, stiffness, threshold, c) {
				c.pairs++
				if keepPrims {
					c.prims = append(c.prims, pair.A, pair.B)
				}
			}
		}
		bufs[start] = c
	})
	return bufs
}

// ConfineToDomain clamps every node lying outside domain back onto its
// boundary, axis by axis, and zeroes its velocity. Fixed and anchor nodes
// are clamped too. It returns the number of nodes moved.
func ConfineToDomain(trees []*geometry.HierarchicalAABB, domain *geometry.AABB) int {
	moved := 0
	for _, tree := range trees {
		moved += domain.Confine(tree.OuterNodes(domain))
	}
	return moved
}

// CollisionBoundingBoxes finds the regions where trees collide. Colliding
// nodes are flagged but receive no force. Each colliding primitive that is
// not an anchor contributes its box grown by sizeFactor; overlapping boxes
// are then merged until the result is pairwise disjoint.
func CollisionBoundingBoxes(trees []*geometry.HierarchicalAABB, sizeFactor float64) []*geometry.AABB {
	bufs := testPairs(crossPairs(trees), 0, DefaultThreshold, false, true)
	applyAll(bufs)

	prims := lo.Uniq(lo.FlatMap(bufs, func(c *contacts, _ int) []geometry.Primitive { return c.prims }))
	var boxes []*geometry.AABB
	for _, p := range prims {
		if geometry.IsAnchor(p) {
			continue
		}
		b := geometry.NewAABBFromLimits(p.LowerLimit(), p.UpperLimit())
		b.Resize(sizeFactor)
		boxes = append(boxes, b)
	}
	return MergeBoxes(boxes)
}

// MergeBoxes repeatedly unites overlapping boxes until no two overlap. The
// input slice is reused.
func MergeBoxes(boxes []*geometry.AABB) []*geometry.AABB {
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(boxes) && !merged; i++ {
			for j := i + 1; j < len(boxes); j++ {
				if boxes[i].Collides(boxes[j]) {
					boxes[i].Unite(boxes[j])
					boxes = append(boxes[:j], boxes[j+1:]...)
					merged = true
					break
				}
			}
		}
	}
	return boxes
}

// ---------------------------------------------------------------------------
// Mesh conveniences
// ---------------------------------------------------------------------------

// Trees returns the bounding boxes of the meshes that have one.
func Trees(meshes []*geometry.Mesh) []*geometry.HierarchicalAABB {
	var trees []*geometry.HierarchicalAABB
	for _, m := range meshes {
		if m.BoundingBox != nil {
			trees = append(trees, m.BoundingBox)
		}
	}
	return trees
}

// ComputeMeshCollisions runs ComputeCollisions over the meshes' bounding
// boxes and reports whether any pair collided.
func ComputeMeshCollisions(meshes []*geometry.Mesh, stiffness, threshold float64) bool {
	return ComputeCollisions(Trees(meshes), stiffness, threshold) > 0
}

// ConfineMeshesToDomain runs ConfineToDomain over the meshes' bounding boxes.
func ConfineMeshesToDomain(meshes []*geometry.Mesh, domain *geometry.AABB) int {
	return ConfineToDomain(Trees(meshes), domain)
}

// MeshCollisionBoundingBoxes runs CollisionBoundingBoxes over the meshes'
// bounding boxes.
func MeshCollisionBoundingBoxes(meshes []*geometry.Mesh, sizeFactor float64) []*geometry.AABB {
	return CollisionBoundingBoxes(Trees(meshes), sizeFactor)
}
