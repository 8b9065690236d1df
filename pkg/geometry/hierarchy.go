package geometry

import "github.com/chazu/softbody/pkg/parallel"

// DefaultCellSize is the maximum number of primitives held by a leaf.
const DefaultCellSize = 10

// refitDepth is how many levels of Update fork into separate goroutines.
const refitDepth = 4

// HierarchicalAABB is a binary tree of boxes over a fixed primitive list.
// Internal nodes have exactly two children and no primitives; leaves hold
// primitives and no children. The partition is decided at construction and
// never changes; Update only refits boxes.
type HierarchicalAABB struct {
	AABB
	primitives []Primitive
	child0     *HierarchicalAABB
	child1     *HierarchicalAABB
}

// PrimitivePair is a candidate contact between two primitives.
type PrimitivePair struct {
	A, B Primitive
}

// NewHierarchicalAABB builds a tree over ps. Leaves hold at most cellSize
// primitives unless a split would leave one side empty. A cellSize of zero
// or less selects DefaultCellSize. An empty list yields an empty leaf.
func NewHierarchicalAABB(ps []Primitive, cellSize int) *HierarchicalAABB {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	UpdateAll(ps)
	h := &HierarchicalAABB{}
	h.divide(ps, cellSize)
	return h
}

func (h *HierarchicalAABB) divide(ps []Primitive, cellSize int) {
	h.Clear()
	h.UnitePrimitives(ps)
	if len(ps) <= cellSize {
		h.primitives = ps
		return
	}

	axis := h.LongestAxis()
	center := Component(h.Center(), axis)
	var left, right []Primitive
	for _, p := range ps {
		if Component(p.Center(), axis) <= center {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		h.primitives = ps
		return
	}

	h.child0 = &HierarchicalAABB{}
	h.child1 = &HierarchicalAABB{}
	h.child0.divide(left, cellSize)
	h.child1.divide(right, cellSize)
}

// IsLeaf reports whether h has no children.
func (h *HierarchicalAABB) IsLeaf() bool { return h.child0 == nil }

// Children returns the two subtrees of an internal node, or nils for a leaf.
func (h *HierarchicalAABB) Children() (*HierarchicalAABB, *HierarchicalAABB) {
	return h.child0, h.child1
}

// Box returns the node's bounding box.
func (h *HierarchicalAABB) Box() *AABB { return &h.AABB }

// Primitives returns the primitives held directly by a leaf.
func (h *HierarchicalAABB) Primitives() []Primitive { return h.primitives }

// All returns every primitive in the subtree.
func (h *HierarchicalAABB) All() []Primitive {
	if h.IsLeaf() {
		return h.primitives
	}
	return append(h.child0.All(), h.child1.All()...)
}

// Depth returns the number of levels in the subtree.
func (h *HierarchicalAABB) Depth() int {
	if h.IsLeaf() {
		return 1
	}
	return 1 + max(h.child0.Depth(), h.child1.Depth())
}

// LeafCount returns the number of leaves in the subtree.
func (h *HierarchicalAABB) LeafCount() int {
	if h.IsLeaf() {
		return 1
	}
	return h.child0.LeafCount() + h.child1.LeafCount()
}

// Update refits every box bottom-up from the current node positions.
func (h *HierarchicalAABB) Update() {
	h.update(refitDepth)
}

func (h *HierarchicalAABB) update(forks int) {
	if h.IsLeaf() {
		h.FitPrimitives(h.primitives)
		return
	}
	if forks > 0 {
		parallel.Do(
			func() { h.child0.update(forks - 1) },
			func() { h.child1.update(forks - 1) },
		)
	} else {
		h.child0.update(0)
		h.child1.update(0)
	}
	h.Clear()
	h.Unite(&h.child0.AABB)
	h.Unite(&h.child1.AABB)
}

// ---------------------------------------------------------------------------
// Region queries
// ---------------------------------------------------------------------------

// OuterNodes returns the nodes, each once, whose position lies outside box.
// Subtrees that lie fully inside box are skipped.
func (h *HierarchicalAABB) OuterNodes(box *AABB) []*Node {
	seen := make(map[*Node]struct{})
	var out []*Node
	h.outerNodes(box, seen, &out)
	return out
}

func (h *HierarchicalAABB) outerNodes(box *AABB, seen map[*Node]struct{}, out *[]*Node) {
	if h.IsLeaf() {
		for _, p := range h.primitives {
			for _, n := range p.Nodes() {
				if _, ok := seen[n]; ok {
					continue
				}
				if !box.ContainsPoint(n.Position) {
					seen[n] = struct{}{}
					*out = append(*out, n)
				}
			}
		}
		return
	}
	if !box.Contains(&h.child0.AABB) {
		h.child0.outerNodes(box, seen, out)
	}
	if !box.Contains(&h.child1.AABB) {
		h.child1.outerNodes(box, seen, out)
	}
}

// InsidePrimitives returns the primitives whose limits lie fully inside box.
func (h *HierarchicalAABB) InsidePrimitives(box *AABB) []Primitive {
	var out []Primitive
	h.query(box, box.ContainsPrimitive, &out)
	return out
}

// CollidingPrimitives returns the primitives whose limits overlap box.
func (h *HierarchicalAABB) CollidingPrimitives(box *AABB) []Primitive {
	var out []Primitive
	h.query(box, box.CollidesPrimitive, &out)
	return out
}

func (h *HierarchicalAABB) query(box *AABB, accept func(Primitive) bool, out *[]Primitive) {
	if !box.Collides(&h.AABB) {
		return
	}
	if h.IsLeaf() {
		for _, p := range h.primitives {
			if accept(p) {
				*out = append(*out, p)
			}
		}
		return
	}
	h.child0.query(box, accept, out)
	h.child1.query(box, accept, out)
}

// ---------------------------------------------------------------------------
// Tree against tree
// ---------------------------------------------------------------------------

// CollidingPairs returns every pair (a from h, b from other) whose limits
// overlap. Both trees are descended in lock-step with an explicit stack.
func (h *HierarchicalAABB) CollidingPairs(other *HierarchicalAABB) []PrimitivePair {
	var out []PrimitivePair
	stack := [][2]*HierarchicalAABB{{h, other}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		a, b := top[0], top[1]
		if !a.Collides(&b.AABB) {
			continue
		}

		switch {
		case a.IsLeaf() && b.IsLeaf():
			out = appendLeafPairs(out, a.primitives, b.primitives)
		case a.IsLeaf():
			stack = append(stack, [2]*HierarchicalAABB{a, b.child0}, [2]*HierarchicalAABB{a, b.child1})
		case b.IsLeaf():
			stack = append(stack, [2]*HierarchicalAABB{a.child0, b}, [2]*HierarchicalAABB{a.child1, b})
		default:
			stack = append(stack,
				[2]*HierarchicalAABB{a.child0, b.child0},
				[2]*HierarchicalAABB{a.child0, b.child1},
				[2]*HierarchicalAABB{a.child1, b.child0},
				[2]*HierarchicalAABB{a.child1, b.child1},
			)
		}
	}
	return out
}

func appendLeafPairs(out []PrimitivePair, as, bs []Primitive) []PrimitivePair {
	for _, pa := range as {
		for _, pb := range bs {
			if LimitsOverlap(pa, pb) {
				out = append(out, PrimitivePair{A: pa, B: pb})
			}
		}
	}
	return out
}

// SelfCollidingPairs returns every unordered pair of primitives within the
// tree whose limits overlap and which share no node. Primitives sharing a
// node are neighbours in the mesh and always touch.
func (h *HierarchicalAABB) SelfCollidingPairs() []PrimitivePair {
	var out []PrimitivePair
	type frame struct {
		a, b *HierarchicalAABB
	}
	stack := []frame{{h, h}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		a, b := top.a, top.b

		if a == b {
			if a.IsLeaf() {
				ps := a.primitives
				for i := 0; i < len(ps); i++ {
					for j := i + 1; j < len(ps); j++ {
						if LimitsOverlap(ps[i], ps[j]) && !SharesNode(ps[i], ps[j]) {
							out = append(out, PrimitivePair{A: ps[i], B: ps[j]})
						}
					}
				}
				continue
			}
			stack = append(stack,
				frame{a.child0, a.child0},
				frame{a.child0, a.child1},
				frame{a.child1, a.child1},
			)
			continue
		}

		if !a.Collides(&b.AABB) {
			continue
		}
		switch {
		case a.IsLeaf() && b.IsLeaf():
			for _, pa := range a.primitives {
				for _, pb := range b.primitives {
					if LimitsOverlap(pa, pb) && !SharesNode(pa, pb) {
						out = append(out, PrimitivePair{A: pa, B: pb})
					}
				}
			}
		case a.IsLeaf():
			stack = append(stack, frame{a, b.child0}, frame{a, b.child1})
		case b.IsLeaf():
			stack = append(stack, frame{a.child0, b}, frame{a.child1, b})
		default:
			stack = append(stack,
				frame{a.child0, b.child0},
				frame{a.child0, b.child1},
				frame{a.child1, b.child0},
				frame{a.child1, b.child1},
			)
		}
	}
	return out
}
