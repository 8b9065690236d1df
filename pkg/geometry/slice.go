package geometry

import "sort"

// Slice builds a sub-mesh from the tetrahedra of m whose limits lie inside
// box, found through tree, a hierarchy over m's tetrahedra. The sub-mesh
// shares nodes with m. Nodes on faces created by the cut, meaning surface
// faces of the slice that are not surface faces of m, are returned as the
// boundary so callers can hold them in place while the slice is solved.
//
// Slicing renumbers node ids; callers restore them with m.ResetIDs.
func Slice(m *Mesh, tree *HierarchicalAABB, box *AABB) (sub *Mesh, boundary []*Node) {
	sub = NewMesh(m.Name, m.Material)
	for _, p := range tree.InsidePrimitives(box) {
		if t, ok := p.(*Tetrahedron); ok {
			sub.Tetrahedra = append(sub.Tetrahedra, t)
		}
	}
	if len(sub.Tetrahedra) == 0 {
		return sub, nil
	}

	parentID := make(map[*Node]int, len(m.Nodes))
	wasSurface := make(map[*Node]bool, len(m.Nodes))
	for _, n := range m.Nodes {
		parentID[n] = n.ID
		wasSurface[n] = n.Surface
	}
	faceKey := func(t *Triangle) [3]int {
		ids := []int{parentID[t.Node0], parentID[t.Node1], parentID[t.Node2]}
		sort.Ints(ids)
		return [3]int{ids[0], ids[1], ids[2]}
	}
	outer := make(map[[3]int]struct{}, len(m.SurfaceTriangles))
	for _, t := range m.SurfaceTriangles {
		outer[faceKey(t)] = struct{}{}
	}

	sub.TetsToNodes()
	sub.ResetIDs()
	sub.TetsToTriangles()

	seen := make(map[*Node]struct{})
	for _, t := range sub.SurfaceTriangles {
		if _, ok := outer[faceKey(t)]; ok {
			continue
		}
		for _, n := range t.Nodes() {
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			boundary = append(boundary, n)
		}
	}
	for n, s := range wasSurface {
		n.Surface = s
	}
	sub.InitVolume = 0
	for _, t := range sub.Tetrahedra {
		sub.InitVolume += t.InitVolume()
	}
	sub.BuildBoundingBox(DefaultCellSize)
	return sub, boundary
}
