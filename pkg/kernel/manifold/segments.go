package manifold

// DefaultSegments is the number of facets around spheres and cylinders.
const DefaultSegments = 32
