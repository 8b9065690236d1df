// Package solver drives collision resolution: it alternates collision
// detection and time integration until no contacts remain, either over
// whole meshes at once or region by region.
package solver

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/chazu/softbody/pkg/anim"
	"github.com/chazu/softbody/pkg/collision"
	"github.com/chazu/softbody/pkg/geometry"
	"github.com/chazu/softbody/pkg/scene"
	"github.com/samber/lo"
)

// ErrNoMeshes is returned when resolving with nothing added.
var ErrNoMeshes = errors.New("no meshes to resolve")

// progressEvery is how often, in iterations, the loop logs its state.
const progressEvery = 100

// Config holds the parameters of a resolution run.
type Config struct {
	Dt float64

	CollisionStiffness float64
	// StiffnessGrowth adds this fraction of CollisionStiffness to the
	// stiffness after every iteration that still collides.
	StiffnessGrowth float64
	Threshold       float64
	MaxIterations   int

	Gravity   bool
	Inertia   bool
	Corotated bool

	// RegionFactor grows every contact region before slicing.
	RegionFactor float64
	CellSize     int

	// Domain, when set, confines every free node after each step.
	Domain *geometry.AABB

	// Logger receives progress lines. Nil means log.Default().
	Logger *log.Logger
}

// FromSettings converts scene settings into a solver configuration.
func FromSettings(st scene.Settings) Config {
	cfg := Config{
		Dt:                 st.Dt,
		CollisionStiffness: st.CollisionStiffness,
		StiffnessGrowth:    st.StiffnessGrowth,
		Threshold:          st.Threshold,
		MaxIterations:      st.MaxIterations,
		Gravity:            st.Gravity,
		Inertia:            st.Inertia,
		Corotated:          st.Corotated,
		RegionFactor:       st.RegionFactor,
		CellSize:           st.CellSize,
	}
	if st.Domain != nil {
		cfg.Domain = geometry.NewAABBFromLimits(st.Domain.Min, st.Domain.Max)
	}
	return cfg
}

// DefaultConfig returns the configuration of a scene with default settings.
func DefaultConfig() Config {
	return FromSettings(scene.DefaultSettings())
}

// Report summarizes a resolution run.
type Report struct {
	Iterations int
	// Collisions is the number of colliding primitive pairs left at the end.
	Collisions   int
	Regions      int
	Elapsed      time.Duration
	Displacement geometry.Displacement
}

// Resolved reports whether the run ended without contacts.
func (r Report) Resolved() bool { return r.Collisions == 0 }

func (r Report) String() string {
	return fmt.Sprintf("%d iterations, %d collisions, %d regions in %s; displacement mean %.4g max %.4g rms %.4g",
		r.Iterations, r.Collisions, r.Regions, r.Elapsed.Round(time.Millisecond),
		r.Displacement.Mean, r.Displacement.Max, r.Displacement.RMS)
}

// Solver owns the animation systems and the meshes they advance.
type Solver struct {
	cfg     Config
	fem     *anim.ImplicitFEM
	springs *anim.ExplicitMassSpring

	volumes      []*geometry.Mesh
	springMeshes []*geometry.Mesh
}

// New creates a solver. Zero values in cfg fall back to the defaults.
func New(cfg Config) *Solver {
	def := DefaultConfig()
	if cfg.Dt <= 0 {
		cfg.Dt = def.Dt
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.RegionFactor <= 0 {
		cfg.RegionFactor = def.RegionFactor
	}
	if cfg.CellSize <= 0 {
		cfg.CellSize = geometry.DefaultCellSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	fem := anim.NewImplicitFEM(cfg.Dt)
	fem.Gravity = cfg.Gravity
	fem.Inertia = cfg.Inertia
	fem.Corotated = cfg.Corotated
	fem.Logger = cfg.Logger

	springs := anim.NewExplicitMassSpring(cfg.Dt)
	springs.Gravity = cfg.Gravity
	springs.Inertia = cfg.Inertia

	return &Solver{cfg: cfg, fem: fem, springs: springs}
}

// Config returns the effective configuration.
func (s *Solver) Config() Config { return s.cfg }

// Add registers a mesh. Spring meshes are integrated by the mass-spring
// system over their edges; the rest by implicit FEM over their tetrahedra.
func (s *Solver) Add(m *geometry.Mesh, springs bool) {
	if springs {
		s.springMeshes = append(s.springMeshes, m)
	} else {
		s.volumes = append(s.volumes, m)
	}
}

// Meshes returns every registered mesh, FEM meshes first.
func (s *Solver) Meshes() []*geometry.Mesh {
	return append(append([]*geometry.Mesh{}, s.volumes...), s.springMeshes...)
}

// ---------------------------------------------------------------------------
// Global resolution
// ---------------------------------------------------------------------------

// Resolve runs the collide, step, confine and refit loop over all meshes
// until no pair collides or MaxIterations steps have run.
func (s *Solver) Resolve() (Report, error) {
	start := time.Now()
	meshes := s.Meshes()
	if len(meshes) == 0 {
		return Report{}, ErrNoMeshes
	}

	if err := s.springs.PreprocessMeshes(s.springMeshes); err != nil {
		return Report{}, fmt.Errorf("preprocess springs: %w", err)
	}
	if err := s.fem.PreprocessMeshes(s.volumes); err != nil {
		return Report{}, fmt.Errorf("preprocess fem: %w", err)
	}
	defer s.fem.Release(s.volumes...)

	iterations, collisions, err := s.run(s.volumes, s.springMeshes)
	report := Report{
		Iterations:   iterations,
		Collisions:   collisions,
		Elapsed:      time.Since(start),
		Displacement: displacement(meshes),
	}
	if err != nil {
		return report, err
	}
	s.cfg.Logger.Printf("solver: resolved %d meshes: %s", len(meshes), report)
	return report, nil
}

// run alternates collision detection and integration. It returns the
// number of steps taken and the collisions found by the last detection.
// Forces are cleared on return; collide flags keep the last detection.
func (s *Solver) run(volumes, springs []*geometry.Mesh) (iterations, collisions int, err error) {
	meshes := append(append([]*geometry.Mesh{}, volumes...), springs...)
	trees := collision.Trees(meshes)
	stiffness := s.cfg.CollisionStiffness

	for {
		for _, m := range meshes {
			m.ClearForces()
			m.ClearCollisions()
		}
		collisions = collision.ComputeCollisions(trees, stiffness, s.cfg.Threshold)
		if collisions == 0 || iterations >= s.cfg.MaxIterations {
			break
		}

		if err = s.fem.StepMeshes(volumes); err != nil {
			break
		}
		if err = s.springs.StepMeshes(springs); err != nil {
			break
		}
		if s.cfg.Domain != nil {
			collision.ConfineToDomain(trees, s.cfg.Domain)
		}
		for _, t := range trees {
			t.Update()
		}

		iterations++
		stiffness += s.cfg.CollisionStiffness * s.cfg.StiffnessGrowth
		if iterations%progressEvery == 0 {
			s.cfg.Logger.Printf("solver: iter %d collisions %d stiffness %.4g", iterations, collisions, stiffness)
		}
	}

	for _, m := range meshes {
		m.ClearForces()
	}
	if err != nil {
		return iterations, collisions, fmt.Errorf("step %d: %w", iterations, err)
	}
	return iterations, collisions, nil
}

// ---------------------------------------------------------------------------
// Region resolution
// ---------------------------------------------------------------------------

// ResolveRegions finds the contact regions, largest first, and resolves
// each on its own. FEM meshes are sliced to the tetrahedra inside the
// region with the cut faces held still; spring meshes touching the region
// take part whole. Collisions in the report are counted over all meshes
// after the last region.
func (s *Solver) ResolveRegions() (Report, error) {
	start := time.Now()
	meshes := s.Meshes()
	if len(meshes) == 0 {
		return Report{}, ErrNoMeshes
	}
	if err := s.springs.PreprocessMeshes(s.springMeshes); err != nil {
		return Report{}, fmt.Errorf("preprocess springs: %w", err)
	}

	boxes := collision.MeshCollisionBoundingBoxes(meshes, s.cfg.RegionFactor)
	for _, m := range meshes {
		m.ClearCollisions()
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Radius() > boxes[j].Radius() })
	s.cfg.Logger.Printf("solver: %d collision regions", len(boxes))

	tetTrees := make(map[*geometry.Mesh]*geometry.HierarchicalAABB, len(s.volumes))
	for _, m := range s.volumes {
		if len(m.Tetrahedra) > 0 {
			tetTrees[m] = geometry.NewHierarchicalAABB(geometry.AsPrimitives(m.Tetrahedra), s.cfg.CellSize)
		}
	}

	report := Report{Regions: len(boxes)}
	for i, box := range boxes {
		iterations, err := s.resolveRegion(box, tetTrees)
		report.Iterations += iterations
		if err != nil {
			report.Elapsed = time.Since(start)
			return report, fmt.Errorf("region %d: %w", i, err)
		}
	}

	report.Collisions = countCollisions(meshes, s.cfg.Threshold)
	report.Elapsed = time.Since(start)
	report.Displacement = displacement(meshes)
	s.cfg.Logger.Printf("solver: resolved %d meshes by region: %s", len(meshes), report)
	return report, nil
}

func (s *Solver) resolveRegion(box *geometry.AABB, tetTrees map[*geometry.Mesh]*geometry.HierarchicalAABB) (int, error) {
	start := time.Now()
	var subs, springs []*geometry.Mesh
	var held []*geometry.Node

	defer func() {
		s.fem.Release(subs...)
		for _, n := range held {
			n.Fix = false
		}
		for _, m := range s.volumes {
			m.ResetIDs()
		}
		for _, m := range s.Meshes() {
			if m.BoundingBox != nil {
				m.BoundingBox.Update()
			}
		}
	}()

	for _, m := range s.volumes {
		tree := tetTrees[m]
		if tree == nil {
			continue
		}
		tree.Update()
		sub, boundary := geometry.Slice(m, tree, box)
		if len(sub.Tetrahedra) == 0 {
			continue
		}
		for _, n := range boundary {
			if !n.Fix {
				n.Fix = true
				held = append(held, n)
			}
		}
		subs = append(subs, sub)
	}
	for _, m := range s.springMeshes {
		if m.BoundingBox != nil && m.BoundingBox.Box().Collides(box) {
			springs = append(springs, m)
		}
	}

	if err := s.fem.PreprocessMeshes(subs); err != nil {
		return 0, fmt.Errorf("preprocess slices: %w", err)
	}
	iterations, collisions, err := s.run(subs, springs)
	if err != nil {
		return iterations, err
	}
	s.cfg.Logger.Printf("solver: region radius %.4g: %d slices, %d spring meshes, %d iterations, %d collisions left, %s",
		box.Radius(), len(subs), len(springs), iterations, collisions, time.Since(start).Round(time.Millisecond))
	return iterations, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// countCollisions detects contacts without leaving forces behind.
func countCollisions(meshes []*geometry.Mesh, threshold float64) int {
	for _, m := range meshes {
		m.ClearCollisions()
	}
	n := collision.ComputeCollisions(collision.Trees(meshes), 0, threshold)
	for _, m := range meshes {
		m.ClearForces()
	}
	return n
}

func displacement(meshes []*geometry.Mesh) geometry.Displacement {
	return geometry.PositionDifference(lo.FlatMap(meshes, func(m *geometry.Mesh, _ int) []*geometry.Node {
		return m.Nodes
	}))
}
