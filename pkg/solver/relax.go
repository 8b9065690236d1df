package solver

import (
	"fmt"
	"log"
	"time"

	"github.com/chazu/softbody/pkg/anim"
	"github.com/chazu/softbody/pkg/collision"
	"github.com/chazu/softbody/pkg/geometry"
	"github.com/samber/lo"
)

// RelaxConfig holds the schedule of RelaxSprings. Each round runs up to
// Iterations steps; between rounds the spring stiffness and the iteration
// budget shrink by Decay, the budget never below MinIterations.
type RelaxConfig struct {
	Dt                 float64
	SpringStiffness    float64
	CollisionStiffness float64
	MinStiffness       float64
	Iterations         int
	MinIterations      int
	Decay              float64

	// Logger receives progress lines. Nil means log.Default().
	Logger *log.Logger
}

// DefaultRelaxConfig returns the schedule used for spring networks.
func DefaultRelaxConfig() RelaxConfig {
	return RelaxConfig{
		Dt:                 anim.DefaultDt,
		SpringStiffness:    1000,
		CollisionStiffness: 100,
		MinStiffness:       0.01,
		Iterations:         1000,
		MinIterations:      100,
		Decay:              0.75,
	}
}

// RelaxSprings pushes apart a network of springs without inertia or
// gravity. Collisions are detected over trees and the nodes are stepped
// over edges, then clamped inside limits when it is not nil. The springs
// soften round by round so that stubborn contacts are eventually resolved
// by letting the shapes deform.
func RelaxSprings(cfg RelaxConfig, trees []*geometry.HierarchicalAABB, nodes []*geometry.Node, edges []*geometry.Edge, limits *geometry.AABB) (Report, error) {
	start := time.Now()
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if len(nodes) == 0 {
		return Report{}, ErrNoMeshes
	}

	sys := anim.NewExplicitMassSpring(cfg.Dt)
	sys.Gravity = false
	sys.Inertia = false
	logger.Printf("relax: %d springs and %d nodes", len(edges), len(nodes))

	var report Report
	ks := cfg.SpringStiffness
	budget := cfg.Iterations
	collisions := 1
	for collisions > 0 {
		for i := 0; i < budget; i++ {
			geometry.ClearForces(nodes)
			geometry.ClearCollisions(nodes)
			collisions = collision.ComputeCollisions(trees, cfg.CollisionStiffness, collision.DefaultThreshold)
			if collisions == 0 {
				break
			}
			if err := sys.StepSprings(nodes, edges, limits, ks, 0); err != nil {
				return report, fmt.Errorf("relax step %d: %w", report.Iterations, err)
			}
			for _, t := range trees {
				t.Update()
			}
			report.Iterations++
			if report.Iterations%progressEvery == 0 {
				logger.Printf("relax: iter %d collisions %d stiffness %.4g", report.Iterations, collisions, ks)
			}
		}
		if collisions == 0 {
			break
		}

		ks *= cfg.Decay
		budget = max(int(float64(budget)*cfg.Decay), cfg.MinIterations)
		if ks < cfg.MinStiffness {
			break
		}
	}
	geometry.ClearForces(nodes)

	report.Collisions = collisions
	report.Elapsed = time.Since(start)
	report.Displacement = geometry.PositionDifference(nodes)
	logger.Printf("relax: %s, final stiffness %.4g", report, ks)
	return report, nil
}

// Relax runs RelaxSprings over the spring meshes, with the FEM meshes
// taking part in collision detection as static obstacles. The domain, if
// any, is the clamping box.
func (s *Solver) Relax(cfg RelaxConfig) (Report, error) {
	if len(s.springMeshes) == 0 {
		return Report{}, ErrNoMeshes
	}
	if cfg.Logger == nil {
		cfg.Logger = s.cfg.Logger
	}
	nodes := lo.FlatMap(s.springMeshes, func(m *geometry.Mesh, _ int) []*geometry.Node { return m.Nodes })
	edges := lo.FlatMap(s.springMeshes, func(m *geometry.Mesh, _ int) []*geometry.Edge { return m.Edges })

	report, err := RelaxSprings(cfg, collision.Trees(s.Meshes()), nodes, edges, s.cfg.Domain)
	for _, m := range s.volumes {
		m.ClearForces()
	}
	return report, err
}
