package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/chazu/softbody/pkg/engine"
	"github.com/chazu/softbody/pkg/kernel"
	"github.com/chazu/softbody/pkg/kernel/manifold"
	"github.com/chazu/softbody/pkg/kernel/sdfx"
	"github.com/chazu/softbody/pkg/scene"
	"github.com/chazu/softbody/pkg/solver"
	"github.com/chazu/softbody/pkg/tessellate"
)

// colorPalette is a default palette used to assign distinct colors to bodies.
var colorPalette = []string{
	"#4A90D9", "#E67E22", "#2ECC71", "#9B59B6",
	"#E74C3C", "#1ABC9C", "#F39C12", "#3498DB",
}

// Mode selects how Simulate resolves collisions.
type Mode string

const (
	ModeAuto    Mode = ""        // regions if the scene asks for them, else global
	ModeGlobal  Mode = "global"  // every mesh at once
	ModeRegions Mode = "regions" // contact region by contact region
	ModeRelax   Mode = "relax"   // softening springs, no inertia
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModeGlobal, ModeRegions, ModeRelax:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want global, regions or relax)", s)
	}
}

// KernelFactory builds the solid modeling kernel for surface bodies at the
// scene's mesh resolution.
type KernelFactory func(cells int) (kernel.Kernel, error)

// KernelByName returns the factory of a named kernel: "sdfx" (the
// default) samples a distance field, "manifold" tessellates exactly and
// needs a binary built with -tags=manifold.
func KernelByName(name string) (KernelFactory, error) {
	switch name {
	case "", "sdfx":
		return func(cells int) (kernel.Kernel, error) { return sdfx.NewWithCells(cells), nil }, nil
	case "manifold":
		return func(cells int) (kernel.Kernel, error) { return manifold.NewWithSegments(2 * cells) }, nil
	default:
		return nil, fmt.Errorf("unknown kernel %q (want sdfx or manifold)", name)
	}
}

// App runs scene scripts headlessly: evaluate, validate, tessellate and
// optionally resolve collisions.
type App struct {
	engine    *engine.Engine
	logger    *log.Logger
	newKernel KernelFactory
}

// MeshData is the JSON-serializable snapshot of one body's surface.
type MeshData struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	BodyName string    `json:"bodyName"`
	Color    string    `json:"color"`
	Nodes    int       `json:"nodes"`
	Springs  bool      `json:"springs"`
}

// EvalErrorData is a JSON-serializable eval or validation message.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// ReportData is the JSON-serializable summary of a resolution run.
type ReportData struct {
	Mode             Mode    `json:"mode"`
	Iterations       int     `json:"iterations"`
	Collisions       int     `json:"collisions"`
	Regions          int     `json:"regions"`
	ElapsedSeconds   float64 `json:"elapsedSeconds"`
	MeanDisplacement float64 `json:"meanDisplacement"`
	MaxDisplacement  float64 `json:"maxDisplacement"`
	RMSDisplacement  float64 `json:"rmsDisplacement"`
}

// EvalResult is the full result of running a script.
type EvalResult struct {
	Meshes   []MeshData      `json:"meshes"`
	Errors   []EvalErrorData `json:"errors"`
	Warnings []EvalErrorData `json:"warnings"`
	Report   *ReportData     `json:"report,omitempty"`
}

// NewApp creates a new App logging to log.Default().
func NewApp() *App {
	return NewAppWithLogger(log.Default())
}

// NewAppWithLogger creates a new App logging to logger.
func NewAppWithLogger(logger *log.Logger) *App {
	newKernel, _ := KernelByName("sdfx")
	return &App{
		engine:    engine.NewEngine(),
		logger:    logger,
		newKernel: newKernel,
	}
}

// UseKernel replaces the kernel used to tessellate surface bodies.
func (a *App) UseKernel(f KernelFactory) {
	a.newKernel = f
}

func newResult() EvalResult {
	return EvalResult{
		Meshes:   []MeshData{},
		Errors:   []EvalErrorData{},
		Warnings: []EvalErrorData{},
	}
}

func (r *EvalResult) fail(msg string) {
	r.Errors = append(r.Errors, EvalErrorData{Message: msg})
}

// Evaluate takes Lisp source and returns the bodies at rest, plus errors
// and validation warnings.
func (a *App) Evaluate(source string) EvalResult {
	result := newResult()
	bodies, _ := a.build(source, &result)
	result.Meshes = snapshot(bodies)
	return result
}

// Simulate evaluates source, resolves collisions in the given mode and
// returns the resolved bodies with a report.
func (a *App) Simulate(source string, mode Mode) EvalResult {
	result := newResult()
	bodies, s := a.build(source, &result)
	if len(bodies) == 0 {
		result.Meshes = snapshot(bodies)
		return result
	}

	if mode == ModeAuto {
		mode = ModeGlobal
		if s.Settings.Regions {
			mode = ModeRegions
		}
	}

	cfg := solver.FromSettings(s.Settings)
	cfg.Logger = a.logger
	sol := solver.New(cfg)
	for _, b := range bodies {
		sol.Add(b.Mesh, b.Springs)
	}

	var report solver.Report
	var err error
	switch mode {
	case ModeGlobal:
		report, err = sol.Resolve()
	case ModeRegions:
		report, err = sol.ResolveRegions()
	case ModeRelax:
		rc := solver.DefaultRelaxConfig()
		rc.Dt = cfg.Dt
		report, err = sol.Relax(rc)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	if errors.Is(err, solver.ErrNoMeshes) && mode == ModeRelax {
		err = fmt.Errorf("relax needs at least one spring-driven body: %w", err)
	}
	if err != nil {
		a.logger.Printf("Simulate error: %v", err)
		result.fail("simulation failed: " + err.Error())
	}

	result.Report = &ReportData{
		Mode:             mode,
		Iterations:       report.Iterations,
		Collisions:       report.Collisions,
		Regions:          report.Regions,
		ElapsedSeconds:   report.Elapsed.Seconds(),
		MeanDisplacement: report.Displacement.Mean,
		MaxDisplacement:  report.Displacement.Max,
		RMSDisplacement:  report.Displacement.RMS,
	}
	result.Meshes = snapshot(bodies)
	return result
}

// build evaluates, validates and tessellates source. Errors are recorded
// in result and yield no bodies.
func (a *App) build(source string, result *EvalResult) ([]*tessellate.Body, *scene.Scene) {
	// Step 1: Evaluate the Lisp source into a scene.
	res, err := a.engine.EvaluateAndValidate(source)
	if err != nil {
		// Fatal error (panic, timeout, etc.)
		a.logger.Printf("Evaluate fatal error: %v", err)
		result.fail(err.Error())
		return nil, nil
	}

	// Step 2: Convert eval errors, validation errors and warnings.
	for _, e := range res.Errors {
		result.Errors = append(result.Errors, EvalErrorData{Line: e.Line, Col: e.Col, Message: e.Message})
	}
	for _, e := range res.Validation.Errors {
		result.fail(e.Error())
	}
	for _, w := range res.Warnings {
		result.Warnings = append(result.Warnings, EvalErrorData{Line: w.Line, Col: w.Col, Message: w.Message})
	}
	if len(result.Errors) > 0 || res.Scene == nil {
		return nil, nil
	}

	// Step 3: Tessellate the scene into simulation meshes.
	k, err := a.newKernel(res.Scene.Settings.MeshCells)
	if err != nil {
		result.fail(err.Error())
		return nil, nil
	}
	bodies, err := tessellate.Tessellate(res.Scene, k)
	if err != nil {
		a.logger.Printf("Tessellate error: %v", err)
		result.fail("tessellation failed: " + err.Error())
		return nil, nil
	}
	return bodies, res.Scene
}

// snapshot converts the bodies' current surfaces to MeshData.
func snapshot(bodies []*tessellate.Body) []MeshData {
	meshes := make([]MeshData, 0, len(bodies))
	for i, b := range bodies {
		m := kernel.FromGeometry(b.Mesh)
		meshes = append(meshes, MeshData{
			Vertices: m.Vertices,
			Normals:  m.Normals,
			Indices:  m.Indices,
			BodyName: m.BodyName,
			Color:    colorPalette[i%len(colorPalette)],
			Nodes:    len(b.Mesh.Nodes),
			Springs:  b.Springs,
		})
	}
	return meshes
}
