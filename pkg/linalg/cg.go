package linalg

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Default solver settings.
const (
	DefaultTolerance     = 1e-8
	DefaultMaxIterations = 1000
)

// Operator is a square linear operator.
type Operator interface {
	Dims() (int, int)
	MulVecTo(dst *mat.VecDense, x mat.Vector)
}

// CG solves symmetric positive (semi-)definite systems A x = b by handing
// the quadratic ½xᵀAx - bᵀx to gonum's conjugate gradient minimizer with an
// exact line search. The unknowns are scaled by the Jacobi preconditioner,
// prepared once by NewCG.
type CG struct {
	A             Operator
	Tolerance     float64
	MaxIterations int

	scale []float64
}

// Result reports how a solve ended. Hitting MaxIterations is not an error:
// the best iterate found is returned with Converged false.
type Result struct {
	Iterations int
	Residual   float64
	Converged  bool
}

// NewCG prepares a solver for a. Zero diagonal entries, such as rows of
// isolated nodes, get a unit preconditioner.
func NewCG(a *CSR) *CG {
	diag := a.Diagonal()
	scale := make([]float64, len(diag))
	for i, d := range diag {
		if d > 0 && !math.IsInf(d, 0) {
			scale[i] = 1 / math.Sqrt(d)
		} else {
			scale[i] = 1
		}
	}
	return &CG{
		A:             a,
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
		scale:         scale,
	}
}

// Solve solves A x = b starting from x, which is overwritten with the
// solution. Entries where constrained is true are held at zero: they are
// zeroed in x and left out of the minimization, so the solve acts on the
// free subspace only. constrained may be nil.
//
// The relative residual |r|/|b| of the free rows is reported in Result.
func (s *CG) Solve(x, b *mat.VecDense, constrained []bool) Result {
	n := b.Len()
	held := func(i int) bool { return i < len(constrained) && constrained[i] }

	free := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if held(i) {
			x.SetVec(i, 0)
		} else {
			free = append(free, i)
		}
	}
	bp := mat.NewVecDense(n, nil)
	for _, i := range free {
		bp.SetVec(i, b.AtVec(i))
	}
	bnorm := mat.Norm(bp, 2)
	if bnorm == 0 || len(free) == 0 {
		x.Zero()
		return Result{Converged: true}
	}

	// x = S y over the free entries, S the Jacobi scaling.
	full := mat.NewVecDense(n, nil)
	ax := mat.NewVecDense(n, nil)
	var last []float64
	eval := func(y []float64) {
		if last != nil && floats.Equal(y, last) {
			return
		}
		for k, i := range free {
			full.SetVec(i, s.scale[i]*y[k])
		}
		s.A.MulVecTo(ax, full)
		last = append(last[:0], y...)
	}
	problem := optimize.Problem{
		Func: func(y []float64) float64 {
			eval(y)
			var f float64
			for _, i := range free {
				xi := full.AtVec(i)
				f += xi * (0.5*ax.AtVec(i) - bp.AtVec(i))
			}
			return f
		},
		Grad: func(grad, y []float64) {
			eval(y)
			for k, i := range free {
				grad[k] = s.scale[i] * (ax.AtVec(i) - bp.AtVec(i))
			}
		},
	}

	y0 := make([]float64, len(free))
	var sbMax float64
	for k, i := range free {
		y0[k] = x.AtVec(i) / s.scale[i]
		sbMax = math.Max(sbMax, math.Abs(s.scale[i]*bp.AtVec(i)))
	}
	settings := &optimize.Settings{
		GradientThreshold: s.Tolerance * sbMax,
		Converger:         optimize.NeverTerminate{},
		MajorIterations:   s.MaxIterations,
	}
	result, _ := optimize.Minimize(problem, y0, settings, &optimize.CG{Linesearcher: &secant{}})

	res := Result{}
	if result != nil && allFinite(result.X) {
		for k, i := range free {
			x.SetVec(i, s.scale[i]*result.X[k])
		}
		res.Iterations = result.MajorIterations
	}

	r := mat.NewVecDense(n, nil)
	s.A.MulVecTo(r, x)
	var rnorm float64
	for _, i := range free {
		d := r.AtVec(i) - bp.AtVec(i)
		rnorm += d * d
	}
	res.Residual = math.Sqrt(rnorm) / bnorm
	res.Converged = result != nil && result.Status == optimize.GradientThreshold || res.Residual <= s.Tolerance
	return res
}

// errCurvature stops a line search along a direction of zero or negative
// curvature.
var errCurvature = errors.New("linalg: direction without positive curvature")

// secant is an exact line search for quadratic objectives. The directional
// derivative is linear in the step, so one trial step locates its root.
// Only derivatives are compared, never function values, which keeps the
// search accurate where objective differences drop below roundoff.
type secant struct {
	d0    float64
	step  float64
	trial bool
}

var _ optimize.Linesearcher = (*secant)(nil)

func (s *secant) Init(_, derivative, step float64) optimize.Operation {
	s.d0, s.step, s.trial = derivative, step, true
	return optimize.FuncEvaluation | optimize.GradEvaluation
}

func (s *secant) Iterate(_, derivative float64) (optimize.Operation, float64, error) {
	if !s.trial {
		return optimize.MajorIteration, s.step, nil
	}
	s.trial = false
	curvature := s.d0 - derivative
	if !(curvature > 0) {
		return 0, 0, errCurvature
	}
	s.step *= s.d0 / curvature
	return optimize.FuncEvaluation | optimize.GradEvaluation, s.step, nil
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
