package linesearch

import (
	"math"

	"github.com/nataliia-kulatska/gadget/internal/optimization/kernels"
)

// Default Wolfe parameters.
const (
	DefaultRho       = 0.01
	DefaultCurvature = 0.1
	DefaultTau       = 0.1
	DefaultMaxTrials = 20
	DefaultMaxStep   = 1e10
)

// Extrapolation limits on the next trial step relative to the last increase.
const (
	expandMin = 1.0
	expandMax = 9.0
)

// SlopeFunc returns the directional derivative at x along dir, with fx = f(x).
type SlopeFunc func(x []float64, fx float64, dir []float64) float64

// Wolfe brackets a step satisfying the strong Wolfe conditions
//
//	f(x + a·dir) <= f(x) + Rho·a·slope
//	|f'(x + a·dir; dir)| <= -Sigma·slope
//
// and then zooms into the bracket with cubic or quadratic interpolation. Tau
// keeps interpolated trials away from the bracket ends. A positive
// MaxEvaluations caps the objective and slope calls of one search; when it is
// reached the best sufficient-decrease trial so far is accepted.
type Wolfe struct {
	Rho            float64
	Sigma          float64
	Tau            float64
	Step           float64
	MaxStep        float64
	MaxTrials      int
	MaxEvaluations int

	// Slope estimates directional derivatives. It must be set.
	Slope SlopeFunc
}

// NewWolfe returns a search with default parameters using slope for
// directional derivatives.
func NewWolfe(slope SlopeFunc) *Wolfe {
	return &Wolfe{
		Rho:       DefaultRho,
		Sigma:     DefaultCurvature,
		Tau:       DefaultTau,
		Step:      DefaultStep,
		MaxStep:   DefaultMaxStep,
		MaxTrials: DefaultMaxTrials,
		Slope:     slope,
	}
}

type sample struct {
	a, f, d float64
	hasD    bool
}

type wolfeRun struct {
	w     *Wolfe
	f     Func
	x     []float64
	dir   []float64
	f0    float64
	slope float64
	trial []float64
	res   Result

	// best point satisfying sufficient decrease
	acc  sample
	accX []float64
}

// Search implements Searcher.
func (w *Wolfe) Search(f Func, x []float64, fx float64, dir []float64, slope float64) Result {
	if !(slope < 0) || w.Slope == nil {
		return Result{}
	}
	r := &wolfeRun{
		w:     w,
		f:     f,
		x:     x,
		dir:   dir,
		f0:    fx,
		slope: slope,
		trial: make([]float64, len(x)),
		acc:   sample{a: 0, f: fx},
	}
	r.bracket()
	return r.res
}

func (r *wolfeRun) maxTrials() int {
	if r.w.MaxTrials > 0 {
		return r.w.MaxTrials
	}
	return DefaultMaxTrials
}

func (r *wolfeRun) exhausted() bool {
	return r.w.MaxEvaluations > 0 && r.res.Evaluations >= r.w.MaxEvaluations
}

func (r *wolfeRun) eval(a float64) float64 {
	point(r.trial, r.x, r.dir, a)
	r.res.Evaluations++
	return r.f(r.trial)
}

func (r *wolfeRun) deriv(fa float64) float64 {
	r.res.Evaluations++
	return r.w.Slope(r.trial, fa, r.dir)
}

// remember records a trial that satisfies sufficient decrease.
func (r *wolfeRun) remember(a, fa float64) {
	if r.accX == nil || fa < r.acc.f {
		r.acc = sample{a: a, f: fa}
		r.accX = append(r.accX[:0], r.trial...)
	}
}

func (r *wolfeRun) accept(a, fa float64, curvature bool) {
	r.res.Step = a
	r.res.X = append([]float64(nil), r.trial...)
	r.res.F = fa
	r.res.OK = true
	r.res.Curvature = curvature
}

// fallback accepts the best sufficient-decrease trial, if any.
func (r *wolfeRun) fallback() {
	if r.accX == nil {
		return
	}
	r.res.Step = r.acc.a
	r.res.X = r.accX
	r.res.F = r.acc.f
	r.res.OK = true
}

func (r *wolfeRun) curvatureOK(d float64) bool {
	return math.Abs(d) <= -r.w.Sigma*r.slope
}

func (r *wolfeRun) bracket() {
	prev := sample{a: 0, f: r.f0, d: r.slope, hasD: true}
	a := r.w.Step
	if a <= 0 {
		a = DefaultStep
	}
	maxStep := r.w.MaxStep
	if maxStep <= 0 {
		maxStep = DefaultMaxStep
	}

	for i := 0; i < r.maxTrials() && !r.exhausted(); i++ {
		fa := r.eval(a)
		if !sufficientDecrease(r.f0, fa, a, r.slope, r.w.Rho) || (i > 0 && fa >= prev.f) {
			r.zoom(prev, sample{a: a, f: fa})
			return
		}
		r.remember(a, fa)
		if r.exhausted() {
			break
		}

		da := r.deriv(fa)
		if r.curvatureOK(da) {
			r.accept(a, fa, true)
			return
		}
		cur := sample{a: a, f: fa, d: da, hasD: true}
		if da >= 0 {
			r.zoom(cur, prev)
			return
		}
		if a >= maxStep {
			break
		}

		width := a - prev.a
		next := kernels.CubicMin(prev.a, prev.f, prev.d, a, fa, da,
			a+expandMin*width, a+expandMax*width)
		prev = cur
		a = math.Min(next, maxStep)
	}
	r.fallback()
}

// zoom narrows [lo, hi]. lo always satisfies sufficient decrease and has the
// lowest value among the trials bracketing the step.
func (r *wolfeRun) zoom(lo, hi sample) {
	for i := 0; i < r.maxTrials() && !r.exhausted(); i++ {
		left, right := math.Min(lo.a, hi.a), math.Max(lo.a, hi.a)
		width := right - left
		if width <= 1e-12*math.Max(1, right) {
			break
		}
		safeLo, safeHi := left+r.w.Tau*width, right-r.w.Tau*width

		var a float64
		switch {
		case math.IsNaN(hi.f):
			a = (lo.a + hi.a) / 2
		case hi.hasD:
			a = kernels.CubicMin(lo.a, lo.f, lo.d, hi.a, hi.f, hi.d, safeLo, safeHi)
		default:
			a = kernels.QuadraticMin(lo.a, lo.f, lo.d, hi.a, hi.f, safeLo, safeHi)
		}

		fa := r.eval(a)
		if !sufficientDecrease(r.f0, fa, a, r.slope, r.w.Rho) || fa >= lo.f {
			hi = sample{a: a, f: fa}
			continue
		}
		r.remember(a, fa)
		if r.exhausted() {
			break
		}

		da := r.deriv(fa)
		if r.curvatureOK(da) {
			r.accept(a, fa, true)
			return
		}
		if da*(hi.a-lo.a) >= 0 {
			hi = lo
		}
		lo = sample{a: a, f: fa, d: da, hasD: true}
	}
	r.fallback()
}
