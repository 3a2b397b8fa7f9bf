// Package gradient approximates derivatives of an expensive objective by
// forward differences.
package gradient

import (
	"math"

	"go.uber.org/zap"
)

// DefaultAccuracy is the default relative perturbation.
const DefaultAccuracy = 1e-6

// EvalFunc scores a point. It is normally optimization.State.Evaluate so
// every perturbation is counted against the run's budget.
type EvalFunc func(x []float64) float64

// Forward computes forward-difference gradients (Dennis & Schnabel, FDGRAD).
// Coordinate i is perturbed by Acc·max(|x_i|, 1).
type Forward struct {
	Acc    float64
	Logger *zap.Logger
}

// NewForward returns an estimator with the given relative step.
func NewForward(acc float64, logger *zap.Logger) *Forward {
	if acc <= 0 {
		acc = DefaultAccuracy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forward{Acc: acc, Logger: logger}
}

// Step returns the perturbation used for a coordinate with value v.
func (g *Forward) Step(v float64) float64 {
	return g.Acc * math.Max(math.Abs(v), 1)
}

// Gradient fills grad with the approximate gradient of eval at x, where fx is
// the already known value eval(x). It costs len(x) evaluations. x is left
// unchanged.
func (g *Forward) Gradient(eval EvalFunc, x []float64, fx float64, grad []float64) {
	tmp := append([]float64(nil), x...)
	for i := range x {
		if x[i] < 0 {
			// Scaled parameters are expected to be positive.
			g.Logger.Warn("negative parameter when calculating the gradient",
				zap.Int("index", i),
				zap.Float64("value", x[i]),
			)
		}
		h := g.Step(x[i])
		tmp[i] = x[i] + h
		grad[i] = (eval(tmp) - fx) / h
		tmp[i] = x[i]
	}
}

// Directional returns the forward-difference derivative of eval at x along
// dir, using one evaluation. The step is scaled so the largest coordinate
// move matches the per-coordinate gradient step.
func (g *Forward) Directional(eval EvalFunc, x []float64, fx float64, dir []float64) float64 {
	var scale, dmax float64
	for i := range x {
		scale = math.Max(scale, math.Abs(x[i]))
		dmax = math.Max(dmax, math.Abs(dir[i]))
	}
	if dmax == 0 {
		return 0
	}
	h := g.Step(scale) / dmax
	tmp := make([]float64, len(x))
	for i := range x {
		tmp[i] = x[i] + h*dir[i]
	}
	return (eval(tmp) - fx) / h
}
