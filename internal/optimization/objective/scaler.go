package objective

import (
	"github.com/nataliia-kulatska/gadget/internal/optimization"
)

// Scaler sits between a model working in natural parameter units and an
// optimizer working in scaled coordinates, where scaled = value / initial.
// Coordinates whose initial value is zero are left unscaled.
//
// Scaler is itself an Objective and a BestStore: points coming from the
// optimizer are unscaled before they reach the wrapped objective or store.
type Scaler struct {
	initial   []float64
	objective optimization.Objective
	store     optimization.BestStore
}

// NewScaler wraps obj and store around the given initial values. store may
// be nil.
func NewScaler(initial []float64, obj optimization.Objective, store optimization.BestStore) *Scaler {
	return &Scaler{
		initial:   append([]float64(nil), initial...),
		objective: obj,
		store:     store,
	}
}

func (s *Scaler) factor(i int) float64 {
	if s.initial[i] == 0 {
		return 1
	}
	return s.initial[i]
}

// Scale converts natural values to optimizer coordinates.
func (s *Scaler) Scale(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v / s.factor(i)
	}
	return out
}

// Unscale converts optimizer coordinates back to natural values.
func (s *Scaler) Unscale(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * s.factor(i)
	}
	return out
}

// ScaleBounds converts natural bounds. A negative initial value flips the
// interval so lower <= upper still holds. Nil bounds stay nil.
func (s *Scaler) ScaleBounds(bounds [][2]float64) [][2]float64 {
	if bounds == nil {
		return nil
	}
	out := make([][2]float64, len(bounds))
	for i, b := range bounds {
		lo, hi := b[0]/s.factor(i), b[1]/s.factor(i)
		if lo > hi {
			lo, hi = hi, lo
		}
		out[i] = [2]float64{lo, hi}
	}
	return out
}

// Evaluate scores a scaled point with the wrapped objective.
func (s *Scaler) Evaluate(x []float64) float64 {
	return s.objective.Evaluate(s.Unscale(x))
}

// StoreBest forwards the unscaled point to the wrapped store.
func (s *Scaler) StoreBest(score float64, x []float64) error {
	if s.store == nil {
		return nil
	}
	return s.store.StoreBest(score, s.Unscale(x))
}

// Problem builds a scaled problem starting at the initial values, which map
// to the all-ones vector (or zero for zero initial values).
func (s *Scaler) Problem(bounds [][2]float64) optimization.Problem {
	return optimization.Problem{
		Objective: s,
		Start:     s.Scale(s.initial),
		Bounds:    s.ScaleBounds(bounds),
		Store:     s,
	}
}
