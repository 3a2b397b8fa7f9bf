// Package optimization holds the contract shared by every calibration
// algorithm: the objective boundary, the problem description, the per-run
// search state and the report handed back to the caller.
package optimization

import (
	"context"
	"math"
)

// Objective is the scalar function being minimised. It is typically a full
// simulation run, so implementations are assumed to be expensive. A NaN score
// rejects the point.
type Objective interface {
	Evaluate(x []float64) float64
}

// Func adapts an ordinary function to the Objective interface.
type Func func(x []float64) float64

// Evaluate calls f(x).
func (f Func) Evaluate(x []float64) float64 {
	return f(x)
}

// IsInvalid reports whether a score must be treated as a rejected evaluation.
func IsInvalid(score float64) bool {
	return math.IsNaN(score)
}

// BestStore receives every improving point found during a run. Points are in
// the coordinates the optimizer works in; see objective.Scaler for the
// unscaled view.
type BestStore interface {
	StoreBest(score float64, x []float64) error
}

// Optimizer defines the interface for calibration algorithms
type Optimizer interface {
	// Name identifies the algorithm in logs, metrics and reports
	Name() string

	// Optimize searches for a local minimum of p.Objective starting at
	// p.Start. The returned error is reserved for problems that fail
	// validation; numerical failures are reported through Report.Status.
	Optimize(ctx context.Context, p Problem) (*Report, error)
}

// Problem describes a single search.
type Problem struct {
	// Objective function to minimise
	Objective Objective

	// Start is the initial parameter vector. Its length fixes the dimension.
	Start []float64

	// Bounds for each dimension [lower, upper]. Optional.
	Bounds [][2]float64

	// Steps holds optional per-coordinate initial step sizes (pattern search).
	Steps []float64

	// Store receives improving points as they are found. Optional.
	Store BestStore
}

// Dim returns the number of parameters being optimised.
func (p Problem) Dim() int {
	return len(p.Start)
}

// Bounded reports whether the problem carries box constraints.
func (p Problem) Bounded() bool {
	return len(p.Bounds) > 0
}

// Validate checks the problem for structural errors.
func (p Problem) Validate() error {
	const op = "Problem.Validate"

	if p.Objective == nil {
		return NewError("objective must not be nil").WithOperation(op)
	}
	n := len(p.Start)
	if n == 0 {
		return NewError("start point must not be empty").WithOperation(op)
	}
	for i, v := range p.Start {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NewErrorf("start[%d] is not finite: %v", i, v).WithOperation(op)
		}
	}
	if p.Bounds != nil && len(p.Bounds) != n {
		return NewErrorf("bounds have %d entries, start has %d", len(p.Bounds), n).WithOperation(op)
	}
	for i, b := range p.Bounds {
		if math.IsNaN(b[0]) || math.IsNaN(b[1]) {
			return NewErrorf("bound %d contains NaN", i).WithOperation(op)
		}
		if b[0] > b[1] {
			return NewErrorf("bound %d: lower %v exceeds upper %v", i, b[0], b[1]).WithOperation(op)
		}
	}
	if p.Steps != nil && len(p.Steps) != n {
		return NewErrorf("steps have %d entries, start has %d", len(p.Steps), n).WithOperation(op)
	}
	return nil
}

// Clamp projects x onto the problem bounds in place and returns, for every
// coordinate, -1 if it was below the lower bound, +1 if above the upper bound
// and 0 otherwise. The result is nil for unbounded problems.
func (p Problem) Clamp(x []float64) []int {
	if !p.Bounded() {
		return nil
	}
	side := make([]int, len(x))
	for i := range x {
		switch {
		case x[i] < p.Bounds[i][0]:
			x[i] = p.Bounds[i][0]
			side[i] = -1
		case x[i] > p.Bounds[i][1]:
			x[i] = p.Bounds[i][1]
			side[i] = 1
		}
	}
	return side
}

// IsInterrupted reports whether ctx has been cancelled. Algorithms call it once
// per outer iteration, never inside a single objective evaluation.
func IsInterrupted(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
