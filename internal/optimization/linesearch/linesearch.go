// Package linesearch finds step lengths along a descent direction.
//
// Two searches are provided: Armijo backtracking, which only enforces
// sufficient decrease, and Wolfe, which brackets a step satisfying the strong
// Wolfe conditions using quadratic and cubic interpolation.
package linesearch

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Func scores a point. Every call is assumed to be an expensive objective
// evaluation.
type Func func(x []float64) float64

// Result describes the outcome of a line search.
type Result struct {
	// Step is the accepted step length, 0 when nothing was accepted.
	Step float64
	// X is the accepted point x + Step·dir. Nil when OK is false.
	X []float64
	// F is the objective value at X.
	F float64
	// Evaluations counts objective calls made by the search.
	Evaluations int
	// OK reports whether a step giving sufficient decrease was found.
	OK bool
	// Curvature reports whether the accepted step also met the curvature
	// condition. Always false for Armijo.
	Curvature bool
}

// Searcher is implemented by both line searches.
type Searcher interface {
	// Search looks for a step along dir from x, where fx = f(x) and slope is
	// the directional derivative g·dir. A non-negative slope fails at once.
	Search(f Func, x []float64, fx float64, dir []float64, slope float64) Result
}

// point writes x + a·dir into dst.
func point(dst, x, dir []float64, a float64) []float64 {
	return floats.AddScaledTo(dst, x, a, dir)
}

func sufficientDecrease(f0, fa, a, slope, c float64) bool {
	if math.IsNaN(fa) {
		return false
	}
	return fa <= f0+c*a*slope
}
