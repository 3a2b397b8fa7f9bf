package kernels

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// PivotFloor is the smallest pivot, relative to the largest one, accepted by
// SolveNewton.
const PivotFloor = 1e-12

// SolveNewton solves h·d = -g by Gaussian elimination with partial pivoting
// and returns the direction d. ok is false when h is not square, does not
// match g, or has a pivot below PivotFloor.
func SolveNewton(h mat.Matrix, g []float64) (d []float64, ok bool) {
	r, c := h.Dims()
	if r != c || r != len(g) || r == 0 {
		return nil, false
	}

	var lu mat.LU
	lu.Factorize(h)

	var u mat.TriDense
	lu.UTo(&u)
	var maxPivot float64
	for i := 0; i < r; i++ {
		maxPivot = math.Max(maxPivot, math.Abs(u.At(i, i)))
	}
	if maxPivot == 0 || math.IsNaN(maxPivot) {
		return nil, false
	}
	for i := 0; i < r; i++ {
		if math.Abs(u.At(i, i)) < PivotFloor*maxPivot {
			return nil, false
		}
	}

	rhs := mat.NewVecDense(r, nil)
	for i, v := range g {
		rhs.SetVec(i, -v)
	}
	dir := mat.NewVecDense(r, nil)
	if err := lu.SolveVecTo(dir, false, rhs); err != nil {
		return nil, false
	}
	for i := 0; i < r; i++ {
		if v := dir.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
	}
	return dir.RawVector().Data, true
}
