// Package kernels contains the small dense linear algebra and interpolation
// routines used by the quasi-Newton searches.
package kernels

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// minSweeps is the lower bound on inverse-iteration sweeps.
const minSweeps = 50

// SmallestEigenvalue estimates the smallest eigenvalue of the symmetric
// matrix m by inverse iteration against its Cholesky factor, using the
// Rayleigh quotient of the converged vector. It returns 0 when m is not
// positive definite or an iteration degenerates.
func SmallestEigenvalue(m mat.Symmetric, logger *zap.Logger) float64 {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := m.SymmetricDim()
	if n == 0 {
		return 0
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(m); !ok {
		logger.Info("cannot estimate smallest eigenvalue: matrix is not positive definite",
			zap.Int("dim", n))
		return 0
	}

	// The start vector must not be orthogonal to the wanted eigenvector;
	// uneven entries avoid the symmetric cases a constant vector misses.
	x := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		x.SetVec(i, 1+0.1*float64(i))
	}
	x.ScaleVec(1/mat.Norm(x, 2), x)

	y := mat.NewVecDense(n, nil)
	mx := mat.NewVecDense(n, nil)

	sweeps := 4 * n
	if sweeps < minSweeps {
		sweeps = minSweeps
	}

	eigen := math.Inf(1)
	for k := 0; k < sweeps; k++ {
		if err := chol.SolveVecTo(y, x); err != nil {
			logger.Info("cannot estimate smallest eigenvalue: solve failed",
				zap.Error(err), zap.Int("sweep", k))
			return 0
		}
		norm := mat.Norm(y, 2)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			logger.Info("cannot estimate smallest eigenvalue: degenerate iterate",
				zap.Int("sweep", k))
			return 0
		}
		x.ScaleVec(1/norm, y)

		mx.MulVec(m, x)
		next := mat.Dot(x, mx)
		if math.Abs(next-eigen) <= 1e-15*math.Abs(next) {
			eigen = next
			break
		}
		eigen = next
	}

	if eigen == 0 || math.IsNaN(eigen) {
		logger.Info("cannot estimate smallest eigenvalue: zero Rayleigh quotient")
		return 0
	}
	return eigen
}
