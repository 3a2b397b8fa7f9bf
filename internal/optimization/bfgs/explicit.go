package bfgs

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
	"github.com/nataliia-kulatska/gadget/internal/optimization/gradient"
	"github.com/nataliia-kulatska/gadget/internal/optimization/kernels"
	"github.com/nataliia-kulatska/gadget/internal/optimization/linesearch"
)

// curvatureFloor rejects secant pairs with sᵀy <= curvatureFloor·|s|·|y|.
const curvatureFloor = 1e-10

// explicit runs the Hessian variant: the direction comes from solving
// B·d = -grad and steps are chosen by a Wolfe line search. The gradient step
// stays fixed; two restarts in a row without progress end the run.
func (r *run) explicit(ctx context.Context, start []float64) *optimization.Report {
	n := r.n
	x := append([]float64(nil), start...)
	grad := make([]float64, n)
	newGrad := make([]float64, n)
	s := make([]float64, n)
	y := make([]float64, n)
	Bs := make([]float64, n)

	B := identity(n)
	fd := gradient.NewForward(r.gradAcc, r.logger)
	ls := &linesearch.Wolfe{
		Rho:       r.cfg.Rho,
		Sigma:     r.cfg.Curvature,
		Tau:       r.cfg.Tau,
		Step:      linesearch.DefaultStep,
		MaxStep:   linesearch.DefaultMaxStep,
		MaxTrials: linesearch.DefaultMaxTrials,
		Slope: func(at []float64, fat float64, dir []float64) float64 {
			return fd.Directional(r.eval, at, fat, dir)
		},
	}
	finish := func(status optimization.Status, msg string) *optimization.Report {
		var chol mat.Cholesky
		if chol.Factorize(B) {
			var inv mat.SymDense
			if err := chol.InverseTo(&inv); err == nil {
				r.eigenvalue = kernels.SmallestEigenvalue(&inv, r.logger)
			}
		}
		return r.finish(status, msg)
	}

	r.logger.Info("starting BFGS search",
		zap.Int("dimension", n),
		zap.Int("max_evaluations", r.cfg.MaxEvaluations),
		zap.Float64("epsilon", r.cfg.Epsilon),
		zap.Float64("gradacc", r.gradAcc),
	)

	f := r.eval(x)
	if optimization.IsInvalid(f) {
		return finish(optimization.Failure, "objective is invalid at the start point")
	}
	r.state.Persist()
	if !r.canGradient() {
		return finish(optimization.MaxEvaluations, "evaluation budget exhausted")
	}
	fd.Gradient(r.eval, x, f, grad)

	consecutive := 0
	restart := func(reason string) bool {
		r.restarts++
		consecutive++
		B = identity(n)
		r.logger.Warn("resetting search",
			zap.String("reason", reason),
			zap.Int("evaluations", r.state.Evaluations()),
		)
		return consecutive < 2
	}

	for {
		switch {
		case optimization.IsInterrupted(ctx):
			return finish(optimization.Interrupted, "search interrupted")
		case r.degenerate(f):
			return finish(optimization.Failure, "objective is zero")
		case hasNaN(grad):
			return finish(optimization.Failure, "gradient is invalid")
		case floats.Norm(grad, 2)/(1+f) < r.cfg.Epsilon:
			return finish(optimization.Converged, "gradient norm below epsilon")
		case r.state.Evaluations() >= r.cfg.MaxEvaluations:
			return finish(optimization.MaxEvaluations, "evaluation budget exhausted")
		}
		r.state.Iterations++

		dir, ok := kernels.SolveNewton(B, grad)
		slope := math.NaN()
		if ok {
			slope = floats.Dot(grad, dir)
		}
		if !(slope < 0) {
			reason := "singular hessian"
			if ok {
				reason = "not a descent direction"
			}
			if !restart(reason) {
				return finish(optimization.AccuracyTooSmall, "no progress after restart")
			}
			continue
		}

		ls.MaxEvaluations = r.remaining()
		res := ls.Search(r.eval, x, f, dir, slope)
		if !res.OK {
			if r.remaining() <= 0 {
				return finish(optimization.MaxEvaluations, "evaluation budget exhausted")
			}
			if !restart("line search failed") {
				return finish(optimization.AccuracyTooSmall, "no progress after restart")
			}
			continue
		}
		consecutive = 0

		floats.SubTo(s, res.X, x)
		copy(x, res.X)
		f = res.F
		if !r.canGradient() {
			r.state.Persist()
			return finish(optimization.MaxEvaluations, "evaluation budget exhausted")
		}
		fd.Gradient(r.eval, x, f, newGrad)
		floats.SubTo(y, newGrad, grad)
		copy(grad, newGrad)

		sy := floats.Dot(s, y)
		mat.NewVecDense(n, Bs).MulVec(B, mat.NewVecDense(n, s))
		sBs := floats.Dot(s, Bs)
		if sy > curvatureFloor*floats.Norm(s, 2)*floats.Norm(y, 2) && sBs > tiny {
			B.SymRankOne(B, 1/sy, mat.NewVecDense(n, y))
			B.SymRankOne(B, -1/sBs, mat.NewVecDense(n, Bs))
		} else {
			r.logger.Debug("secant update skipped",
				zap.Float64("sy", sy),
				zap.Float64("sBs", sBs),
			)
		}

		r.state.Persist()
		r.logger.Info("new optimum found",
			zap.Int("evaluations", r.state.Evaluations()),
			zap.Float64("score", f),
			zap.Float64("step", res.Step),
			zap.Bool("wolfe", res.Curvature),
		)
	}
}
