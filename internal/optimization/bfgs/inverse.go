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

func identity(n int) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, 1)
	}
	return m
}

// inverse runs the inverse-Hessian variant with Armijo backtracking.
func (r *run) inverse(ctx context.Context, start []float64) *optimization.Report {
	n := r.n
	x := append([]float64(nil), start...)
	grad := make([]float64, n)
	oldgrad := make([]float64, n)
	search := make([]float64, n)
	h := make([]float64, n)
	y := make([]float64, n)
	By := make([]float64, n)

	invhess := identity(n)
	fd := gradient.NewForward(r.gradAcc, r.logger)
	ls := &linesearch.Armijo{
		Beta:    r.cfg.Beta,
		Sigma:   r.cfg.Sigma,
		Step:    r.cfg.Step,
		MinStep: accuracyFloor,
	}
	finish := func(status optimization.Status, msg string) *optimization.Report {
		r.eigenvalue = kernels.SmallestEigenvalue(invhess, r.logger)
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
	copy(oldgrad, grad)

	accepted := true
	lineFailed := false
	for {
		switch {
		case optimization.IsInterrupted(ctx):
			return finish(optimization.Interrupted, "search interrupted")
		case r.degenerate(f):
			return finish(optimization.Failure, "objective is zero")
		case hasNaN(grad):
			return finish(optimization.Failure, "gradient is invalid")
		case r.state.Evaluations() >= r.cfg.MaxEvaluations:
			return finish(optimization.MaxEvaluations, "evaluation budget exhausted")
		}

		if !accepted || lineFailed {
			r.gradAcc *= r.cfg.GradStep
			if r.gradAcc < accuracyFloor {
				return finish(optimization.AccuracyTooSmall, "gradient accuracy too small")
			}
			r.restarts++
			r.logger.Warn("resetting search",
				zap.Int("evaluations", r.state.Evaluations()),
				zap.Bool("line_search_failed", lineFailed),
				zap.Float64("gradacc", r.gradAcc),
			)
			invhess = identity(n)
			fd.Acc = r.gradAcc
			if lineFailed {
				if !r.canGradient() {
					return finish(optimization.MaxEvaluations, "evaluation budget exhausted")
				}
				fd.Gradient(r.eval, x, f, grad)
				copy(oldgrad, grad)
			}
			accepted, lineFailed = true, false
			continue
		}
		r.state.Iterations++

		// search = -invhess·grad
		sv := mat.NewVecDense(n, search)
		sv.MulVec(invhess, mat.NewVecDense(n, grad))
		floats.Scale(-1, search)

		ls.MaxEvaluations = r.remaining()
		res := ls.Search(r.eval, x, f, search, floats.Dot(grad, search))
		if !res.OK {
			if r.remaining() <= 0 {
				return finish(optimization.MaxEvaluations, "evaluation budget exhausted")
			}
			lineFailed = true
			continue
		}
		if !r.canGradient() {
			r.state.Persist()
			return finish(optimization.MaxEvaluations, "evaluation budget exhausted")
		}
		fd.Gradient(r.eval, res.X, res.F, grad)

		floats.ScaleTo(h, res.Step, search)
		copy(x, res.X)
		f = res.F
		floats.SubTo(y, grad, oldgrad)
		copy(oldgrad, grad)
		hy := floats.Dot(h, y)
		normgrad := floats.Norm(grad, 2)

		mat.NewVecDense(n, By).MulVec(invhess, mat.NewVecDense(n, y))
		yBy := floats.Dot(y, By)

		if math.Abs(hy) < tiny || yBy < tiny {
			accepted = false
		} else {
			// Rank-two inverse update with the extra yBy·u·uᵀ term.
			u := make([]float64, n)
			for i := range u {
				u[i] = h[i]/hy - By[i]/yBy
			}
			invhess.SymRankOne(invhess, 1/hy, mat.NewVecDense(n, h))
			invhess.SymRankOne(invhess, -1/yBy, mat.NewVecDense(n, By))
			invhess.SymRankOne(invhess, yBy, mat.NewVecDense(n, u))
		}

		r.state.Persist()
		r.logger.Info("new optimum found",
			zap.Int("evaluations", r.state.Evaluations()),
			zap.Float64("score", f),
			zap.Float64("step", res.Step),
			zap.Float64("gradient_norm", normgrad),
		)

		if normgrad/(1+f) < r.cfg.Epsilon {
			return finish(optimization.Converged, "gradient norm below epsilon")
		}
	}
}
