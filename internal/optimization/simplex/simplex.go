// Package simplex adapts gonum's Nelder-Mead method to the calibration
// contract. It is a derivative-free alternative to Hooke-Jeeves for small
// problems.
package simplex

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
)

// Name identifies the algorithm.
const Name = "simplex"

// Settings holds the Nelder-Mead parameters.
type Settings struct {
	// MaxEvaluations bounds the objective calls of a run.
	MaxEvaluations int
	// Tolerance is the absolute change in the best score below which the
	// search is considered converged.
	Tolerance float64
	// Stall is the number of iterations allowed without a Tolerance
	// improvement.
	Stall int
	// SimplexSize is the edge length of the initial simplex.
	SimplexSize float64
}

// DefaultSettings returns the standard parameters.
func DefaultSettings() Settings {
	return Settings{
		MaxEvaluations: 10000,
		Tolerance:      1e-10,
		Stall:          100,
		SimplexSize:    0.05,
	}
}

// Setters returns the option keys understood by the search.
func (s *Settings) Setters() optimization.Setters {
	maxEvals := func(v float64) { s.MaxEvaluations = int(v) }
	return optimization.Setters{
		"maxiter":     maxEvals,
		"simplexiter": maxEvals,
		"tolerance":   func(v float64) { s.Tolerance = v },
		"stall":       func(v float64) { s.Stall = int(v) },
		"simplexsize": func(v float64) { s.SimplexSize = v },
	}
}

// Validate checks the settings.
func (s Settings) Validate() error {
	const op = "simplex.Settings.Validate"

	switch {
	case s.MaxEvaluations <= 0:
		return optimization.NewErrorf("maximum evaluations must be positive, got %d", s.MaxEvaluations).WithOperation(op)
	case !(s.Tolerance > 0):
		return optimization.NewErrorf("tolerance must be positive, got %v", s.Tolerance).WithOperation(op)
	case s.Stall <= 0:
		return optimization.NewErrorf("stall must be positive, got %d", s.Stall).WithOperation(op)
	case !(s.SimplexSize > 0):
		return optimization.NewErrorf("simplex size must be positive, got %v", s.SimplexSize).WithOperation(op)
	}
	return nil
}

// Optimizer runs Nelder-Mead searches.
type Optimizer struct {
	settings Settings
	logger   *zap.Logger
}

// New returns a Nelder-Mead optimizer. A nil logger disables logging.
func New(settings Settings, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		settings: settings,
		logger:   logger.Named(Name),
	}
}

// Name implements optimization.Optimizer.
func (o *Optimizer) Name() string {
	return Name
}

// Settings returns the tuning parameters in use.
func (o *Optimizer) Settings() Settings {
	return o.settings
}

// Optimize implements optimization.Optimizer. Points are projected onto the
// bounds before evaluation and invalid scores are seen by the simplex as
// +Inf.
func (o *Optimizer) Optimize(ctx context.Context, p optimization.Problem) (*optimization.Report, error) {
	if err := p.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid problem").WithComponent(Name)
	}
	if err := o.settings.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid settings").WithComponent(Name)
	}

	start := append([]float64(nil), p.Start...)
	p.Clamp(start)
	clipped := p
	clipped.Start = start
	state := optimization.NewState(clipped, o.logger)

	finish := func(status optimization.Status, msg string) *optimization.Report {
		report := state.Finish(Name, status)
		report.Message = msg
		o.logger.Info("simplex search finished",
			zap.Stringer("status", status),
			zap.Float64("score", report.Score),
			zap.Int("evaluations", report.Evaluations),
			zap.String("message", msg),
		)
		return report
	}

	f0 := state.Evaluate(start)
	switch {
	case optimization.IsInvalid(f0):
		return finish(optimization.Failure, "objective is invalid at the start point"), nil
	case f0 == 0:
		return finish(optimization.Failure, "objective is zero at the start point"), nil
	}
	state.Persist()
	if o.settings.MaxEvaluations <= 1 {
		return finish(optimization.MaxEvaluations, "evaluation budget exhausted"), nil
	}

	trial := make([]float64, len(start))
	score := func(x []float64) float64 {
		copy(trial, x)
		p.Clamp(trial)
		f := state.Evaluate(trial)
		if optimization.IsInvalid(f) {
			return math.Inf(1)
		}
		return f
	}

	method := &optimize.NelderMead{SimplexSize: o.settings.SimplexSize}
	budget := o.settings.MaxEvaluations - 1
	if p.Bounded() {
		if budget <= len(start) {
			return finish(optimization.MaxEvaluations, "evaluation budget exhausted"), nil
		}
		method.InitialVertices = initialSimplex(p.Bounds, start, o.settings.SimplexSize)
		method.InitialValues = make([]float64, len(method.InitialVertices))
		method.InitialValues[0] = f0
		for i := 1; i < len(method.InitialVertices); i++ {
			method.InitialValues[i] = score(method.InitialVertices[i])
		}
		budget -= len(start)
	}

	problem := optimize.Problem{
		Func: score,
		Status: func() (optimize.Status, error) {
			if optimization.IsInterrupted(ctx) {
				return optimize.Failure, ctx.Err()
			}
			state.Persist()
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: budget,
		Converger: &optimize.FunctionConverge{
			Absolute:   o.settings.Tolerance,
			Iterations: o.settings.Stall,
		},
		// The start point is already scored.
		InitValues: &optimize.Location{F: f0},
		Concurrent: 1,
	}

	o.logger.Info("starting simplex search",
		zap.Int("dimension", len(start)),
		zap.Int("max_evaluations", o.settings.MaxEvaluations),
	)
	result, err := optimize.Minimize(problem, start, settings, method)
	if result != nil {
		state.Iterations = result.Stats.MajorIterations
	}

	switch {
	case optimization.IsInterrupted(ctx):
		return finish(optimization.Interrupted, "search interrupted"), nil
	case result == nil:
		return finish(optimization.Failure, errMessage(err)), nil
	}
	switch result.Status {
	case optimize.FunctionEvaluationLimit:
		return finish(optimization.MaxEvaluations, "evaluation budget exhausted"), nil
	case optimize.FunctionConvergence, optimize.Success, optimize.MethodConverge:
		return finish(optimization.Converged, result.Status.String()), nil
	default:
		o.logger.Warn("simplex stopped unexpectedly",
			zap.Stringer("gonum_status", result.Status),
			zap.Error(err),
		)
		return finish(optimization.Failure, errMessage(err)), nil
	}
}

// initialSimplex returns start followed by one vertex per coordinate, each
// displaced by size along that coordinate towards the interior of its
// interval. Coordinates narrower than size move to the middle of the
// interval instead.
func initialSimplex(bounds [][2]float64, start []float64, size float64) [][]float64 {
	vertices := make([][]float64, 0, len(start)+1)
	vertices = append(vertices, append([]float64(nil), start...))
	for i := range start {
		v := append([]float64(nil), start...)
		lo, hi := bounds[i][0], bounds[i][1]
		switch {
		case v[i]+size <= hi:
			v[i] += size
		case v[i]-size >= lo:
			v[i] -= size
		default:
			v[i] = (lo + hi) / 2
		}
		vertices = append(vertices, v)
	}
	return vertices
}

func errMessage(err error) string {
	if err == nil {
		return "search failed"
	}
	return err.Error()
}
