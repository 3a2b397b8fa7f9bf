// Package bfgs implements quasi-Newton searches with finite-difference
// gradients.
//
// Two variants share the same contract. Inverse, the default, keeps an
// inverse Hessian approximation and uses Armijo backtracking; whenever a line
// search fails or a curvature pair is rejected it resets to the identity and
// refines the gradient step. Explicit keeps the Hessian itself, solves for the
// Newton direction and uses a bracketing Wolfe search.
package bfgs

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
	"github.com/nataliia-kulatska/gadget/internal/optimization/linesearch"
)

// Algorithm names reported by the two variants.
const (
	Name         = "bfgs"
	NameExplicit = "bfgs-explicit"
)

const (
	// accuracyFloor is the smallest gradient step fraction and line search
	// step before the search gives up.
	accuracyFloor = 1e-10
	// tiny guards divisions in the curvature update.
	tiny = 1e-20
)

// Variant selects the Hessian representation and line search.
type Variant int

const (
	// Inverse updates an inverse Hessian and backtracks with Armijo.
	Inverse Variant = iota
	// Explicit updates the Hessian, solves for the direction and uses a
	// Wolfe line search.
	Explicit
)

// String returns the algorithm name of the variant.
func (v Variant) String() string {
	switch v {
	case Inverse:
		return Name
	case Explicit:
		return NameExplicit
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant maps an algorithm name to a variant.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Name, "inverse":
		return Inverse, nil
	case NameExplicit, "explicit":
		return Explicit, nil
	default:
		return 0, optimization.NewErrorf("unknown bfgs variant %q", name).WithOperation("bfgs.ParseVariant")
	}
}

// Settings holds the tuning parameters of both variants.
type Settings struct {
	Variant Variant

	// MaxEvaluations bounds the objective calls of a run.
	MaxEvaluations int
	// Epsilon is the convergence threshold on |grad| / (1 + f).
	Epsilon float64
	// GradAcc is the relative finite-difference step.
	GradAcc float64

	// GradStep shrinks GradAcc on every reset (Inverse).
	GradStep float64
	// Beta is the backtracking factor (Inverse).
	Beta float64
	// Sigma is the Armijo constant (Inverse).
	Sigma float64
	// Step is the initial trial step (Inverse).
	Step float64

	// Rho is the sufficient decrease constant (Explicit).
	Rho float64
	// Curvature is the Wolfe curvature constant (Explicit).
	Curvature float64
	// Tau keeps interpolated trials away from the bracket ends (Explicit).
	Tau float64
}

// DefaultSettings returns the standard parameters for the inverse variant.
func DefaultSettings() Settings {
	return Settings{
		Variant:        Inverse,
		MaxEvaluations: 100000,
		Epsilon:        0.001,
		GradAcc:        1e-6,
		GradStep:       0.5,
		Beta:           linesearch.DefaultBeta,
		Sigma:          linesearch.DefaultSigma,
		Step:           linesearch.DefaultStep,
		Rho:            linesearch.DefaultRho,
		Curvature:      linesearch.DefaultCurvature,
		Tau:            linesearch.DefaultTau,
	}
}

// Setters returns the option keys understood by the configured variant. The
// key "sigma" sets the Armijo constant for Inverse and the curvature constant
// for Explicit.
func (s *Settings) Setters() optimization.Setters {
	maxEvals := func(v float64) { s.MaxEvaluations = int(v) }
	eps := func(v float64) { s.Epsilon = v }

	setters := optimization.Setters{
		"bfgsiter":      maxEvals,
		"maxiter":       maxEvals,
		"maxiterations": maxEvals,
		"bfgseps":       eps,
		"eps":           eps,
		"gradacc":       func(v float64) { s.GradAcc = v },
	}
	if s.Variant == Explicit {
		setters["rho"] = func(v float64) { s.Rho = v }
		setters["sigma"] = func(v float64) { s.Curvature = v }
		setters["tau"] = func(v float64) { s.Tau = v }
		return setters
	}
	step := func(v float64) { s.Step = v }
	setters["beta"] = func(v float64) { s.Beta = v }
	setters["sigma"] = func(v float64) { s.Sigma = v }
	setters["st"] = step
	setters["step"] = step
	setters["gradstep"] = func(v float64) { s.GradStep = v }
	return setters
}

// Validate checks the settings of the configured variant.
func (s Settings) Validate() error {
	const op = "bfgs.Settings.Validate"

	switch {
	case s.MaxEvaluations <= 0:
		return optimization.NewErrorf("maximum evaluations must be positive, got %d", s.MaxEvaluations).WithOperation(op)
	case !(s.Epsilon > 0):
		return optimization.NewErrorf("epsilon must be positive, got %v", s.Epsilon).WithOperation(op)
	case !(s.GradAcc > 0):
		return optimization.NewErrorf("gradacc must be positive, got %v", s.GradAcc).WithOperation(op)
	}

	switch s.Variant {
	case Inverse:
		if !(s.Beta > 0 && s.Beta < 1) {
			return optimization.NewErrorf("beta must be in (0, 1), got %v", s.Beta).WithOperation(op)
		}
		if !(s.Sigma > 0 && s.Sigma < 1) {
			return optimization.NewErrorf("sigma must be in (0, 1), got %v", s.Sigma).WithOperation(op)
		}
		if !(s.Step > 0) {
			return optimization.NewErrorf("step must be positive, got %v", s.Step).WithOperation(op)
		}
		if !(s.GradStep > 0 && s.GradStep < 1) {
			return optimization.NewErrorf("gradstep must be in (0, 1), got %v", s.GradStep).WithOperation(op)
		}
	case Explicit:
		if !(s.Rho > 0 && s.Rho < s.Curvature && s.Curvature < 1) {
			return optimization.NewErrorf("need 0 < rho < sigma < 1, got rho=%v sigma=%v", s.Rho, s.Curvature).WithOperation(op)
		}
		if !(s.Tau > 0 && s.Tau < 0.5) {
			return optimization.NewErrorf("tau must be in (0, 0.5), got %v", s.Tau).WithOperation(op)
		}
	default:
		return optimization.NewErrorf("unknown variant %d", int(s.Variant)).WithOperation(op)
	}
	return nil
}

// Optimizer runs BFGS searches.
type Optimizer struct {
	settings Settings
	logger   *zap.Logger
}

// New returns a BFGS optimizer. A nil logger disables logging.
func New(settings Settings, logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{
		settings: settings,
		logger:   logger.Named(settings.Variant.String()),
	}
}

// Name implements optimization.Optimizer.
func (o *Optimizer) Name() string {
	return o.settings.Variant.String()
}

// Settings returns the tuning parameters in use.
func (o *Optimizer) Settings() Settings {
	return o.settings
}

// Optimize implements optimization.Optimizer. Bounds are not enforced by
// either variant.
func (o *Optimizer) Optimize(ctx context.Context, p optimization.Problem) (*optimization.Report, error) {
	if err := p.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid problem").WithComponent(o.Name())
	}
	if err := o.settings.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid settings").WithComponent(o.Name())
	}
	if p.Bounded() {
		o.logger.Warn("bounds are ignored by BFGS")
	}

	r := &run{
		name:    o.Name(),
		cfg:     o.settings,
		logger:  o.logger,
		state:   optimization.NewState(p, o.logger),
		n:       p.Dim(),
		gradAcc: o.settings.GradAcc,
	}
	if o.settings.Variant == Explicit {
		return r.explicit(ctx, p.Start), nil
	}
	return r.inverse(ctx, p.Start), nil
}

// run is the state shared by both variants.
type run struct {
	name   string
	cfg    Settings
	logger *zap.Logger
	state  *optimization.State
	n      int

	gradAcc    float64
	restarts   int
	eigenvalue float64
}

func (r *run) eval(x []float64) float64 {
	return r.state.Evaluate(x)
}

// remaining returns the number of evaluations left in the budget.
func (r *run) remaining() int {
	return r.cfg.MaxEvaluations - r.state.Evaluations()
}

// canGradient reports whether a full finite-difference gradient still fits in
// the budget.
func (r *run) canGradient() bool {
	return r.remaining() >= r.n
}

func (r *run) degenerate(f float64) bool {
	return optimization.IsInvalid(f) || math.Abs(f) < tiny
}

func hasNaN(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}

func (r *run) finish(status optimization.Status, msg string) *optimization.Report {
	report := r.state.Finish(r.name, status)
	report.Restarts = r.restarts
	report.SmallestEigenvalue = r.eigenvalue
	report.GradientAccuracy = r.gradAcc
	report.Message = msg

	log := r.logger.Info
	if status == optimization.Failure {
		log = r.logger.Error
	}
	log("BFGS search finished",
		zap.Stringer("status", status),
		zap.Float64("score", report.Score),
		zap.Int("evaluations", report.Evaluations),
		zap.Int("iterations", report.Iterations),
		zap.Int("restarts", r.restarts),
		zap.Float64("smallest_eigenvalue", r.eigenvalue),
		zap.String("message", msg),
	)
	return report
}
