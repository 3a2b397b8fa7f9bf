// Package hooke implements the Hooke-Jeeves pattern search.
//
// The search tries every coordinate in turn, keeps any move that lowers the
// score and then extrapolates along the accepted displacement for as long as
// that keeps paying off. When no coordinate move helps, every step is shrunk
// by Rho until the step length falls to Epsilon.
//
// Box constraints are handled by projecting candidates onto the bounds. A
// coordinate that keeps running into a bound is marked as trapped: its step
// is enlarged to get away from the bound, and restored once the score has
// improved by 5% on the value recorded when the trap began.
package hooke

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
)

// Name identifies the algorithm.
const Name = "hooke"

// escapeRatio is the relative improvement on the trap score that releases a
// trapped coordinate.
const escapeRatio = 0.05

// Optimizer runs Hooke-Jeeves searches.
type Optimizer struct {
	settings Settings
	logger   *zap.Logger
}

// New returns a Hooke-Jeeves optimizer. A nil logger disables logging.
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

// Optimize implements optimization.Optimizer.
func (o *Optimizer) Optimize(ctx context.Context, p optimization.Problem) (*optimization.Report, error) {
	if err := p.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid problem").WithComponent(Name)
	}
	if err := o.settings.Validate(); err != nil {
		return nil, optimization.WrapError(err, "invalid settings").WithComponent(Name)
	}
	s := newSearch(o, p)
	return s.run(ctx), nil
}

type search struct {
	cfg    Settings
	logger *zap.Logger
	p      optimization.Problem
	state  *optimization.State
	rng    *rand.Rand

	n          int
	delta      []float64
	order      []int
	fbefore    float64
	steplength float64

	trapped     []bool
	trapScore   []float64
	initialStep []float64
	lowerRun    []int
	upperRun    []int
	lowerHits   []int
	upperHits   []int
	boundHits   int
}

func newSearch(o *Optimizer, p optimization.Problem) *search {
	n := p.Dim()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return &search{
		cfg:         o.settings,
		logger:      o.logger,
		p:           p,
		rng:         rand.New(rand.NewSource(o.settings.Seed)),
		n:           n,
		delta:       make([]float64, n),
		order:       order,
		trapped:     make([]bool, n),
		trapScore:   make([]float64, n),
		initialStep: make([]float64, n),
		lowerRun:    make([]int, n),
		upperRun:    make([]int, n),
		lowerHits:   make([]int, n),
		upperHits:   make([]int, n),
	}
}

// exhausted reports whether the optional evaluation cap has been reached.
func (s *search) exhausted() bool {
	return s.cfg.MaxEvaluations > 0 && s.state.Evaluations() >= s.cfg.MaxEvaluations
}

// nextIteration counts a new outer iteration and reshuffles the coordinate
// order every 15*n iterations.
func (s *search) nextIteration() {
	s.state.Iterations++
	if s.state.Iterations%(15*s.n) == 0 {
		s.order = s.rng.Perm(s.n)
	}
}

func (s *search) run(ctx context.Context) *optimization.Report {
	xbefore := append([]float64(nil), s.p.Start...)
	for i, side := range s.p.Clamp(xbefore) {
		if side != 0 {
			s.logger.Warn("start point outside bounds, clipped",
				zap.Int("index", i),
				zap.Float64("value", s.p.Start[i]),
				zap.Float64("clipped", xbefore[i]),
			)
		}
	}
	clipped := s.p
	clipped.Start = xbefore
	s.state = optimization.NewState(clipped, s.logger)

	for i, v := range xbefore {
		s.delta[i] = math.Abs(v * s.cfg.Rho)
		if s.delta[i] == 0 {
			s.delta[i] = s.cfg.Rho
		}
		if s.p.Steps != nil && s.p.Steps[i] > 0 {
			s.delta[i] = s.p.Steps[i]
		}
	}
	s.steplength = s.cfg.Lambda
	if s.steplength <= 0 {
		s.steplength = s.cfg.Rho
	}

	s.logger.Info("starting Hooke-Jeeves search",
		zap.Int("dimension", s.n),
		zap.Float64("rho", s.cfg.Rho),
		zap.Float64("epsilon", s.cfg.Epsilon),
		zap.Int("itermax", s.cfg.IterMax),
		zap.Int("maxevals", s.cfg.MaxEvaluations),
		zap.Bool("bounded", s.p.Bounded()),
	)

	s.fbefore = s.state.Evaluate(xbefore)
	switch {
	case optimization.IsInvalid(s.fbefore):
		return s.finish(optimization.Failure, "objective is invalid at the start point")
	case s.fbefore == 0:
		return s.finish(optimization.Failure, "objective is zero at the start point")
	}
	s.state.Persist()

	newx := make([]float64, s.n)
	for s.state.Iterations < s.cfg.IterMax && s.steplength > s.cfg.Epsilon && !s.exhausted() {
		if optimization.IsInterrupted(ctx) {
			return s.finish(optimization.Interrupted, "search interrupted")
		}
		s.nextIteration()

		copy(newx, xbefore)
		newf := s.bestNearby(newx, s.fbefore)
		stalled := true

		for newf < s.fbefore {
			s.escape(newf)

			// Pattern move along the accepted displacement.
			for i := range newx {
				if newx[i] <= xbefore[i] {
					s.delta[i] = -math.Abs(s.delta[i])
				} else {
					s.delta[i] = math.Abs(s.delta[i])
				}
				prev := xbefore[i]
				xbefore[i] = newx[i]
				newx[i] = 2*newx[i] - prev
			}
			s.fbefore = newf
			s.state.Persist()

			if optimization.IsInterrupted(ctx) {
				return s.finish(optimization.Interrupted, "search interrupted")
			}
			if s.exhausted() {
				break
			}
			for i := range newx {
				s.bound(newx, i)
			}
			newf = s.bestNearby(newx, s.fbefore)
			if newf >= s.fbefore {
				break
			}
			if !s.moved(newx, xbefore) {
				// The pattern collapsed back onto the base point.
				copy(xbefore, newx)
				s.fbefore = newf
				s.state.Persist()
				stalled = false
				break
			}
		}

		if stalled && s.steplength >= s.cfg.Epsilon {
			s.steplength *= s.cfg.Rho
			for i := range s.delta {
				s.delta[i] *= s.cfg.Rho
			}
		}

		s.logger.Debug("iteration finished",
			zap.Int("iteration", s.state.Iterations),
			zap.Int("evaluations", s.state.Evaluations()),
			zap.Float64("score", s.fbefore),
			zap.Float64("steplength", s.steplength),
		)
	}

	if s.steplength <= s.cfg.Epsilon {
		return s.finish(optimization.Converged, "step length below epsilon")
	}
	if s.exhausted() {
		return s.finish(optimization.MaxEvaluations, "evaluation budget exhausted")
	}
	return s.finish(optimization.MaxEvaluations, "iteration limit reached")
}

// bestNearby performs the exploratory sweep around point, whose score is
// prevbest. point is moved to the best neighbour found and its score is
// returned; prevbest is returned when no move helps.
func (s *search) bestNearby(point []float64, prevbest float64) float64 {
	minf := prevbest
	z := append([]float64(nil), point...)
	for _, i := range s.order {
		if s.exhausted() {
			break
		}
		z[i] = point[i] + s.delta[i]
		if s.try(z, i, point[i], &minf) {
			continue
		}
		s.delta[i] = -s.delta[i]
		z[i] = point[i] + s.delta[i]
		if s.try(z, i, point[i], &minf) {
			continue
		}
		z[i] = point[i]
	}
	copy(point, z)
	return minf
}

// try scores z after projecting coordinate i onto its bounds and reports
// whether it beats *minf. A projection that lands back on base is not
// evaluated.
func (s *search) try(z []float64, i int, base float64, minf *float64) bool {
	s.bound(z, i)
	if z[i] == base || s.exhausted() {
		return false
	}
	f := s.state.Evaluate(z)
	if f < *minf {
		*minf = f
		return true
	}
	return false
}

// bound projects coordinate i of x onto its interval and records a
// violation on the side that was crossed.
func (s *search) bound(x []float64, i int) {
	if !s.p.Bounded() {
		return
	}
	switch lo, hi := s.p.Bounds[i][0], s.p.Bounds[i][1]; {
	case x[i] < lo:
		x[i] = lo
		s.violate(i, &s.lowerRun[i], &s.lowerHits[i])
	case x[i] > hi:
		x[i] = hi
		s.violate(i, &s.upperRun[i], &s.upperHits[i])
	}
}

func (s *search) violate(i int, run, hits *int) {
	s.boundHits++
	*hits++
	*run++
	if !s.trapped[i] {
		s.trapped[i] = true
		s.initialStep[i] = s.delta[i]
		s.trapScore[i] = s.fbefore
	}
	if *run >= 2 {
		s.delta[i] = math.Copysign(math.Abs(s.delta[i])+s.cfg.Rho*10, s.delta[i])
		*run = 0
		s.logger.Debug("enlarged step of trapped coordinate",
			zap.Int("index", i),
			zap.Float64("step", s.delta[i]),
		)
	}
}

// escape releases trapped coordinates once newf is clearly better than the
// score recorded when they were trapped.
func (s *search) escape(newf float64) {
	for i, trapped := range s.trapped {
		if !trapped {
			continue
		}
		if newf < s.trapScore[i]-escapeRatio*math.Abs(s.trapScore[i]) {
			s.trapped[i] = false
			s.lowerRun[i] = 0
			s.upperRun[i] = 0
			s.delta[i] = s.initialStep[i]
		}
	}
}

// moved reports whether the last sweep went further than half a step from
// the base point in any coordinate.
func (s *search) moved(newx, xbefore []float64) bool {
	for i := range newx {
		if math.Abs(newx[i]-xbefore[i]) > 0.5*math.Abs(s.delta[i]) {
			return true
		}
	}
	return false
}

func (s *search) finish(status optimization.Status, msg string) *optimization.Report {
	report := s.state.Finish(Name, status)
	report.StepLength = s.steplength
	report.BoundHits = s.boundHits
	if s.p.Bounded() {
		report.LowerHits = s.lowerHits
		report.UpperHits = s.upperHits
	}
	report.Message = msg

	log := s.logger.Info
	if status == optimization.Failure {
		log = s.logger.Error
	}
	log("Hooke-Jeeves search finished",
		zap.Stringer("status", status),
		zap.Float64("score", report.Score),
		zap.Int("evaluations", report.Evaluations),
		zap.Int("iterations", report.Iterations),
		zap.Int("bound_hits", s.boundHits),
		zap.String("message", msg),
	)
	return report
}
