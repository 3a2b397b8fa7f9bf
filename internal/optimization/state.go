package optimization

import (
	"math"

	"go.uber.org/zap"
)

// State is the mutable bookkeeping of one running search. It is owned by a
// single algorithm instance and is not safe for concurrent use.
type State struct {
	objective Objective
	store     BestStore
	logger    *zap.Logger

	start     []float64
	best      []float64
	bestScore float64
	persisted float64

	evaluations int
	invalid     int

	// Iterations is maintained by the algorithm.
	Iterations int
	// Status is the current termination code.
	Status Status
}

// NewState prepares the bookkeeping for a run of p.
func NewState(p Problem, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &State{
		objective: p.Objective,
		store:     p.Store,
		logger:    logger,
		start:     append([]float64(nil), p.Start...),
		bestScore: math.Inf(1),
		persisted: math.Inf(1),
		Status:    Running,
	}
}

// Evaluate scores x, counts the evaluation and records x as the best point
// when it strictly improves on every finite score seen so far.
func (s *State) Evaluate(x []float64) float64 {
	f := s.objective.Evaluate(x)
	s.evaluations++
	if IsInvalid(f) {
		s.invalid++
		return f
	}
	if s.best == nil || f < s.bestScore {
		s.best = append(s.best[:0], x...)
		s.bestScore = f
	}
	return f
}

// Evaluations returns the number of objective calls made through this state.
func (s *State) Evaluations() int {
	return s.evaluations
}

// InvalidEvaluations returns how many calls returned NaN.
func (s *State) InvalidEvaluations() int {
	return s.invalid
}

// Best returns a copy of the best point seen so far, or the start point when
// no evaluation produced a finite score.
func (s *State) Best() []float64 {
	if s.best == nil {
		return append([]float64(nil), s.start...)
	}
	return append([]float64(nil), s.best...)
}

// BestScore returns the best finite score seen so far, or NaN.
func (s *State) BestScore() float64 {
	if s.best == nil {
		return math.NaN()
	}
	return s.bestScore
}

// Persist hands the best point to the BestStore if it improved since the
// last call. Store failures are logged and otherwise ignored.
func (s *State) Persist() {
	if s.store == nil || s.best == nil || !(s.bestScore < s.persisted) {
		return
	}
	if err := s.store.StoreBest(s.bestScore, append([]float64(nil), s.best...)); err != nil {
		s.logger.Warn("failed to store best point",
			zap.Error(err),
			zap.Float64("score", s.bestScore),
		)
		return
	}
	s.persisted = s.bestScore
}

// Finish fixes the status and builds the report. The state must not be used
// afterwards.
func (s *State) Finish(algorithm string, status Status) *Report {
	s.Status = status
	s.Persist()
	return &Report{
		Algorithm:   algorithm,
		Best:        s.Best(),
		Score:       s.BestScore(),
		Evaluations: s.evaluations,
		Iterations:  s.Iterations,
		Status:      status,
	}
}
