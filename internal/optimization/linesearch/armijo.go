package linesearch

// Default Armijo parameters.
const (
	DefaultBeta    = 0.3
	DefaultSigma   = 0.01
	DefaultStep    = 1.0
	DefaultMinStep = 1e-10
)

// Armijo is a backtracking search. Starting from Step it shrinks the trial
// step by Beta until f(x + a·dir) <= f(x) + Sigma·a·slope, giving up once the
// step drops to MinStep or below, or after MaxEvaluations trials when that is
// positive.
type Armijo struct {
	Beta           float64
	Sigma          float64
	Step           float64
	MinStep        float64
	MaxEvaluations int
}

// NewArmijo returns a search with default parameters.
func NewArmijo() *Armijo {
	return &Armijo{
		Beta:    DefaultBeta,
		Sigma:   DefaultSigma,
		Step:    DefaultStep,
		MinStep: DefaultMinStep,
	}
}

// Search implements Searcher.
func (a *Armijo) Search(f Func, x []float64, fx float64, dir []float64, slope float64) Result {
	var res Result
	if !(slope < 0) {
		return res
	}

	minStep := a.MinStep
	if minStep <= 0 {
		minStep = DefaultMinStep
	}
	trial := make([]float64, len(x))
	for step := a.Step; step > minStep; step *= a.Beta {
		if a.MaxEvaluations > 0 && res.Evaluations >= a.MaxEvaluations {
			break
		}
		point(trial, x, dir, step)
		ft := f(trial)
		res.Evaluations++
		if sufficientDecrease(fx, ft, step, slope, a.Sigma) {
			res.Step = step
			res.X = trial
			res.F = ft
			res.OK = true
			return res
		}
		if a.Beta <= 0 || a.Beta >= 1 {
			break
		}
	}
	return res
}
