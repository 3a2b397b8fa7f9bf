package bfgs

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
	"github.com/nataliia-kulatska/gadget/internal/optimization/hooke"
	"github.com/nataliia-kulatska/gadget/internal/optimization/objective"
	"github.com/nataliia-kulatska/gadget/internal/optimization/optimtest"
)

var _ optimization.Optimizer = (*Optimizer)(nil)

func bowl5() objective.Bowl {
	return objective.Bowl{Center: []float64{1.5, 2, 2.5, 3, 3.5}, Offset: 0.5}
}

func ones(n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = 1
	}
	return x
}

func explicitSettings() Settings {
	s := DefaultSettings()
	s.Variant = Explicit
	return s
}

func TestBFGSConvergesOnBowl(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		algo     string
	}{
		{name: "inverse", settings: DefaultSettings(), algo: Name},
		{name: "explicit", settings: explicitSettings(), algo: NameExplicit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bowl5()
			rec := optimtest.Record(b)

			report, err := New(tt.settings, nil).Optimize(context.Background(), optimization.Problem{
				Objective: rec,
				Start:     ones(5),
			})
			require.NoError(t, err)

			assert.Equal(t, optimization.Converged, report.Status, report.Message)
			assert.Equal(t, tt.algo, report.Algorithm)
			optimtest.AssertSlicesInDelta(t, b.Center, report.Best, 1e-3)
			assert.Equal(t, rec.Calls(), report.Evaluations)
			assert.Greater(t, report.SmallestEigenvalue, 0.0)
			optimtest.AssertMonotoneBest(t, report, rec)
		})
	}
}

func TestBFGSNeedsFewerEvaluationsThanHooke(t *testing.T) {
	b := bowl5()

	bfgsReport, err := New(DefaultSettings(), nil).Optimize(context.Background(), optimization.Problem{
		Objective: b,
		Start:     ones(5),
	})
	require.NoError(t, err)
	require.Equal(t, optimization.Converged, bfgsReport.Status)
	optimtest.AssertSlicesInDelta(t, b.Center, bfgsReport.Best, 1e-3)

	hs := hooke.DefaultSettings()
	hs.Epsilon = 1e-4
	hs.IterMax = 100000
	hookeReport, err := hooke.New(hs, nil).Optimize(context.Background(), optimization.Problem{
		Objective: b,
		Start:     ones(5),
	})
	require.NoError(t, err)
	require.Equal(t, optimization.Converged, hookeReport.Status)
	optimtest.AssertSlicesInDelta(t, b.Center, hookeReport.Best, 1e-3)

	assert.Less(t, bfgsReport.Evaluations, hookeReport.Evaluations)
}

func TestBFGSRestartsAfterLineSearchFailure(t *testing.T) {
	const n = 2
	b := objective.Bowl{Center: []float64{2, 3}, Offset: 1}
	calls := 0
	// The start point and its gradient cost n+1 calls; the whole first
	// backtracking sequence (20 trials) then sees invalid scores.
	obj := optimization.Func(func(x []float64) float64 {
		calls++
		if calls > n+1 && calls <= n+21 {
			return math.NaN()
		}
		return b.Evaluate(x)
	})
	rec := optimtest.Record(obj)

	report, err := New(DefaultSettings(), nil).Optimize(context.Background(), optimization.Problem{
		Objective: rec,
		Start:     []float64{1, 1},
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, report.Restarts, 1)
	assert.Equal(t, optimization.Converged, report.Status, report.Message)
	assert.Greater(t, report.Evaluations, n+21)
	assert.Less(t, report.GradientAccuracy, DefaultSettings().GradAcc)
	optimtest.AssertSlicesInDelta(t, b.Center, report.Best, 1e-3)
	optimtest.AssertMonotoneBest(t, report, rec)
}

func TestBFGSFlatObjectiveRunsOutOfAccuracy(t *testing.T) {
	rec := optimtest.Record(objective.Flat{Value: 1})

	report, err := New(DefaultSettings(), nil).Optimize(context.Background(), optimization.Problem{
		Objective: rec,
		Start:     []float64{1, 1},
	})
	require.NoError(t, err)

	assert.Equal(t, optimization.AccuracyTooSmall, report.Status)
	// 1e-6 halved 14 times drops below 1e-10; the last halving ends the run.
	assert.Equal(t, 13, report.Restarts)
	assert.Less(t, report.GradientAccuracy, accuracyFloor)
	// Start point, first gradient and one fresh gradient per restart.
	assert.Equal(t, 1+2+13*2, report.Evaluations)
	assert.Equal(t, []float64{1, 1}, report.Best)
	assert.InDelta(t, 1, report.SmallestEigenvalue, 1e-9)
}

func TestBFGSExplicitStopsAfterRepeatedRestarts(t *testing.T) {
	// Descent is promised by the gradient but every trial step is invalid.
	obj := optimization.Func(func(x []float64) float64 {
		if x[0] < 1 {
			return math.NaN()
		}
		return 1 + x[0]
	})

	report, err := New(explicitSettings(), nil).Optimize(context.Background(), optimization.Problem{
		Objective: obj,
		Start:     []float64{1, 1},
	})
	require.NoError(t, err)

	assert.Equal(t, optimization.AccuracyTooSmall, report.Status)
	assert.Equal(t, 2, report.Restarts)
	assert.Equal(t, []float64{1, 1}, report.Best)
}

func TestBFGSDegenerateObjective(t *testing.T) {
	for _, variant := range []Variant{Inverse, Explicit} {
		t.Run(variant.String(), func(t *testing.T) {
			s := DefaultSettings()
			s.Variant = variant

			tests := []struct {
				name  string
				score float64
			}{
				{name: "zero", score: 0},
				{name: "nan", score: math.NaN()},
			}
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					report, err := New(s, nil).Optimize(context.Background(), optimization.Problem{
						Objective: objective.Flat{Value: tt.score},
						Start:     []float64{1, 2},
					})
					require.NoError(t, err)
					assert.Equal(t, optimization.Failure, report.Status)
					assert.Equal(t, []float64{1, 2}, report.Best)
				})
			}
		})
	}
}

func TestBFGSZeroReachedMidRun(t *testing.T) {
	// The first step lands on a point scoring exactly zero whose gradient
	// is still large, so only the zero guard can stop the run.
	obj := optimization.Func(func(x []float64) float64 {
		if x[0] < 1.5 && x[1] == 1 {
			return 0
		}
		return x[0] + 5
	})

	report, err := New(DefaultSettings(), nil).Optimize(context.Background(), optimization.Problem{
		Objective: obj,
		Start:     []float64{2, 1},
	})
	require.NoError(t, err)

	assert.Equal(t, optimization.Failure, report.Status)
	assert.Equal(t, 0.0, report.Score)
}

func TestBFGSEvaluationBudget(t *testing.T) {
	const n = 6
	start := make([]float64, n)
	for i := range start {
		start[i] = 1
		if i%2 == 0 {
			start[i] = -1.2
		}
	}

	tests := []struct {
		name     string
		settings Settings
		budget   int
		statuses []optimization.Status
	}{
		{name: "inverse start only", settings: DefaultSettings(), budget: 1},
		{name: "inverse first gradient", settings: DefaultSettings(), budget: n + 1},
		{name: "inverse inside line search", settings: DefaultSettings(), budget: n + 3},
		{name: "inverse before second gradient", settings: DefaultSettings(), budget: 2*n + 1},
		{name: "inverse several iterations", settings: DefaultSettings(), budget: 60},
		{name: "explicit start only", settings: explicitSettings(), budget: 1},
		{name: "explicit inside line search", settings: explicitSettings(), budget: n + 2},
		{
			name:     "explicit several iterations",
			settings: explicitSettings(),
			budget:   60,
			// Two failed line searches in a row end the explicit variant early.
			statuses: []optimization.Status{optimization.MaxEvaluations, optimization.AccuracyTooSmall},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.settings
			s.MaxEvaluations = tt.budget
			rec := optimtest.Record(objective.Rosenbrock{})

			report, err := New(s, nil).Optimize(context.Background(), optimization.Problem{
				Objective: rec,
				Start:     start,
			})
			require.NoError(t, err)

			statuses := tt.statuses
			if statuses == nil {
				statuses = []optimization.Status{optimization.MaxEvaluations}
			}
			assert.Contains(t, statuses, report.Status)
			assert.LessOrEqual(t, report.Evaluations, tt.budget)
			assert.Equal(t, rec.Calls(), report.Evaluations)
			optimtest.AssertMonotoneBest(t, report, rec)
		})
	}
}

func TestBFGSInterrupted(t *testing.T) {
	for _, variant := range []Variant{Inverse, Explicit} {
		t.Run(variant.String(), func(t *testing.T) {
			s := DefaultSettings()
			s.Variant = variant
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			calls := 0
			rec := optimtest.Record(optimization.Func(func(x []float64) float64 {
				calls++
				if calls == 10 {
					cancel()
				}
				return objective.Rosenbrock{}.Evaluate(x) + 1
			}))

			report, err := New(s, nil).Optimize(ctx, optimization.Problem{
				Objective: rec,
				Start:     []float64{-1.2, 1},
			})
			require.NoError(t, err)

			assert.Equal(t, optimization.Interrupted, report.Status)
			assert.GreaterOrEqual(t, report.Evaluations, 10)
			optimtest.AssertMonotoneBest(t, report, rec)
		})
	}
}

func TestBFGSPersistsEveryAcceptedPoint(t *testing.T) {
	store := &optimtest.MemoryStore{}
	b := objective.Bowl{Center: []float64{2, 3}, Offset: 1}

	report, err := New(DefaultSettings(), nil).Optimize(context.Background(), optimization.Problem{
		Objective: b,
		Start:     []float64{1, 1},
		Store:     store,
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(store.Scores), 2)
	for i := 1; i < len(store.Scores); i++ {
		assert.Less(t, store.Scores[i], store.Scores[i-1])
	}
	score, point := store.Last()
	assert.Equal(t, report.Score, score)
	assert.Equal(t, report.Best, point)
}

func TestSettingsOptions(t *testing.T) {
	t.Run("inverse", func(t *testing.T) {
		s := DefaultSettings()
		unknown := optimization.ApplyOptions(map[string]float64{
			"Beta":     0.5,
			"SIGMA":    0.02,
			"st":       0.8,
			"bfgsiter": 500,
			"bfgseps":  1e-5,
			"gradacc":  1e-4,
			"gradstep": 0.25,
			"tau":      0.2,
		}, s.Setters(), nil)

		assert.Equal(t, []string{"tau"}, unknown)
		assert.Equal(t, 0.5, s.Beta)
		assert.Equal(t, 0.02, s.Sigma)
		assert.Equal(t, 0.8, s.Step)
		assert.Equal(t, 500, s.MaxEvaluations)
		assert.Equal(t, 1e-5, s.Epsilon)
		assert.Equal(t, 1e-4, s.GradAcc)
		assert.Equal(t, 0.25, s.GradStep)
		require.NoError(t, s.Validate())
	})

	t.Run("explicit", func(t *testing.T) {
		s := explicitSettings()
		unknown := optimization.ApplyOptions(map[string]float64{
			"rho":     0.001,
			"sigma":   0.9,
			"tau":     0.05,
			"maxiter": 200,
			"eps":     1e-4,
			"beta":    0.5,
		}, s.Setters(), nil)

		assert.Equal(t, []string{"beta"}, unknown)
		assert.Equal(t, 0.001, s.Rho)
		assert.Equal(t, 0.9, s.Curvature)
		assert.Equal(t, DefaultSettings().Sigma, s.Sigma)
		assert.Equal(t, 0.05, s.Tau)
		assert.Equal(t, 200, s.MaxEvaluations)
		assert.Equal(t, 1e-4, s.Epsilon)
		require.NoError(t, s.Validate())
	})
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
	}{
		{name: "budget", modify: func(s *Settings) { s.MaxEvaluations = 0 }},
		{name: "epsilon", modify: func(s *Settings) { s.Epsilon = 0 }},
		{name: "gradacc", modify: func(s *Settings) { s.GradAcc = -1 }},
		{name: "beta", modify: func(s *Settings) { s.Beta = 1 }},
		{name: "sigma", modify: func(s *Settings) { s.Sigma = 0 }},
		{name: "step", modify: func(s *Settings) { s.Step = 0 }},
		{name: "gradstep", modify: func(s *Settings) { s.GradStep = 1.5 }},
		{name: "wolfe constants", modify: func(s *Settings) { s.Variant = Explicit; s.Rho = 0.5; s.Curvature = 0.1 }},
		{name: "tau", modify: func(s *Settings) { s.Variant = Explicit; s.Tau = 0.5 }},
		{name: "variant", modify: func(s *Settings) { s.Variant = Variant(7) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(&s)
			require.Error(t, s.Validate())

			_, err := New(s, nil).Optimize(context.Background(), optimization.Problem{
				Objective: objective.Sphere{},
				Start:     []float64{1},
			})
			require.Error(t, err)
		})
	}
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		in      string
		want    Variant
		wantErr bool
	}{
		{in: "bfgs", want: Inverse},
		{in: "BFGS", want: Inverse},
		{in: "inverse", want: Inverse},
		{in: "bfgs-explicit", want: Explicit},
		{in: " explicit ", want: Explicit},
		{in: "hooke", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVariant(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, name string) Variant {
	t.Helper()
	v, err := ParseVariant(name)
	require.NoError(t, err)
	return v
}
