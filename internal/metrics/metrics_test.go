package metrics

import (
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
	"github.com/nataliia-kulatska/gadget/internal/optimization/hooke"
	"github.com/nataliia-kulatska/gadget/internal/optimization/objective"
)

func TestInstrumentCountsEvaluations(t *testing.T) {
	m := New(prometheus.NewRegistry())
	obj := m.Instrument(optimization.Func(func(x []float64) float64 {
		if x[0] < 0 {
			return math.NaN()
		}
		return x[0]
	}), "hooke")

	assert.Equal(t, 2.0, obj.Evaluate([]float64{2}))
	assert.True(t, math.IsNaN(obj.Evaluate([]float64{-1})))
	obj.Evaluate([]float64{3})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.evaluations.WithLabelValues("hooke")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invalid.WithLabelValues("hooke")))
	assert.Zero(t, testutil.ToFloat64(m.evaluations.WithLabelValues("bfgs")))
}

func TestRunStarted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	done := m.RunStarted("bfgs")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active))

	report := &optimization.Report{Algorithm: "bfgs", Score: 1.25, Status: optimization.Converged}
	done(report)
	done(report)

	assert.Zero(t, testutil.ToFloat64(m.active))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("bfgs", "converged")))
	assert.Equal(t, 1.25, testutil.ToFloat64(m.bestScore.WithLabelValues("bfgs")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))

	m.RunStarted("bfgs")(&optimization.Report{Score: math.NaN(), Status: optimization.Failure})
	assert.Equal(t, 1.25, testutil.ToFloat64(m.bestScore.WithLabelValues("bfgs")), "NaN scores are not exported")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("bfgs", "failure")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	obj := objective.Sphere{}

	assert.Equal(t, obj, m.Instrument(obj, "hooke"))
	assert.NotPanics(t, func() { m.RunStarted("hooke")(nil) })
}

func TestInstrumentedSearch(t *testing.T) {
	m := New(prometheus.NewRegistry())
	finish := m.RunStarted(hooke.Name)

	report, err := hooke.New(hooke.DefaultSettings(), nil).Optimize(context.Background(), optimization.Problem{
		Objective: m.Instrument(objective.Bowl{Center: []float64{1, 1}, Offset: 1}, hooke.Name),
		Start:     []float64{0, 0},
	})
	require.NoError(t, err)
	finish(report)

	assert.Equal(t, float64(report.Evaluations), testutil.ToFloat64(m.evaluations.WithLabelValues(hooke.Name)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(hooke.Name, report.Status.String())))
}

func TestCollectorNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Instrument(objective.Sphere{}, "simplex").Evaluate([]float64{1})
	m.RunStarted("simplex")(&optimization.Report{Score: 1, Status: optimization.MaxEvaluations})

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"calibration_active_runs",
		"calibration_best_score",
		"calibration_evaluations_total",
		"calibration_invalid_evaluations_total",
		"calibration_run_duration_seconds",
		"calibration_runs_total",
	}, names)
}
