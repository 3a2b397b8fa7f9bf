// Package metrics exposes calibration runs to Prometheus.
package metrics

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
)

const namespace = "calibration"

// Metrics holds the collectors of the calibration service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	evaluations *prometheus.CounterVec
	invalid     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	bestScore   *prometheus.GaugeVec
	duration    *prometheus.HistogramVec
	active      prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Objective function evaluations.",
		}, []string{"algorithm"}),
		invalid: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_evaluations_total",
			Help:      "Objective evaluations that returned NaN.",
		}, []string{"algorithm"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished calibration runs by termination status.",
		}, []string{"algorithm", "status"}),
		bestScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_score",
			Help:      "Best score of the most recently finished run.",
		}, []string{"algorithm"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of calibration runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"algorithm"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Calibration runs in progress.",
		}),
	}
}

// Instrument wraps obj so that every evaluation is counted under algorithm.
func (m *Metrics) Instrument(obj optimization.Objective, algorithm string) optimization.Objective {
	if m == nil {
		return obj
	}
	return &instrumented{
		Objective: obj,
		calls:     m.evaluations.WithLabelValues(algorithm),
		invalid:   m.invalid.WithLabelValues(algorithm),
	}
}

// RunStarted marks a run as in progress. The returned function records the
// finished report and must be called exactly once.
func (m *Metrics) RunStarted(algorithm string) func(*optimization.Report) {
	if m == nil {
		return func(*optimization.Report) {}
	}
	m.active.Inc()
	start := time.Now()
	var done atomic.Bool
	return func(report *optimization.Report) {
		if !done.CompareAndSwap(false, true) {
			return
		}
		m.active.Dec()
		m.duration.WithLabelValues(algorithm).Observe(time.Since(start).Seconds())
		if report == nil {
			return
		}
		m.runs.WithLabelValues(algorithm, report.Status.String()).Inc()
		if !math.IsNaN(report.Score) && !math.IsInf(report.Score, 0) {
			m.bestScore.WithLabelValues(algorithm).Set(report.Score)
		}
	}
}

type instrumented struct {
	optimization.Objective
	calls   prometheus.Counter
	invalid prometheus.Counter
}

func (o *instrumented) Evaluate(x []float64) float64 {
	f := o.Objective.Evaluate(x)
	o.calls.Inc()
	if optimization.IsInvalid(f) {
		o.invalid.Inc()
	}
	return f
}
