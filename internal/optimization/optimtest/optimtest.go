// Package optimtest provides helpers shared by the optimizer tests.
package optimtest

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
)

// Sample is one recorded objective call.
type Sample struct {
	X     []float64
	Score float64
}

// Recorder wraps an objective and records every call made through it.
type Recorder struct {
	Objective optimization.Objective

	mu      sync.Mutex
	samples []Sample
}

// Record wraps obj.
func Record(obj optimization.Objective) *Recorder {
	return &Recorder{Objective: obj}
}

// Evaluate implements optimization.Objective.
func (r *Recorder) Evaluate(x []float64) float64 {
	f := r.Objective.Evaluate(x)
	r.mu.Lock()
	r.samples = append(r.samples, Sample{X: append([]float64(nil), x...), Score: f})
	r.mu.Unlock()
	return f
}

// Samples returns the recorded calls in order.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sample(nil), r.samples...)
}

// Calls returns the number of recorded calls.
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// MemoryStore is an in-memory optimization.BestStore.
type MemoryStore struct {
	mu     sync.Mutex
	Scores []float64
	Points [][]float64
	Err    error
}

// StoreBest implements optimization.BestStore.
func (m *MemoryStore) StoreBest(score float64, x []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Scores = append(m.Scores, score)
	m.Points = append(m.Points, append([]float64(nil), x...))
	return nil
}

// Last returns the most recently stored point, or nil.
func (m *MemoryStore) Last() (float64, []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Points) == 0 {
		return math.NaN(), nil
	}
	return m.Scores[len(m.Scores)-1], m.Points[len(m.Points)-1]
}

// AssertSlicesInDelta checks that two slices are element-wise within tol.
func AssertSlicesInDelta(t testing.TB, want, got []float64, tol float64) {
	t.Helper()

	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], tol, "index %d", i)
	}
}

// AssertMonotoneBest checks that the reported best score is no worse than
// any finite score observed during the run, and that the reported point
// actually produced it.
func AssertMonotoneBest(t testing.TB, report *optimization.Report, rec *Recorder) {
	t.Helper()

	require.NotNil(t, report)
	samples := rec.Samples()
	require.NotEmpty(t, samples)
	for i, s := range samples {
		if math.IsNaN(s.Score) {
			continue
		}
		assert.LessOrEqual(t, report.Score, s.Score, "sample %d at %v", i, s.X)
	}
	assert.Equal(t, report.Score, rec.Objective.Evaluate(report.Best))
}

// AssertWithinBounds checks that every recorded call stayed inside bounds.
func AssertWithinBounds(t testing.TB, rec *Recorder, bounds [][2]float64) {
	t.Helper()

	for i, s := range rec.Samples() {
		for j, v := range s.X {
			if v < bounds[j][0] || v > bounds[j][1] {
				assert.Failf(t, "point outside bounds",
					"sample %d coordinate %d = %v, bounds [%v, %v]", i, j, v, bounds[j][0], bounds[j][1])
			}
		}
	}
}

// RandomPoint draws a point uniformly from [lo, hi]^n.
func RandomPoint(rng *rand.Rand, n int, lo, hi float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = lo + rng.Float64()*(hi-lo)
	}
	return x
}
