package hooke

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
	"github.com/nataliia-kulatska/gadget/internal/optimization/objective"
)

func boxedSearch(t *testing.T, settings Settings, n int) *search {
	t.Helper()
	start := make([]float64, n)
	bounds := make([][2]float64, n)
	for i := range start {
		start[i] = 1
		bounds[i] = [2]float64{0, 5}
	}
	p := optimization.Problem{Objective: objective.Sphere{}, Start: start, Bounds: bounds}
	require.NoError(t, p.Validate())

	s := newSearch(New(settings, nil), p)
	s.state = optimization.NewState(p, nil)
	return s
}

func TestSearchTrappedStepGrows(t *testing.T) {
	tests := []struct {
		name    string
		value   float64
		step    float64
		grown   float64
		lower   bool
		clamped float64
	}{
		{name: "lower positive step", value: -1, step: 0.25, grown: 5.25, lower: true, clamped: 0},
		{name: "lower negative step", value: -1, step: -0.25, grown: -5.25, lower: true, clamped: 0},
		{name: "upper", value: 7, step: 0.5, grown: 5.5, clamped: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := boxedSearch(t, DefaultSettings(), 2)
			s.delta = []float64{tt.step, 0.1}
			s.fbefore = 8

			runs, hits := s.upperRun, s.upperHits
			if tt.lower {
				runs, hits = s.lowerRun, s.lowerHits
			}

			x := []float64{tt.value, 1}
			s.bound(x, 0)
			assert.Equal(t, tt.clamped, x[0])
			assert.True(t, s.trapped[0])
			assert.Equal(t, tt.step, s.initialStep[0])
			assert.Equal(t, 8.0, s.trapScore[0])
			assert.Equal(t, tt.step, s.delta[0], "one violation keeps the step")
			assert.Equal(t, 1, runs[0])

			s.fbefore = 6
			x[0] = tt.value
			s.bound(x, 0)
			assert.Equal(t, tt.clamped, x[0])
			assert.InDelta(t, tt.grown, s.delta[0], 1e-12)
			assert.Equal(t, 0, runs[0])
			assert.Equal(t, 2, hits[0])
			assert.Equal(t, 2, s.boundHits)
			assert.Equal(t, 8.0, s.trapScore[0], "trap score is kept from the first violation")

			assert.False(t, s.trapped[1])
			assert.Equal(t, 0.1, s.delta[1])
		})
	}
}

func TestSearchBoundInsideBoxIsNoop(t *testing.T) {
	s := boxedSearch(t, DefaultSettings(), 1)
	s.delta = []float64{0.25}

	x := []float64{2.5}
	s.bound(x, 0)
	assert.Equal(t, 2.5, x[0])
	assert.False(t, s.trapped[0])
	assert.Zero(t, s.boundHits)
}

func TestSearchEscape(t *testing.T) {
	tests := []struct {
		name      string
		trapScore float64
		newf      float64
		released  bool
	}{
		{name: "under five percent", trapScore: 10, newf: 9.6},
		{name: "exactly five percent", trapScore: 10, newf: 9.5},
		{name: "over five percent", trapScore: 10, newf: 9.4, released: true},
		{name: "negative score held", trapScore: -10, newf: -10.4},
		{name: "negative score released", trapScore: -10, newf: -10.6, released: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := boxedSearch(t, DefaultSettings(), 2)
			s.delta = []float64{0.25, 0.1}
			s.fbefore = tt.trapScore

			x := []float64{-1, 1}
			s.bound(x, 0)
			s.bound(x, 0)
			require.True(t, s.trapped[0])
			require.InDelta(t, 5.25, s.delta[0], 1e-12)
			s.lowerRun[0] = 1

			s.escape(tt.newf)

			if tt.released {
				assert.False(t, s.trapped[0])
				assert.Equal(t, 0.25, s.delta[0])
				assert.Zero(t, s.lowerRun[0])
				assert.Zero(t, s.upperRun[0])
			} else {
				assert.True(t, s.trapped[0])
				assert.InDelta(t, 5.25, s.delta[0], 1e-12)
				assert.Equal(t, 1, s.lowerRun[0])
			}
			assert.Equal(t, 0.1, s.delta[1])
			assert.Equal(t, 2, s.lowerHits[0], "escape keeps the hit counters")
		})
	}
}

func TestSearchReshuffleSchedule(t *testing.T) {
	const n = 3
	settings := DefaultSettings()
	settings.Seed = 7
	s := boxedSearch(t, settings, n)

	rng := rand.New(rand.NewSource(settings.Seed))
	want := []int{0, 1, 2}
	assert.Equal(t, want, s.order)

	for it := 1; it <= 6*15*n; it++ {
		s.nextIteration()
		if it%(15*n) == 0 {
			want = rng.Perm(n)
		}
		require.Equal(t, it, s.state.Iterations)
		require.Equal(t, want, s.order, "iteration %d", it)
	}
}
