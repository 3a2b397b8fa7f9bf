package hooke

import (
	"github.com/nataliia-kulatska/gadget/internal/optimization"
)

// Settings holds the Hooke-Jeeves tuning parameters.
type Settings struct {
	// Rho is the step shrink ratio, 0 < Rho < 1.
	Rho float64
	// Lambda overrides the initial step length bookkeeping value. Values
	// <= 0 mean Rho.
	Lambda float64
	// Epsilon stops the search once the step length falls to it.
	Epsilon float64
	// IterMax bounds the number of outer iterations.
	IterMax int
	// MaxEvaluations optionally caps objective evaluations. Zero means no cap.
	MaxEvaluations int
	// Seed drives the coordinate order shuffle.
	Seed int64
}

// DefaultSettings returns the standard parameters.
func DefaultSettings() Settings {
	return Settings{
		Rho:     0.5,
		Lambda:  0,
		Epsilon: 1e-4,
		IterMax: 1000,
		Seed:    1,
	}
}

// Setters returns the option keys understood by the search.
func (s *Settings) Setters() optimization.Setters {
	return optimization.Setters{
		"rho":      func(v float64) { s.Rho = v },
		"lambda":   func(v float64) { s.Lambda = v },
		"epsilon":  func(v float64) { s.Epsilon = v },
		"itermax":  func(v float64) { s.IterMax = int(v) },
		"maxevals": func(v float64) { s.MaxEvaluations = int(v) },
		"seed":     func(v float64) { s.Seed = int64(v) },
	}
}

// Validate checks the settings for values the search cannot run with.
func (s Settings) Validate() error {
	const op = "hooke.Settings.Validate"

	if !(s.Rho > 0 && s.Rho < 1) {
		return optimization.NewErrorf("rho must be in (0, 1), got %v", s.Rho).WithOperation(op)
	}
	if !(s.Epsilon > 0) {
		return optimization.NewErrorf("epsilon must be positive, got %v", s.Epsilon).WithOperation(op)
	}
	if s.IterMax <= 0 {
		return optimization.NewErrorf("itermax must be positive, got %d", s.IterMax).WithOperation(op)
	}
	if s.MaxEvaluations < 0 {
		return optimization.NewErrorf("maxevals must not be negative, got %d", s.MaxEvaluations).WithOperation(op)
	}
	return nil
}
