package config

import (
	"strings"

	"go.uber.org/zap"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
	"github.com/nataliia-kulatska/gadget/internal/optimization/bfgs"
	"github.com/nataliia-kulatska/gadget/internal/optimization/hooke"
	"github.com/nataliia-kulatska/gadget/internal/optimization/simplex"
)

// Algorithms returns the names accepted by NewOptimizer.
func Algorithms() []string {
	return []string{hooke.Name, bfgs.Name, bfgs.NameExplicit, simplex.Name}
}

// KnownAlgorithm reports whether name is one of Algorithms.
func KnownAlgorithm(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, a := range Algorithms() {
		if a == name {
			return true
		}
	}
	return false
}

// OptionKeys returns the option keys understood by the named algorithm.
func OptionKeys(algorithm string) ([]string, error) {
	setters, _, err := settingsFor(algorithm, 0)
	if err != nil {
		return nil, err
	}
	return setters.Keys(), nil
}

// NewOptimizer builds the named optimizer from its default settings, the
// seed (ignored when zero or when the algorithm is deterministic) and opts.
// Option keys the algorithm does not understand are logged and returned.
func NewOptimizer(algorithm string, opts map[string]float64, seed int64, logger *zap.Logger) (optimization.Optimizer, []string, error) {
	setters, build, err := settingsFor(algorithm, seed)
	if err != nil {
		return nil, nil, err
	}
	unknown := optimization.ApplyOptions(opts, setters, logger)
	return build(logger), unknown, nil
}

type builder func(*zap.Logger) optimization.Optimizer

func settingsFor(algorithm string, seed int64) (optimization.Setters, builder, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case hooke.Name:
		s := hooke.DefaultSettings()
		if seed != 0 {
			s.Seed = seed
		}
		return s.Setters(), func(l *zap.Logger) optimization.Optimizer { return hooke.New(s, l) }, nil
	case bfgs.Name, bfgs.NameExplicit:
		s := bfgs.DefaultSettings()
		s.Variant, _ = bfgs.ParseVariant(algorithm)
		return s.Setters(), func(l *zap.Logger) optimization.Optimizer { return bfgs.New(s, l) }, nil
	case simplex.Name:
		s := simplex.DefaultSettings()
		return s.Setters(), func(l *zap.Logger) optimization.Optimizer { return simplex.New(s, l) }, nil
	default:
		return nil, nil, optimization.NewErrorf("unknown algorithm %q", algorithm).WithOperation("config.NewOptimizer")
	}
}
