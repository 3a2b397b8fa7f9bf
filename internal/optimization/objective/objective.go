// Package objective provides benchmark objectives used by the calibration
// service and tests, plus the scaling boundary between model parameters and
// the coordinates the optimizers work in.
package objective

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize/functions"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
)

// Sphere is f(x) = Σ x_i².
type Sphere struct{}

// Evaluate implements optimization.Objective.
func (Sphere) Evaluate(x []float64) float64 {
	return floats.Dot(x, x)
}

// Bowl is f(x) = Offset + Σ (x_i - Center_i)². A positive Offset keeps the
// minimum away from an exact zero score.
type Bowl struct {
	Center []float64
	Offset float64
}

// Evaluate implements optimization.Objective.
func (b Bowl) Evaluate(x []float64) float64 {
	sum := b.Offset
	for i, v := range x {
		d := v - b.Center[i]
		sum += d * d
	}
	return sum
}

// Rosenbrock is the extended Rosenbrock function with its minimum at the
// all-ones vector.
type Rosenbrock struct{}

// Evaluate implements optimization.Objective.
func (Rosenbrock) Evaluate(x []float64) float64 {
	return functions.ExtendedRosenbrock{}.Func(x)
}

// Flat returns Value everywhere. Every line search on it fails, which makes
// it useful for exercising restart paths.
type Flat struct {
	Value float64
}

// Evaluate implements optimization.Objective.
func (f Flat) Evaluate([]float64) float64 {
	return f.Value
}

// Factory builds an objective of the given dimension.
type Factory func(dim int) (optimization.Objective, error)

var registry = map[string]Factory{
	"sphere": func(int) (optimization.Objective, error) {
		return Sphere{}, nil
	},
	"bowl": func(dim int) (optimization.Objective, error) {
		center := make([]float64, dim)
		floats.AddConst(1, center)
		return Bowl{Center: center, Offset: 1}, nil
	},
	"rosenbrock": func(dim int) (optimization.Objective, error) {
		if dim < 2 {
			return nil, optimization.NewErrorf("rosenbrock needs at least 2 dimensions, got %d", dim)
		}
		return Rosenbrock{}, nil
	},
	"flat": func(int) (optimization.Objective, error) {
		return Flat{Value: 1}, nil
	},
}

// Lookup returns the named benchmark objective for dim parameters. Names are
// case-insensitive.
func Lookup(name string, dim int) (optimization.Objective, error) {
	const op = "objective.Lookup"

	if dim <= 0 {
		return nil, optimization.NewErrorf("dimension must be positive, got %d", dim).WithOperation(op)
	}
	factory, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, optimization.NewErrorf("unknown objective %q", name).WithOperation(op)
	}
	obj, err := factory(dim)
	if err != nil {
		return nil, optimization.WrapError(err, "failed to build objective").WithOperation(op)
	}
	return obj, nil
}

// Names returns the registered objective names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
