package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/nataliia-kulatska/gadget/internal/optimization"
)

// Parameter is one row of a job's parameter table.
type Parameter struct {
	Name     string  `toml:"name" json:"name"`
	Value    float64 `toml:"value" json:"value"`
	Lower    float64 `toml:"lower" json:"lower"`
	Upper    float64 `toml:"upper" json:"upper"`
	Optimise bool    `toml:"optimise" json:"optimise"`
}

// Job describes a single calibration run.
//
//	algorithm = "bfgs"
//	objective = "rosenbrock"
//	seed = 7
//	scale = true
//
//	[options]
//	bfgsiter = 5000
//
//	[[parameter]]
//	name = "growth"
//	value = 0.5
//	lower = 0.1
//	upper = 2
//	optimise = true
type Job struct {
	Algorithm string `toml:"algorithm" json:"algorithm,omitempty"`
	Objective string `toml:"objective" json:"objective"`
	// Dimension, when set, must match the number of optimised parameters.
	Dimension int   `toml:"dimension" json:"dimension,omitempty"`
	Seed      int64 `toml:"seed" json:"seed,omitempty"`
	// Scale searches in value/initial coordinates.
	Scale      bool           `toml:"scale" json:"scale,omitempty"`
	Options    map[string]any `toml:"options" json:"options,omitempty"`
	Parameters []Parameter    `toml:"parameter" json:"parameters"`
}

// LoadJob reads and validates a TOML job file. Unknown keys are logged.
func LoadJob(path string, logger *zap.Logger) (*Job, error) {
	var job Job
	meta, err := toml.DecodeFile(path, &job)
	if err != nil {
		return nil, fmt.Errorf("decode job file %s: %w", path, err)
	}
	return finishDecode(&job, meta, logger)
}

// DecodeJob parses and validates a TOML job document.
func DecodeJob(data string, logger *zap.Logger) (*Job, error) {
	var job Job
	meta, err := toml.Decode(data, &job)
	if err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return finishDecode(&job, meta, logger)
}

func finishDecode(job *Job, meta toml.MetaData, logger *zap.Logger) (*Job, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, key := range meta.Undecoded() {
		logger.Warn("unknown job key ignored", zap.String("key", key.String()))
	}
	if err := job.Validate(logger); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks the job. An empty algorithm is accepted and left for the
// caller to default. Bounds spanning zero are only logged.
func (j *Job) Validate(logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if j.Algorithm != "" && !KnownAlgorithm(j.Algorithm) {
		return fmt.Errorf("unknown algorithm %q, expected one of %s", j.Algorithm, strings.Join(Algorithms(), ", "))
	}
	if strings.TrimSpace(j.Objective) == "" {
		return fmt.Errorf("objective is required")
	}
	if len(j.Parameters) == 0 {
		return fmt.Errorf("at least one parameter is required")
	}

	seen := make(map[string]bool, len(j.Parameters))
	for i, p := range j.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true

		for _, v := range []float64{p.Value, p.Lower, p.Upper} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("parameter %q has a non-finite value or bound", p.Name)
			}
		}
		if p.Upper < p.Lower {
			return fmt.Errorf("upper bound lower than lower bound for parameter %q", p.Name)
		}
		if p.Value < p.Lower || p.Value > p.Upper {
			return fmt.Errorf("initial value outside bounds for parameter %q", p.Name)
		}
		if p.Lower < 0 && p.Upper > 0 {
			logger.Warn("bounds span zero", zap.String("parameter", p.Name))
		}
	}

	n := len(j.Optimised())
	if n == 0 {
		return fmt.Errorf("no parameter is marked optimise")
	}
	if j.Dimension != 0 && j.Dimension != n {
		return fmt.Errorf("dimension %d does not match %d optimised parameters", j.Dimension, n)
	}
	if _, err := j.NumericOptions(); err != nil {
		return err
	}
	return nil
}

// Optimised returns the rows that take part in the search, in file order.
func (j *Job) Optimised() []Parameter {
	var out []Parameter
	for _, p := range j.Parameters {
		if p.Optimise {
			out = append(out, p)
		}
	}
	return out
}

// Names returns the names of the optimised parameters.
func (j *Job) Names() []string {
	opt := j.Optimised()
	names := make([]string, len(opt))
	for i, p := range opt {
		names[i] = p.Name
	}
	return names
}

// Start returns the initial values of the optimised parameters.
func (j *Job) Start() []float64 {
	opt := j.Optimised()
	start := make([]float64, len(opt))
	for i, p := range opt {
		start[i] = p.Value
	}
	return start
}

// Bounds returns the bounds of the optimised parameters.
func (j *Job) Bounds() [][2]float64 {
	opt := j.Optimised()
	bounds := make([][2]float64, len(opt))
	for i, p := range opt {
		bounds[i] = [2]float64{p.Lower, p.Upper}
	}
	return bounds
}

// NumericOptions converts the options table.
func (j *Job) NumericOptions() (map[string]float64, error) {
	if len(j.Options) == 0 {
		return map[string]float64{}, nil
	}
	opts, err := optimization.OptionsFromAny(j.Options)
	if err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return opts, nil
}

// WithStart returns a copy of the job whose optimised parameters start at x,
// clipped into their bounds. It is used to resume from a checkpoint.
func (j *Job) WithStart(x []float64) (*Job, error) {
	opt := j.Optimised()
	if len(x) != len(opt) {
		return nil, fmt.Errorf("checkpoint has %d values, job optimises %d parameters", len(x), len(opt))
	}
	c := *j
	c.Parameters = append([]Parameter(nil), j.Parameters...)
	k := 0
	for i := range c.Parameters {
		if !c.Parameters[i].Optimise {
			continue
		}
		c.Parameters[i].Value = math.Min(math.Max(x[k], c.Parameters[i].Lower), c.Parameters[i].Upper)
		k++
	}
	return &c, nil
}
