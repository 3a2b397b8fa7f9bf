// Package runner turns a calibration job into an optimization problem and
// runs it. The CLI and the HTTP service share it.
package runner

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nataliia-kulatska/gadget/internal/config"
	apperrors "github.com/nataliia-kulatska/gadget/internal/errors"
	"github.com/nataliia-kulatska/gadget/internal/metrics"
	"github.com/nataliia-kulatska/gadget/internal/optimization"
	"github.com/nataliia-kulatska/gadget/internal/optimization/objective"
	"github.com/nataliia-kulatska/gadget/internal/store"
)

// Runner holds the dependencies shared by every run. Store and Metrics are
// optional.
type Runner struct {
	Store            *store.FSStore
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
	DefaultAlgorithm string
	DefaultSeed      int64
}

// Result is the outcome of a run in model units.
type Result struct {
	JobID      string               `json:"job_id"`
	Algorithm  string               `json:"algorithm"`
	Report     *optimization.Report `json:"report"`
	Parameters []config.Parameter   `json:"parameters"`
	// Unknown lists option keys the algorithm ignored.
	Unknown  []string      `json:"unknown_options,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Run is a prepared job, ready to execute once.
type Run struct {
	ID        string
	Algorithm string
	Unknown   []string

	job       *config.Job
	optimizer optimization.Optimizer
	problem   optimization.Problem
	scaler    *objective.Scaler
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// Prepare validates job and builds its optimizer and problem. id names the
// checkpoint; an empty id disables persistence.
func (r *Runner) Prepare(id string, job *config.Job) (*Run, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if id != "" {
		logger = logger.With(zap.String("job_id", id))
	}
	if job == nil {
		return nil, apperrors.New("job is required").
			WithOperation("Runner.Prepare").
			WithKind(apperrors.KindInvalid)
	}
	if err := job.Validate(logger); err != nil {
		return nil, err
	}

	algorithm := strings.ToLower(strings.TrimSpace(job.Algorithm))
	if algorithm == "" {
		algorithm = r.DefaultAlgorithm
	}
	seed := job.Seed
	if seed == 0 {
		seed = r.DefaultSeed
	}
	opts, err := job.NumericOptions()
	if err != nil {
		return nil, err
	}
	opt, unknown, err := config.NewOptimizer(algorithm, opts, seed, logger)
	if err != nil {
		return nil, err
	}

	names := job.Names()
	obj, err := objective.Lookup(job.Objective, len(names))
	if err != nil {
		return nil, err
	}
	obj = r.Metrics.Instrument(obj, algorithm)

	var bestStore optimization.BestStore
	if r.Store != nil && id != "" {
		bestStore = r.Store.Recorder(id, algorithm, names)
	}

	run := &Run{
		ID:        id,
		Algorithm: algorithm,
		Unknown:   unknown,
		job:       job,
		optimizer: opt,
		metrics:   r.Metrics,
		logger:    logger,
	}
	if job.Scale {
		run.scaler = objective.NewScaler(job.Start(), obj, bestStore)
		run.problem = run.scaler.Problem(job.Bounds())
	} else {
		run.problem = optimization.Problem{
			Objective: obj,
			Start:     job.Start(),
			Bounds:    job.Bounds(),
			Store:     bestStore,
		}
	}
	if err := run.problem.Validate(); err != nil {
		return nil, err
	}
	return run, nil
}

// Execute runs the search. Cancelling ctx interrupts it; the result then
// carries the best point found so far.
func (run *Run) Execute(ctx context.Context) (*Result, error) {
	done := run.metrics.RunStarted(run.Algorithm)
	start := time.Now()

	run.logger.Info("calibration started",
		zap.String("algorithm", run.Algorithm),
		zap.String("objective", run.job.Objective),
		zap.Int("dimension", run.problem.Dim()),
	)
	report, err := run.optimizer.Optimize(ctx, run.problem)
	done(report)
	if err != nil {
		return nil, err
	}
	if run.scaler != nil {
		report.Best = run.scaler.Unscale(report.Best)
	}

	params := append([]config.Parameter(nil), run.job.Parameters...)
	k := 0
	for i := range params {
		if params[i].Optimise {
			params[i].Value = report.Best[k]
			k++
		}
	}

	res := &Result{
		JobID:      run.ID,
		Algorithm:  run.Algorithm,
		Report:     report,
		Parameters: params,
		Unknown:    run.Unknown,
		Duration:   time.Since(start),
	}
	run.logger.Info("calibration finished",
		zap.Stringer("status", report.Status),
		zap.Float64("score", report.Score),
		zap.Int("evaluations", report.Evaluations),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// Resume loads the checkpoint of id and returns a copy of job starting from
// its best point.
func (r *Runner) Resume(id string, job *config.Job) (*config.Job, *store.Checkpoint, error) {
	if r.Store == nil {
		return nil, nil, apperrors.New("resume needs a checkpoint store").
			WithOperation("Runner.Resume").
			WithKind(apperrors.KindUnavailable)
	}
	cp, err := r.Store.Load(id)
	if err != nil {
		return nil, nil, err
	}
	resumed, err := job.WithStart(cp.Best)
	if err != nil {
		return nil, nil, err
	}
	return resumed, cp, nil
}
