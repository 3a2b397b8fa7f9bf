package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nataliia-kulatska/gadget/internal/config"
	"github.com/nataliia-kulatska/gadget/internal/runner"
)

type runOptions struct {
	jobPath   string
	id        string
	algorithm string
	seed      int64
	scale     bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.jobPath, "job", "", "TOML job file (required)")
	cmd.Flags().StringVar(&o.algorithm, "algorithm", "", "Override the job's algorithm")
	cmd.Flags().Int64Var(&o.seed, "seed", 0, "Override the job's seed")
	cmd.Flags().BoolVar(&o.scale, "scale", false, "Search in value/initial coordinates")
	_ = cmd.MarkFlagRequired("job")
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a calibration job",
		Long: `Runs the job to completion and prints the result as JSON. With --id the
best point is checkpointed after every improvement and the run can be resumed.
Interrupting the run prints the best point found so far.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := o.load(g.logger)
			if err != nil {
				return err
			}
			return execute(cmd, g, o.id, job)
		},
	}
	o.bind(cmd)
	cmd.Flags().StringVar(&o.id, "id", "", "Checkpoint id; empty disables checkpoints")
	return cmd
}

func newResumeCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a calibration from its checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := o.load(g.logger)
			if err != nil {
				return err
			}
			st, err := g.store()
			if err != nil {
				return err
			}
			r := &runner.Runner{Store: st}
			resumed, cp, err := r.Resume(o.id, job)
			if err != nil {
				return fmt.Errorf("resume %s: %w", o.id, err)
			}
			g.logger.Info("resuming from checkpoint",
				zap.String("job_id", o.id),
				zap.Float64("score", cp.Score),
				zap.Int("updates", cp.Updates),
			)
			return execute(cmd, g, o.id, resumed)
		},
	}
	o.bind(cmd)
	cmd.Flags().StringVar(&o.id, "id", "", "Checkpoint id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func (o *runOptions) load(logger *zap.Logger) (*config.Job, error) {
	job, err := config.LoadJob(o.jobPath, logger)
	if err != nil {
		return nil, err
	}
	if o.algorithm != "" {
		job.Algorithm = strings.ToLower(o.algorithm)
	}
	if o.seed != 0 {
		job.Seed = o.seed
	}
	if o.scale {
		job.Scale = true
	}
	return job, nil
}

func execute(cmd *cobra.Command, g *globalOptions, id string, job *config.Job) error {
	r := &runner.Runner{
		Logger:           g.logger,
		DefaultAlgorithm: g.cfg.Calibration.DefaultAlgorithm,
		DefaultSeed:      g.cfg.Calibration.Seed,
	}
	if id != "" {
		s, err := g.store()
		if err != nil {
			return err
		}
		r.Store = s
	}

	run, err := r.Prepare(id, job)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := run.Execute(ctx)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}
