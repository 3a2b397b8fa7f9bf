package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nataliia-kulatska/gadget/internal/config"
	"github.com/nataliia-kulatska/gadget/internal/logging"
	"github.com/nataliia-kulatska/gadget/internal/store"
)

type globalOptions struct {
	logLevel  string
	logFormat string
	dataDir   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	g := &globalOptions{}

	root := &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate model parameters by likelihood optimization",
		Long: `calibrate reads a TOML job describing parameters, bounds and an
objective, and searches for the parameter values with the lowest score using
Hooke-Jeeves, BFGS or Nelder-Mead.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if g.logLevel != "" {
				cfg.Logging.Level = g.logLevel
			}
			if g.logFormat != "" {
				cfg.Logging.Format = g.logFormat
			}
			if g.dataDir != "" {
				cfg.Calibration.DataDir = g.dataDir
			}

			logger, err := logging.NewLogger(&logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cfg.Logging.Output,
			})
			if err != nil {
				return err
			}
			g.cfg = cfg
			g.logger = logging.NewZapLogger(logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format (json, console)")
	root.PersistentFlags().StringVar(&g.dataDir, "data", "", "Checkpoint directory")

	root.AddCommand(
		newRunCmd(g),
		newResumeCmd(g),
		newOptionsCmd(),
		newCheckpointsCmd(g),
	)
	return root
}

func (g *globalOptions) store() (*store.FSStore, error) {
	return store.NewFSStore(g.cfg.Calibration.DataDir, g.logger)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
