package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nataliia-kulatska/gadget/internal/config"
)

func newOptionsCmd() *cobra.Command {
	var algorithm string
	cmd := &cobra.Command{
		Use:   "options",
		Short: "List the option keys each algorithm understands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			algorithms := config.Algorithms()
			if algorithm != "" {
				if !config.KnownAlgorithm(algorithm) {
					return fmt.Errorf("unknown algorithm %q, expected one of %s", algorithm, strings.Join(algorithms, ", "))
				}
				algorithms = []string{strings.ToLower(strings.TrimSpace(algorithm))}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ALGORITHM\tOPTIONS")
			for _, name := range algorithms {
				keys, err := config.OptionKeys(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(keys, ", "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "Only show this algorithm")
	return cmd
}

func newCheckpointsCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "Manage calibration checkpoints",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List all available checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.store()
			if err != nil {
				return fmt.Errorf("failed to create checkpoint store: %w", err)
			}
			cps, err := st.List()
			if err != nil {
				return fmt.Errorf("failed to list checkpoints: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(cps) == 0 {
				fmt.Fprintln(out, "No checkpoints found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "JOB ID\tALGORITHM\tTIMESTAMP\tUPDATES\tSCORE")
			for _, cp := range cps {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.6g\n",
					cp.JobID,
					cp.Algorithm,
					cp.Timestamp.Format("2006-01-02 15:04:05"),
					cp.Updates,
					cp.Score,
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "\nTotal checkpoints: %d\n", len(cps))
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a checkpoint as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.store()
			if err != nil {
				return err
			}
			cp, err := st.Load(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), cp)
		},
	}

	remove := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete checkpoints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.store()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := st.Delete(id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}

	cmd.AddCommand(list, show, remove)
	return cmd
}
