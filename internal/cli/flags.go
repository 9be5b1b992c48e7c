package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// FlagEvaluation is one row of flags eval.
type FlagEvaluation struct {
	Key            string `json:"key"`
	Configured     bool   `json:"configured"`
	Enabled        bool   `json:"enabled"`
	RolloutPercent int    `json:"rollout_percent"`
	Bucket         int    `json:"bucket"`
	On             bool   `json:"on"`
}

// FlagEvaluations is the output of flags eval.
type FlagEvaluations []FlagEvaluation

// RenderText implements textRenderer.
func (e FlagEvaluations) RenderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FLAG\tENABLED\tROLLOUT\tBUCKET\tRESULT")
	for _, f := range e {
		result := "off"
		if f.On {
			result = "on"
		}
		if !f.Configured {
			result = "off (not configured)"
		}
		fmt.Fprintf(tw, "%s\t%t\t%d%%\t%d\t%s\n", f.Key, f.Enabled, f.RolloutPercent, f.Bucket, result)
	}
	return tw.Flush()
}

// SeedResult is the output of flags seed.
type SeedResult struct {
	Seed string `json:"seed"`
}

// RenderText implements textRenderer.
func (s SeedResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, s.Seed)
	return err
}

// NewFlagsCommand creates the flags command group.
func NewFlagsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Inspect feature flag rollout for this install",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "eval [flag...]",
		Short: "Evaluate flags against the install's cohort seed",
		Long: `Evaluate feature flags for this install. With no arguments every configured
flag is evaluated. The first evaluation creates the cohort seed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			keys := args
			if len(keys) == 0 {
				keys = a.flags.Flags()
			}
			ctx := commandContext(cmd)
			evals := make(FlagEvaluations, 0, len(keys))
			for _, key := range keys {
				cfg, ok := a.flags.Config(key)
				evals = append(evals, FlagEvaluation{
					Key:            key,
					Configured:     ok,
					Enabled:        cfg.Enabled,
					RolloutPercent: cfg.RolloutPercent,
					Bucket:         a.flags.Bucket(ctx, key),
					On:             a.flags.IsEnabled(ctx, key),
				})
			}
			return out.Success(evals)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "seed",
		Short:         "Print the install's cohort seed, creating it if needed",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			a, err := openApp(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()
			return out.Success(SeedResult{Seed: a.flags.Seed(commandContext(cmd))})
		},
	})

	return cmd
}
