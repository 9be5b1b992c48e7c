package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/reliable"
)

// DrainOptions holds flags for the drain command.
type DrainOptions struct {
	*RootOptions

	// Writer overrides the HTTP writer (for testing).
	Writer reliable.Writer
}

// DrainSummary is the output of the drain command.
type DrainSummary struct {
	Processed    int `json:"processed"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
	Remaining    int `json:"remaining"`
}

// RenderText implements textRenderer.
func (s DrainSummary) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "processed %d, failed %d, dead-lettered %d, remaining %d\n",
		s.Processed, s.Failed, s.DeadLettered, s.Remaining)
	return err
}

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return newDrainCommand(&DrainOptions{RootOptions: rootOpts})
}

func newDrainCommand(opts *DrainOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay the outbox once",
		Long: `Replay every pending outbox entry against the remote service, oldest first.

Entries that succeed are removed. Entries that fail stay queued with their
attempt count incremented. Exits 1 when anything remains.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(cmd, opts)
		},
	}
}

func runDrain(cmd *cobra.Command, opts *DrainOptions) error {
	out := formatter(cmd, opts.RootOptions)

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Writer != nil {
		a.drainer.RegisterFallback(opts.Writer)
	} else if _, err := a.remoteWriter(); err != nil {
		return err
	}

	res, err := a.drainer.Drain(commandContext(cmd))
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "drain failed", err)
	}

	summary := DrainSummary(res)
	if err := out.Success(summary); err != nil {
		return err
	}
	if summary.Remaining > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d entries remain in the outbox", summary.Remaining))
	}
	return nil
}
