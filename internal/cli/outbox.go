package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/outbox"
	"github.com/roach88/tether/internal/payload"
)

// NewOutboxCommand creates the outbox command group.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the outbox",
	}
	cmd.AddCommand(newOutboxListCommand(rootOpts))
	cmd.AddCommand(newOutboxSizeCommand(rootOpts))
	cmd.AddCommand(newOutboxDeadLettersCommand(rootOpts))
	return cmd
}

// OutboxEntries is the output of outbox list.
type OutboxEntries []mutation.Operation

// RenderText implements textRenderer.
func (e OutboxEntries) RenderText(w io.Writer) error {
	if len(e) == 0 {
		_, err := fmt.Fprintln(w, "outbox is empty")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPERATION\tACTOR\tATTEMPTS\tUPDATED\tPAYLOAD")
	for _, op := range e {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			op.ID, op.Type, op.ActorID, op.Attempts, op.UpdatedAt.Format(time.RFC3339), canonicalText(op.Payload))
	}
	return tw.Flush()
}

// DeadLetterEntries is the output of outbox dead-letters.
type DeadLetterEntries []outbox.DeadLetter

// RenderText implements textRenderer.
func (e DeadLetterEntries) RenderText(w io.Writer) error {
	if len(e) == 0 {
		_, err := fmt.Fprintln(w, "no dead letters")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOPERATION\tACTOR\tATTEMPTS\tRETIRED\tLAST ERROR")
	for _, dl := range e {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			dl.ID, dl.Type, dl.ActorID, dl.Attempts, dl.DeadLetteredAt.Format(time.RFC3339), dl.LastError)
	}
	return tw.Flush()
}

// OutboxSize is the output of outbox size.
type OutboxSize struct {
	Size     int `json:"size"`
	Capacity int `json:"capacity"`
}

// RenderText implements textRenderer.
func (s OutboxSize) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d/%d\n", s.Size, s.Capacity)
	return err
}

func canonicalText(p payload.Object) string {
	b, err := payload.Canonical(p)
	if err != nil {
		return "?"
	}
	return string(b)
}

func newOutboxListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List pending entries, oldest first",
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

			ops, err := a.outbox.List(commandContext(cmd))
			if err != nil {
				return out.Fail(ExitCommandError, CodeStore, "failed to list outbox", err)
			}
			return out.Success(OutboxEntries(ops))
		},
	}
}

func newOutboxSizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "size",
		Short:         "Print the number of pending entries",
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

			n, err := a.outbox.Size(commandContext(cmd))
			if err != nil {
				return out.Fail(ExitCommandError, CodeStore, "failed to count outbox", err)
			}
			return out.Success(OutboxSize{Size: n, Capacity: a.outbox.Capacity()})
		},
	}
}

func newOutboxDeadLettersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "dead-letters",
		Short:         "List entries retired after too many failed replays",
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

			dls, err := a.outbox.DeadLetters(commandContext(cmd))
			if err != nil {
				return out.Fail(ExitCommandError, CodeStore, "failed to list dead letters", err)
			}
			return out.Success(DeadLetterEntries(dls))
		},
	}
}
