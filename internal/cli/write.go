package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/reliable"
)

// WriteOptions holds flags for the write command.
type WriteOptions struct {
	*RootOptions
	Actor   string
	Payload string

	// Writer overrides the HTTP writer (for testing).
	Writer reliable.Writer
}

// WriteResult is the output of the write command.
type WriteResult struct {
	Operation      string `json:"operation"`
	ActorID        string `json:"actor_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Outcome        string `json:"outcome"`
	OutboxSize     int    `json:"outbox_size"`
}

// RenderText implements textRenderer.
func (r WriteResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s %s for %s (key %s, outbox %d)\n",
		r.Operation, r.Outcome, r.ActorID, r.IdempotencyKey, r.OutboxSize)
	return err
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	return newWriteCommand(&WriteOptions{RootOptions: rootOpts})
}

func newWriteCommand(opts *WriteOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <operation-type>",
		Short: "Perform a reliable write",
		Long: `Send one mutation to the remote service.

The payload must satisfy the operation's schema. Pending outbox entries are
replayed first. If the remote stays unreachable after retries the mutation
is queued in the outbox (exit 0, outcome "queued"); if reliable writes are
off for this install it is dropped (exit 1).

Example:
  tether write award_points --actor u1 --payload '{"points": 5}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, opts, mutation.Type(args[0]))
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "acting user id (required)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "mutation payload as a JSON object")
	_ = cmd.MarkFlagRequired("actor")

	return cmd
}

func runWrite(cmd *cobra.Command, opts *WriteOptions, t mutation.Type) error {
	out := formatter(cmd, opts.RootOptions)

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.registry.Decode(t, []byte(opts.Payload))
	if err != nil {
		return out.Fail(ExitCommandError, CodeInput, "rejected mutation", err)
	}

	writer := opts.Writer
	if writer == nil {
		if writer, err = a.remoteWriter(); err != nil {
			return err
		}
	} else {
		a.drainer.RegisterFallback(writer)
	}

	ctx := commandContext(cmd)
	outcome, err := a.facade.PerformReliableWrite(ctx, t, opts.Actor, p, writer)
	if err != nil {
		var verr *mutation.ValidationError
		if errors.Is(err, mutation.ErrUnknownType) || errors.As(err, &verr) {
			return out.Fail(ExitCommandError, CodeInput, "rejected mutation", err)
		}
		return out.Fail(ExitFailure, CodeInternal, "write failed", err)
	}

	key, err := mutation.Key(t, opts.Actor, p)
	if err != nil {
		return out.Fail(ExitFailure, CodeInternal, "key derivation failed", err)
	}
	size, err := a.outbox.Size(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read outbox size", err)
	}

	res := WriteResult{
		Operation:      string(t),
		ActorID:        opts.Actor,
		IdempotencyKey: key,
		Outcome:        outcome.String(),
		OutboxSize:     size,
	}
	if err := out.Success(res); err != nil {
		return err
	}
	if outcome == reliable.OutcomeDropped {
		return NewExitError(ExitFailure, "mutation dropped")
	}
	return nil
}
