package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/provider"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	System string

	// Provider overrides the OpenAI provider (for testing).
	Provider provider.Provider
}

// GenerateResult is the output of the generate command.
type GenerateResult struct {
	Text    string `json:"text"`
	Circuit string `json:"circuit"`
}

// RenderText implements textRenderer.
func (r GenerateResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintln(w, r.Text)
	return err
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	return newGenerateCommand(&GenerateOptions{RootOptions: rootOpts})
}

func newGenerateCommand(opts *GenerateOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Ask the text-generation provider, through the circuit breaker",
		Long: `Send a prompt to the configured provider.

The call is bounded by breaker.timeout and counted by the circuit breaker
when the ai_resilience flag is on for this install. A failed, timed out or
short-circuited call exits 1 with no text.

Example:
  tether generate "Suggest a five minute habit"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVar(&opts.System, "system", "", "system prompt")

	return cmd
}

func runGenerate(cmd *cobra.Command, opts *GenerateOptions, prompt string) error {
	out := formatter(cmd, opts.RootOptions)

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	p := opts.Provider
	if p == nil {
		p, err = provider.NewOpenAI(provider.Config{
			APIKey:       a.cfg.Provider.APIKey,
			Model:        a.cfg.Provider.Model,
			BaseURL:      a.cfg.Provider.BaseURL,
			SystemPrompt: opts.System,
		}, a.logger)
		if err != nil {
			return out.Fail(ExitCommandError, CodeConfig, "provider not configured", err)
		}
	}

	g := provider.NewGuarded(p, a.guard("openai"))
	text, ok := g.Generate(commandContext(cmd), prompt)
	if !ok {
		return out.Fail(ExitFailure, CodeRemote, "generation unavailable", nil)
	}
	return out.Success(GenerateResult{Text: text, Circuit: g.Guard().Stats().State.String()})
}
