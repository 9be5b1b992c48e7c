// Package provider is the boundary to the external text-generation service.
//
// Provider is the raw call. Guarded runs any Provider through a resilience
// guard so callers get (text, ok) and never see provider errors.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/roach88/tether/internal/resilience"
)

// ErrEmptyResponse is returned when the provider answers with no content.
var ErrEmptyResponse = errors.New("provider returned no choices")

// Provider generates text for a prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Provider.
type Func func(ctx context.Context, prompt string) (string, error)

// Generate implements Provider.
func (f Func) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config configures the OpenAI provider.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string // optional, for compatible gateways
	SystemPrompt string
}

// OpenAI calls the chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
	system string
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI provider.
// Returns error if no API key is configured.
func NewOpenAI(cfg Config, logger *slog.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: api key not configured")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a helpful assistant."
	}
	if logger == nil {
		logger = slog.Default()
	}

	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	logger.Debug("initializing openai provider", "model", cfg.Model)

	return &OpenAI{
		client: openai.NewClientWithConfig(cc),
		model:  cfg.Model,
		system: cfg.SystemPrompt,
		logger: logger,
	}, nil
}

// Generate implements Provider.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: o.system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	o.logger.Debug("openai response", "model", o.model, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// Guarded wraps a Provider with a resilience guard.
type Guarded struct {
	provider Provider
	guard    *resilience.Guard
}

// NewGuarded creates a guarded provider.
func NewGuarded(p Provider, g *resilience.Guard) *Guarded {
	return &Guarded{provider: p, guard: g}
}

// Guard returns the underlying guard.
func (g *Guarded) Guard() *resilience.Guard {
	return g.guard
}

// Generate calls the provider under the guard. ok is false when the call
// failed, timed out or was short-circuited by an open circuit.
func (g *Guarded) Generate(ctx context.Context, prompt string) (text string, ok bool) {
	return resilience.Call(ctx, g.guard, func(ctx context.Context) (string, error) {
		return g.provider.Generate(ctx, prompt)
	})
}
