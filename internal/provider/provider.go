// Package provider implements action providers: the LLM backends that answer
// Literal and Agent steps.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// Options are the per-call settings an action provider receives.
type Options struct {
	StepName   string
	Model      string
	Agent      bool
	JSON       bool
	Transcript []schema.Message
}

// Provider answers a prompt. Results are strings; the engine parses JSON
// when a step asks for it.
type Provider interface {
	Name() string
	Execute(ctx context.Context, prompt string, opts Options) (any, error)
}

// Names accepted by New.
const (
	NameAnthropic = "anthropic"
	NameOpenAI    = "openai"
)

const agentSystemPrompt = "You are an autonomous coding agent working in the user's repository. " +
	"Carry out the instruction and reply with a concise summary of what you did."

const jsonSystemPrompt = "Respond with a single valid JSON value and nothing else."

// Config selects and configures a provider.
type Config struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string
}

// New builds the provider named by cfg.Name.
func New(cfg Config) (Provider, error) {
	switch cfg.Name {
	case NameAnthropic, "":
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	case NameOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	}
	return nil, schema.ConfigurationError("unknown provider %q", cfg.Name)
}

// wrapError converts an SDK error into a PROVIDER_ERROR carrying the HTTP
// status, when one is known, so retry matchers can inspect it.
func wrapError(provider, step string, err error, status int) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	re := schema.NewErrorf(schema.ErrCodeProvider, "%s request failed: %s", provider, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"provider": provider})
	if status != 0 {
		re.Details["http_status"] = status
	}
	if step != "" {
		re = re.WithStep(step)
	}
	return re
}

func systemPrompt(opts Options) string {
	var s string
	if opts.Agent {
		s = agentSystemPrompt
	}
	if opts.JSON {
		if s != "" {
			s += "\n\n"
		}
		s += jsonSystemPrompt
	}
	return s
}

func emptyResponse(provider string) error {
	return schema.NewError(schema.ErrCodeProvider, fmt.Sprintf("%s returned no content", provider))
}
