package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// DefaultAnthropicModel is used when neither the step nor the workflow names a model.
const DefaultAnthropicModel = "claude-sonnet-4-5-20250929"

const anthropicMaxTokens = 4096

// Anthropic answers prompts with the Anthropic Messages API.
type Anthropic struct {
	client *anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic provider. An empty baseURL uses the SDK default.
func NewAnthropic(apiKey, model, baseURL string, opts ...option.RequestOption) *Anthropic {
	if model == "" {
		model = DefaultAnthropicModel
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	client := anthropic.NewClient(reqOpts...)
	return &Anthropic{client: &client, model: model}
}

// Name returns "anthropic".
func (a *Anthropic) Name() string { return NameAnthropic }

// Execute sends the transcript followed by prompt and returns the text of the reply.
func (a *Anthropic) Execute(ctx context.Context, prompt string, opts Options) (any, error) {
	model := opts.Model
	if model == "" {
		model = a.model
	}

	messages := make([]anthropic.MessageParam, 0, len(opts.Transcript)+1)
	for _, m := range opts.Transcript {
		switch m.Role {
		case schema.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: anthropicMaxTokens,
		Messages:  messages,
	}
	if sys := systemPrompt(opts); sys != "" {
		params.System = []anthropic.TextBlockParam{{Text: sys}}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, wrapError(NameAnthropic, opts.StepName, err, status)
	}

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return nil, emptyResponse(NameAnthropic)
	}
	return b.String(), nil
}

var _ Provider = (*Anthropic)(nil)
