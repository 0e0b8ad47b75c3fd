package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/martinemde/roast-sub000/pkg/schema"
)

// DefaultOpenAIModel is used when neither the step nor the workflow names a model.
const DefaultOpenAIModel = "gpt-4o"

// OpenAI answers prompts with the Chat Completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI provider. An empty baseURL uses the SDK default.
func NewOpenAI(apiKey, model, baseURL string, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	client := openai.NewClient(reqOpts...)
	return &OpenAI{client: &client, model: model}
}

// Name returns "openai".
func (p *OpenAI) Name() string { return NameOpenAI }

// Execute sends the transcript followed by prompt and returns the reply content.
func (p *OpenAI) Execute(ctx context.Context, prompt string, opts Options) (any, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(opts.Transcript)+2)
	if sys := systemPrompt(opts); sys != "" {
		messages = append(messages, openai.SystemMessage(sys))
	}
	for _, m := range opts.Transcript {
		switch m.Role {
		case schema.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
	if opts.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, wrapError(NameOpenAI, opts.StepName, err, status)
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, emptyResponse(NameOpenAI)
	}
	return completion.Choices[0].Message.Content, nil
}

var _ Provider = (*OpenAI)(nil)
