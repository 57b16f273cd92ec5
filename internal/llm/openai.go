package llm

import (
	"context"
	"fmt"

	"ai-meal-calendar/internal/config"
	"ai-meal-calendar/internal/shared"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = openai.ChatModelGPT4oMini

// chatService is the part of the OpenAI SDK the generator uses.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIGenerator is a Generator backed by OpenAI chat completions with
// structured outputs.
type OpenAIGenerator struct {
	chat  chatService
	model string
}

// NewOpenAIGenerator creates a client from the configured API key.
func NewOpenAIGenerator(cfg *config.Config) *OpenAIGenerator {
	client := openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey))
	model := cfg.OpenAIModel
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIGenerator{chat: &client.Chat.Completions, model: model}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string, schema *Schema) (ContentResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	if schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "meal_plan",
					Schema: schema.JSONSchema(),
				},
			},
		}
	} else {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := g.chat.New(ctx, params)
	if err != nil {
		return ContentResponse{}, fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ContentResponse{}, fmt.Errorf("no choices returned")
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}
	return ContentResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: shared.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
			Model:            model,
		},
	}, nil
}
