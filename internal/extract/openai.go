package extract

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"convmem/internal/pipelineerr"
)

// OpenAILLM adapts the OpenAI SDK to the extraction package's narrow LLM
// interface via a JSON-schema-constrained response format.
type OpenAILLM struct {
	client openai.Client
	model  string
}

// NewOpenAILLM builds an OpenAILLM bound to the given API key and model.
func NewOpenAILLM(apiKey, model string) *OpenAILLM {
	return &OpenAILLM{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (o *OpenAILLM) Name() string { return "openai" }

func (o *OpenAILLM) CompleteStructured(ctx context.Context, prompt string, schema map[string]any) ([]byte, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "extraction",
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindLLM, "openai completion failed", err).WithProvider(o.Name())
	}
	if len(resp.Choices) == 0 {
		return nil, pipelineerr.New(pipelineerr.KindLLM, "openai response contained no choices").WithProvider(o.Name())
	}
	return []byte(resp.Choices[0].Message.Content), nil
}
