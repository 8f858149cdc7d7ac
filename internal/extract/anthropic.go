package extract

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"convmem/internal/pipelineerr"
)

// AnthropicLLM adapts the Anthropic SDK to the extraction package's narrow
// LLM interface, using a single forced tool-use call to get a schema-shaped
// JSON response instead of free text.
type AnthropicLLM struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicLLM builds an AnthropicLLM bound to the given API key and
// model.
func NewAnthropicLLM(apiKey, model string) *AnthropicLLM {
	return &AnthropicLLM{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

func (a *AnthropicLLM) Name() string { return "anthropic" }

func (a *AnthropicLLM) CompleteStructured(ctx context.Context, prompt string, schema map[string]any) ([]byte, error) {
	tool := anthropic.ToolParam{
		Name:        "emit_extraction",
		Description: anthropic.String("Return the extracted memories and relationships."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
		},
	}

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools:      []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: "emit_extraction"}},
	})
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.KindLLM, "anthropic completion failed", err).WithProvider(a.Name())
	}

	for _, block := range resp.Content {
		if block.Type == "tool_use" {
			return json.Marshal(block.Input)
		}
	}
	return nil, pipelineerr.New(pipelineerr.KindLLM, "anthropic response contained no tool_use block").WithProvider(a.Name())
}
