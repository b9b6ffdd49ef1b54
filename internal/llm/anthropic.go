package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var claudeModels = map[string]string{
	"haiku":  "claude-haiku-4-5-20251001",
	"sonnet": "claude-sonnet-4-5-20250929",
}

const defaultClaudeMaxTokens = 4096

type anthropicMessagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicClient implements Client with the Anthropic Messages API.
type AnthropicClient struct {
	api   anthropicMessagesAPI
	model string
}

// NewAnthropicClient creates a client. An empty apiKey falls back to
// ANTHROPIC_API_KEY. SDK-level retries are disabled; Throttled owns retry.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{api: &client.Messages, model: model}
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	if alias, ok := claudeModels[modelID]; ok {
		modelID = alias
	}
	if modelID == "" {
		modelID = claudeModels["haiku"]
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	var system []anthropic.TextBlockParam
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		system = append(system, anthropic.TextBlockParam{Text: block})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		MaxTokens: maxTokens,
		System:    system,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.Temperature >= 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if req.Schema != nil {
		params.Tools, params.ToolChoice = anthropicTool(req.Schema)
	}

	msg, err := c.api.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return Response{}, classify("anthropic", status, err)
	}

	text := extractClaudeText(msg)
	if req.Schema != nil {
		if input, ok := extractClaudeToolInput(msg, req.Schema.toolName()); ok {
			text = input
		}
	}
	if strings.TrimSpace(text) == "" {
		return Response{}, &CallError{Provider: "anthropic", Kind: KindEmpty}
	}

	return Response{
		Text:       strings.TrimSpace(text),
		StopReason: string(msg.StopReason),
		Model:      modelID,
		Usage: Usage{
			InputTokens:  int32(msg.Usage.InputTokens),
			OutputTokens: int32(msg.Usage.OutputTokens),
			TotalTokens:  int32(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}

func extractClaudeText(msg *anthropic.Message) string {
	var parts []string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "")
}

// anthropicTool forces a single tool whose input schema is s.
func anthropicTool(s *Schema) ([]anthropic.ToolUnionParam, anthropic.ToolChoiceUnionParam) {
	doc := s.JSONSchema()
	tool := anthropic.ToolParam{
		Name:        s.toolName(),
		Description: anthropic.String(s.toolDescription()),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: doc["properties"],
			Required:   s.Required,
		},
	}
	return []anthropic.ToolUnionParam{{OfTool: &tool}},
		anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: tool.Name}}
}

func extractClaudeToolInput(msg *anthropic.Message, name string) (string, bool) {
	for _, block := range msg.Content {
		tu, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok || tu.Name != name {
			continue
		}
		input, err := rawJSON(tu.Input)
		if err != nil {
			return "", false
		}
		return input, true
	}
	return "", false
}
