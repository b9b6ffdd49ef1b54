package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
)

var bedrockModels = map[string]string{
	"nova-lite": "us.amazon.nova-2-lite-v1:0",
	"haiku":     "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	"sonnet":    "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
}

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements Client with the Bedrock Converse API.
type BedrockClient struct {
	api   bedrockConverseAPI
	model string
}

// NewBedrockClient loads the default AWS config for region and instruments
// the runtime client with OpenTelemetry.
func NewBedrockClient(ctx context.Context, region, model string) (*BedrockClient, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)
	return newBedrockClient(bedrockruntime.NewFromConfig(cfg), model), nil
}

func newBedrockClient(api bedrockConverseAPI, model string) *BedrockClient {
	return &BedrockClient{api: api, model: model}
}

func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	if alias, ok := bedrockModels[modelID]; ok {
		modelID = alias
	}
	if strings.TrimSpace(modelID) == "" {
		return Response{}, &CallError{Provider: "bedrock", Kind: KindRequest, Err: errors.New("model id is required")}
	}

	system := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	inference := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(req.MaxTokens)
	}
	if req.Temperature >= 0 {
		inference.Temperature = aws.Float32(req.Temperature)
	}

	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		System:  system,
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: req.Prompt},
				},
			},
		},
		InferenceConfig: inference,
	}
	if req.Schema != nil {
		in.ToolConfig = bedrockToolConfig(req.Schema)
	}

	out, err := c.api.Converse(ctx, in)
	if err != nil {
		return Response{}, classifyBedrock(err)
	}

	text := bedrockOutputText(out)
	if req.Schema != nil {
		if input, ok := bedrockToolInput(out, req.Schema.toolName()); ok {
			text = input
		}
	}
	if strings.TrimSpace(text) == "" {
		return Response{}, &CallError{Provider: "bedrock", Kind: KindEmpty}
	}

	resp := Response{
		Text:       strings.TrimSpace(text),
		StopReason: string(out.StopReason),
		Model:      modelID,
	}
	if out.Usage != nil {
		resp.Usage = Usage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}
	return resp, nil
}

func classifyBedrock(err error) error {
	var throttled *brtypes.ThrottlingException
	var unavailable *brtypes.ServiceUnavailableException
	var modelTimeout *brtypes.ModelTimeoutException
	var invalid *brtypes.ValidationException
	switch {
	case errors.As(err, &throttled):
		return &CallError{Provider: "bedrock", Kind: KindRateLimit, Err: err}
	case errors.As(err, &modelTimeout):
		return &CallError{Provider: "bedrock", Kind: KindTimeout, Err: err}
	case errors.As(err, &unavailable):
		return &CallError{Provider: "bedrock", Kind: KindTransport, Err: err}
	case errors.As(err, &invalid):
		return &CallError{Provider: "bedrock", Kind: KindRequest, Err: err}
	}
	return classify("bedrock", 0, err)
}

func bedrockOutputText(out *bedrockruntime.ConverseOutput) string {
	if out == nil {
		return ""
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(tb.Value)
		}
	}
	return b.String()
}

// bedrockToolConfig forces a single tool whose input schema is s.
func bedrockToolConfig(s *Schema) *brtypes.ToolConfiguration {
	name := s.toolName()
	return &brtypes.ToolConfiguration{
		Tools: []brtypes.Tool{
			&brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
				Name:        aws.String(name),
				Description: aws.String(s.toolDescription()),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(s.JSONSchema())},
			}},
		},
		ToolChoice: &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(name)}},
	}
}

func bedrockToolInput(out *bedrockruntime.ConverseOutput, name string) (string, bool) {
	if out == nil {
		return "", false
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", false
	}
	for _, block := range msg.Value.Content {
		tu, ok := block.(*brtypes.ContentBlockMemberToolUse)
		if !ok || aws.ToString(tu.Value.Name) != name || tu.Value.Input == nil {
			continue
		}
		b, err := tu.Value.Input.MarshalSmithyDocument()
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	return "", false
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
