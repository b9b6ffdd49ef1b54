package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverse struct {
	in  *bedrockruntime.ConverseInput
	out *bedrockruntime.ConverseOutput
	err error
}

func (f *fakeConverse) Converse(ctx context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestBedrockComplete(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: ` {"dialogue": []} `}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(5), TotalTokens: aws.Int32(15)},
	}}
	c := newBedrockClient(api, "nova-lite")

	resp, err := c.Complete(context.Background(), Request{System: []string{"sys", " "}, Prompt: "hi", MaxTokens: 100, Temperature: 0.7})
	require.NoError(t, err)

	assert.Equal(t, `{"dialogue": []}`, resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, resp.Usage)
	assert.Equal(t, "us.amazon.nova-2-lite-v1:0", aws.ToString(api.in.ModelId))
	assert.Len(t, api.in.System, 1)
	assert.Equal(t, int32(100), aws.ToInt32(api.in.InferenceConfig.MaxTokens))
}

func TestBedrockClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"throttled", &brtypes.ThrottlingException{Message: aws.String("slow down")}, KindRateLimit},
		{"model timeout", &brtypes.ModelTimeoutException{Message: aws.String("late")}, KindTimeout},
		{"unavailable", &brtypes.ServiceUnavailableException{Message: aws.String("down")}, KindTransport},
		{"validation", &brtypes.ValidationException{Message: aws.String("bad")}, KindRequest},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newBedrockClient(&fakeConverse{err: tt.err}, "m")
			_, err := c.Complete(context.Background(), Request{Prompt: "x"})
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestBedrockEmptyResponse(t *testing.T) {
	c := newBedrockClient(&fakeConverse{out: &bedrockruntime.ConverseOutput{}}, "m")
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	assert.Equal(t, KindEmpty, KindOf(err))
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("boom")
	assert.Equal(t, KindRateLimit, KindOf(classify("p", 429, base)))
	assert.Equal(t, KindTimeout, KindOf(classify("p", 408, base)))
	assert.Equal(t, KindRequest, KindOf(classify("p", 400, base)))
	assert.Equal(t, KindTransport, KindOf(classify("p", 503, base)))
	assert.Equal(t, KindTransport, KindOf(classify("p", 0, base)))
	assert.ErrorIs(t, classify("p", 0, context.Canceled), context.Canceled)
	assert.Nil(t, classify("p", 500, nil))

	var ce *CallError
	require.True(t, errors.As(classify("p", 503, base), &ce))
	assert.True(t, ce.Retryable())
	assert.ErrorIs(t, ce, base)
}

type stubClient struct {
	calls atomic.Int32
	errs  []error
}

func (s *stubClient) Complete(ctx context.Context, req Request) (Response, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return Response{}, s.errs[n]
	}
	return Response{Text: "ok", Usage: Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}}, nil
}

func fastThrottle(next Client) *Throttled {
	return NewThrottled(next, ThrottleOptions{
		Provider:       "stub",
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxRateRetries: 3,
	})
}

func TestThrottledRetriesRateLimit(t *testing.T) {
	rl := &CallError{Provider: "stub", Kind: KindRateLimit}
	stub := &stubClient{errs: []error{rl, rl}}

	resp, err := fastThrottle(stub).Complete(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(3), stub.calls.Load())
}

func TestThrottledGivesUpAfterMaxRetries(t *testing.T) {
	rl := &CallError{Provider: "stub", Kind: KindRateLimit}
	stub := &stubClient{errs: []error{rl, rl, rl, rl, rl}}

	_, err := fastThrottle(stub).Complete(context.Background(), Request{})
	assert.True(t, IsRateLimit(err))
	assert.Equal(t, int32(4), stub.calls.Load())
}

func TestThrottledDoesNotRetryOtherErrors(t *testing.T) {
	timeout := &CallError{Provider: "stub", Kind: KindTimeout}
	stub := &stubClient{errs: []error{timeout}}

	_, err := fastThrottle(stub).Complete(context.Background(), Request{})
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestThrottledLimiterSpacesCalls(t *testing.T) {
	stub := &stubClient{}
	th := NewThrottled(stub, ThrottleOptions{Provider: "stub", RequestsPerSecond: 50, Burst: 1})

	start := time.Now()
	for i := 0; i < 4; i++ {
		_, err := th.Complete(context.Background(), Request{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottledQueueWaitPastDeadlineIsTimeout(t *testing.T) {
	stub := &stubClient{}
	th := NewThrottled(stub, ThrottleOptions{Provider: "stub", RequestsPerSecond: 0.1, Burst: 1})
	_, err := th.Complete(context.Background(), Request{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = th.Complete(ctx, Request{})
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), stub.calls.Load())

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	_, err = th.Complete(cancelled, Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, KindOf(err))
}

func TestUsageAdd(t *testing.T) {
	u := Usage{1, 2, 3}.Add(Usage{10, 20, 30})
	assert.Equal(t, Usage{11, 22, 33}, u)
}

func TestResolveModel(t *testing.T) {
	assert.Equal(t, "claude-haiku-4-5-20251001", ResolveModel("anthropic", "haiku"))
	assert.Equal(t, "gemini-2.5-pro", ResolveModel("gemini", "gemini-pro"))
	assert.Equal(t, "custom-model", ResolveModel("bedrock", "custom-model"))
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "openai"})
	assert.Error(t, err)
}

func turnSchema() *Schema {
	s := Object(map[string]*Schema{
		"dialogue": ArrayOf(Object(map[string]*Schema{
			"role": String("speaker", "caller", "callee"),
			"text": String(""),
		}, "role", "text")),
	}, "dialogue")
	s.Name = "record_dialogue"
	return s
}

func TestSchemaJSONSchema(t *testing.T) {
	doc, err := json.Marshal(turnSchema().JSONSchema())
	require.NoError(t, err)
	assert.JSONEq(t, `{
	  "type": "object",
	  "required": ["dialogue"],
	  "properties": {"dialogue": {"type": "array", "items": {
	    "type": "object",
	    "required": ["role", "text"],
	    "properties": {
	      "role": {"type": "string", "description": "speaker", "enum": ["caller", "callee"]},
	      "text": {"type": "string"}
	    }
	  }}}
	}`, string(doc))
}

type fakeMessages struct {
	params anthropic.MessageNewParams
	msg    string
}

func (f *fakeMessages) New(ctx context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = body
	var msg anthropic.Message
	if err := json.Unmarshal([]byte(f.msg), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func TestAnthropicStructuredOutput(t *testing.T) {
	api := &fakeMessages{msg: `{
	  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude-haiku-4-5-20251001",
	  "stop_reason": "tool_use",
	  "content": [{"type": "tool_use", "id": "tu_1", "name": "record_dialogue",
	    "input": {"dialogue": [{"role": "caller", "text": "Hello"}]}}],
	  "usage": {"input_tokens": 12, "output_tokens": 8}
	}`}
	c := &AnthropicClient{api: api, model: "haiku"}

	resp, err := c.Complete(context.Background(), Request{Prompt: "hi", Temperature: 0.5, Schema: turnSchema()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dialogue": [{"role": "caller", "text": "Hello"}]}`, resp.Text)
	assert.Equal(t, int32(20), resp.Usage.TotalTokens)

	require.Len(t, api.params.Tools, 1)
	tool := api.params.Tools[0].OfTool
	require.NotNil(t, tool)
	assert.Equal(t, "record_dialogue", tool.Name)
	assert.Equal(t, []string{"dialogue"}, tool.InputSchema.Required)
	require.NotNil(t, api.params.ToolChoice.OfTool)
	assert.Equal(t, "record_dialogue", api.params.ToolChoice.OfTool.Name)
}

func TestAnthropicPlainRequestHasNoTools(t *testing.T) {
	api := &fakeMessages{msg: `{"id": "msg_2", "type": "message", "role": "assistant", "model": "m",
	  "content": [{"type": "text", "text": " ok "}], "usage": {"input_tokens": 1, "output_tokens": 1}}`}
	c := &AnthropicClient{api: api, model: "haiku"}

	resp, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Empty(t, api.params.Tools)
}

func TestBedrockStructuredOutput(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
				ToolUseId: aws.String("tu_1"),
				Name:      aws.String("record_dialogue"),
				Input:     document.NewLazyDocument(map[string]any{"dialogue": []any{}}),
			}}},
		}},
		StopReason: brtypes.StopReasonToolUse,
	}}
	c := newBedrockClient(api, "haiku")

	resp, err := c.Complete(context.Background(), Request{Prompt: "hi", Schema: turnSchema()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"dialogue": []}`, resp.Text)

	require.NotNil(t, api.in.ToolConfig)
	spec, ok := api.in.ToolConfig.Tools[0].(*brtypes.ToolMemberToolSpec)
	require.True(t, ok)
	assert.Equal(t, "record_dialogue", aws.ToString(spec.Value.Name))
	_, ok = spec.Value.InputSchema.(*brtypes.ToolInputSchemaMemberJson)
	assert.True(t, ok)
	choice, ok := api.in.ToolConfig.ToolChoice.(*brtypes.ToolChoiceMemberTool)
	require.True(t, ok)
	assert.Equal(t, "record_dialogue", aws.ToString(choice.Value.Name))
}

func TestConfigureGeminiResponseSchema(t *testing.T) {
	model := &genai.GenerativeModel{}
	configureGemini(model, Request{System: []string{"sys"}, MaxTokens: 256, Temperature: 0.3, Schema: turnSchema()})

	assert.Equal(t, "application/json", model.ResponseMIMEType)
	require.NotNil(t, model.ResponseSchema)
	assert.Equal(t, genai.TypeObject, model.ResponseSchema.Type)
	assert.Equal(t, []string{"dialogue"}, model.ResponseSchema.Required)
	turns := model.ResponseSchema.Properties["dialogue"]
	require.NotNil(t, turns)
	assert.Equal(t, genai.TypeArray, turns.Type)
	role := turns.Items.Properties["role"]
	assert.Equal(t, genai.TypeString, role.Type)
	assert.Equal(t, []string{"caller", "callee"}, role.Enum)
	assert.Equal(t, "enum", role.Format)
	assert.NotNil(t, model.SystemInstruction)

	plain := &genai.GenerativeModel{}
	configureGemini(plain, Request{Temperature: -1})
	assert.Empty(t, plain.ResponseMIMEType)
	assert.Nil(t, plain.ResponseSchema)
}
