package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Request is a single-turn completion: system instructions plus one user
// prompt.
type Request struct {
	Model       string
	System      []string
	Prompt      string
	MaxTokens   int32
	Temperature float32
	// JSON asks providers that support it to constrain output to JSON.
	JSON bool
	// Schema, when set, constrains the output to this structure: a forced
	// tool call on Anthropic and Bedrock, a response schema on Gemini.
	// Response.Text then holds the JSON arguments.
	Schema *Schema
}

// Usage counts tokens for one or more calls.
type Usage struct {
	InputTokens  int32 `json:"input_tokens"`
	OutputTokens int32 `json:"output_tokens"`
	TotalTokens  int32 `json:"total_tokens"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

type Response struct {
	Text       string
	Usage      Usage
	StopReason string
	Model      string
}

// Client is implemented by every provider adapter.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ErrorKind classifies a failed call.
type ErrorKind string

const (
	KindTimeout   ErrorKind = "timeout"
	KindRateLimit ErrorKind = "rate_limit"
	KindTransport ErrorKind = "transport"
	KindEmpty     ErrorKind = "empty_response"
	KindRequest   ErrorKind = "request"
)

// CallError wraps a provider failure with its classification.
type CallError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s call failed (%s)", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s call failed (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed. Malformed requests
// are not retried.
func (e *CallError) Retryable() bool {
	return e.Kind != KindRequest
}

// IsRateLimit reports whether err is a rate-limit CallError.
func IsRateLimit(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == KindRateLimit
}

// KindOf returns the classification of err, or "" if err is not a CallError.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// classify wraps err from provider. Context deadline errors become timeouts
// and status codes map to rate-limit, request, or transport failures.
func classify(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}
	kind := KindTransport
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		return err
	case status == http.StatusTooManyRequests:
		kind = KindRateLimit
	case status == http.StatusRequestTimeout:
		kind = KindTimeout
	case status >= 400 && status < 500:
		kind = KindRequest
	}
	return &CallError{Provider: provider, Kind: kind, Err: err}
}
