package llm

import (
	"context"
	"fmt"
	"os"
)

// Options selects and authenticates a provider adapter.
type Options struct {
	Provider string // anthropic, bedrock, gemini
	Model    string
	APIKey   string
	Region   string
}

// Providers lists the supported provider names.
var Providers = []string{"anthropic", "bedrock", "gemini"}

// New builds the adapter named by opts.Provider. Callers should Close the
// result if it implements io.Closer.
func New(ctx context.Context, opts Options) (Client, error) {
	switch opts.Provider {
	case "", "anthropic":
		return NewAnthropicClient(opts.APIKey, opts.Model), nil
	case "bedrock":
		return NewBedrockClient(ctx, opts.Region, opts.Model)
	case "gemini":
		key := opts.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		return NewGeminiClient(ctx, key, opts.Model)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: choose anthropic, bedrock, or gemini", opts.Provider)
	}
}

// ResolveModel expands a short alias such as "haiku" into the provider's
// model id. Unknown names pass through unchanged.
func ResolveModel(provider, model string) string {
	var table map[string]string
	switch provider {
	case "", "anthropic":
		table = claudeModels
	case "bedrock":
		table = bedrockModels
	case "gemini":
		table = geminiModels
	}
	if id, ok := table[model]; ok {
		return id
	}
	return model
}
