package agent

import (
	"context"
	"fmt"

	"github.com/radresearch/caseagent/internal/config"
)

// LLMProvider is the chat-completion collaborator. The run loop treats Call
// as an opaque synchronous operation that may fail.
type LLMProvider interface {
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)
	Provider() string
}

// NewProvider builds a provider from a model profile, resolving the API key
// from the profile's environment variable.
func NewProvider(profile config.ModelProfile) (LLMProvider, error) {
	apiKey, err := profile.ResolveAPIKey()
	if err != nil {
		return nil, err
	}

	switch profile.Provider {
	case "openai":
		return NewOpenAIProvider(apiKey, profile.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
