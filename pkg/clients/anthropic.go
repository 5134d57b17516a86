package clients

import (
	"fmt"

	"github.com/tmc/langchaingo/llms/anthropic"

	"github.com/mikeboe/research-orchestrator/pkg/research"
)

const (
	Claude4Sonnet ModelType = "claude-sonnet-4-20250514"
	Claude4Opus   ModelType = "claude-opus-4-20250514"
	Claude35Haiku ModelType = "claude-3-5-haiku-20241022"
)

// AnthropicAI returns a Claude model serving the generation backend.
func AnthropicAI(apiKey string, model ModelType) (*anthropic.LLM, error) {
	if apiKey == "" {
		return nil, &research.FatalConfigurationError{Field: "anthropic_api_key", Reason: "required by the anthropic provider"}
	}
	if model == "" {
		model = Claude4Sonnet
	}

	llm, err := anthropic.New(anthropic.WithToken(apiKey), anthropic.WithModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Anthropic client: %w", err)
	}

	return llm, nil
}
