package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/mikeboe/research-orchestrator/pkg/research"
)

// ModelType names a model of one of the generation providers.
type ModelType string

const (
	// DefaultModel writes queries, reflections and summaries.
	DefaultModel ModelType = "gemini-3-flash-preview"
	// ProModel drives the agent dispatcher.
	ProModel ModelType = "gemini-3-pro-preview"
)

// Query and reflection answers must stay valid JSON.
const generationTemperature = 0.2

// GoogleAi returns a Gemini model serving the generation backend.
func GoogleAi(ctx context.Context, apiKey string, model ModelType) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, &research.FatalConfigurationError{Field: "google_api_key", Reason: "required by the google provider"}
	}
	if model == "" {
		model = DefaultModel
	}

	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(string(model)),
		googleai.WithDefaultTemperature(generationTemperature),
		googleai.WithDefaultCandidateCount(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI client: %w", err)
	}
	return llm, nil
}
