package research

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Generator is the text generation backend.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Searcher is the web/knowledge search backend.
type Searcher interface {
	Search(ctx context.Context, query string) (SearchResponse, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// SearcherFunc adapts a plain function to Searcher.
// Reflector judges whether the evidence of a run is sufficient.
type Reflector interface {
	Reflect(ctx context.Context, topic string, accumulated []string, loopCount, maxLoops int) (Reflection, error)
}

type SearcherFunc func(ctx context.Context, query string) (SearchResponse, error)

func (f SearcherFunc) Search(ctx context.Context, query string) (SearchResponse, error) {
	return f(ctx, query)
}

// SearchResponse is what a search backend returns for one query.
type SearchResponse struct {
	Sources []Source
	// Text is the snippet the backend generated for the query, if any.
	Text string
	// Grounding is optional support metadata tying spans of Text to sources.
	Grounding *Grounding
}

// Grounding is the backend-neutral form of grounding/support metadata.
type Grounding struct {
	Chunks   []GroundingChunk
	Supports []GroundingSupport
}

type GroundingChunk struct {
	URL   string
	Title string
}

// GroundingSupport ties a segment of the generated text to chunks by index.
// Segment is nil when the backend omitted it.
type GroundingSupport struct {
	Segment      *GroundingSegment
	ChunkIndices []int
}

type GroundingSegment struct {
	StartIndex int
	EndIndex   int
	Text       string
}

// LLMGenerator serves the Generator contract from any langchaingo model.
type LLMGenerator struct {
	Model   llms.Model
	Options []llms.CallOption
}

func NewLLMGenerator(model llms.Model, opts ...llms.CallOption) *LLMGenerator {
	return &LLMGenerator{Model: model, Options: opts}
}

func (g *LLMGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, g.Model, prompt, g.Options...)
	if err != nil {
		return "", &TransientBackendError{Backend: backendGeneration, Err: err}
	}
	if strings.TrimSpace(out) == "" {
		return "", &MalformedResponseError{Backend: backendGeneration, Reason: "empty completion"}
	}
	return out, nil
}

const (
	backendGeneration = "generation"
	backendSearch     = "search"
)
