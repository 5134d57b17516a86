package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-orchestrator/pkg/config"
	"github.com/mikeboe/research-orchestrator/pkg/database"
	"github.com/mikeboe/research-orchestrator/pkg/embeddings"
	"github.com/mikeboe/research-orchestrator/pkg/evidence"
	"github.com/mikeboe/research-orchestrator/pkg/research"
	"github.com/mikeboe/research-orchestrator/pkg/research/tools"
	"github.com/mikeboe/research-orchestrator/pkg/splitter"
	"github.com/mikeboe/research-orchestrator/pkg/vectorstore"
)

// NewLLM builds the language model selected by cfg.LLMProvider.
func NewLLM(ctx context.Context, cfg *config.Config) (llms.Model, error) {
	switch strings.ToLower(cfg.LLMProvider) {
	case "", "google", "gemini":
		return GoogleAi(ctx, cfg.GoogleApiKey, ModelType(cfg.FastModel))
	case "anthropic", "claude":
		return AnthropicAI(cfg.AnthropicApiKey, ModelType(cfg.AnthropicModel))
	default:
		return nil, &research.FatalConfigurationError{Field: "llm_provider", Reason: fmt.Sprintf("unknown provider %q", cfg.LLMProvider)}
	}
}

// NewSearcher builds the search backend selected by cfg.SearchBackend.
func NewSearcher(ctx context.Context, cfg *config.Config) (research.Searcher, error) {
	switch strings.ToLower(cfg.SearchBackend) {
	case "", "gemini", "google":
		if cfg.GoogleApiKey == "" {
			return nil, &research.FatalConfigurationError{Field: "google_api_key", Reason: "required by the gemini search backend"}
		}
		return tools.NewGeminiSearcher(ctx, cfg.GoogleApiKey, cfg.SearchModel)
	case "arxiv":
		return tools.NewArxivSearcher(cfg.ArxivMaxResults, cfg.ArxivInterval), nil
	default:
		return nil, &research.FatalConfigurationError{Field: "search_backend", Reason: fmt.Sprintf("unknown backend %q", cfg.SearchBackend)}
	}
}

// NewEngine wires the configured backends into a research engine.
func NewEngine(ctx context.Context, cfg *config.Config) (*research.ResearchEngine, error) {
	model, err := NewLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}
	searcher, err := NewSearcher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return research.NewEngine(research.NewLLMGenerator(model), searcher, cfg.ResearchConfig())
}

// NewEvidenceIndex prepares the evidence collection in db and returns an index over it.
func NewEvidenceIndex(ctx context.Context, cfg *config.Config, db *database.PostgresDB) (*evidence.Index, error) {
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return nil, fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if err := db.CreateEmbeddingsTable(ctx, cfg.CollectionName, embeddings.Dimensions); err != nil {
		return nil, err
	}

	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("invalid collection name: %w", err)
	}
	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.EmbeddingModel, cfg.GoogleApiKey)
	if err != nil {
		return nil, err
	}
	index := evidence.NewIndex(store, embedder, splitter.NewRecursiveCharacterTextSplitter(cfg.ChunkSize, cfg.ChunkOverlap))
	index.AnswerSplitter = splitter.NewMarkdownTextSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	return index, nil
}
