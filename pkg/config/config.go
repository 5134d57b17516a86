package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mikeboe/research-orchestrator/pkg/research"
)

type Config struct {
	GoogleApiKey    string `mapstructure:"google_api_key"`
	AnthropicApiKey string `mapstructure:"anthropic_api_key"`
	DatabaseURL     string `mapstructure:"database_url"`
	// LLMProvider selects the generation backend: "google" or "anthropic".
	LLMProvider     string `mapstructure:"llm_provider"`
	ReasoningModel  string `mapstructure:"reasoning_model"`
	FastModel       string `mapstructure:"fast_model"`
	AnthropicModel  string `mapstructure:"anthropic_model"`
	Port            string `mapstructure:"port"`
	ChunkSize       int    `mapstructure:"chunk_size"`
	ChunkOverlap    int    `mapstructure:"chunk_overlap"`
	EmbeddingModel  string `mapstructure:"embedding_model"`
	CollectionName  string `mapstructure:"collection_name"`

	// SearchBackend selects the search backend: "gemini" or "arxiv".
	SearchBackend   string        `mapstructure:"search_backend"`
	SearchModel     string        `mapstructure:"search_model"`
	ArxivMaxResults int           `mapstructure:"arxiv_max_results"`
	ArxivInterval   time.Duration `mapstructure:"arxiv_interval"`
	MaxLoops        int           `mapstructure:"max_loops"`
	InitialQueries  int           `mapstructure:"initial_queries"`
	MaxQueries      int           `mapstructure:"max_queries"`
	MinEvidence     int           `mapstructure:"min_evidence"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	CitationPrefix  string        `mapstructure:"citation_prefix"`
	SummarizeAnswer bool          `mapstructure:"summarize_answer"`
	IndexEvidence   bool          `mapstructure:"index_evidence"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

var defaults = map[string]any{
	"google_api_key":    "",
	"anthropic_api_key": "",
	"database_url":      "",
	"llm_provider":      "google",
	"reasoning_model":   "gemini-3-pro-preview",
	"fast_model":        "gemini-3-flash-preview",
	"anthropic_model":   "claude-sonnet-4-20250514",
	"port":              "3000",
	"chunk_size":        1000,
	"chunk_overlap":     200,
	"embedding_model":   "gemini-embedding-001",
	"collection_name":   "research_evidence",
	"search_backend":    "gemini",
	"search_model":      "gemini-3-flash-preview",
	"arxiv_max_results": 5,
	"arxiv_interval":    "3s",
	"max_loops":         research.DefaultMaxLoops,
	"initial_queries":   research.DefaultInitialQueryCount,
	"max_queries":       research.DefaultMaxQueries,
	"min_evidence":      research.DefaultMinEvidence,
	"call_timeout":      research.DefaultCallTimeout.String(),
	"max_retries":       research.DefaultMaxRetries,
	"retry_backoff":     "500ms",
	"citation_prefix":   research.DefaultCitationPrefix,
	"summarize_answer":  false,
	"index_evidence":    true,
	"allowed_origins":   []string{"http://localhost:5173"},
}

// Load reads .env, the optional research-helper.yaml and the environment, in
// increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("research-helper")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// ResearchConfig maps the loaded settings onto the engine configuration.
func (c *Config) ResearchConfig() research.Config {
	return research.Config{
		MaxLoops:            c.MaxLoops,
		InitialQueryCount:   c.InitialQueries,
		MaxQueries:          c.MaxQueries,
		MinEvidence:         c.MinEvidence,
		CallTimeout:         c.CallTimeout,
		MaxRetries:          c.MaxRetries,
		RetryInitialBackoff: c.RetryBackoff,
		CitationPrefix:      c.CitationPrefix,
		SummarizeAnswer:     c.SummarizeAnswer,
	}
}
