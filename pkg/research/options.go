package research

import "time"

const (
	DefaultMaxLoops          = 3
	DefaultInitialQueryCount = 3
	DefaultMaxQueries        = 5
	DefaultMinEvidence       = 3
	DefaultCallTimeout       = 30 * time.Second
	DefaultMaxRetries        = 2
	DefaultCitationPrefix    = "https://vertexaisearch.cloud.google.com/id/"
)

// Config holds the tunables of a research run.
type Config struct {
	// MaxLoops bounds the reflect and follow-up rounds. 0 runs the initial
	// batch only, with no reflection.
	MaxLoops          int
	InitialQueryCount int
	MaxQueries        int
	// MinEvidence is the number of distinct research snippets after which the
	// evidence is considered sufficient.
	MinEvidence         int
	CallTimeout         time.Duration
	MaxRetries          int
	RetryInitialBackoff time.Duration
	CitationPrefix      string
	// SummarizeAnswer asks the generation backend for the answer summary
	// instead of rendering the joined research snippets.
	SummarizeAnswer bool
}

func DefaultConfig() Config {
	return Config{
		MaxLoops:            DefaultMaxLoops,
		InitialQueryCount:   DefaultInitialQueryCount,
		MaxQueries:          DefaultMaxQueries,
		MinEvidence:         DefaultMinEvidence,
		CallTimeout:         DefaultCallTimeout,
		MaxRetries:          DefaultMaxRetries,
		RetryInitialBackoff: 500 * time.Millisecond,
		CitationPrefix:      DefaultCitationPrefix,
	}
}

// Validate fails fast on values that would make a run meaningless.
func (c Config) Validate() error {
	switch {
	case c.MaxLoops < 0:
		return &FatalConfigurationError{Field: "max_loops", Reason: "must not be negative"}
	case c.MaxQueries < 1:
		return &FatalConfigurationError{Field: "max_queries", Reason: "must be at least 1"}
	case c.InitialQueryCount < 1:
		return &FatalConfigurationError{Field: "initial_query_count", Reason: "must be at least 1"}
	case c.InitialQueryCount > c.MaxQueries:
		return &FatalConfigurationError{Field: "initial_query_count", Reason: "exceeds max_queries"}
	case c.MinEvidence < 1:
		return &FatalConfigurationError{Field: "min_evidence", Reason: "must be at least 1"}
	case c.CallTimeout <= 0:
		return &FatalConfigurationError{Field: "call_timeout", Reason: "must be positive"}
	case c.MaxRetries < 0:
		return &FatalConfigurationError{Field: "max_retries", Reason: "must not be negative"}
	case c.RetryInitialBackoff < 0:
		return &FatalConfigurationError{Field: "retry_initial_backoff", Reason: "must not be negative"}
	case c.CitationPrefix == "":
		return &FatalConfigurationError{Field: "citation_prefix", Reason: "must not be empty"}
	}
	return nil
}

// Option overrides part of the engine configuration for a single run.
type Option func(*Config)

func WithMaxLoops(n int) Option {
	return func(c *Config) { c.MaxLoops = n }
}

func WithInitialQueryCount(n int) Option {
	return func(c *Config) { c.InitialQueryCount = n }
}

// WithTimeout sets the budget of every individual backend call.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.CallTimeout = d }
}

// Apply returns a copy of c with opts applied in order.
func (c Config) Apply(opts ...Option) Config {
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}
