package research

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		field  string
		modify func(*Config)
	}{
		{"max_loops", func(c *Config) { c.MaxLoops = -1 }},
		{"max_queries", func(c *Config) { c.MaxQueries = 0 }},
		{"initial_query_count", func(c *Config) { c.InitialQueryCount = 0 }},
		{"initial_query_count", func(c *Config) { c.InitialQueryCount = c.MaxQueries + 1 }},
		{"min_evidence", func(c *Config) { c.MinEvidence = 0 }},
		{"call_timeout", func(c *Config) { c.CallTimeout = 0 }},
		{"max_retries", func(c *Config) { c.MaxRetries = -1 }},
		{"retry_initial_backoff", func(c *Config) { c.RetryInitialBackoff = -time.Second }},
		{"citation_prefix", func(c *Config) { c.CitationPrefix = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			var fatal *FatalConfigurationError
			require.ErrorAs(t, err, &fatal)
			assert.Equal(t, tt.field, fatal.Field)
		})
	}

	zero := DefaultConfig()
	zero.MaxLoops = 0
	assert.NoError(t, zero.Validate(), "zero loops only skips reflection")
}

func TestConfigApply(t *testing.T) {
	base := DefaultConfig()
	cfg := base.Apply(WithMaxLoops(7), nil, WithInitialQueryCount(1), WithTimeout(time.Minute))

	assert.Equal(t, 7, cfg.MaxLoops)
	assert.Equal(t, 1, cfg.InitialQueryCount)
	assert.Equal(t, time.Minute, cfg.CallTimeout)
	assert.Equal(t, DefaultMaxLoops, base.MaxLoops)
}
