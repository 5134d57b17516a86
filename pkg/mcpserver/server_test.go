package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-orchestrator/pkg/evidence"
	"github.com/mikeboe/research-orchestrator/pkg/research"
	"github.com/mikeboe/research-orchestrator/pkg/vectorstore"
)

type fakeResearcher struct {
	result *research.ResearchResult
	err    error
	cfg    research.Config
}

func (f *fakeResearcher) Research(ctx context.Context, topic string, opts ...research.Option) (*research.ResearchResult, error) {
	f.cfg = research.DefaultConfig().Apply(opts...)
	return f.result, f.err
}

type fakeIndex struct {
	opts   vectorstore.SearchOptions
	filter map[string]interface{}
	err    error
}

func (f *fakeIndex) Search(ctx context.Context, query string, opts vectorstore.SearchOptions) ([]evidence.Hit, error) {
	f.opts = opts
	return []evidence.Hit{{Source: "https://a.org", Content: "found"}}, f.err
}

func (f *fakeIndex) FindBySource(ctx context.Context, source string) ([]evidence.Hit, error) {
	return []evidence.Hit{{Source: source, Content: "by source"}}, f.err
}

func (f *fakeIndex) FindByMetadata(ctx context.Context, filter map[string]interface{}) ([]evidence.Hit, error) {
	f.filter = filter
	return nil, f.err
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestDeepResearchArgsOptions(t *testing.T) {
	cfg := research.DefaultConfig().Apply(DeepResearchArgs{MaxLoops: 1, InitialQueries: 2, TimeoutSeconds: 9}.Options()...)
	assert.Equal(t, 1, cfg.MaxLoops)
	assert.Equal(t, 2, cfg.InitialQueryCount)
	assert.Equal(t, 9*time.Second, cfg.CallTimeout)

	assert.Empty(t, DeepResearchArgs{Topic: "x"}.Options())
}

func TestDeepResearch(t *testing.T) {
	researcher := &fakeResearcher{result: &research.ResearchResult{
		RunID:         "run-1",
		Answer:        "# solar\n\nSolar grew.",
		Sources:       []research.Source{{URL: "https://iea.org"}},
		Confidence:    0.8,
		ResearchLoops: 1,
		Outcome:       research.OutcomeSufficient,
	}}
	s := New(researcher, nil, nil)

	res, out, err := s.deepResearch(context.Background(), nil, DeepResearchArgs{Topic: "solar", MaxLoops: 2})
	require.NoError(t, err)

	assert.False(t, res.IsError)
	assert.Equal(t, "# solar\n\nSolar grew.", text(t, res))
	assert.Equal(t, DeepResearchOutput{
		RunID:         "run-1",
		Answer:        "# solar\n\nSolar grew.",
		Sources:       []research.Source{{URL: "https://iea.org"}},
		Confidence:    0.8,
		ResearchLoops: 1,
		Outcome:       "sufficient",
	}, out)
	assert.Equal(t, 2, researcher.cfg.MaxLoops)
}

func TestDeepResearchDegraded(t *testing.T) {
	researcher := &fakeResearcher{
		result: &research.ResearchResult{Answer: "heuristic answer"},
		err:    fmt.Errorf("run: %w", research.ErrBackendUnavailable),
	}
	s := New(researcher, nil, nil)

	res, out, err := s.deepResearch(context.Background(), nil, DeepResearchArgs{Topic: "solar"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "heuristic answer")
	assert.Contains(t, text(t, res), "Warning:")
	assert.Equal(t, "heuristic answer", out.Answer)
}

func TestDeepResearchFailure(t *testing.T) {
	s := New(&fakeResearcher{err: &research.FatalConfigurationError{Field: "topic", Reason: "must not be empty"}}, nil, nil)

	_, _, err := s.deepResearch(context.Background(), nil, DeepResearchArgs{})
	var fatal *research.FatalConfigurationError
	assert.ErrorAs(t, err, &fatal)
}

func TestEvidenceTools(t *testing.T) {
	index := &fakeIndex{}
	s := New(&fakeResearcher{}, index, nil)
	ctx := context.Background()

	res, out, err := s.searchEvidence(ctx, nil, SearchEvidenceArgs{Query: "solar", TopK: 4, RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, vectorstore.SearchOptions{TopK: 4, RunID: "run-1"}, index.opts)
	assert.Len(t, out.Hits, 1)
	assert.Contains(t, text(t, res), "[Content]: found")

	res, _, err = s.findBySource(ctx, nil, FindBySourceArgs{Source: "https://b.org"})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "[Source]: https://b.org")

	filter := map[string]any{"$or": []any{map[string]any{"run_id": "run-1"}}}
	res, _, err = s.findByMetadata(ctx, nil, FindByMetadataArgs{Filter: filter})
	require.NoError(t, err)
	assert.Equal(t, filter, index.filter)
	assert.Equal(t, "No matching evidence found.", text(t, res))

	index.err = errors.New("database down")
	_, _, err = s.searchEvidence(ctx, nil, SearchEvidenceArgs{Query: "solar"})
	assert.Error(t, err)
}

func TestNewExposesServer(t *testing.T) {
	s := New(&fakeResearcher{}, nil, nil)
	assert.NotNil(t, s.MCP())
	assert.NotNil(t, s.Handler())
	assert.NotNil(t, s.Logger)
}
