package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-orchestrator/pkg/research"
)

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <title>Retrieval Augmented
      Generation Survey</title>
    <summary>  We survey   retrieval augmented generation.  </summary>
    <published>2024-01-01T00:00:00Z</published>
    <link href="http://arxiv.org/abs/2401.00001v1" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/2401.00001v1" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2401.00002v1</id>
    <title>Second Paper</title>
    <summary>Another summary.</summary>
    <published>2024-01-02T00:00:00Z</published>
  </entry>
</feed>`

func newTestArxiv(url string) *ArxivSearcher {
	a := NewArxivSearcher(2, time.Millisecond)
	a.BaseURL = url
	return a
}

func TestArxivSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("search_query")
		assert.Equal(t, "2", r.URL.Query().Get("max_results"))
		w.Header().Set("Content-Type", "application/atom+xml")
		fmt.Fprint(w, arxivFeed)
	}))
	defer srv.Close()

	resp, err := newTestArxiv(srv.URL).Search(context.Background(), "rag survey")
	require.NoError(t, err)

	assert.Equal(t, "all:rag survey", gotQuery)
	require.Len(t, resp.Sources, 2)
	assert.Equal(t, research.Source{
		URL:            "http://arxiv.org/abs/2401.00001v1",
		Title:          "Retrieval Augmented Generation Survey",
		Snippet:        "We survey retrieval augmented generation.",
		RelevanceScore: 1.0,
	}, resp.Sources[0])
	assert.Equal(t, "http://arxiv.org/abs/2401.00002v1", resp.Sources[1].URL, "falls back to the entry id")
	assert.InDelta(t, 0.9, resp.Sources[1].RelevanceScore, 1e-9)

	assert.Contains(t, resp.Text, `arXiv results for "rag survey"`)
	assert.Contains(t, resp.Text, "## PDF Link: http://arxiv.org/pdf/2401.00001v1")
	assert.Nil(t, resp.Grounding)
}

func TestArxivSearchClassifiesFailures(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
	}{
		{"server error", http.StatusBadGateway, "bad gateway", true},
		{"rate limited", http.StatusTooManyRequests, "slow down", true},
		{"bad request", http.StatusBadRequest, "bad query", false},
		{"invalid feed", http.StatusOK, "<feed><entry>", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestArxiv(srv.URL).Search(context.Background(), "q")
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, research.IsTransient(err))
			assert.Equal(t, !tt.wantTransient, research.IsMalformed(err))
		})
	}
}

func TestArxivSearchHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewArxivSearcher(1, time.Hour)
	a.BaseURL = "http://127.0.0.1:0"
	// Drain the single burst token so the limiter has to wait.
	require.True(t, a.limiter.Allow())

	_, err := a.Search(ctx, "q")
	require.Error(t, err)
}

func TestArxivFeedDigestEmpty(t *testing.T) {
	assert.Empty(t, ArxivFeed{}.Digest("q"))
	assert.Empty(t, ArxivFeed{}.Sources())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, strings.Repeat("a", 500)+"...", truncate(strings.Repeat("a", 600), 500))
}
