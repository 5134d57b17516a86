package research

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/research-orchestrator/pkg/metrics"
)

// WebResult is the normalised outcome of researching one query.
type WebResult struct {
	Query     Query
	Sources   []Source
	Text      string
	Citations []Citation
	Failed    bool
	Err       error
}

// WebResearcher executes single queries against the search backend.
type WebResearcher struct {
	Search Searcher
	Config Config
	Logger *slog.Logger

	stats *backendStats
}

func NewWebResearcher(search Searcher, cfg Config, logger *slog.Logger) *WebResearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebResearcher{Search: search, Config: cfg, Logger: logger}
}

// Execute researches one query. batchID scopes the short citation URLs of the
// result. A failed call yields an empty, Failed result rather than an error.
func (w *WebResearcher) Execute(ctx context.Context, q Query, batchID int) WebResult {
	resp, err := callWithRetry(ctx, newPolicy(w.Config, w.stats), backendSearch, w.Logger,
		func(ctx context.Context) (SearchResponse, error) {
			return w.Search.Search(ctx, q.Text)
		})
	if err != nil {
		w.Logger.Error("Web research failed", "query", q.Text, "error", err)
		metrics.FailedQueries.Inc()
		return WebResult{Query: q, Failed: true, Err: err}
	}

	sources := normalizeSources(resp.Sources)

	urls := make([]string, 0, len(sources))
	if resp.Grounding != nil && len(resp.Grounding.Chunks) > 0 {
		for _, chunk := range resp.Grounding.Chunks {
			urls = append(urls, chunk.URL)
		}
	} else {
		for _, src := range sources {
			urls = append(urls, src.URL)
		}
	}
	resolved := ResolveURLs(urls, batchID, w.Config.CitationPrefix)
	citations := ExtractCitations(resp.Grounding, resolved, w.Logger)
	text := InsertCitationMarkers(resp.Text, citations)

	w.Logger.Info("Web research successful", "query", q.Text, "sources", len(sources), "citations", len(citations))
	return WebResult{
		Query:     q,
		Sources:   sources,
		Text:      text,
		Citations: citations,
	}
}

// executeBatch fans Execute out over queries, one goroutine per query, and
// waits for all of them. Each call writes only its own slot, so the returned
// slice is in query order regardless of completion order.
func (w *WebResearcher) executeBatch(ctx context.Context, queries []Query, firstBatchID int) []WebResult {
	results := make([]WebResult, len(queries))
	if len(queries) == 0 {
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(queries))
	for i, q := range queries {
		g.Go(func() error {
			results[i] = w.Execute(gctx, q, firstBatchID+i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func normalizeSources(in []Source) []Source {
	out := make([]Source, 0, len(in))
	for _, src := range in {
		src.URL = strings.TrimSpace(src.URL)
		if src.URL == "" {
			continue
		}
		src.Title = strings.TrimSpace(src.Title)
		if src.RelevanceScore <= 0 {
			src.RelevanceScore = ScoreSource(src)
		}
		src.RelevanceScore = clamp01(src.RelevanceScore)
		out = append(out, src)
	}
	return MergeSources(nil, out...)
}

// ScoreSource estimates the quality of a source the backend did not score.
func ScoreSource(src Source) float64 {
	score := 0.5

	host := ""
	if u, err := url.Parse(src.URL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	switch {
	case strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".gov"):
		score += 0.3
	case strings.HasSuffix(host, ".org") && !strings.Contains(host, "wikipedia"):
		score += 0.2
	case strings.Contains(host, "wikipedia"):
		score += 0.1
	}

	if len(src.Snippet) > 100 {
		score += 0.1
	}
	if len(src.Title) > 10 {
		score += 0.1
	}
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
