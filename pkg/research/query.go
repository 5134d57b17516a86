package research

import (
	"context"
	"log/slog"
	"strings"
)

// queryQualifiers drive the heuristic fallback. Their order is the order in
// which they are used.
var queryQualifiers = []struct {
	suffix    string
	rationale string
}{
	{"recent information", "Find recent and up-to-date information"},
	{"comprehensive analysis", "Find detailed and comprehensive analysis"},
	{"authoritative sources", "Find academic and authoritative sources"},
	{"expert opinions", "Find expert opinions and commentary"},
	{"latest developments", "Find the latest developments"},
}

// QueryGenerator writes the search queries of a research run.
type QueryGenerator struct {
	LLM    Generator
	Config Config
	Logger *slog.Logger

	stats *backendStats
}

func NewQueryGenerator(llm Generator, cfg Config, logger *slog.Logger) *QueryGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryGenerator{LLM: llm, Config: cfg, Logger: logger}
}

// Generate returns between 1 and Config.MaxQueries queries for the topic,
// aiming for Config.InitialQueryCount. The returned slice is always usable: when
// the backend fails the heuristic queries are returned together with the error.
func (g *QueryGenerator) Generate(ctx context.Context, topic string, state ResearchState) ([]Query, error) {
	want := g.wantedCount()

	if g.LLM == nil {
		return HeuristicQueries(topic, want), nil
	}

	type queryResponse struct {
		Queries []Query `json:"queries"`
	}

	prompt := formatQueryPrompt(topic, want)
	queries, err := callWithRetry(ctx, newPolicy(g.Config, g.stats), backendGeneration, g.Logger,
		func(ctx context.Context) ([]Query, error) {
			raw, err := g.LLM.Generate(ctx, prompt)
			if err != nil {
				return nil, err
			}
			var resp queryResponse
			if err := decodeJSON(raw, &resp); err != nil {
				return nil, err
			}
			queries := normalizeQueries(resp.Queries, want)
			if len(queries) == 0 {
				return nil, &MalformedResponseError{Backend: backendGeneration, Reason: "no queries"}
			}
			return queries, nil
		})
	if err != nil {
		g.Logger.Warn("Query generation failed, using heuristic queries", "error", err, "loop", state.LoopCount)
		return HeuristicQueries(topic, want), err
	}

	g.Logger.Info("Generated queries", "count", len(queries), "queries", queryTexts(queries))
	return queries, nil
}

// FollowUps turns the follow-up queries of a reflection into the next batch.
func (g *QueryGenerator) FollowUps(r Reflection) []Query {
	queries := make([]Query, 0, len(r.FollowUpQueries))
	for _, text := range r.FollowUpQueries {
		queries = append(queries, Query{Text: text, Rationale: r.KnowledgeGap})
	}
	return normalizeQueries(queries, g.Config.MaxQueries)
}

func (g *QueryGenerator) wantedCount() int {
	want := g.Config.InitialQueryCount
	if g.Config.MaxQueries > 0 && want > g.Config.MaxQueries {
		want = g.Config.MaxQueries
	}
	if want < 1 {
		want = 1
	}
	return want
}

// HeuristicQueries builds n queries by appending fixed qualifiers to the topic.
// It needs no backend and always returns at least one query.
func HeuristicQueries(topic string, n int) []Query {
	if n < 1 {
		n = 1
	}
	if n > len(queryQualifiers) {
		n = len(queryQualifiers)
	}
	topic = strings.TrimSpace(topic)
	queries := make([]Query, 0, n)
	for _, q := range queryQualifiers[:n] {
		queries = append(queries, Query{
			Text:      strings.TrimSpace(topic + " " + q.suffix),
			Rationale: q.rationale,
		})
	}
	return queries
}

// normalizeQueries trims, drops empty and duplicate queries and caps the batch at limit.
func normalizeQueries(in []Query, limit int) []Query {
	seen := make(map[string]bool, len(in))
	out := make([]Query, 0, len(in))
	for _, q := range in {
		q.Text = strings.TrimSpace(q.Text)
		key := strings.ToLower(q.Text)
		if q.Text == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func queryTexts(queries []Query) []string {
	out := make([]string, len(queries))
	for i, q := range queries {
		out[i] = q.Text
	}
	return out
}
