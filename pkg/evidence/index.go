// Package evidence keeps the sources gathered by research runs in a pgvector
// collection so later questions can be answered from them.
package evidence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mikeboe/research-orchestrator/pkg/research"
	"github.com/mikeboe/research-orchestrator/pkg/splitter"
	"github.com/mikeboe/research-orchestrator/pkg/vectorstore"
)

// Embedder turns text into vectors. Query and document embeddings may differ.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the vector collection the index writes to.
type Store interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
	ReplaceRun(ctx context.Context, runID string, docs []vectorstore.Document) error
	DeleteByRun(ctx context.Context, runID string) (int64, error)
	SimilaritySearch(ctx context.Context, queryEmbedding []float32, opts vectorstore.SearchOptions) ([]vectorstore.SimilaritySearchResult, error)
	GetContentBySource(ctx context.Context, source string) ([]vectorstore.Document, error)
	GetContentByMetadata(ctx context.Context, filter map[string]interface{}) ([]vectorstore.Document, error)
}

type Index struct {
	Store    Store
	Embedder Embedder
	Splitter *splitter.TextSplitter
	// AnswerSplitter, when set, also indexes the compiled answer of a run
	// under the source AnswerSource(runID).
	AnswerSplitter *splitter.TextSplitter
	Logger         *slog.Logger
}

func NewIndex(store Store, embedder Embedder, split *splitter.TextSplitter) *Index {
	return &Index{
		Store:    store,
		Embedder: embedder,
		Splitter: split,
		Logger:   slog.Default(),
	}
}

// Hit is one chunk of evidence returned by a search.
type Hit struct {
	Kind    string  `json:"kind,omitempty"`
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Title   string  `json:"title"`
	RunID   string  `json:"run_id"`
	Topic   string  `json:"topic"`
	Score   float64 `json:"score"`
}

const (
	KindSource = "source"
	KindAnswer = "answer"
)

// AnswerSource is the source key of the compiled answer of a run.
func AnswerSource(runID string) string {
	return "research-run:" + runID
}

// IndexResult stores every source of result. Indexing the same run again
// replaces its earlier documents. It returns the number of chunks written.
func (i *Index) IndexResult(ctx context.Context, result *research.ResearchResult) (int, error) {
	if result == nil {
		return 0, nil
	}

	docs, err := i.documents(result)
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(docs))
	for n, doc := range docs {
		texts[n] = doc.Content
	}
	vectors, err := i.Embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed evidence: %w", err)
	}
	if len(vectors) != len(docs) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(docs))
	}
	for n := range docs {
		docs[n].Embedding = vectors[n]
	}

	if result.RunID != "" {
		err = i.Store.ReplaceRun(ctx, result.RunID, docs)
	} else {
		err = i.Store.AddDocuments(ctx, docs)
	}
	if err != nil {
		return 0, err
	}

	i.logger().Info("Indexed research evidence", "run_id", result.RunID, "sources", len(result.Sources), "chunks", len(docs))
	return len(docs), nil
}

func (i *Index) documents(result *research.ResearchResult) ([]vectorstore.Document, error) {
	var docs []vectorstore.Document
	for _, src := range result.Sources {
		text := sourceText(src)
		if text == "" {
			continue
		}

		chunks := []string{text}
		if i.Splitter != nil {
			var err error
			chunks, err = i.Splitter.SplitText(text)
			if err != nil {
				return nil, fmt.Errorf("failed to split source %s: %w", src.URL, err)
			}
		}

		for n, chunk := range chunks {
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			docs = append(docs, vectorstore.Document{
				Content: chunk,
				Metadata: map[string]interface{}{
					"kind":      KindSource,
					"source":    src.URL,
					"title":     src.Title,
					"run_id":    result.RunID,
					"topic":     result.Topic,
					"chunk":     n,
					"relevance": src.RelevanceScore,
				},
			})
		}
	}

	if i.AnswerSplitter == nil || result.RunID == "" || strings.TrimSpace(result.Answer) == "" {
		return docs, nil
	}
	chunks, err := i.AnswerSplitter.SplitText(result.Answer)
	if err != nil {
		return nil, fmt.Errorf("failed to split answer: %w", err)
	}
	for n, chunk := range chunks {
		docs = append(docs, vectorstore.Document{
			Content: chunk,
			Metadata: map[string]interface{}{
				"kind":       KindAnswer,
				"source":     AnswerSource(result.RunID),
				"title":      result.Topic,
				"run_id":     result.RunID,
				"topic":      result.Topic,
				"chunk":      n,
				"confidence": result.Confidence,
			},
		})
	}
	return docs, nil
}

func sourceText(src research.Source) string {
	title := strings.TrimSpace(src.Title)
	snippet := strings.TrimSpace(src.Snippet)
	switch {
	case snippet == "":
		return ""
	case title == "":
		return snippet
	default:
		return title + "\n\n" + snippet
	}
}

// Search returns the chunks closest to query.
func (i *Index) Search(ctx context.Context, query string, opts vectorstore.SearchOptions) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	embedding, err := i.Embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	results, err := i.Store.SimilaritySearch(ctx, embedding, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hit := toHit(r.Document)
		hit.Score = r.Score
		hits = append(hits, hit)
	}
	return hits, nil
}

// ForgetRun drops every chunk indexed for a run and reports how many were removed.
func (i *Index) ForgetRun(ctx context.Context, runID string) (int64, error) {
	if runID == "" {
		return 0, fmt.Errorf("run id must not be empty")
	}
	n, err := i.Store.DeleteByRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	i.logger().Info("Removed research evidence", "run_id", runID, "chunks", n)
	return n, nil
}

// FindBySource returns every chunk stored for a source URL.
func (i *Index) FindBySource(ctx context.Context, source string) ([]Hit, error) {
	docs, err := i.Store.GetContentBySource(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to find content: %w", err)
	}
	return toHits(docs), nil
}

// FindByMetadata returns the chunks matching a metadata filter. Filters may
// combine conditions with $and, $or and $not and compare numbers with $gt,
// $gte, $lt and $lte.
func (i *Index) FindByMetadata(ctx context.Context, filter map[string]interface{}) ([]Hit, error) {
	docs, err := i.Store.GetContentByMetadata(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find content: %w", err)
	}
	return toHits(docs), nil
}

func toHits(docs []vectorstore.Document) []Hit {
	hits := make([]Hit, 0, len(docs))
	for _, doc := range docs {
		hits = append(hits, toHit(doc))
	}
	return hits
}

func toHit(doc vectorstore.Document) Hit {
	return Hit{
		Kind:    doc.MetadataString("kind"),
		Content: doc.Content,
		Source:  doc.MetadataString("source"),
		Title:   doc.MetadataString("title"),
		RunID:   doc.MetadataString("run_id"),
		Topic:   doc.MetadataString("topic"),
	}
}

// Format renders hits for a language model, grouped by source in the order
// each source first appears.
func Format(hits []Hit) string {
	if len(hits) == 0 {
		return "No matching evidence found."
	}

	var order []string
	grouped := make(map[string][]Hit)
	for _, h := range hits {
		key := h.Source
		if key == "" {
			key = "unknown"
		}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], h)
	}

	var sb strings.Builder
	for n, source := range order {
		if n > 0 {
			sb.WriteString("\n\n")
		}
		group := grouped[source]
		sb.WriteString("[Source]: " + source)
		if title := group[0].Title; title != "" {
			sb.WriteString("\n[Title]: " + title)
		}
		for _, h := range group {
			sb.WriteString("\n[Content]: " + h.Content)
		}
	}
	return sb.String()
}

func (i *Index) logger() *slog.Logger {
	if i.Logger != nil {
		return i.Logger
	}
	return slog.Default()
}
