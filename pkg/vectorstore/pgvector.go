package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Document is one embedded chunk of evidence.
type Document struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Embedding []float32              `json:"embedding,omitempty"`
}

// MetadataString returns the metadata value under key if it is a string.
func (d Document) MetadataString(key string) string {
	s, _ := d.Metadata[key].(string)
	return s
}

// PGVectorStore keeps documents in one pgvector table.
type PGVectorStore struct {
	pool      *pgxpool.Pool
	tableName string
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// isValidTableName accepts 1-63 character identifiers starting with a
// lowercase letter or underscore.
func isValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

func NewPGVectorStore(pool *pgxpool.Pool, tableName string) (*PGVectorStore, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name: must contain only alphanumeric characters and underscores, start with a letter or underscore, and be 1-63 characters long")
	}
	return &PGVectorStore{
		pool:      pool,
		tableName: tableName,
	}, nil
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.tableName}.Sanitize()
}

// AddDocuments inserts docs in a single batch.
func (vs *PGVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	return pgx.BeginFunc(ctx, vs.pool, func(tx pgx.Tx) error {
		return vs.insert(ctx, tx, docs)
	})
}

// ReplaceRun swaps the documents of a research run for docs atomically.
func (vs *PGVectorStore) ReplaceRun(ctx context.Context, runID string, docs []Document) error {
	return pgx.BeginFunc(ctx, vs.pool, func(tx pgx.Tx) error {
		if _, err := vs.deleteRun(ctx, tx, runID); err != nil {
			return err
		}
		return vs.insert(ctx, tx, docs)
	})
}

// DeleteByRun removes every document indexed for a research run.
func (vs *PGVectorStore) DeleteByRun(ctx context.Context, runID string) (int64, error) {
	var deleted int64
	err := pgx.BeginFunc(ctx, vs.pool, func(tx pgx.Tx) error {
		var err error
		deleted, err = vs.deleteRun(ctx, tx, runID)
		return err
	})
	return deleted, err
}

func (vs *PGVectorStore) deleteRun(ctx context.Context, tx pgx.Tx, runID string) (int64, error) {
	tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE metadata @> $1`, vs.table()), runFilter(runID))
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents of run %s: %w", runID, err)
	}
	return tag.RowsAffected(), nil
}

func runFilter(runID string) []byte {
	b, _ := json.Marshal(map[string]string{"run_id": runID})
	return b
}

func (vs *PGVectorStore) insert(ctx context.Context, tx pgx.Tx, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (content, metadata, embedding) VALUES ($1, $2, $3)`, vs.table())

	batch := &pgx.Batch{}
	for _, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		batch.Queue(query, doc.Content, metadataJSON, pgvector.NewVector(doc.Embedding))
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}
	return nil
}

// SearchOptions narrows a similarity search. Zero fields do not filter.
type SearchOptions struct {
	TopK   int
	Source string
	RunID  string
	// Kind is "source" or "answer".
	Kind string
	// MinScore drops results whose cosine similarity is below it.
	MinScore float64
}

func (o SearchOptions) filter() map[string]interface{} {
	filter := map[string]interface{}{}
	if o.Source != "" {
		filter["source"] = o.Source
	}
	if o.RunID != "" {
		filter["run_id"] = o.RunID
	}
	if o.Kind != "" {
		filter["kind"] = o.Kind
	}
	return filter
}

type SimilaritySearchResult struct {
	Document Document
	Score    float64
}

// SimilaritySearch returns the documents closest to queryEmbedding by cosine distance.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, opts SearchOptions) ([]SimilaritySearchResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}

	args := []interface{}{pgvector.NewVector(queryEmbedding)}
	where, err := buildMetadataQuery(opts.filter(), &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata query: %w", err)
	}
	if opts.MinScore > 0 {
		args = append(args, opts.MinScore)
		where += fmt.Sprintf(" AND 1 - (embedding <=> $1) >= $%d", len(args))
	}
	args = append(args, opts.TopK)

	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, vs.table(), where, len(args))

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SimilaritySearchResult, error) {
		var r SimilaritySearchResult
		doc, err := scanDocument(row, &r.Score)
		r.Document = doc
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	return results, nil
}

// GetContentBySource returns every chunk stored for source, oldest first.
func (vs *PGVectorStore) GetContentBySource(ctx context.Context, source string) ([]Document, error) {
	return vs.GetContentByMetadata(ctx, map[string]interface{}{"source": source})
}

// GetContentByMetadata returns the documents matching filter, oldest first.
// See buildMetadataQuery for the filter language.
func (vs *PGVectorStore) GetContentByMetadata(ctx context.Context, filter map[string]interface{}) ([]Document, error) {
	var args []interface{}
	where, err := buildMetadataQuery(filter, &args)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata query: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, content, metadata FROM %s WHERE %s ORDER BY created_at ASC`, vs.table(), where)
	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Document, error) {
		return scanDocument(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return docs, nil
}

func scanDocument(row pgx.CollectableRow, extra ...any) (Document, error) {
	var (
		doc          Document
		metadataJSON []byte
	)
	dest := append([]any{&doc.ID, &doc.Content, &metadataJSON}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Document{}, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return Document{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return doc, nil
}

var comparisons = map[string]string{
	"$gt":  ">",
	"$gte": ">=",
	"$lt":  "<",
	"$lte": "<=",
}

// buildMetadataQuery turns a filter into a WHERE clause. Supported forms:
//
//	{"key": value}                  containment, metadata @> {"key": value}
//	{"key": {"$gte": 0.5}}          numeric comparison ($gt, $gte, $lt, $lte)
//	{"$and": [...]}, {"$or": [...]} lists of filters
//	{"$not": {...}}                 negation
//
// Placeholders continue after the arguments already in args. Keys are visited
// in sorted order so the same filter always yields the same SQL.
func buildMetadataQuery(filter map[string]interface{}, args *[]interface{}) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var conditions []string
	for _, key := range keys {
		var (
			cond string
			err  error
		)
		switch value := filter[key]; key {
		case "$and", "$or":
			cond, err = buildList(key, value, args)
		case "$not":
			sub, ok := value.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("value for $not must be a JSON object")
			}
			cond, err = buildMetadataQuery(sub, args)
			cond = "NOT (" + cond + ")"
		default:
			cond, err = buildField(key, value, args)
		}
		if err != nil {
			return "", err
		}
		if cond != "" {
			conditions = append(conditions, cond)
		}
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conditions, " AND "), nil
}

func buildList(op string, value interface{}, args *[]interface{}) (string, error) {
	list, ok := value.([]interface{})
	if !ok {
		return "", fmt.Errorf("value for %s must be a list of conditions", op)
	}

	var parts []string
	for _, item := range list {
		sub, ok := item.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("item in %s list must be a JSON object", op)
		}
		q, err := buildMetadataQuery(sub, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+q+")")
	}
	if len(parts) == 0 {
		return "", nil
	}

	joiner := " AND "
	if op == "$or" {
		joiner = " OR "
	}
	return "(" + strings.Join(parts, joiner) + ")", nil
}

func buildField(key string, value interface{}, args *[]interface{}) (string, error) {
	if ops, ok := value.(map[string]interface{}); ok && isComparison(ops) {
		opKeys := make([]string, 0, len(ops))
		for op := range ops {
			opKeys = append(opKeys, op)
		}
		slices.Sort(opKeys)

		var parts []string
		for _, op := range opKeys {
			bound, ok := toFloat(ops[op])
			if !ok {
				return "", fmt.Errorf("value for %s on %q must be a number", op, key)
			}
			*args = append(*args, key, bound)
			n := len(*args)
			parts = append(parts, fmt.Sprintf("(metadata->>$%d)::float8 %s $%d", n-1, comparisons[op], n))
		}
		return strings.Join(parts, " AND "), nil
	}

	jsonBytes, err := json.Marshal(map[string]interface{}{key: value})
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata pair: %w", err)
	}
	*args = append(*args, jsonBytes)
	return fmt.Sprintf("metadata @> $%d", len(*args)), nil
}

// isComparison reports whether every key of m is a comparison operator.
func isComparison(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for op := range m {
		if _, ok := comparisons[op]; !ok {
			return false
		}
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
