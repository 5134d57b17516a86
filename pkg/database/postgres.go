package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxIndexedDimensions is the largest vector size pgvector can index with HNSW.
const maxIndexedDimensions = 2000

// ConnectTimeout bounds the retries of the first ping.
var ConnectTimeout = 30 * time.Second

// PostgresDB wraps the connection pool shared by the job repository and the
// evidence store.
type PostgresDB struct {
	Pool *pgxpool.Pool
}

// NewPostgresDB connects to databaseURL, retrying the first ping for up to
// ConnectTimeout.
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Jobs hold a connection only for short writes.
	config.MaxConns = 25
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := ping(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

func ping(ctx context.Context, pool *pgxpool.Pool) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = ConnectTimeout

	return backoff.RetryNotify(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		slog.Warn("Database not reachable yet", "error", err, "retry_in", wait)
	})
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}

// EnsureVectorExtension installs pgvector if needed.
func (db *PostgresDB) EnsureVectorExtension(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	return err
}

// CreateEmbeddingsTable creates the evidence collection with a metadata index
// for run and source filters and, when the size allows it, an HNSW index for
// cosine search.
func (db *PostgresDB) CreateEmbeddingsTable(ctx context.Context, tableName string, dimension int) error {
	table := pgx.Identifier{tableName}.Sanitize()

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, table, dimension)
	if _, err := db.Pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	metadataIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s USING gin (metadata jsonb_path_ops)
	`, pgx.Identifier{tableName + "_metadata_idx"}.Sanitize(), table)
	if _, err := db.Pool.Exec(ctx, metadataIndex); err != nil {
		return fmt.Errorf("failed to create metadata index on %s: %w", tableName, err)
	}

	// Larger vectors fall back to exact search.
	if dimension > maxIndexedDimensions {
		slog.Warn("Embedding size too large for an HNSW index, using exact search", "table", tableName, "dimension", dimension)
		return nil
	}
	vectorIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s USING hnsw (embedding vector_cosine_ops)
	`, pgx.Identifier{tableName + "_embedding_idx"}.Sanitize(), table)
	if _, err := db.Pool.Exec(ctx, vectorIndex); err != nil {
		return fmt.Errorf("failed to create index on %s: %w", tableName, err)
	}
	return nil
}
