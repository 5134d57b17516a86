package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schema lists the statements InitSchema applies, in order. Every statement
// is idempotent so the list can be replayed on every start.
var schema = []struct {
	name string
	sql  string
}{
	{"research_jobs", `
		CREATE TABLE IF NOT EXISTS research_jobs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			topic TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			config JSONB,
			report TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`},
	{"research_jobs columns", `
		ALTER TABLE research_jobs
		ADD COLUMN IF NOT EXISTS state JSONB,
		ADD COLUMN IF NOT EXISTS result JSONB,
		ADD COLUMN IF NOT EXISTS error TEXT`},
	{"research_logs", `
		CREATE TABLE IF NOT EXISTS research_logs (
			id SERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		)`},
	{"idx_research_logs_job_id", `CREATE INDEX IF NOT EXISTS idx_research_logs_job_id ON research_logs(job_id, id)`},
	{"idx_research_jobs_created_at", `CREATE INDEX IF NOT EXISTS idx_research_jobs_created_at ON research_jobs(created_at DESC)`},
	{"idx_research_jobs_status", `CREATE INDEX IF NOT EXISTS idx_research_jobs_status ON research_jobs(status) WHERE status IN ('pending', 'running')`},
	// Jobs cannot survive a restart: their goroutine is gone.
	{"interrupted jobs", `
		UPDATE research_jobs
		SET status = 'failed', error = 'interrupted by server restart', updated_at = NOW()
		WHERE status IN ('pending', 'running')`},
}

// InitSchema creates the job tables in one transaction.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt.sql); err != nil {
				return fmt.Errorf("failed to apply schema step %q: %w", stmt.name, err)
			}
		}
		return nil
	})
}
