package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job in this status will not change any more.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

var ErrJobNotFound = errors.New("research job not found")

type Job struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	Status    JobStatus       `json:"status"`
	Report    *string         `json:"report,omitempty"`
	Error     *string         `json:"error,omitempty"`
	Config    json.RawMessage `json:"config,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

// JobRepository persists research jobs and their logs.
type JobRepository struct {
	DB *PostgresDB
}

func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{DB: db}
}

const jobColumns = `id, topic, status, report, error, config, state, result, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	job := &Job{}
	err := row.Scan(
		&job.ID, &job.Topic, &job.Status, &job.Report, &job.Error,
		&job.Config, &job.State, &job.Result, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepository) CreateJob(ctx context.Context, topic string, config json.RawMessage) (*Job, error) {
	query := `
		INSERT INTO research_jobs (id, topic, status, config)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + jobColumns

	job, err := scanJob(r.DB.Pool.QueryRow(ctx, query, uuid.New(), topic, JobPending, config))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM research_jobs WHERE id = $1`

	job, err := scanJob(r.DB.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + ` FROM research_jobs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.DB.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status JobStatus) error {
	_, err := r.DB.Pool.Exec(ctx,
		"UPDATE research_jobs SET status = $2, updated_at = NOW() WHERE id = $1",
		id, status)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

func (r *JobRepository) SaveState(ctx context.Context, id uuid.UUID, state json.RawMessage) error {
	_, err := r.DB.Pool.Exec(ctx,
		"UPDATE research_jobs SET state = $2, updated_at = NOW() WHERE id = $1",
		id, state)
	if err != nil {
		return fmt.Errorf("failed to save job state: %w", err)
	}
	return nil
}

// FinishJob stores the terminal status of a job. report and result may be
// empty when the run produced nothing, errMsg when it succeeded.
func (r *JobRepository) FinishJob(ctx context.Context, id uuid.UUID, status JobStatus, report string, result json.RawMessage, errMsg string) error {
	_, err := r.DB.Pool.Exec(ctx, `
		UPDATE research_jobs
		SET status = $2, report = NULLIF($3, ''), result = $4, error = NULLIF($5, ''), updated_at = NOW()
		WHERE id = $1`,
		id, status, report, result, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

func (r *JobRepository) AppendLog(ctx context.Context, jobID uuid.UUID, entry LogEntry) error {
	query := `
		INSERT INTO research_logs (job_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.DB.Pool.Exec(ctx, query, jobID, entry.Timestamp, entry.Level, entry.Message, entry.Metadata)
	return err
}

func (r *JobRepository) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := r.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
