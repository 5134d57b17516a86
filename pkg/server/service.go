package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-orchestrator/pkg/database"
	"github.com/mikeboe/research-orchestrator/pkg/metrics"
	"github.com/mikeboe/research-orchestrator/pkg/research"
)

var ErrJobNotRunning = errors.New("research job is not running")

// JobStore persists research jobs and their logs.
type JobStore interface {
	LogSink
	CreateJob(ctx context.Context, topic string, config json.RawMessage) (*database.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error)
	ListJobs(ctx context.Context, limit int) ([]database.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status database.JobStatus) error
	SaveState(ctx context.Context, id uuid.UUID, state json.RawMessage) error
	FinishJob(ctx context.Context, id uuid.UUID, status database.JobStatus, report string, result json.RawMessage, errMsg string) error
	GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]database.LogEntry, error)
}

// Indexer stores the evidence of a finished run.
type Indexer interface {
	IndexResult(ctx context.Context, result *research.ResearchResult) (int, error)
}

type Service struct {
	Store  JobStore
	Engine *research.ResearchEngine
	// Index is optional.
	Index Indexer
	// Console receives a copy of every job log record; nil disables it.
	Console slog.Handler

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(store JobStore, engine *research.ResearchEngine, index Indexer, console slog.Handler) *Service {
	return &Service{
		Store:   store,
		Engine:  engine,
		Index:   index,
		Console: console,
		running: make(map[uuid.UUID]context.CancelFunc),
	}
}

type CreateJobRequest struct {
	Topic          string             `json:"topic"`
	Messages       []research.Message `json:"messages,omitempty"`
	MaxLoops       *int               `json:"max_loops,omitempty"`
	InitialQueries int                `json:"initial_queries,omitempty"`
	TimeoutMS      int                `json:"timeout_ms,omitempty"`
}

// ResolveTopic returns the explicit topic, or the one derived from the messages.
func (r CreateJobRequest) ResolveTopic() string {
	if topic := strings.TrimSpace(r.Topic); topic != "" {
		return topic
	}
	return strings.TrimSpace(research.TopicFromMessages(r.Messages))
}

func (r CreateJobRequest) Options() []research.Option {
	var opts []research.Option
	if r.MaxLoops != nil {
		opts = append(opts, research.WithMaxLoops(*r.MaxLoops))
	}
	if r.InitialQueries > 0 {
		opts = append(opts, research.WithInitialQueryCount(r.InitialQueries))
	}
	if r.TimeoutMS > 0 {
		opts = append(opts, research.WithTimeout(time.Duration(r.TimeoutMS)*time.Millisecond))
	}
	return opts
}

// CreateJob validates the request, stores a pending job and starts it in the background.
func (s *Service) CreateJob(ctx context.Context, req CreateJobRequest) (*database.Job, error) {
	topic := req.ResolveTopic()
	if topic == "" {
		return nil, &research.FatalConfigurationError{Field: "topic", Reason: "a topic or messages are required"}
	}

	opts := req.Options()
	cfg := s.Engine.Config.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configJSON, _ := json.Marshal(map[string]interface{}{
		"max_loops":           cfg.MaxLoops,
		"initial_query_count": cfg.InitialQueryCount,
		"call_timeout_ms":     cfg.CallTimeout.Milliseconds(),
	})

	job, err := s.Store.CreateJob(ctx, topic, configJSON)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.running[job.ID] = cancel
	s.mu.Unlock()

	// Start background worker
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runJob(runCtx, job.ID, topic, opts)
	}()

	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error) {
	return s.Store.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context) ([]database.Job, error) {
	return s.Store.ListJobs(ctx, 50)
}

func (s *Service) GetJobLogs(ctx context.Context, id uuid.UUID) ([]database.LogEntry, error) {
	return s.Store.GetJobLogs(ctx, id)
}

// CancelJob stops a running job. The job keeps the partial result gathered so far.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	cancel, ok := s.running[id]
	s.mu.Unlock()
	if !ok {
		if _, err := s.Store.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrJobNotRunning
	}
	cancel()
	return nil
}

// Wait blocks until every background job has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels all running jobs and waits for them to store their partial results.
func (s *Service) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()
	s.Wait()
}

func (s *Service) runJob(ctx context.Context, jobID uuid.UUID, topic string, opts []research.Option) {
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.running[jobID]; ok {
			cancel()
			delete(s.running, jobID)
		}
		s.mu.Unlock()
	}()

	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()

	jobLogger := slog.New(NewDBLogHandler(s.Store, jobID, s.Console)).With("job_id", jobID.String())

	if err := s.Store.UpdateStatus(context.Background(), jobID, database.JobRunning); err != nil {
		jobLogger.Error("Failed to mark job running", "error", err)
	}

	// Each job gets its own copy so the hooks never cross jobs.
	engine := *s.Engine
	engine.Logger = jobLogger
	engine.OnStateUpdate = func(state research.ResearchState) {
		stateJSON, err := json.Marshal(state)
		if err != nil {
			jobLogger.Error("Failed to marshal state", "error", err)
			return
		}
		if err := s.Store.SaveState(context.Background(), jobID, stateJSON); err != nil {
			jobLogger.Error("Failed to save state to DB", "error", err)
		}
	}

	result, err := engine.Research(ctx, topic, opts...)
	status, errMsg := jobOutcome(result, err)

	var (
		report     string
		resultJSON json.RawMessage
	)
	if result != nil {
		report = result.Answer
		resultJSON, _ = json.Marshal(result)
	}

	if err := s.Store.FinishJob(context.Background(), jobID, status, report, resultJSON, errMsg); err != nil {
		jobLogger.Error("Failed to save final report to DB", "error", err)
		return
	}
	jobLogger.Info("Research job finished", "status", status)

	if status == database.JobCompleted && s.Index != nil {
		if _, err := s.Index.IndexResult(context.Background(), result); err != nil {
			jobLogger.Warn("Failed to index evidence", "error", err)
		}
	}
}

// jobOutcome maps the result of a run to the terminal job status.
func jobOutcome(result *research.ResearchResult, err error) (database.JobStatus, string) {
	switch {
	case result == nil:
		return database.JobFailed, fmt.Sprintf("Research failed: %v", err)
	case result.Outcome == research.OutcomeCancelled:
		return database.JobCancelled, ""
	case err != nil:
		return database.JobFailed, err.Error()
	default:
		return database.JobCompleted, ""
	}
}
