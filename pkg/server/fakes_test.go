package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-orchestrator/pkg/database"
	"github.com/mikeboe/research-orchestrator/pkg/research"
)

// memoryStore is an in-memory JobStore.
type memoryStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*database.Job
	logs   map[uuid.UUID][]database.LogEntry
	states map[uuid.UUID][]json.RawMessage
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		jobs:   make(map[uuid.UUID]*database.Job),
		logs:   make(map[uuid.UUID][]database.LogEntry),
		states: make(map[uuid.UUID][]json.RawMessage),
	}
}

func (m *memoryStore) CreateJob(ctx context.Context, topic string, config json.RawMessage) (*database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &database.Job{
		ID:        uuid.New(),
		Topic:     topic,
		Status:    database.JobPending,
		Config:    config,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	clone := *job
	return &clone, nil
}

func (m *memoryStore) GetJob(ctx context.Context, id uuid.UUID) (*database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, database.ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *memoryStore) ListJobs(ctx context.Context, limit int) ([]database.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Job
	for _, job := range m.jobs {
		out = append(out, *job)
	}
	return out, nil
}

func (m *memoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, status database.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return database.ErrJobNotFound
	}
	job.Status = status
	return nil
}

func (m *memoryStore) SaveState(ctx context.Context, id uuid.UUID, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = append(m.states[id], state)
	return nil
}

func (m *memoryStore) FinishJob(ctx context.Context, id uuid.UUID, status database.JobStatus, report string, result json.RawMessage, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return database.ErrJobNotFound
	}
	job.Status = status
	if report != "" {
		job.Report = &report
	}
	if errMsg != "" {
		job.Error = &errMsg
	}
	job.Result = result
	return nil
}

func (m *memoryStore) AppendLog(ctx context.Context, jobID uuid.UUID, entry database.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = len(m.logs[jobID]) + 1
	m.logs[jobID] = append(m.logs[jobID], entry)
	return nil
}

func (m *memoryStore) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]database.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.LogEntry(nil), m.logs[jobID]...), nil
}

type recordingIndexer struct {
	mu      sync.Mutex
	indexed []string
}

func (r *recordingIndexer) IndexResult(ctx context.Context, result *research.ResearchResult) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, result.RunID)
	return len(result.Sources), nil
}

func staticSearcher() research.Searcher {
	return research.SearcherFunc(func(ctx context.Context, query string) (research.SearchResponse, error) {
		return research.SearchResponse{
			Sources: []research.Source{{URL: "https://iea.org", Title: "IEA", Snippet: "Solar grew.", RelevanceScore: 0.9}},
			Text:    "Findings for " + query,
		}, nil
	})
}

// blockingSearcher waits until the run is cancelled.
func blockingSearcher(started chan<- struct{}) research.Searcher {
	var once sync.Once
	return research.SearcherFunc(func(ctx context.Context, query string) (research.SearchResponse, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return research.SearchResponse{}, ctx.Err()
	})
}

func testEngine(search research.Searcher) *research.ResearchEngine {
	cfg := research.DefaultConfig()
	cfg.CallTimeout = 5 * time.Second
	cfg.RetryInitialBackoff = time.Millisecond
	engine, err := research.NewEngine(nil, search, cfg)
	if err != nil {
		panic(err)
	}
	return engine
}
