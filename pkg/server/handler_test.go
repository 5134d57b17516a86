package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mikeboe/research-orchestrator/pkg/chat"
	"github.com/mikeboe/research-orchestrator/pkg/database"
	"github.com/mikeboe/research-orchestrator/pkg/evidence"
	"github.com/mikeboe/research-orchestrator/pkg/research"
	"github.com/mikeboe/research-orchestrator/pkg/vectorstore"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type fakeEvidence struct {
	opts      vectorstore.SearchOptions
	forgotten []string
}

func (f *fakeEvidence) ForgetRun(ctx context.Context, runID string) (int64, error) {
	f.forgotten = append(f.forgotten, runID)
	return 4, nil
}

func (f *fakeEvidence) Search(ctx context.Context, query string, opts vectorstore.SearchOptions) ([]evidence.Hit, error) {
	f.opts = opts
	return []evidence.Hit{{Content: "Solar grew.", Source: "https://iea.org", Score: 0.9}}, nil
}

type fakeAsker struct {
	events []chat.StreamEvent
	err    error
}

func (f *fakeAsker) Ask(ctx context.Context, req chat.AskRequest) (iter.Seq2[chat.StreamEvent, error], error) {
	if req.Question == "" {
		return nil, errors.New("question must not be empty")
	}
	return func(yield func(chat.StreamEvent, error) bool) {
		for _, e := range f.events {
			if !yield(e, nil) {
				return
			}
		}
		if f.err != nil {
			yield(chat.StreamEvent{}, f.err)
		}
	}, nil
}

func newTestRouter(h *Handler) *gin.Engine {
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateJobRunsResearch(t *testing.T) {
	store := newMemoryStore()
	index := &recordingIndexer{}
	svc := NewService(store, testEngine(staticSearcher()), index, nil)
	r := newTestRouter(NewHandler(svc, nil, nil, nil))

	w := do(t, r, http.MethodPost, "/api/research", CreateJobRequest{Topic: "solar adoption"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created database.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "solar adoption", created.Topic)
	assert.Equal(t, database.JobPending, created.Status)

	svc.Wait()

	w = do(t, r, http.MethodGet, "/api/research/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var job database.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, database.JobCompleted, job.Status)
	require.NotNil(t, job.Report)
	assert.Contains(t, *job.Report, "https://iea.org")

	var result research.ResearchResult
	require.NoError(t, json.Unmarshal(job.Result, &result))
	assert.Equal(t, research.OutcomeSufficient, result.Outcome)
	assert.Equal(t, []string{result.RunID}, index.indexed)

	assert.NotEmpty(t, store.states[created.ID], "state snapshots are saved")

	w = do(t, r, http.MethodGet, "/api/research/"+created.ID.String()+"/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []database.LogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.NotEmpty(t, logs)
	assert.Contains(t, string(logs[0].Metadata), created.ID.String())
}

func TestCreateJobFromMessages(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, testEngine(staticSearcher()), nil, nil)
	r := newTestRouter(NewHandler(svc, nil, nil, nil))

	w := do(t, r, http.MethodPost, "/api/research", CreateJobRequest{
		Messages: []research.Message{{Role: "user", Content: "Heat pump efficiency"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	svc.Wait()

	var created database.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Heat pump efficiency", created.Topic)
}

func TestCreateJobValidation(t *testing.T) {
	svc := NewService(newMemoryStore(), testEngine(staticSearcher()), nil, nil)
	r := newTestRouter(NewHandler(svc, nil, nil, nil))

	negative := -1
	tests := []struct {
		name string
		body any
	}{
		{"empty topic", CreateJobRequest{}},
		{"negative loops", CreateJobRequest{Topic: "x", MaxLoops: &negative}},
		{"too many initial queries", CreateJobRequest{Topic: "x", InitialQueries: research.DefaultMaxQueries + 1}},
		{"not json", "just a string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/research", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	svc.Wait()
}

func TestCancelJob(t *testing.T) {
	store := newMemoryStore()
	started := make(chan struct{})
	svc := NewService(store, testEngine(blockingSearcher(started)), &recordingIndexer{}, nil)
	r := newTestRouter(NewHandler(svc, nil, nil, nil))

	w := do(t, r, http.MethodPost, "/api/research", CreateJobRequest{Topic: "slow topic"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created database.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	<-started
	w = do(t, r, http.MethodDelete, "/api/research/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	svc.Wait()

	job, err := store.GetJob(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobCancelled, job.Status)
	assert.NotEmpty(t, job.Result, "the partial result is kept")

	w = do(t, r, http.MethodDelete, "/api/research/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	store := newMemoryStore()
	started := make(chan struct{})
	svc := NewService(store, testEngine(blockingSearcher(started)), nil, nil)

	job, err := svc.CreateJob(context.Background(), CreateJobRequest{Topic: "slow topic"})
	require.NoError(t, err)
	<-started

	svc.Shutdown()

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobCancelled, stored.Status)
}

func TestJobErrors(t *testing.T) {
	svc := NewService(newMemoryStore(), testEngine(staticSearcher()), nil, nil)
	r := newTestRouter(NewHandler(svc, nil, nil, nil))

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/research/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/research/"+uuid.NewString(), nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/api/research/"+uuid.NewString(), nil).Code)
}

func TestListJobsEmpty(t *testing.T) {
	svc := NewService(newMemoryStore(), testEngine(staticSearcher()), nil, nil)
	r := newTestRouter(NewHandler(svc, nil, nil, nil))

	w := do(t, r, http.MethodGet, "/api/research", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestSearchEvidence(t *testing.T) {
	svc := NewService(newMemoryStore(), testEngine(staticSearcher()), nil, nil)

	w := do(t, newTestRouter(NewHandler(svc, nil, nil, nil)), http.MethodGet, "/api/evidence?q=solar", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ev := &fakeEvidence{}
	r := newTestRouter(NewHandler(svc, nil, ev, nil))

	w = do(t, r, http.MethodGet, "/api/evidence?q=solar&k=3&run_id=run-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, vectorstore.SearchOptions{TopK: 3, RunID: "run-1"}, ev.opts)

	var hits []evidence.Hit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "https://iea.org", hits[0].Source)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/evidence", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/evidence?q=solar&k=zero", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/evidence?q=solar&min_score=2", nil).Code)

	w = do(t, r, http.MethodGet, "/api/evidence?q=solar&kind=answer&min_score=0.4", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, vectorstore.SearchOptions{TopK: 5, Kind: "answer", MinScore: 0.4}, ev.opts)
}

func TestForgetEvidence(t *testing.T) {
	svc := NewService(newMemoryStore(), testEngine(staticSearcher()), nil, nil)

	w := do(t, newTestRouter(NewHandler(svc, nil, nil, nil)), http.MethodDelete, "/api/evidence/run-1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ev := &fakeEvidence{}
	w = do(t, newTestRouter(NewHandler(svc, nil, ev, nil)), http.MethodDelete, "/api/evidence/run-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"run_id":"run-1","removed":4}`, w.Body.String())
	assert.Equal(t, []string{"run-1"}, ev.forgotten)
}

func TestAskStreamsEvents(t *testing.T) {
	svc := NewService(newMemoryStore(), testEngine(staticSearcher()), nil, nil)
	asker := &fakeAsker{
		events: []chat.StreamEvent{
			{Type: "content", Payload: "Solar grew."},
			{Type: "done", Payload: "done"},
		},
	}
	r := newTestRouter(NewHandler(svc, asker, nil, nil))

	w := do(t, r, http.MethodPost, "/api/ask", chat.AskRequest{Question: "How fast is solar growing?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "data: "))
	assert.Contains(t, body, `{"type":"content","payload":"Solar grew."}`)

	asker.err = errors.New("model overloaded")
	w = do(t, r, http.MethodPost, "/api/ask", chat.AskRequest{Question: "again"})
	assert.Contains(t, w.Body.String(), `{"type":"error","payload":"model overloaded"}`)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/ask", chat.AskRequest{}).Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		do(t, newTestRouter(NewHandler(svc, nil, nil, nil)), http.MethodPost, "/api/ask", chat.AskRequest{Question: "q"}).Code)
}

func TestMCPRouteMounted(t *testing.T) {
	svc := NewService(newMemoryStore(), testEngine(staticSearcher()), nil, nil)
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r := newTestRouter(NewHandler(svc, nil, nil, mcp))

	assert.Equal(t, http.StatusTeapot, do(t, r, http.MethodPost, "/mcp", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/metrics", nil).Code)
}
