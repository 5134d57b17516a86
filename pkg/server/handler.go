package server

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/research-orchestrator/pkg/chat"
	"github.com/mikeboe/research-orchestrator/pkg/database"
	"github.com/mikeboe/research-orchestrator/pkg/evidence"
	"github.com/mikeboe/research-orchestrator/pkg/research"
	"github.com/mikeboe/research-orchestrator/pkg/vectorstore"
)

// Asker answers questions through the agent dispatcher.
type Asker interface {
	Ask(ctx context.Context, req chat.AskRequest) (iter.Seq2[chat.StreamEvent, error], error)
}

// EvidenceSearcher searches the evidence index.
type EvidenceSearcher interface {
	Search(ctx context.Context, query string, opts vectorstore.SearchOptions) ([]evidence.Hit, error)
	ForgetRun(ctx context.Context, runID string) (int64, error)
}

type Handler struct {
	Service *Service
	// Chat, Evidence and MCP are optional; their routes answer 503 when unset.
	Chat     Asker
	Evidence EvidenceSearcher
	MCP      http.Handler
}

func NewHandler(s *Service, c Asker, e EvidenceSearcher, mcp http.Handler) *Handler {
	return &Handler{Service: s, Chat: c, Evidence: e, MCP: mcp}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	if h.MCP != nil {
		r.Any("/mcp", gin.WrapH(h.MCP))
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/research", h.createJob)
		api.GET("/research", h.listJobs)
		api.GET("/research/:id", h.getJob)
		api.GET("/research/:id/logs", h.getJobLogs)
		api.DELETE("/research/:id", h.cancelJob)

		api.GET("/evidence", h.searchEvidence)
		api.DELETE("/evidence/:run_id", h.forgetEvidence)
		api.POST("/ask", h.ask)
	}
}

func (h *Handler) createJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Service.CreateJob(c.Request.Context(), req)
	var fatal *research.FatalConfigurationError
	if errors.As(err, &fatal) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *Handler) listJobs(c *gin.Context) {
	jobs, err := h.Service.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Return empty list instead of null
	if jobs == nil {
		jobs = []database.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) getJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	job, err := h.Service.GetJob(c.Request.Context(), id)
	if err != nil {
		writeJobError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *Handler) getJobLogs(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	logs, err := h.Service.GetJobLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if logs == nil {
		logs = []database.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) cancelJob(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.Service.CancelJob(c.Request.Context(), id); err != nil {
		writeJobError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "cancelling"})
}

func (h *Handler) searchEvidence(c *gin.Context) {
	if h.Evidence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "evidence index is not configured"})
		return
	}

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter q"})
		return
	}
	k, err := strconv.Atoi(c.DefaultQuery("k", "5"))
	if err != nil || k <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "k must be a positive integer"})
		return
	}

	opts := vectorstore.SearchOptions{
		TopK:   k,
		Source: c.Query("source"),
		RunID:  c.Query("run_id"),
		Kind:   c.Query("kind"),
	}
	if raw := c.Query("min_score"); raw != "" {
		opts.MinScore, err = strconv.ParseFloat(raw, 64)
		if err != nil || opts.MinScore < 0 || opts.MinScore > 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "min_score must be a number between 0 and 1"})
			return
		}
	}

	hits, err := h.Evidence.Search(c.Request.Context(), query, opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if hits == nil {
		hits = []evidence.Hit{}
	}
	c.JSON(http.StatusOK, hits)
}

func (h *Handler) forgetEvidence(c *gin.Context) {
	if h.Evidence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "evidence index is not configured"})
		return
	}
	runID := c.Param("run_id")
	removed, err := h.Evidence.ForgetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "removed": removed})
}

func (h *Handler) ask(c *gin.Context) {
	if h.Chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "agent dispatcher is not configured"})
		return
	}

	var req chat.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := h.Chat.Ask(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for event, err := range next {
		if err != nil {
			// Report the failure as a final event
			writeEvent(c, chat.StreamEvent{Type: "error", Payload: err.Error()})
			return
		}
		if !writeEvent(c, event) {
			return
		}
	}
}

func writeEvent(c *gin.Context, event chat.StreamEvent) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return false
	}
	if _, err := c.Writer.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func writeJobError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrJobNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
