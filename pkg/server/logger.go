package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/mikeboe/research-orchestrator/pkg/database"
)

// LogSink stores the log records of a job.
type LogSink interface {
	AppendLog(ctx context.Context, jobID uuid.UUID, entry database.LogEntry) error
}

// DBLogHandler is a slog.Handler that writes records to the job's log table
// and, when Next is set, passes them on to a second handler such as the console.
type DBLogHandler struct {
	Sink  LogSink
	JobID uuid.UUID
	Next  slog.Handler

	attrs  []slog.Attr
	prefix string
}

func NewDBLogHandler(sink LogSink, jobID uuid.UUID, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{
		Sink:  sink,
		JobID: jobID,
		Next:  next,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true // Log everything
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.Next != nil && h.Next.Enabled(ctx, r.Level) {
		_ = h.Next.Handle(ctx, r.Clone())
	}

	attrs := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(attrs, h.prefix, a)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	// Background context: the log must persist even when the job was cancelled.
	return h.Sink.AppendLog(context.Background(), h.JobID, database.LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})
}

func addAttr(dst map[string]interface{}, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		group := prefix
		if a.Key != "" {
			group = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			addAttr(dst, group, ga)
		}
		return
	}

	value := a.Value.Any()
	if err, ok := value.(error); ok {
		value = err.Error()
	}
	dst[prefix+a.Key] = value
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	if h.Next != nil {
		next.Next = h.Next.WithAttrs(attrs)
	}
	return &next
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	if h.Next != nil {
		next.Next = h.Next.WithGroup(name)
	}
	return &next
}
