package chat

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/mikeboe/research-orchestrator/pkg/config"
	"github.com/mikeboe/research-orchestrator/pkg/research"
)

const (
	appName   = "research-orchestrator"
	agentName = "research_dispatcher"
	userID    = "user" // Single user for now
)

const instruction = `You are a research assistant. Answer the user's question with evidence.
First call search_evidence when it is available; if the stored evidence does not answer the question, call deep_research with a precise topic.
Keep every citation link of the form [label](url) from tool results next to the claim it supports, and finish with the list of sources you used.`

type Service struct {
	Agent agent.Agent
}

// StreamEvent represents a single event in the answer stream
type StreamEvent struct {
	Type    string      `json:"type"` // "content", "tool_call", "tool_result", "error", "done"
	Payload interface{} `json:"payload"`
}

// AskRequest is a question, optionally following earlier turns of the same conversation.
type AskRequest struct {
	Question string             `json:"question"`
	History  []research.Message `json:"history,omitempty"`
}

func NewService(ctx context.Context, cfg *config.Config, tools *ResearchToolset) (*Service, error) {
	modelClient, err := gemini.NewModel(ctx, cfg.ReasoningModel, &genai.ClientConfig{
		APIKey: cfg.GoogleApiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	dispatcher, err := llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       modelClient,
		Description: "A research assistant that answers from stored evidence or runs new research.",
		Instruction: instruction,
		Toolsets:    []tool.Toolset{tools},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	return &Service{Agent: dispatcher}, nil
}

// Ask runs the agent on one question and streams what it does. The stream
// always ends with a "done" or an "error" event.
func (s *Service) Ask(ctx context.Context, req AskRequest) (iter.Seq2[StreamEvent, error], error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	sessionSvc := session.InMemoryService()
	sessionID := uuid.NewString()

	created, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// Hydrate the conversation so far
	for _, msg := range req.History {
		if err := sessionSvc.AppendEvent(ctx, created.Session, historyEvent(msg)); err != nil {
			return nil, fmt.Errorf("failed to restore history: %w", err)
		}
	}

	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          s.Agent,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := genai.NewContentFromText(req.Question, genai.RoleUser)

	return func(yield func(StreamEvent, error) bool) {
		slog.Info("Starting agent run", "session_id", sessionID)
		runCfg := agent.RunConfig{
			StreamingMode: agent.StreamingModeSSE,
		}

		for event, err := range r.Run(ctx, userID, sessionID, userContent, runCfg) {
			if err != nil {
				slog.Error("Agent runner error", "error", err)
				yield(StreamEvent{Type: "error", Payload: err.Error()}, err)
				return
			}
			for _, e := range streamEvents(event) {
				if !yield(e, nil) {
					return
				}
			}
		}

		slog.Info("Agent run completed", "session_id", sessionID)
		yield(StreamEvent{Type: "done", Payload: "done"}, nil)
	}, nil
}

func historyEvent(msg research.Message) *session.Event {
	role := genai.RoleUser
	author := userID
	switch strings.ToLower(msg.Role) {
	case "assistant", "ai", "model":
		role = genai.RoleModel
		author = agentName
	}

	evt := session.NewEvent(uuid.NewString())
	evt.Author = author
	evt.LLMResponse = model.LLMResponse{
		Content: genai.NewContentFromText(msg.Content, genai.Role(role)),
	}
	return evt
}

// streamEvents flattens the parts of an agent event into stream events.
func streamEvents(event *session.Event) []StreamEvent {
	if event == nil || event.LLMResponse.Content == nil {
		return nil
	}

	var out []StreamEvent
	for _, part := range event.LLMResponse.Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			out = append(out, StreamEvent{Type: "content", Payload: part.Text})
		}
		if part.FunctionCall != nil {
			slog.Info("Agent tool call", "tool", part.FunctionCall.Name)
			out = append(out, StreamEvent{Type: "tool_call", Payload: part.FunctionCall})
		}
		if part.FunctionResponse != nil {
			slog.Info("Agent tool result", "tool", part.FunctionResponse.Name)
			out = append(out, StreamEvent{Type: "tool_result", Payload: part.FunctionResponse})
		}
	}
	return out
}
