// Package mcpserver exposes deep research and the evidence index as MCP tools.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/research-orchestrator/pkg/evidence"
	"github.com/mikeboe/research-orchestrator/pkg/research"
	"github.com/mikeboe/research-orchestrator/pkg/vectorstore"
)

const (
	serverName    = "research-orchestrator"
	serverVersion = "1.0.0"
)

// Researcher runs one research job.
type Researcher interface {
	Research(ctx context.Context, topic string, opts ...research.Option) (*research.ResearchResult, error)
}

// EvidenceIndex answers questions from previously gathered evidence.
type EvidenceIndex interface {
	Search(ctx context.Context, query string, opts vectorstore.SearchOptions) ([]evidence.Hit, error)
	FindBySource(ctx context.Context, source string) ([]evidence.Hit, error)
	FindByMetadata(ctx context.Context, filter map[string]interface{}) ([]evidence.Hit, error)
}

type Server struct {
	Researcher Researcher
	// Index is optional; without it only deep_research is offered.
	Index  EvidenceIndex
	Logger *slog.Logger

	mcp *mcp.Server
}

func New(researcher Researcher, index EvidenceIndex, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Researcher: researcher, Index: index, Logger: logger}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	s.registerTools()
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// RunStdio serves the tools over stdin/stdout until ctx is done or the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Handler serves the tools over the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "deep_research",
		Description: "Research a topic on the web in several rounds and return a cited answer with its sources.",
	}, s.deepResearch)

	if s.Index == nil {
		return
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_evidence",
		Description: "Search evidence gathered by earlier research runs using semantic search.",
	}, s.searchEvidence)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_evidence_by_source",
		Description: "Find all evidence stored for a specific source URL.",
	}, s.findBySource)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_evidence_by_metadata",
		Description: "Find evidence using logical filters ($and, $or, $not) on metadata such as run_id, topic, source, kind or title. Numeric fields such as relevance and confidence accept $gt, $gte, $lt and $lte.",
	}, s.findByMetadata)
}

type DeepResearchArgs struct {
	Topic          string `json:"topic" jsonschema:"the question or topic to research"`
	MaxLoops       int    `json:"max_loops,omitempty" jsonschema:"maximum number of follow-up research rounds"`
	InitialQueries int    `json:"initial_queries,omitempty" jsonschema:"number of queries in the first round"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"budget of every single backend call in seconds"`
}

type DeepResearchOutput struct {
	RunID         string            `json:"run_id"`
	Answer        string            `json:"answer"`
	Sources       []research.Source `json:"sources"`
	Confidence    float64           `json:"confidence"`
	ResearchLoops int               `json:"research_loops"`
	Outcome       string            `json:"outcome"`
}

// Options converts the optional arguments into research options.
func (a DeepResearchArgs) Options() []research.Option {
	var opts []research.Option
	if a.MaxLoops > 0 {
		opts = append(opts, research.WithMaxLoops(a.MaxLoops))
	}
	if a.InitialQueries > 0 {
		opts = append(opts, research.WithInitialQueryCount(a.InitialQueries))
	}
	if a.TimeoutSeconds > 0 {
		opts = append(opts, research.WithTimeout(time.Duration(a.TimeoutSeconds)*time.Second))
	}
	return opts
}

func (s *Server) deepResearch(ctx context.Context, _ *mcp.CallToolRequest, args DeepResearchArgs) (*mcp.CallToolResult, DeepResearchOutput, error) {
	s.Logger.Info("MCP deep research", "topic", args.Topic)

	result, err := s.Researcher.Research(ctx, args.Topic, args.Options()...)
	if result == nil {
		return nil, DeepResearchOutput{}, err
	}

	out := DeepResearchOutput{
		RunID:         result.RunID,
		Answer:        result.Answer,
		Sources:       result.Sources,
		Confidence:    result.Confidence,
		ResearchLoops: result.ResearchLoops,
		Outcome:       string(result.Outcome),
	}
	text := result.Answer
	if err != nil {
		text = fmt.Sprintf("%s\n\nWarning: %v", text, err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: err != nil,
	}, out, nil
}

type SearchEvidenceArgs struct {
	Query  string `json:"query" jsonschema:"the search query"`
	TopK   int    `json:"top_k,omitempty" jsonschema:"number of results to return (default 5)"`
	Source string `json:"source,omitempty" jsonschema:"only return evidence from this source URL"`
	RunID  string `json:"run_id,omitempty" jsonschema:"only return evidence gathered by this research run"`
}

type EvidenceOutput struct {
	Hits []evidence.Hit `json:"hits"`
}

func (s *Server) searchEvidence(ctx context.Context, _ *mcp.CallToolRequest, args SearchEvidenceArgs) (*mcp.CallToolResult, EvidenceOutput, error) {
	hits, err := s.Index.Search(ctx, args.Query, vectorstore.SearchOptions{TopK: args.TopK, Source: args.Source, RunID: args.RunID})
	if err != nil {
		return nil, EvidenceOutput{}, err
	}
	return textResult(evidence.Format(hits)), EvidenceOutput{Hits: hits}, nil
}

type FindBySourceArgs struct {
	Source string `json:"source" jsonschema:"the source URL to find evidence for"`
}

func (s *Server) findBySource(ctx context.Context, _ *mcp.CallToolRequest, args FindBySourceArgs) (*mcp.CallToolResult, EvidenceOutput, error) {
	hits, err := s.Index.FindBySource(ctx, args.Source)
	if err != nil {
		return nil, EvidenceOutput{}, err
	}
	return textResult(evidence.Format(hits)), EvidenceOutput{Hits: hits}, nil
}

type FindByMetadataArgs struct {
	Filter map[string]any `json:"filter" jsonschema:"JSON filter object with logical operators ($and, $or, $not)"`
}

func (s *Server) findByMetadata(ctx context.Context, _ *mcp.CallToolRequest, args FindByMetadataArgs) (*mcp.CallToolResult, EvidenceOutput, error) {
	hits, err := s.Index.FindByMetadata(ctx, args.Filter)
	if err != nil {
		return nil, EvidenceOutput{}, err
	}
	return textResult(evidence.Format(hits)), EvidenceOutput{Hits: hits}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
