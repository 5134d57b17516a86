package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/mikeboe/research-orchestrator/pkg/evidence"
	"github.com/mikeboe/research-orchestrator/pkg/research"
	"github.com/mikeboe/research-orchestrator/pkg/vectorstore"
)

// Researcher runs one research job.
type Researcher interface {
	Research(ctx context.Context, topic string, opts ...research.Option) (*research.ResearchResult, error)
}

// EvidenceIndex answers questions from previously gathered evidence.
type EvidenceIndex interface {
	Search(ctx context.Context, query string, opts vectorstore.SearchOptions) ([]evidence.Hit, error)
	FindBySource(ctx context.Context, source string) ([]evidence.Hit, error)
}

// ResearchToolset gives the agent the research engine and, when configured,
// the evidence index.
type ResearchToolset struct {
	Researcher Researcher
	Index      EvidenceIndex
	// MaxLoops caps the research rounds the agent may request.
	MaxLoops int
}

func NewResearchToolset(researcher Researcher, index EvidenceIndex, maxLoops int) *ResearchToolset {
	return &ResearchToolset{Researcher: researcher, Index: index, MaxLoops: maxLoops}
}

func (t *ResearchToolset) Name() string {
	return "research_tools"
}

func (t *ResearchToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	researchTool, err := functiontool.New[DeepResearchArgs, DeepResearchResp](
		functiontool.Config{
			Name:        "deep_research",
			Description: "Research a topic on the web in several rounds and return a cited answer. Slow; use it when stored evidence is not enough.",
		},
		t.deepResearchTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deep_research tool: %w", err)
	}
	tools := []tool.Tool{researchTool}

	if t.Index == nil {
		return tools, nil
	}

	searchTool, err := functiontool.New[SearchEvidenceArgs, SearchEvidenceResp](
		functiontool.Config{
			Name:        "search_evidence",
			Description: "Search evidence gathered by earlier research runs using semantic search.",
		},
		t.searchEvidenceTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search_evidence tool: %w", err)
	}

	findBySourceTool, err := functiontool.New[FindSourceArgs, SearchEvidenceResp](
		functiontool.Config{
			Name:        "find_evidence_by_source",
			Description: "Find all evidence associated with a specific source URL.",
		},
		t.findBySourceTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create find_evidence_by_source tool: %w", err)
	}

	return append(tools, searchTool, findBySourceTool), nil
}

// --- Tool Implementations ---

type DeepResearchArgs struct {
	Topic    string `json:"topic" description:"The question or topic to research"`
	MaxLoops int    `json:"max_loops,omitempty" description:"Maximum number of follow-up research rounds"`
}

type DeepResearchResp struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
	Outcome    string   `json:"outcome"`
}

// Wrapper for ADK tool interface
func (t *ResearchToolset) deepResearchTool(ctx tool.Context, args DeepResearchArgs) (DeepResearchResp, error) {
	return t.DeepResearch(ctx, args)
}

// DeepResearch runs the engine. A requested loop count above MaxLoops is capped.
func (t *ResearchToolset) DeepResearch(ctx context.Context, args DeepResearchArgs) (DeepResearchResp, error) {
	if strings.TrimSpace(args.Topic) == "" {
		return DeepResearchResp{}, fmt.Errorf("topic must not be empty")
	}

	var opts []research.Option
	if args.MaxLoops > 0 {
		loops := args.MaxLoops
		if t.MaxLoops > 0 && loops > t.MaxLoops {
			loops = t.MaxLoops
		}
		opts = append(opts, research.WithMaxLoops(loops))
	}

	slog.Info("Agent deep research", "topic", args.Topic, "max_loops", args.MaxLoops)
	started := time.Now()

	result, err := t.Researcher.Research(ctx, args.Topic, opts...)
	if result == nil {
		return DeepResearchResp{}, err
	}
	if err != nil {
		slog.Warn("Deep research finished degraded", "error", err)
	}

	sources := make([]string, 0, len(result.Sources))
	for _, src := range result.Sources {
		sources = append(sources, src.URL)
	}
	slog.Info("Agent deep research done", "sources", len(sources), "duration", time.Since(started))

	return DeepResearchResp{
		Answer:     result.Answer,
		Sources:    sources,
		Confidence: result.Confidence,
		Outcome:    string(result.Outcome),
	}, nil
}

type SearchEvidenceArgs struct {
	Query  string `json:"query" description:"The search query"`
	TopK   int    `json:"topK,omitempty" description:"Number of results to return (default 5)"`
	Source string `json:"source,omitempty" description:"Optional source filter"`
}

type SearchEvidenceResp struct {
	Results string `json:"results"`
}

func (t *ResearchToolset) searchEvidenceTool(ctx tool.Context, args SearchEvidenceArgs) (SearchEvidenceResp, error) {
	return t.SearchEvidence(ctx, args)
}

func (t *ResearchToolset) SearchEvidence(ctx context.Context, args SearchEvidenceArgs) (SearchEvidenceResp, error) {
	if args.TopK == 0 {
		args.TopK = 5
	}
	slog.Info("Search evidence", "query", args.Query, "topK", args.TopK, "source", args.Source)

	hits, err := t.Index.Search(ctx, args.Query, vectorstore.SearchOptions{TopK: args.TopK, Source: args.Source})
	if err != nil {
		return SearchEvidenceResp{}, err
	}
	return SearchEvidenceResp{Results: evidence.Format(hits)}, nil
}

type FindSourceArgs struct {
	Source string `json:"source" description:"The source URL to find evidence for"`
}

func (t *ResearchToolset) findBySourceTool(ctx tool.Context, args FindSourceArgs) (SearchEvidenceResp, error) {
	return t.FindBySource(ctx, args)
}

func (t *ResearchToolset) FindBySource(ctx context.Context, args FindSourceArgs) (SearchEvidenceResp, error) {
	hits, err := t.Index.FindBySource(ctx, args.Source)
	if err != nil {
		return SearchEvidenceResp{}, err
	}
	return SearchEvidenceResp{Results: evidence.Format(hits)}, nil
}
