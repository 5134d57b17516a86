package research

import (
	"slices"
	"strings"
)

// Phase is a step of the research state machine.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseGenerating   Phase = "generating"
	PhaseResearching  Phase = "researching"
	PhaseReflecting   Phase = "reflecting"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseDone         Phase = "done"
	PhaseFailed       Phase = "failed"
)

// ResearchState is a snapshot of one research run.
//
// Snapshots are values: the engine never mutates one after handing it out,
// every step returns a fresh copy through the with* helpers below.
type ResearchState struct {
	Topic              string     `json:"topic"`
	Phase              Phase      `json:"phase"`
	SearchQueries      []Query    `json:"search_queries"`
	QueryHistory       []Query    `json:"query_history"`
	SourcesGathered    []Source   `json:"sources_gathered"`
	WebResearchResults []string   `json:"web_research_results"`
	Citations          []Citation `json:"citations"`
	LoopCount          int        `json:"loop_count"`
	MaxLoops           int        `json:"max_loops"`
	ExecutedQueries    int        `json:"executed_queries"`
	FailedQueries      int        `json:"failed_queries"`
}

func newState(topic string, maxLoops int) ResearchState {
	return ResearchState{
		Topic:    topic,
		Phase:    PhaseInit,
		MaxLoops: maxLoops,
	}
}

func (s ResearchState) clone() ResearchState {
	s.SearchQueries = slices.Clone(s.SearchQueries)
	s.QueryHistory = slices.Clone(s.QueryHistory)
	s.SourcesGathered = slices.Clone(s.SourcesGathered)
	s.WebResearchResults = slices.Clone(s.WebResearchResults)
	s.Citations = slices.Clone(s.Citations)
	return s
}

func (s ResearchState) withPhase(p Phase) ResearchState {
	next := s.clone()
	next.Phase = p
	return next
}

// withQueries replaces the active batch and records it in the history.
func (s ResearchState) withQueries(queries []Query) ResearchState {
	next := s.clone()
	next.SearchQueries = slices.Clone(queries)
	next.QueryHistory = append(next.QueryHistory, queries...)
	return next
}

// withBatch merges the results of one fan-out. results must be in query order,
// which makes the first query that surfaced a URL the owner of that URL.
func (s ResearchState) withBatch(results []WebResult) ResearchState {
	next := s.clone()
	next.SourcesGathered = MergeSources(next.SourcesGathered, collectSources(results)...)
	for _, r := range results {
		next.ExecutedQueries++
		if r.Failed {
			next.FailedQueries++
		}
		next.WebResearchResults = append(next.WebResearchResults, r.Text)
		next.Citations = append(next.Citations, r.Citations...)
	}
	return next
}

func (s ResearchState) withLoop() ResearchState {
	next := s.clone()
	next.LoopCount++
	return next
}

func collectSources(results []WebResult) []Source {
	var out []Source
	for _, r := range results {
		out = append(out, r.Sources...)
	}
	return out
}

// MergeSources appends incoming sources to existing, skipping any URL that is
// already present. The first occurrence always wins; later duplicates are
// discarded even when their title or snippet differ.
func MergeSources(existing []Source, incoming ...Source) []Source {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]Source, 0, len(existing)+len(incoming))
	for _, src := range existing {
		if seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		out = append(out, src)
	}
	for _, src := range incoming {
		if src.URL == "" || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		out = append(out, src)
	}
	return out
}

// TopicFromMessages derives the research topic from the initiating conversation.
// A single message is used verbatim; longer conversations are flattened into a
// transcript so the backends see the whole context.
func TopicFromMessages(messages []Message) string {
	if len(messages) == 1 {
		return strings.TrimSpace(messages[0].Content)
	}

	var sb strings.Builder
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "user", "human":
			sb.WriteString("User: " + m.Content + "\n")
		case "assistant", "ai", "model":
			sb.WriteString("Assistant: " + m.Content + "\n")
		}
	}
	return sb.String()
}
