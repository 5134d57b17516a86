package research

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

const resultSeparator = "\n\n---\n\n"

// AnswerSynthesizer compiles the final answer of a run.
type AnswerSynthesizer struct {
	LLM    Generator
	Config Config
	Logger *slog.Logger

	stats *backendStats
}

func NewAnswerSynthesizer(llm Generator, cfg Config, logger *slog.Logger) *AnswerSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerSynthesizer{LLM: llm, Config: cfg, Logger: logger}
}

// Synthesize renders the answer, the deduplicated source list and the
// confidence of state. It never fails: a summary the backend could not write
// is replaced by the joined research snippets.
func (s *AnswerSynthesizer) Synthesize(ctx context.Context, state ResearchState) *ResearchResult {
	sources := MergeSources(nil, state.SourcesGathered...)

	var snippets []string
	for _, text := range state.WebResearchResults {
		if strings.TrimSpace(text) != "" {
			snippets = append(snippets, text)
		}
	}
	summary := strings.Join(snippets, resultSeparator)

	if s.Config.SummarizeAnswer && s.LLM != nil && summary != "" && ctx.Err() == nil {
		prompt := formatAnswerPrompt(state.Topic, summary)
		written, err := callWithRetry(ctx, newPolicy(s.Config, s.stats), backendGeneration, s.Logger,
			func(ctx context.Context) (string, error) {
				return s.LLM.Generate(ctx, prompt)
			})
		if err != nil {
			s.Logger.Warn("Answer generation failed, using research snippets", "error", err)
		} else {
			summary = strings.TrimSpace(written)
		}
	}

	answer := RestoreCitationURLs(renderAnswer(state.Topic, summary, sources, state.LoopCount), state.Citations)

	return &ResearchResult{
		Topic:           state.Topic,
		Answer:          answer,
		Sources:         sources,
		SearchQueries:   queryTexts(state.QueryHistory),
		ResearchLoops:   state.LoopCount,
		Confidence:      Confidence(sources, state.LoopCount),
		Citations:       state.Citations,
		FailedQueries:   state.FailedQueries,
		ExecutedQueries: state.ExecutedQueries,
		Timestamp:       time.Now().UTC(),
	}
}

func renderAnswer(topic, summary string, sources []Source, loops int) string {
	var sb strings.Builder
	sb.WriteString("# " + strings.TrimSpace(topic) + "\n\n")

	sb.WriteString("## Summary\n\n")
	if summary == "" {
		sb.WriteString("No research findings were gathered.\n\n")
	} else {
		sb.WriteString(summary + "\n\n")
	}

	sb.WriteString("## Sources\n\n")
	if len(sources) == 0 {
		sb.WriteString("No sources were found.\n\n")
	}
	for i, src := range sources {
		title := src.Title
		if title == "" {
			title = src.URL
		}
		sb.WriteString(fmt.Sprintf("%d. [%s](%s)\n", i+1, title, src.URL))
		if snippet := strings.TrimSpace(src.Snippet); snippet != "" {
			sb.WriteString("   " + snippet + "\n")
		}
	}
	if len(sources) > 0 {
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("Compiled from %d sources across %d research loops.", len(sources), loops))
	return sb.String()
}

// Confidence scores a result:
//
//	0.5 + min(0.1*sources, 0.3) + min(0.1*loops, 0.2) + 0.2*averageRelevance
//
// clamped to [0, 1]. Without sources the average relevance is 0.
func Confidence(sources []Source, loops int) float64 {
	confidence := 0.5
	confidence += math.Min(0.1*float64(len(sources)), 0.3)
	confidence += math.Min(0.1*float64(max(loops, 0)), 0.2)

	if len(sources) > 0 {
		var total float64
		for _, src := range sources {
			total += clamp01(src.RelevanceScore)
		}
		confidence += 0.2 * (total / float64(len(sources)))
	}
	return clamp01(confidence)
}
