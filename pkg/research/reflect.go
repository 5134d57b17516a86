package research

import (
	"context"
	"log/slog"
	"strings"
)

const maxFollowUpQueries = 2

// ReflectionEvaluator decides whether the gathered evidence is sufficient.
//
// The decision itself is deterministic. The generation backend, when present,
// only words the knowledge gap and the follow-up queries.
type ReflectionEvaluator struct {
	LLM    Generator
	Config Config
	Logger *slog.Logger

	stats *backendStats
}

func NewReflectionEvaluator(llm Generator, cfg Config, logger *slog.Logger) *ReflectionEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReflectionEvaluator{LLM: llm, Config: cfg, Logger: logger}
}

// IsSufficient reports whether enough distinct evidence has been gathered or
// the run has reached its last allowed loop.
func IsSufficient(accumulated []string, loopCount, maxLoops, minEvidence int) bool {
	return distinctEvidence(accumulated) >= minEvidence || loopCount >= maxLoops-1
}

func distinctEvidence(accumulated []string) int {
	seen := make(map[string]bool, len(accumulated))
	for _, text := range accumulated {
		text = strings.TrimSpace(text)
		if text != "" {
			seen[text] = true
		}
	}
	return len(seen)
}

// Reflect evaluates the evidence. When it is insufficient the reflection always
// carries a non-empty knowledge gap and one or two follow-up queries; the error
// reports a backend failure that was covered by the heuristic.
func (r *ReflectionEvaluator) Reflect(ctx context.Context, topic string, accumulated []string, loopCount, maxLoops int) (Reflection, error) {
	if IsSufficient(accumulated, loopCount, maxLoops, r.Config.MinEvidence) {
		return Reflection{IsSufficient: true}, nil
	}

	fallback := heuristicReflection(topic)
	if r.LLM == nil {
		return fallback, nil
	}

	prompt := formatReflectionPrompt(topic, accumulated, maxFollowUpQueries)
	reflection, err := callWithRetry(ctx, newPolicy(r.Config, r.stats), backendGeneration, r.Logger,
		func(ctx context.Context) (Reflection, error) {
			raw, err := r.LLM.Generate(ctx, prompt)
			if err != nil {
				return Reflection{}, err
			}
			var out Reflection
			if err := decodeJSON(raw, &out); err != nil {
				return Reflection{}, err
			}
			return out, nil
		})
	if err != nil {
		r.Logger.Warn("Reflection generation failed, using heuristic follow-ups", "error", err)
		return fallback, err
	}

	reflection.IsSufficient = false
	reflection.KnowledgeGap = strings.TrimSpace(reflection.KnowledgeGap)
	if reflection.KnowledgeGap == "" {
		reflection.KnowledgeGap = fallback.KnowledgeGap
	}
	followUps := normalizeQueries(textQueries(reflection.FollowUpQueries), maxFollowUpQueries)
	if len(followUps) == 0 {
		reflection.FollowUpQueries = fallback.FollowUpQueries
	} else {
		reflection.FollowUpQueries = queryTexts(followUps)
	}
	return reflection, nil
}

func heuristicReflection(topic string) Reflection {
	topic = strings.TrimSpace(topic)
	return Reflection{
		IsSufficient: false,
		KnowledgeGap: "More specific details and specialised sources are needed",
		FollowUpQueries: []string{
			topic + " additional details",
			topic + " expert opinions",
		},
	}
}

func textQueries(texts []string) []Query {
	out := make([]Query, len(texts))
	for i, t := range texts {
		out[i] = Query{Text: t}
	}
	return out
}
