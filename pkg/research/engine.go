package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/research-orchestrator/pkg/metrics"
)

// ResearchEngine drives the generate, research, reflect and synthesize loop.
// One engine can serve concurrent runs; every run owns its own state.
type ResearchEngine struct {
	Config Config
	LLM    Generator
	Search Searcher
	// Reflector overrides the ReflectionEvaluator built over LLM for each run.
	Reflector Reflector
	Logger    *slog.Logger
	// OnStateUpdate, when set, receives a snapshot at every phase change.
	OnStateUpdate func(state ResearchState)
}

// NewEngine validates cfg and builds an engine. llm may be nil, in which case
// every generation step uses its heuristic.
func NewEngine(llm Generator, search Searcher, cfg Config) (*ResearchEngine, error) {
	if search == nil {
		return nil, &FatalConfigurationError{Field: "search", Reason: "a search backend is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ResearchEngine{
		Config: cfg,
		LLM:    llm,
		Search: search,
		Logger: slog.Default(),
	}, nil
}

// ResearchMessages derives the topic from the initiating conversation and runs Research.
func (e *ResearchEngine) ResearchMessages(ctx context.Context, messages []Message, opts ...Option) (*ResearchResult, error) {
	return e.Research(ctx, TopicFromMessages(messages), opts...)
}

// Research answers topic. Only configuration errors abort a run before it
// starts. Backend failures degrade to heuristics, and a cancelled ctx yields a
// partial result. When neither backend answered a single call the heuristic
// result is returned together with an error wrapping ErrBackendUnavailable.
func (e *ResearchEngine) Research(ctx context.Context, topic string, opts ...Option) (*ResearchResult, error) {
	cfg := e.Config.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, &FatalConfigurationError{Field: "topic", Reason: "must not be empty"}
	}

	runID := uuid.NewString()
	logger := e.logger().With("run_id", runID)
	stats := &backendStats{}
	started := time.Now()

	queryGen := NewQueryGenerator(e.LLM, cfg, logger)
	queryGen.stats = stats
	web := NewWebResearcher(e.Search, cfg, logger)
	web.stats = stats
	reflector := e.Reflector
	if reflector == nil {
		evaluator := NewReflectionEvaluator(e.LLM, cfg, logger)
		evaluator.stats = stats
		reflector = evaluator
	}
	synth := NewAnswerSynthesizer(e.LLM, cfg, logger)
	synth.stats = stats

	logger.Info("Starting research loop", "topic", topic, "max_loops", cfg.MaxLoops)

	state := newState(topic, cfg.MaxLoops)
	e.publish(state)

	// 1. Generate
	state = state.withPhase(PhaseGenerating)
	e.publish(state)
	queries, err := queryGen.Generate(ctx, topic, state)
	if err != nil {
		logger.Warn("Continuing with heuristic queries", "error", err)
	}
	state = state.withQueries(queries)

	// 2. Initial research
	outcome := OutcomeExhausted
	if ctx.Err() != nil {
		outcome = OutcomeCancelled
	} else {
		state = e.researchBatch(ctx, web, state)
	}

	// 3. Reflect loop
	var knowledgeGap string
loop:
	for outcome != OutcomeCancelled && state.LoopCount < state.MaxLoops {
		if ctx.Err() != nil {
			outcome = OutcomeCancelled
			break
		}

		state = state.withPhase(PhaseReflecting)
		e.publish(state)
		reflection, err := reflector.Reflect(ctx, topic, state.WebResearchResults, state.LoopCount, state.MaxLoops)
		if err != nil {
			logger.Warn("Continuing with heuristic reflection", "error", err)
		}

		followUps := queryGen.FollowUps(reflection)
		switch {
		case reflection.IsSufficient:
			logger.Info("Research complete!", "loop", state.LoopCount)
			outcome = OutcomeSufficient
			knowledgeGap = ""
			break loop
		case len(followUps) == 0:
			logger.Warn("Reflection gave no follow-up queries, stopping", "knowledge_gap", reflection.KnowledgeGap)
			outcome = OutcomeSufficient
			knowledgeGap = reflection.KnowledgeGap
			break loop
		}

		knowledgeGap = reflection.KnowledgeGap
		logger.Info("Adjusting focus", "knowledge_gap", knowledgeGap, "follow_ups", queryTexts(followUps))

		if ctx.Err() != nil {
			outcome = OutcomeCancelled
			break
		}
		state = state.withQueries(followUps)
		state = e.researchBatch(ctx, web, state)
		if ctx.Err() != nil {
			outcome = OutcomeCancelled
			break
		}
		state = state.withLoop()
	}

	// 4. Synthesize
	state = state.withPhase(PhaseSynthesizing)
	e.publish(state)
	result := synth.Synthesize(ctx, state)
	result.RunID = runID
	result.Outcome = outcome
	result.KnowledgeGap = knowledgeGap

	metrics.RunsCompleted.WithLabelValues(string(outcome)).Inc()
	metrics.RunLoops.Observe(float64(result.ResearchLoops))
	metrics.RunConfidence.Observe(result.Confidence)
	metrics.RunDuration.Observe(time.Since(started).Seconds())

	if stats.unavailable() {
		e.publish(state.withPhase(PhaseFailed))
		logger.Error("Research finished without reaching any backend", "outcome", outcome)
		return result, fmt.Errorf("research run %s: %w", runID, ErrBackendUnavailable)
	}

	e.publish(state.withPhase(PhaseDone))
	logger.Info("Final answer compiled",
		"outcome", outcome,
		"loops", result.ResearchLoops,
		"sources", len(result.Sources),
		"confidence", result.Confidence,
		"failed_queries", result.FailedQueries,
	)
	return result, nil
}

// researchBatch fans the active queries out and merges the whole batch at once.
func (e *ResearchEngine) researchBatch(ctx context.Context, web *WebResearcher, state ResearchState) ResearchState {
	state = state.withPhase(PhaseResearching)
	e.publish(state)
	results := web.executeBatch(ctx, state.SearchQueries, state.ExecutedQueries)
	return state.withBatch(results)
}

func (e *ResearchEngine) publish(state ResearchState) {
	if e.OnStateUpdate != nil {
		e.OnStateUpdate(state)
	}
}

func (e *ResearchEngine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
