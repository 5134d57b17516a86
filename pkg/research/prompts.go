package research

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

const queryWriterPrompt = `You are a research planner.
Your goal is to generate sophisticated and diverse web search queries for the research topic below.

Instructions:
- Generate at most %d queries. Prefer a single query unless the topic has several distinct aspects.
- Each query should focus on one specific aspect of the topic.
- Queries must not be redundant.
- Queries should target the most current information. The current date is %s.

Topic: %s

Return the JSON object directly without any formatting or additional text. The JSON object must follow this schema:
{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "query": {"type": "string"},
          "rationale": {"type": "string", "description": "Why this query is relevant"}
        },
        "required": ["query", "rationale"]
      }
    }
  },
  "required": ["queries"]
}`

const reflectionPrompt = `You are a research manager analyzing summaries about "%s".

The gathered evidence is not yet sufficient. Identify the most important knowledge gap and write up to %d self-contained follow-up search queries that would close it.

Summaries:
%s

Return the JSON object directly without any formatting or additional text:
{"knowledge_gap": "<what is missing>", "follow_up_queries": ["<query>", "..."]}`

const answerPrompt = `Write a concise, well-structured summary answering the research topic below. The current date is %s.
Use only the provided research summaries. Keep every citation marker of the form [label](url) exactly as it appears next to the claim it supports.

Topic: %s

Summaries:
%s`

func currentDate() string {
	return time.Now().Format("January 2, 2006")
}

func formatQueryPrompt(topic string, n int) string {
	return fmt.Sprintf(queryWriterPrompt, n, currentDate(), topic)
}

func formatReflectionPrompt(topic string, summaries []string, maxFollowUps int) string {
	return fmt.Sprintf(reflectionPrompt, topic, maxFollowUps, strings.Join(summaries, "\n\n---\n\n"))
}

func formatAnswerPrompt(topic, summaries string) string {
	return fmt.Sprintf(answerPrompt, currentDate(), topic, summaries)
}

// decodeJSON parses an LLM answer into v. Markdown code fences are stripped and
// broken JSON gets one repair attempt before the answer is declared malformed.
func decodeJSON(raw string, v any) error {
	content := stripCodeFence(raw)
	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return &MalformedResponseError{Backend: backendGeneration, Reason: "unrepairable json", Err: err}
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return &MalformedResponseError{Backend: backendGeneration, Reason: "invalid json", Err: err}
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
