package research

import "time"

// Query is a single search query together with the reason it was issued.
type Query struct {
	Text      string `json:"query"`
	Rationale string `json:"rationale"`
}

// Source is a piece of evidence returned by the search backend. Its identity is the URL.
type Source struct {
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	Snippet        string  `json:"snippet"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Reflection is the outcome of a sufficiency check.
// IsSufficient is the discriminant; KnowledgeGap and FollowUpQueries are only
// meaningful when it is false.
type Reflection struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

// CitationSegment links a span of text to one resolved source.
type CitationSegment struct {
	Label     string `json:"label"`
	ShortURL  string `json:"short_url"`
	SourceURL string `json:"source_url"`
}

// Citation marks the text span [StartIndex, EndIndex) as supported by Segments.
// Offsets are byte offsets into the annotated text.
type Citation struct {
	StartIndex int               `json:"start_index"`
	EndIndex   int               `json:"end_index"`
	Segments   []CitationSegment `json:"segments"`
}

// Message is one turn of the conversation that initiated a research run.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Outcome tells how the reflect loop terminated.
type Outcome string

const (
	OutcomeSufficient Outcome = "sufficient"
	OutcomeExhausted  Outcome = "exhausted"
	OutcomeCancelled  Outcome = "cancelled"
)

// ResearchResult is the terminal, immutable product of a research run.
type ResearchResult struct {
	RunID           string     `json:"run_id"`
	Topic           string     `json:"topic"`
	Answer          string     `json:"answer"`
	Sources         []Source   `json:"sources"`
	SearchQueries   []string   `json:"search_queries"`
	ResearchLoops   int        `json:"research_loops"`
	Confidence      float64    `json:"confidence"`
	Citations       []Citation `json:"citations"`
	Outcome         Outcome    `json:"outcome"`
	KnowledgeGap    string     `json:"knowledge_gap,omitempty"`
	FailedQueries   int        `json:"failed_queries"`
	ExecutedQueries int        `json:"executed_queries"`
	Timestamp       time.Time  `json:"timestamp"`
}
