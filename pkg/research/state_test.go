package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateHelpersDoNotMutate(t *testing.T) {
	base := newState("topic", 3).withQueries([]Query{{Text: "q1"}})
	before := base.clone()

	next := base.withQueries([]Query{{Text: "q2"}}).
		withBatch([]WebResult{
			{Query: Query{Text: "q2"}, Sources: []Source{{URL: "https://a.org"}}, Text: "t2"},
			{Query: Query{Text: "q3"}, Failed: true},
		}).
		withLoop().
		withPhase(PhaseReflecting)

	assert.Equal(t, before, base)

	assert.Equal(t, 1, next.LoopCount)
	assert.Equal(t, PhaseReflecting, next.Phase)
	assert.Equal(t, []Query{{Text: "q2"}}, next.SearchQueries)
	assert.Equal(t, []string{"q1", "q2"}, queryTexts(next.QueryHistory))
	assert.Equal(t, 2, next.ExecutedQueries)
	assert.Equal(t, 1, next.FailedQueries)
	assert.Equal(t, []string{"t2", ""}, next.WebResearchResults)
	require.Len(t, next.SourcesGathered, 1)
}

func TestMergeSources(t *testing.T) {
	existing := []Source{{URL: "https://a.org", Title: "first"}}
	merged := MergeSources(existing,
		Source{URL: "https://a.org", Title: "second"},
		Source{URL: ""},
		Source{URL: "https://b.org", Title: "b"},
		Source{URL: "https://b.org", Title: "b again"},
	)

	assert.Equal(t, []Source{
		{URL: "https://a.org", Title: "first"},
		{URL: "https://b.org", Title: "b"},
	}, merged)
	assert.Len(t, existing, 1)
}

func TestTopicFromMessages(t *testing.T) {
	assert.Equal(t, "What is RAG?", TopicFromMessages([]Message{{Role: "user", Content: " What is RAG? "}}))

	transcript := TopicFromMessages([]Message{
		{Role: "user", Content: "Tell me about heat pumps"},
		{Role: "assistant", Content: "Which aspect?"},
		{Role: "system", Content: "ignored"},
		{Role: "human", Content: "Efficiency in cold climates"},
	})
	assert.Equal(t, "User: Tell me about heat pumps\nAssistant: Which aspect?\nUser: Efficiency in cold climates\n", transcript)

	assert.Empty(t, TopicFromMessages(nil))
}
