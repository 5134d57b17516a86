package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSufficient(t *testing.T) {
	tests := []struct {
		name        string
		accumulated []string
		loopCount   int
		maxLoops    int
		want        bool
	}{
		{"enough distinct evidence", []string{"a", "b", "c"}, 0, 3, true},
		{"duplicates count once", []string{"a", "a", "a"}, 0, 3, false},
		{"blank evidence ignored", []string{"a", " ", "", "b"}, 0, 3, false},
		{"last loop", nil, 2, 3, true},
		{"no loops allowed", nil, 0, 0, true},
		{"early loop without evidence", nil, 0, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSufficient(tt.accumulated, tt.loopCount, tt.maxLoops, 3))
		})
	}
}

func TestReflectSufficientSkipsBackend(t *testing.T) {
	llm := &countingGenerator{out: "{}"}
	r := NewReflectionEvaluator(llm, testConfig(), nil)

	reflection, err := r.Reflect(context.Background(), "topic", []string{"a", "b", "c"}, 0, 3)
	require.NoError(t, err)
	assert.True(t, reflection.IsSufficient)
	assert.Empty(t, reflection.FollowUpQueries)
	assert.Zero(t, llm.calls.Load())
}

func TestReflectUsesBackendFollowUps(t *testing.T) {
	llm := &countingGenerator{out: `{"knowledge_gap": "missing cost data", "follow_up_queries": ["q1", "q2", "q3"]}`}
	r := NewReflectionEvaluator(llm, testConfig(), nil)

	reflection, err := r.Reflect(context.Background(), "topic", []string{"a"}, 0, 3)
	require.NoError(t, err)
	assert.False(t, reflection.IsSufficient)
	assert.Equal(t, "missing cost data", reflection.KnowledgeGap)
	assert.Equal(t, []string{"q1", "q2"}, reflection.FollowUpQueries)
}

func TestReflectFillsEmptyBackendAnswer(t *testing.T) {
	llm := &countingGenerator{out: `{"knowledge_gap": "", "follow_up_queries": []}`}
	r := NewReflectionEvaluator(llm, testConfig(), nil)

	reflection, err := r.Reflect(context.Background(), "topic", nil, 0, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, reflection.KnowledgeGap)
	assert.Equal(t, heuristicReflection("topic").FollowUpQueries, reflection.FollowUpQueries)
}

func TestReflectFallsBackOnBackendFailure(t *testing.T) {
	r := NewReflectionEvaluator(failingGenerator(), testConfig(), nil)

	reflection, err := r.Reflect(context.Background(), "topic", nil, 0, 3)
	require.Error(t, err)
	assert.Equal(t, heuristicReflection("topic"), reflection)
	assert.Len(t, reflection.FollowUpQueries, 2)
}

func TestReflectWithoutBackend(t *testing.T) {
	r := NewReflectionEvaluator(nil, testConfig(), nil)

	reflection, err := r.Reflect(context.Background(), "topic", nil, 0, 3)
	require.NoError(t, err)
	assert.False(t, reflection.IsSufficient)
	assert.NotEmpty(t, reflection.KnowledgeGap)
	assert.Equal(t, []string{"topic additional details", "topic expert opinions"}, reflection.FollowUpQueries)
}
