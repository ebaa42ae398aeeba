package learning

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFeedback_MonotonicWithPositiveSignal(t *testing.T) {
	l := New(Config{})

	before := l.GetRelevanceFeedback("entry-1")
	require.NoError(t, l.RecordFeedback("topic", "entry-1", FeedbackPositive))
	after := l.GetRelevanceFeedback("entry-1")

	assert.Greater(t, after, before)
}

func TestRecordFeedback_NegativeLowersScore(t *testing.T) {
	l := New(Config{})

	require.NoError(t, l.RecordFeedback("topic", "entry-1", FeedbackPositive))
	mid := l.GetRelevanceFeedback("entry-1")
	require.NoError(t, l.RecordFeedback("topic", "entry-1", FeedbackNegative))
	after := l.GetRelevanceFeedback("entry-1")

	assert.Less(t, after, mid)
}

func TestGetAdaptedWeights_DefaultsBelowMinQueries(t *testing.T) {
	l := New(Config{MinQueriesForSignal: 10})
	require.NoError(t, l.RecordQuery("topic", []float32{1, 0}, nil))

	weights := l.GetAdaptedWeights("topic")
	assert.Equal(t, 0.6, weights.Vector)
}

func TestAdjustWeights_StaysWithinBounds(t *testing.T) {
	l := New(Config{})
	for i := 0; i < DefaultMinQueriesForSignal; i++ {
		require.NoError(t, l.RecordQuery("topic", []float32{1, 0}, nil))
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, l.RecordFeedback("topic", "entry", FeedbackPositive))
	}
	weights := l.GetAdaptedWeights("topic")
	assert.LessOrEqual(t, weights.Vector, 0.9)
	assert.GreaterOrEqual(t, weights.Recency, 0.05)
}

func TestGetCorrelatedEntries_ReturnsCoAppearing(t *testing.T) {
	l := New(Config{})
	require.NoError(t, l.RecordQuery("topic", []float32{1, 0}, []string{"a", "b", "c"}))
	require.NoError(t, l.RecordQuery("topic", []float32{1, 0}, []string{"a", "b"}))

	correlated := l.GetCorrelatedEntries("a", 5)
	assert.Equal(t, []string{"b", "c"}, correlated)
}

func TestComputeBoost_ClampedToSpecRange(t *testing.T) {
	l := New(Config{MinQueriesForSignal: 3})
	for i := 0; i < 3; i++ {
		require.NoError(t, l.RecordQuery("topic", []float32{1, 0}, nil))
	}

	boost := l.ComputeBoost("entry-1", []float32{1, 0}, "topic")
	assert.InDelta(t, 0.3, boost, 1e-9)

	orthogonal := l.ComputeBoost("entry-1", []float32{0, 1}, "topic")
	assert.InDelta(t, 0, orthogonal, 1e-9)
}

func TestComputeBoost_FallsBackToGlobalWhenTopicHasNoSignal(t *testing.T) {
	l := New(Config{MinQueriesForSignal: 3})
	for i := 0; i < 3; i++ {
		require.NoError(t, l.RecordQuery("", []float32{1, 0}, nil))
	}

	boost := l.ComputeBoost("entry-1", []float32{1, 0}, "unseen-topic")
	assert.InDelta(t, 0.3, boost, 1e-9)
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := New(Config{})
	require.NoError(t, l.RecordQuery("topic", []float32{1, 2, 3}, []string{"a", "b"}))
	require.NoError(t, l.RecordFeedback("topic", "a", FeedbackPositive))

	var buf bytes.Buffer
	_, err := l.WriteTo(&buf)
	require.NoError(t, err)

	restored := New(Config{})
	_, err = restored.ReadFrom(&buf)
	require.NoError(t, err)

	assert.Equal(t, l.GetInterestEmbedding("topic"), restored.GetInterestEmbedding("topic"))
	assert.Equal(t, l.GetRelevanceFeedback("a"), restored.GetRelevanceFeedback("a"))
}
