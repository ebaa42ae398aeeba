// Package learning implements LearningEngine: online adaptation of
// per-topic ranking weights and per-entry relevance from observed query
// and feedback signals (spec.md §4.5).
package learning

import (
	"fmt"
	"math"
	"sync"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
)

const (
	// DefaultDecay is the EMA decay applied to interest embeddings on
	// every record_query call.
	DefaultDecay = 0.95

	// DefaultMinQueriesForSignal is the minimum observed-query count
	// before a topic's adapted weights deviate from the defaults.
	DefaultMinQueriesForSignal = 10

	minWeight = 0.05
	maxWeight = 0.9
)

// Signal kinds recorded by record_feedback.
const (
	FeedbackImplicit = "implicit"
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
)

type topicState struct {
	interestEmbedding []float32
	queryCount        int
	weights           libcore.RankingWeights
}

type entryFeedback struct {
	implicit int
	positive int
	negative int
}

// LearningEngine tracks, per topic, an EMA'd interest embedding, observed
// query counts, adapted ranking weights, and per-entry feedback tallies
// plus a co-appearance matrix for correlated-entry lookups. global mirrors
// the same accumulator across every topic, used when a topic has too few
// queries of its own or none was given at all.
type LearningEngine struct {
	mu sync.RWMutex

	decay               float64
	minQueriesForSignal int
	defaultWeights      libcore.RankingWeights

	global   *topicState
	topics   map[string]*topicState
	feedback map[string]*entryFeedback
	// coAppearance[a][b] counts how many search results returned both a
	// and b, backing get_correlated_entries.
	coAppearance map[string]map[string]int
}

// Config configures a LearningEngine.
type Config struct {
	Decay                  float64
	MinQueriesForSignal    int
	DefaultVectorWeight    float64
	DefaultRecencyWeight   float64
	DefaultFrequencyWeight float64
}

// New constructs a LearningEngine.
func New(cfg Config) *LearningEngine {
	decay := cfg.Decay
	if decay <= 0 {
		decay = DefaultDecay
	}
	minQueries := cfg.MinQueriesForSignal
	if minQueries <= 0 {
		minQueries = DefaultMinQueriesForSignal
	}
	weights := libcore.RankingWeights{
		Vector:    cfg.DefaultVectorWeight,
		Recency:   cfg.DefaultRecencyWeight,
		Frequency: cfg.DefaultFrequencyWeight,
	}
	if weights.Vector == 0 && weights.Recency == 0 && weights.Frequency == 0 {
		weights = libcore.RankingWeights{Vector: 0.6, Recency: 0.2, Frequency: 0.2}
	}

	return &LearningEngine{
		decay:               decay,
		minQueriesForSignal: minQueries,
		defaultWeights:      weights,
		global:              &topicState{weights: weights},
		topics:              make(map[string]*topicState),
		feedback:            make(map[string]*entryFeedback),
		coAppearance:        make(map[string]map[string]int),
	}
}

// RecordQuery folds queryEmbedding into the global interest embedding, and
// topic's own (if topic is non-empty), via EMA (new = decay*old +
// (1-decay)*query), and records co-appearance between every pair of
// resultIDs returned for this query.
func (l *LearningEngine) RecordQuery(topic string, queryEmbedding []float32, resultIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	accumulate(l.global, queryEmbedding, l.decay)

	if topic != "" {
		state, ok := l.topics[topic]
		if !ok {
			state = &topicState{weights: l.defaultWeights}
			l.topics[topic] = state
		}
		accumulate(state, queryEmbedding, l.decay)
	}

	for i := 0; i < len(resultIDs); i++ {
		for j := i + 1; j < len(resultIDs); j++ {
			l.bumpCoAppearance(resultIDs[i], resultIDs[j])
		}
	}
	return nil
}

func accumulate(state *topicState, queryEmbedding []float32, decay float64) {
	if state.interestEmbedding == nil {
		state.interestEmbedding = append([]float32(nil), queryEmbedding...)
	} else if len(state.interestEmbedding) == len(queryEmbedding) {
		for i := range state.interestEmbedding {
			state.interestEmbedding[i] = float32(decay)*state.interestEmbedding[i] + float32(1-decay)*queryEmbedding[i]
		}
	}
	state.queryCount++
}

func (l *LearningEngine) bumpCoAppearance(a, b string) {
	if l.coAppearance[a] == nil {
		l.coAppearance[a] = make(map[string]int)
	}
	if l.coAppearance[b] == nil {
		l.coAppearance[b] = make(map[string]int)
	}
	l.coAppearance[a][b]++
	l.coAppearance[b][a]++
}

// RecordFeedback records an implicit/positive/negative signal against
// entryID and nudges topic's ranking weights.
func (l *LearningEngine) RecordFeedback(topic, entryID, kind string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fb, ok := l.feedback[entryID]
	if !ok {
		fb = &entryFeedback{}
		l.feedback[entryID] = fb
	}
	switch kind {
	case FeedbackImplicit:
		fb.implicit++
	case FeedbackPositive:
		fb.positive++
	case FeedbackNegative:
		fb.negative++
	default:
		return fmt.Errorf("%w: unknown feedback kind %q", libcore.ErrValidation, kind)
	}

	if topic != "" {
		state, ok := l.topics[topic]
		if !ok {
			state = &topicState{weights: l.defaultWeights}
			l.topics[topic] = state
		}
		l.adjustWeights(state, kind)
	}
	return nil
}

// adjustWeights nudges the vector-weight term toward reflecting whether
// semantic matches (vs. recency/frequency) are earning positive signal,
// then renormalizes so the three terms sum to 1, each clamped to
// [0.05, 0.9].
func (l *LearningEngine) adjustWeights(state *topicState, kind string) {
	const step = 0.02
	switch kind {
	case FeedbackPositive:
		state.weights.Vector += step
	case FeedbackNegative:
		state.weights.Vector -= step
	}

	state.weights.Vector = clamp(state.weights.Vector, minWeight, maxWeight)
	state.weights.Recency = clamp(state.weights.Recency, minWeight, maxWeight)
	state.weights.Frequency = clamp(state.weights.Frequency, minWeight, maxWeight)

	total := state.weights.Vector + state.weights.Recency + state.weights.Frequency
	if total > 0 {
		state.weights.Vector /= total
		state.weights.Recency /= total
		state.weights.Frequency /= total
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// GetRelevanceFeedback returns tanh(0.3*implicit + 1.5*positive -
// 1.5*negative), a signed score in (-1, 1) summarizing observed feedback
// for entryID.
func (l *LearningEngine) GetRelevanceFeedback(entryID string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	fb, ok := l.feedback[entryID]
	if !ok {
		return 0
	}
	x := 0.3*float64(fb.implicit) + 1.5*float64(fb.positive) - 1.5*float64(fb.negative)
	return math.Tanh(x)
}

// GetCorrelatedEntries returns the topN ids most frequently co-returned
// alongside entryID, descending by co-appearance count.
func (l *LearningEngine) GetCorrelatedEntries(entryID string, topN int) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := l.coAppearance[entryID]
	if len(counts) == 0 {
		return nil
	}

	type pair struct {
		id    string
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for id, c := range counts {
		pairs = append(pairs, pair{id, c})
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && (pairs[j-1].count < pairs[j].count || (pairs[j-1].count == pairs[j].count && pairs[j-1].id > pairs[j].id)); j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
	if topN > 0 && topN < len(pairs) {
		pairs = pairs[:topN]
	}

	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.id
	}
	return out
}

// GetInterestEmbedding returns the accumulated interest vector,
// renormalized to unit length, for topic, or the global one when topic is
// empty. Returns nil when fewer than minQueriesForSignal queries have been
// observed at that scope.
func (l *LearningEngine) GetInterestEmbedding(topic string) []float32 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state := l.global
	if topic != "" {
		var ok bool
		state, ok = l.topics[topic]
		if !ok {
			return nil
		}
	}
	if state.interestEmbedding == nil || state.queryCount < l.minQueriesForSignal {
		return nil
	}
	return normalize(state.interestEmbedding)
}

func normalize(vec []float32) []float32 {
	var magSq float64
	for _, f := range vec {
		magSq += float64(f) * float64(f)
	}
	if magSq == 0 {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out
	}
	mag := math.Sqrt(magSq)
	out := make([]float32, len(vec))
	for i, f := range vec {
		out[i] = float32(float64(f) / mag)
	}
	return out
}

// GetAdaptedWeights returns topic's current ranking weights. Below
// minQueriesForSignal observed queries, the configured defaults are
// returned unadapted.
func (l *LearningEngine) GetAdaptedWeights(topic string) libcore.RankingWeights {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, ok := l.topics[topic]
	if !ok || state.queryCount < l.minQueriesForSignal {
		return l.defaultWeights
	}
	return state.weights
}

// ComputeBoost returns a boost in [0, 0.3]: the cosine similarity between
// entryVector and topic's interest embedding (falling back to the global
// one when topic is empty or has no signal yet), clamped to [0, 1] and
// scaled by 0.3 (spec.md §4.5). An entry_id parameter is accepted to match
// the spec's signature but is not presently used by the formula itself.
func (l *LearningEngine) ComputeBoost(entryID string, entryVector []float32, topic string) float64 {
	interest := l.GetInterestEmbedding(topic)
	if interest == nil && topic != "" {
		interest = l.GetInterestEmbedding("")
	}
	if interest == nil || len(entryVector) == 0 {
		return 0
	}

	sim := cosineSimilarity(entryVector, interest)
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return 0.3 * sim
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// PruneEntries drops feedback and co-appearance state for ids no longer
// present in the store, called by Stacks.Delete after a volume is
// removed.
func (l *LearningEngine) PruneEntries(liveIDs map[string]bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id := range l.feedback {
		if !liveIDs[id] {
			delete(l.feedback, id)
		}
	}
	for id := range l.coAppearance {
		if !liveIDs[id] {
			delete(l.coAppearance, id)
			continue
		}
		for other := range l.coAppearance[id] {
			if !liveIDs[other] {
				delete(l.coAppearance[id], other)
			}
		}
	}
}
