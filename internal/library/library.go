// Package library implements Library: the user-facing API façade over
// Stacks, CirculationDesk, and LibrarianRegistry — add/search/compendium
// and friends (spec.md §4.7).
package library

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/librarycore/internal/circulation"
	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/fyrsmithlabs/librarycore/internal/librarian"
	"github.com/fyrsmithlabs/librarycore/internal/providers"
	"github.com/fyrsmithlabs/librarycore/internal/stacks"
	"go.uber.org/zap"
)

// Config configures a Library.
type Config struct {
	// ScrubSecrets, when set, runs incoming text through a secret-pattern
	// scrubber before it is embedded and stored.
	ScrubSecrets bool
}

// BoostConfig toggles and weights one of AdvancedSearch's additive score
// terms (spec.md §4.7).
type BoostConfig struct {
	Enabled bool
	Weight  float64
}

// AdvancedSearchRequest configures AdvancedSearch (spec.md §4.7). TopicFilter
// restricts candidates to an exact topic (one entry) or any of several
// (multiple entries); empty means no filtering.
type AdvancedSearchRequest struct {
	Query         string
	MaxResults    int
	MinSimilarity float64
	GraphBoost    BoostConfig
	LearningBoost BoostConfig
	TopicFilter   []string
}

// Library is the single entry point applications embed: it owns a Stacks
// instance, a CirculationDesk, and a LibrarianRegistry, and translates the
// provider-facing embedding/generation calls into Stacks operations.
type Library struct {
	stacks     *stacks.Stacks
	desk       *circulation.Desk
	registry   *librarian.Registry
	embedder   providers.EmbeddingProvider
	generator  providers.TextGenerationProvider
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Library. embedder is required; generator and registry
// may be nil. Without a generator, Compendium reports
// libcore.ErrNotInitialized and specialist escalation is declined with a
// logged libcore.ErrSpecialistNotNeeded; without a registry, specialist
// escalation is skipped.
func New(s *stacks.Stacks, desk *circulation.Desk, registry *librarian.Registry, embedder providers.EmbeddingProvider, generator providers.TextGenerationProvider, cfg Config, logger *zap.Logger) (*Library, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: stacks is required", libcore.ErrValidation)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", libcore.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{
		stacks:    s,
		desk:      desk,
		registry:  registry,
		embedder:  embedder,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Add embeds text, stores it under topic with optional metadata, and
// returns the assigned volume id. Secret scrubbing runs before embedding
// when Config.ScrubSecrets is set.
func (l *Library) Add(ctx context.Context, text, topic string, metadata map[string]string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text must not be empty", libcore.ErrValidation)
	}
	if l.cfg.ScrubSecrets {
		text = scrubSecrets(text)
	}

	embedding, err := l.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return "", libcore.NewProviderError("embedding", err)
	}
	if len(embedding) != 1 {
		return "", fmt.Errorf("%w: embedding provider returned %d vectors for 1 document", libcore.ErrIO, len(embedding))
	}

	id, err := l.stacks.Add(ctx, libcore.Volume{Text: text, Embedding: embedding[0], Topic: topic, Metadata: metadata})
	if err != nil {
		return "", err
	}

	if l.desk != nil {
		l.desk.NoteVolumeAdded(topic, l.Size())
		if l.desk.ShouldEscalate(topic) && l.registry != nil {
			l.maybeSpawnSpecialist(ctx, topic)
		}
	}
	return id, nil
}

// AddBatch adds every text under the one given topic, embedding all of
// them in a single EmbedDocuments call.
func (l *Library) AddBatch(ctx context.Context, texts []string, topic string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	cleaned := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: text at index %d must not be empty", libcore.ErrValidation, i)
		}
		if l.cfg.ScrubSecrets {
			t = scrubSecrets(t)
		}
		cleaned[i] = t
	}

	embeddings, err := l.embedder.EmbedDocuments(ctx, cleaned)
	if err != nil {
		return nil, libcore.NewProviderError("embedding", err)
	}
	if len(embeddings) != len(cleaned) {
		return nil, fmt.Errorf("%w: embedding provider returned %d vectors for %d documents", libcore.ErrIO, len(embeddings), len(cleaned))
	}

	vols := make([]libcore.Volume, len(cleaned))
	for i, t := range cleaned {
		vols[i] = libcore.Volume{Text: t, Embedding: embeddings[i], Topic: topic}
	}
	ids, err := l.stacks.AddBatch(ctx, vols)
	if err != nil {
		return nil, err
	}

	if l.desk != nil {
		l.desk.NoteVolumeAdded(topic, l.Size())
	}
	return ids, nil
}

// Delete removes a single volume by id.
func (l *Library) Delete(ctx context.Context, id string) error {
	return l.stacks.Delete(ctx, id)
}

// DeleteBatch removes every listed id, collecting (not stopping on) the
// first error so a partial failure doesn't abandon the remaining deletes.
func (l *Library) DeleteBatch(ctx context.Context, ids []string) error {
	var firstErr error
	for _, id := range ids {
		if err := l.stacks.Delete(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetByID returns the volume stored under id.
func (l *Library) GetByID(id string) (libcore.Volume, bool) {
	return l.stacks.GetVolume(id)
}

// Size reports the current number of stored volumes.
func (l *Library) Size() int {
	return l.stacks.Size()
}

// Clear removes every stored volume.
func (l *Library) Clear(ctx context.Context) error {
	return l.stacks.Clear(ctx)
}

// Search embeds query and returns the topK nearest volumes with similarity
// at or above minSimilarity, ranked by vector similarity plus Stacks'
// learned recency/frequency adjustments. topic does not filter the
// results; it selects the learned ranking weights and the scope under
// which the query is recorded.
func (l *Library) Search(ctx context.Context, topic, query string, topK int, minSimilarity float64) ([]libcore.ScoredVolume, error) {
	embedding, err := l.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, libcore.NewProviderError("embedding", err)
	}
	return l.stacks.Search(ctx, topic, embedding, topK, minSimilarity)
}

// AdvancedSearch embeds req.Query (text mode "fuzzy"), drops candidates
// outside TopicFilter, scores the rest by cosine similarity, then layers on
// graph_boost (the average similarity of a candidate's direct neighbors to
// the query vector, weighted and capped at the configured weight) and
// learning_boost (LearningEngine.ComputeBoost, weighted) and re-sorts
// (spec.md §4.7).
func (l *Library) AdvancedSearch(ctx context.Context, req AdvancedSearchRequest) ([]libcore.ScoredVolume, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", libcore.ErrValidation)
	}

	candidateK := req.MaxResults * 4
	if candidateK < req.MaxResults {
		candidateK = req.MaxResults
	}
	candidates, err := l.Search(ctx, "", req.Query, candidateK, req.MinSimilarity)
	if err != nil {
		return nil, err
	}

	if len(req.TopicFilter) > 0 {
		filtered := candidates[:0]
		for _, c := range candidates {
			if containsTopic(req.TopicFilter, c.Volume.Topic) {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	queryEmbedding, err := l.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, libcore.NewProviderError("embedding", err)
	}
	boostTopic := ""
	if len(req.TopicFilter) > 0 {
		boostTopic = req.TopicFilter[0]
	}

	for i := range candidates {
		c := &candidates[i]
		if req.GraphBoost.Enabled {
			boost := l.graphBoost(c.Volume.ID, queryEmbedding, req.GraphBoost.Weight)
			c.Score += boost
			c.GraphBoost = floatPtr(boost)
		}
		if req.LearningBoost.Enabled {
			boost := req.LearningBoost.Weight * l.stacks.ComputeLearningBoost(c.Volume.ID, c.Volume.Embedding, boostTopic)
			c.Score += boost
			c.LearningBoost = floatPtr(boost)
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if req.MaxResults > 0 && req.MaxResults < len(candidates) {
		candidates = candidates[:req.MaxResults]
	}
	return candidates, nil
}

// graphBoost is weight x the average cosine similarity of id's direct
// neighbors to queryVector, capped at weight (spec.md §4.7).
func (l *Library) graphBoost(id string, queryVector []float32, weight float64) float64 {
	neighbors := l.stacks.GraphNeighbors(id, "")
	if len(neighbors) == 0 {
		return 0
	}
	var total float64
	var n int
	for _, nb := range neighbors {
		other, ok := l.stacks.GetVolume(nb.OtherID)
		if !ok {
			continue
		}
		total += cosineSimilarity(queryVector, other.Embedding)
		n++
	}
	if n == 0 {
		return 0
	}
	boost := weight * (total / float64(n))
	if boost > weight {
		boost = weight
	}
	if boost < 0 {
		boost = 0
	}
	return boost
}

func containsTopic(filter []string, topic string) bool {
	for _, f := range filter {
		if f == topic {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, ma, mb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		ma += float64(a[i]) * float64(a[i])
		mb += float64(b[i]) * float64(b[i])
	}
	if ma == 0 || mb == 0 {
		return 0
	}
	return dot / (math.Sqrt(ma) * math.Sqrt(mb))
}

func floatPtr(v float64) *float64 {
	return &v
}

// CheckDuplicate reports whether embedding text would collide with an
// existing volume above Stacks' configured duplicate threshold.
func (l *Library) CheckDuplicate(ctx context.Context, text string) (id string, similarity float64, isDuplicate bool, err error) {
	embedding, err := l.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return "", 0, false, libcore.NewProviderError("embedding", err)
	}
	return l.stacks.CheckDuplicate(ctx, embedding)
}

// FilterByTopic returns every stored volume whose Topic equals topic.
func (l *Library) FilterByTopic(topic string) []libcore.Volume {
	return l.stacks.VolumesByTopic(topic)
}

// GetTopics returns every topic path currently registered in the catalog.
func (l *Library) GetTopics() []string {
	return l.stacks.Topics()
}

// Compendium fetches the volumes named by ids, concatenates their text,
// asks the text generator to synthesize a summary, inserts the result as a
// new volume tagged entryType=compendium, and optionally deletes the
// sources. Fails with libcore.ErrValidation when fewer than 2 ids are
// given and libcore.ErrNotInitialized when no generator was configured
// (spec.md §4.7).
func (l *Library) Compendium(ctx context.Context, ids []string, deleteOriginals bool) (libcore.CompendiumResult, error) {
	if len(ids) < 2 {
		return libcore.CompendiumResult{}, fmt.Errorf("%w: compendium needs at least 2 source ids, got %d", libcore.ErrValidation, len(ids))
	}
	if l.generator == nil {
		return libcore.CompendiumResult{}, fmt.Errorf("%w: no text generation provider configured", libcore.ErrNotInitialized)
	}

	vols := make([]libcore.Volume, 0, len(ids))
	var topic string
	for _, id := range ids {
		vol, ok := l.stacks.GetVolume(id)
		if !ok {
			return libcore.CompendiumResult{}, fmt.Errorf("%w: volume %q", libcore.ErrNotFound, id)
		}
		vols = append(vols, vol)
		if topic == "" {
			topic = vol.Topic
		}
	}

	texts := make([]string, len(vols))
	for i, v := range vols {
		texts[i] = v.Text
	}
	prompt := fmt.Sprintf("Synthesize a compendium summarizing these %d entries:\n\n%s", len(texts), strings.Join(texts, "\n---\n"))
	summary, err := l.generator.Generate(ctx, "You write concise compendium summaries of a knowledge base topic.", prompt)
	if err != nil {
		return libcore.CompendiumResult{}, libcore.NewProviderError("textgen", err)
	}

	if _, err := l.Add(ctx, summary, topic, map[string]string{"entryType": "compendium"}); err != nil {
		return libcore.CompendiumResult{}, err
	}

	if deleteOriginals {
		for _, id := range ids {
			if err := l.stacks.Delete(ctx, id); err != nil {
				l.logger.Warn("deleting compendium source volume", zap.String("id", id), zap.Error(err))
			}
		}
	}

	return libcore.CompendiumResult{Text: summary, SourceIDs: ids, DeletedOriginals: deleteOriginals}, nil
}

// Dispose flushes Stacks and drains any pending circulation jobs.
func (l *Library) Dispose(ctx context.Context) error {
	if l.desk != nil {
		l.desk.Dispose(ctx)
	}
	if l.registry != nil {
		_ = l.registry.Close()
	}
	return l.stacks.Dispose(ctx)
}

func (l *Library) maybeSpawnSpecialist(ctx context.Context, topic string) {
	vols := l.stacks.VolumesByTopic(topic)
	if len(vols) == 0 {
		return
	}
	samples := make([]string, 0, 5)
	for i, v := range vols {
		if i >= 5 {
			break
		}
		samples = append(samples, v.Text)
	}
	if _, err := l.registry.SpawnSpecialist(ctx, topic, samples); err != nil {
		l.logger.Debug("specialist escalation declined", zap.String("topic", topic), zap.Error(err))
	}
}
