// Package stacks implements Stacks: the transactional façade over
// VectorIndex, GraphIndex, TopicCatalog, and LearningEngine, enforcing the
// duplicate policy and debounced persistence (spec.md §4.6).
package stacks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/librarycore/internal/graphindex"
	"github.com/fyrsmithlabs/librarycore/internal/learning"
	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/fyrsmithlabs/librarycore/internal/libstorage"
	"github.com/fyrsmithlabs/librarycore/internal/topiccatalog"
	"github.com/fyrsmithlabs/librarycore/internal/vectorindex"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/fyrsmithlabs/librarycore/internal/stacks"

// DuplicateBehavior enumerates how Add reacts when check_duplicate finds
// a near-duplicate.
type DuplicateBehavior string

const (
	DuplicateSkip  DuplicateBehavior = "skip"
	DuplicateWarn  DuplicateBehavior = "warn"
	DuplicateError DuplicateBehavior = "error"
)

// Config configures a Stacks instance.
type Config struct {
	DuplicateThreshold float64
	DuplicateBehavior  DuplicateBehavior
	DebounceInterval   time.Duration
}

// Stacks is the single-writer, parallel-reader façade wiring together the
// four leaf indices, plus debounced persistence and typed event
// publication. VectorIndex is the single source of truth for volume
// records; Stacks itself holds no parallel copy.
type Stacks struct {
	mu sync.RWMutex

	vectors  *vectorindex.VectorIndex
	catalog  *topiccatalog.TopicCatalog
	graph    *graphindex.GraphIndex
	learning *learning.LearningEngine

	backend libstorage.Backend
	cfg     Config
	logger  *zap.Logger
	events  libcore.EventEmitter
	tracer  trace.Tracer

	debounceTimer *time.Timer
	dirty         bool
	closed        bool
}

// New constructs a Stacks instance backed by the given leaf indices and
// storage backend, and synchronously loads any existing snapshot.
func New(ctx context.Context, vectors *vectorindex.VectorIndex, catalog *topiccatalog.TopicCatalog, graph *graphindex.GraphIndex, engine *learning.LearningEngine, backend libstorage.Backend, cfg Config, logger *zap.Logger) (*Stacks, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DuplicateBehavior == "" {
		cfg.DuplicateBehavior = DuplicateSkip
	}
	if cfg.DebounceInterval == 0 {
		cfg.DebounceInterval = 2 * time.Second
	}

	s := &Stacks{
		vectors:  vectors,
		catalog:  catalog,
		graph:    graph,
		learning: engine,
		backend:  backend,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}

	if backend != nil {
		if err := backend.Load(ctx, s.snapshot()); err != nil {
			return nil, fmt.Errorf("loading snapshot: %w", err)
		}
	}
	return s, nil
}

func (s *Stacks) snapshot() libstorage.Snapshot {
	return libstorage.Snapshot{Vectors: s.vectors, Catalog: s.catalog, Graph: s.graph, Learning: s.learning}
}

// Subscribe registers an event handler for Added/Removed/DuplicateWarning.
func (s *Stacks) Subscribe(handler func(libcore.Event)) {
	s.events.Subscribe(handler)
}

// CheckDuplicate reports the closest existing volume to embedding and
// whether its similarity meets the configured duplicate threshold.
func (s *Stacks) CheckDuplicate(ctx context.Context, embedding []float32) (id string, similarity float64, isDuplicate bool, err error) {
	if s.cfg.DuplicateThreshold <= 0 {
		return "", 0, false, nil
	}
	matches, err := s.vectors.Search(embedding, 1, 0)
	if err != nil {
		return "", 0, false, err
	}
	if len(matches) == 0 {
		return "", 0, false, nil
	}
	best := matches[0]
	return best.Volume.ID, best.Similarity, best.Similarity >= s.cfg.DuplicateThreshold, nil
}

// FindDuplicateGroups scans every stored pair for near-duplicates above
// the configured threshold. O(n^2); acceptable at the scale this system
// targets (spec.md Non-goals rule out an ANN index).
func (s *Stacks) FindDuplicateGroups(ctx context.Context) [][]string {
	if s.cfg.DuplicateThreshold <= 0 {
		return nil
	}

	vols := s.vectors.All()
	parent := make(map[string]string, len(vols))
	for _, vol := range vols {
		parent[vol.ID] = vol.ID
	}
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < len(vols); i++ {
		for j := i + 1; j < len(vols); j++ {
			if cosine(vols[i].Embedding, vols[j].Embedding) >= s.cfg.DuplicateThreshold {
				union(vols[i].ID, vols[j].ID)
			}
		}
	}

	groups := make(map[string][]string)
	for _, vol := range vols {
		root := find(vol.ID)
		groups[root] = append(groups[root], vol.ID)
	}

	var out [][]string
	for _, members := range groups {
		if len(members) > 1 {
			out = append(out, members)
		}
	}
	return out
}

func cosine(a, b []float32) float64 {
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
	return dot / (sqrt(ma) * sqrt(mb))
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 40; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

// Add stores a new volume, applying the configured duplicate policy, and
// schedules a debounced persist.
func (s *Stacks) Add(ctx context.Context, vol libcore.Volume) (string, error) {
	ctx, span := s.tracer.Start(ctx, "Stacks.Add")
	defer span.End()

	if vol.Text == "" {
		return "", fmt.Errorf("%w: text cannot be empty", libcore.ErrValidation)
	}
	if len(vol.Embedding) == 0 {
		return "", fmt.Errorf("%w: embedding cannot be empty", libcore.ErrValidation)
	}
	if vol.ID == "" {
		vol.ID = uuid.NewString()
	}
	if vol.CreatedAt.IsZero() {
		vol.CreatedAt = time.Now()
	}

	dupID, similarity, isDup, err := s.CheckDuplicate(ctx, vol.Embedding)
	if err != nil {
		return "", err
	}
	if isDup {
		switch s.cfg.DuplicateBehavior {
		case DuplicateError:
			return "", fmt.Errorf("%w: similar to %q (similarity %.3f)", libcore.ErrDuplicate, dupID, similarity)
		case DuplicateWarn:
			s.events.Emit(libcore.DuplicateWarningEvent{VolumeID: vol.ID, DuplicateOf: dupID, Similarity: similarity})
		case DuplicateSkip:
			s.logger.Debug("skipping duplicate volume", zap.String("id", vol.ID), zap.String("duplicate_of", dupID))
			return dupID, nil
		}
	}

	canonicalTopic, err := s.catalog.Resolve(vol.Topic)
	if err != nil {
		return "", fmt.Errorf("resolving topic: %w", err)
	}
	vol.Topic = canonicalTopic

	s.mu.Lock()
	if err := s.vectors.Put(vol); err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()

	if _, err := s.catalog.AddMember(vol.ID, canonicalTopic); err != nil {
		s.logger.Warn("recording topic membership", zap.String("id", vol.ID), zap.Error(err))
	}

	s.events.Emit(libcore.AddedEvent{VolumeID: vol.ID, Topic: vol.Topic})
	s.scheduleSave()
	return vol.ID, nil
}

// AddBatch adds every volume in vols, stopping at the first error.
func (s *Stacks) AddBatch(ctx context.Context, vols []libcore.Volume) ([]string, error) {
	ids := make([]string, 0, len(vols))
	for _, vol := range vols {
		id, err := s.Add(ctx, vol)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete removes a volume from every index.
func (s *Stacks) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.vectors.Get(id); !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: volume %q", libcore.ErrNotFound, id)
	}
	s.vectors.Remove(id)
	s.graph.RemoveNode(id)
	s.mu.Unlock()

	s.catalog.RemoveMember(id)

	live := make(map[string]bool)
	for _, vid := range s.vectors.Ids() {
		live[vid] = true
	}
	s.learning.PruneEntries(live)

	s.events.Emit(libcore.RemovedEvent{VolumeID: id})
	s.scheduleSave()
	return nil
}

// GetVolume returns the stored Volume for id, if present.
func (s *Stacks) GetVolume(id string) (libcore.Volume, bool) {
	return s.vectors.Get(id)
}

// Size returns the number of currently stored volumes.
func (s *Stacks) Size() int {
	return s.vectors.Size()
}

// Clear removes every stored volume and resets the vector and graph
// indices to empty.
func (s *Stacks) Clear(ctx context.Context) error {
	s.mu.Lock()
	for _, id := range s.vectors.Ids() {
		s.catalog.RemoveMember(id)
	}
	s.vectors.Clear()
	s.graph.Clear()
	s.mu.Unlock()

	s.scheduleSave()
	return nil
}

// VolumesByTopic returns every stored volume whose Topic equals topic.
func (s *Stacks) VolumesByTopic(topic string) []libcore.Volume {
	var out []libcore.Volume
	for _, v := range s.vectors.All() {
		if v.Topic == topic {
			out = append(out, v)
		}
	}
	return out
}

// Topics returns every topic path currently registered in the catalog.
func (s *Stacks) Topics() []string {
	return s.catalog.Sections()
}

// Search returns up to topK volumes with cosine similarity to query at or
// above minSimilarity, ranked by a blend of vector similarity, recency,
// and frequency using LearningEngine's adapted weights for topic.
func (s *Stacks) Search(ctx context.Context, topic string, query []float32, topK int, minSimilarity float64) ([]libcore.ScoredVolume, error) {
	matches, err := s.vectors.Search(query, 0, minSimilarity)
	if err != nil {
		return nil, err
	}

	weights := s.learning.GetAdaptedWeights(topic)
	now := time.Now()

	out := make([]libcore.ScoredVolume, 0, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		s.vectors.Touch(m.Volume.ID, now)
		ids = append(ids, m.Volume.ID)

		recencyScore := 1.0 / (1.0 + now.Sub(m.Volume.CreatedAt).Hours()/24.0)
		frequencyScore := normalizeFrequency(float64(m.Volume.AccessCount + 1))
		similarity := m.Similarity

		score := weights.Vector*similarity + weights.Recency*recencyScore + weights.Frequency*frequencyScore
		out = append(out, libcore.ScoredVolume{
			Volume:         m.Volume,
			Score:          score,
			VectorScore:    floatPtr(similarity),
			RecencyScore:   floatPtr(recencyScore),
			FrequencyScore: floatPtr(frequencyScore),
		})
	}

	recordLimit := topK
	if recordLimit <= 0 || recordLimit > 20 {
		recordLimit = 20
	}
	if recordLimit < len(ids) {
		ids = ids[:recordLimit]
	}
	if err := s.learning.RecordQuery(topic, query, ids); err != nil {
		s.logger.Warn("recording query for learning engine", zap.Error(err))
	}

	sortScoredDescending(out)
	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

func floatPtr(v float64) *float64 {
	return &v
}

func normalizeFrequency(count float64) float64 {
	return count / (count + 10.0)
}

func sortScoredDescending(vols []libcore.ScoredVolume) {
	for i := 1; i < len(vols); i++ {
		for j := i; j > 0 && vols[j-1].Score < vols[j].Score; j-- {
			vols[j-1], vols[j] = vols[j], vols[j-1]
		}
	}
}

// GraphNeighbors delegates to GraphIndex.Neighbors.
func (s *Stacks) GraphNeighbors(id string, edgeType libcore.EdgeType) []graphindex.Neighbor {
	return s.graph.Neighbors(id, edgeType)
}

// GraphTraverse delegates to GraphIndex.Traverse.
func (s *Stacks) GraphTraverse(id string, maxDepth int, edgeType libcore.EdgeType) []graphindex.TraversalHit {
	return s.graph.Traverse(id, maxDepth, edgeType)
}

// ComputeLearningBoost reports LearningEngine's cosine-similarity boost
// for entryID's embedding within topic, falling back to the engine's
// global interest signal when topic has none (spec.md §4.5, §4.7).
func (s *Stacks) ComputeLearningBoost(entryID string, vector []float32, topic string) float64 {
	return s.learning.ComputeBoost(entryID, vector, topic)
}

// AddEdge delegates to GraphIndex.AddEdge.
func (s *Stacks) AddEdge(from, to string, edgeType libcore.EdgeType, origin libcore.EdgeOrigin) error {
	if err := s.graph.AddEdge(from, to, edgeType, origin); err != nil {
		return err
	}
	s.scheduleSave()
	return nil
}

// Relocate moves volumeID to newTopic in the topic catalog.
func (s *Stacks) Relocate(volumeID, newTopic string) (string, error) {
	topic, err := s.catalog.Relocate(volumeID, newTopic)
	if err != nil {
		return "", err
	}
	if vol, ok := s.vectors.Get(volumeID); ok {
		vol.Topic = topic
		if err := s.vectors.Put(vol); err != nil {
			return "", err
		}
	}
	s.scheduleSave()
	return topic, nil
}

// MergeTopics folds sourceTopic into targetTopic via the catalog, and
// retags every moved volume's Topic field to match.
func (s *Stacks) MergeTopics(sourceTopic, targetTopic string) error {
	source, ok := s.catalog.Node(sourceTopic)
	if !ok {
		return fmt.Errorf("%w: topic %q", libcore.ErrNotFound, sourceTopic)
	}
	movedIDs := append([]string(nil), source.Volumes...)

	if err := s.catalog.Merge(sourceTopic, targetTopic); err != nil {
		return err
	}

	for _, id := range movedIDs {
		if vol, ok := s.vectors.Get(id); ok {
			vol.Topic = targetTopic
			if err := s.vectors.Put(vol); err != nil {
				s.logger.Warn("retagging merged volume topic", zap.String("id", id), zap.Error(err))
			}
		}
	}
	s.scheduleSave()
	return nil
}

// scheduleSave (re)starts the debounce timer; Save only actually runs
// once it fires without being reset again.
func (s *Stacks) scheduleSave() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirty = true
	if s.closed || s.backend == nil {
		return
	}
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.cfg.DebounceInterval, func() {
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Error("debounced persist failed", zap.Error(err))
		}
	})
}

// Flush persists the current state immediately if dirty.
func (s *Stacks) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty || s.backend == nil {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	snap := s.snapshot()
	s.mu.Unlock()

	return s.backend.Save(ctx, snap)
}

// Dispose stops the debounce timer and performs a final synchronous
// flush.
func (s *Stacks) Dispose(ctx context.Context) error {
	s.mu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.closed = true
	s.mu.Unlock()

	return s.Flush(ctx)
}
