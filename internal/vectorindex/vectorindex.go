// Package vectorindex implements VectorIndex: a content-addressed store of
// full volumes with linear cosine-similarity search (spec.md §4.1). No ANN
// structure is built — at the scale Library Core targets a full scan beats
// the maintenance cost of an approximate index.
package vectorindex

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
)

// magnitudeTolerance is the maximum deviation from unit magnitude §4.1
// tolerates before rejecting a vector with ErrInvalidVector. The magnitude
// check is authoritative: callers must normalize before insertion.
const magnitudeTolerance = 1e-3

// Match is a single search hit: the stored volume and its cosine similarity
// to the query vector.
type Match struct {
	Volume     libcore.Volume
	Similarity float64
}

// VectorIndex stores id -> Volume (embedding plus text, metadata, and
// timestamps) and answers nearest-neighbor queries by linear scan. Safe for
// concurrent use: reads take the read lock, the single mutator (Put/Remove)
// takes the write lock.
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	volumes   map[string]libcore.Volume
	// order preserves insertion order for Ids(), matching the teacher's
	// convention of stable, deterministic iteration over map-backed stores.
	order []string
}

// New constructs an empty VectorIndex. dimension is fixed by the first
// Put call if zero is passed here.
func New(dimension int) *VectorIndex {
	return &VectorIndex{
		dimension: dimension,
		volumes:   make(map[string]libcore.Volume),
	}
}

// Put stores or replaces vol. The first call to Put on a zero-dimension
// index fixes the dimension for its lifetime. Fails with ErrInvalidVector
// if the embedding's dimension differs from the fixed dimension or its
// magnitude deviates from 1 by more than magnitudeTolerance.
func (v *VectorIndex) Put(vol libcore.Volume) error {
	if vol.ID == "" {
		return fmt.Errorf("%w: id cannot be empty", libcore.ErrValidation)
	}
	if len(vol.Embedding) == 0 {
		return fmt.Errorf("%w: embedding cannot be empty", libcore.ErrInvalidVector)
	}

	var magSq float64
	for _, f := range vol.Embedding {
		magSq += float64(f) * float64(f)
	}
	if magSq == 0 {
		return fmt.Errorf("%w: zero-magnitude vector", libcore.ErrInvalidVector)
	}
	mag := math.Sqrt(magSq)
	if math.Abs(mag-1) > magnitudeTolerance {
		return fmt.Errorf("%w: magnitude %.6f deviates from 1 by more than %.g", libcore.ErrInvalidVector, mag, magnitudeTolerance)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.dimension == 0 {
		v.dimension = len(vol.Embedding)
	}
	if len(vol.Embedding) != v.dimension {
		return fmt.Errorf("%w: dimension %d, want %d", libcore.ErrInvalidVector, len(vol.Embedding), v.dimension)
	}

	embedding := make([]float32, len(vol.Embedding))
	copy(embedding, vol.Embedding)
	stored := vol
	stored.Embedding = embedding
	if stored.Metadata != nil {
		md := make(map[string]string, len(stored.Metadata))
		for k, val := range stored.Metadata {
			md[k] = val
		}
		stored.Metadata = md
	}

	if _, exists := v.volumes[vol.ID]; !exists {
		v.order = append(v.order, vol.ID)
	}
	v.volumes[vol.ID] = stored
	return nil
}

// Get returns the volume stored for id, if any.
func (v *VectorIndex) Get(id string) (libcore.Volume, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	vol, ok := v.volumes[id]
	if !ok {
		return libcore.Volume{}, false
	}
	return cloneVolume(vol), true
}

// Touch bumps the access count and last-accessed timestamp for id in
// place, if stored. Used by Search to record that a volume was surfaced
// without forcing callers to re-Put the full record.
func (v *VectorIndex) Touch(id string, accessedAt time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	vol, ok := v.volumes[id]
	if !ok {
		return
	}
	vol.AccessCount++
	vol.LastAccessedAt = accessedAt
	v.volumes[id] = vol
}

// Remove deletes the volume for id, if present.
func (v *VectorIndex) Remove(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.volumes[id]; !ok {
		return
	}
	delete(v.volumes, id)
	for i, existing := range v.order {
		if existing == id {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
}

// Clear removes every stored volume, keeping the fixed dimension.
func (v *VectorIndex) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.volumes = make(map[string]libcore.Volume)
	v.order = nil
}

// Ids returns every stored id in insertion order.
func (v *VectorIndex) Ids() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.order))
	copy(out, v.order)
	return out
}

// Size returns the number of stored volumes.
func (v *VectorIndex) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.volumes)
}

// Dimension returns the fixed embedding width, or 0 if nothing has been
// stored yet.
func (v *VectorIndex) Dimension() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dimension
}

// All returns every stored volume, in insertion order.
func (v *VectorIndex) All() []libcore.Volume {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]libcore.Volume, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, cloneVolume(v.volumes[id]))
	}
	return out
}

// Search returns up to maxResults volumes with cosine similarity to query
// at or above minSimilarity, sorted by similarity descending and, for ties,
// by more recent CreatedAt. An empty, whitespace-only (zero-length), or
// zero-magnitude query yields an empty result set without error, per §4.1.
func (v *VectorIndex) Search(query []float32, maxResults int, minSimilarity float64) ([]Match, error) {
	if len(query) == 0 || isZeroMagnitude(query) {
		return nil, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.dimension != 0 && len(query) != v.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, want %d", libcore.ErrInvalidVector, len(query), v.dimension)
	}

	matches := make([]Match, 0, len(v.volumes))
	for _, id := range v.order {
		vol := v.volumes[id]
		sim := cosineSimilarity(query, vol.Embedding)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, Match{Volume: cloneVolume(vol), Similarity: sim})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if !matches[i].Volume.CreatedAt.Equal(matches[j].Volume.CreatedAt) {
			return matches[i].Volume.CreatedAt.After(matches[j].Volume.CreatedAt)
		}
		return matches[i].Volume.ID < matches[j].Volume.ID
	})

	if maxResults > 0 && maxResults < len(matches) {
		matches = matches[:maxResults]
	}
	return matches, nil
}

func isZeroMagnitude(vec []float32) bool {
	for _, f := range vec {
		if f != 0 {
			return false
		}
	}
	return true
}

func cloneVolume(vol libcore.Volume) libcore.Volume {
	out := vol
	out.Embedding = append([]float32(nil), vol.Embedding...)
	if vol.Metadata != nil {
		out.Metadata = make(map[string]string, len(vol.Metadata))
		for k, val := range vol.Metadata {
			out.Metadata[k] = val
		}
	}
	return out
}

// cosineSimilarity computes the cosine of the angle between a and b. The
// two vectors must have equal length; a length mismatch yields 0 rather
// than panicking, since Search already validates dimension equality.
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
