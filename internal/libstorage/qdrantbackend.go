package libstorage

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/fyrsmithlabs/librarycore/internal/qdrant"
)

// QdrantMirrorBackend writes every volume's embedding through to a Qdrant
// collection in addition to the reference FileBackend, so an operator can
// point an external Qdrant-aware tool at the same vectors without
// Library Core itself depending on Qdrant for correctness. The sidecar
// FileBackend remains the source of truth for restore and carries the full
// snapshot (volumes included, via VECS) plus TopicCatalog, GraphIndex, and
// LearningEngine.
type QdrantMirrorBackend struct {
	client     qdrant.Client
	collection string
	sidecar    *FileBackend
}

// QdrantMirrorConfig configures a QdrantMirrorBackend.
type QdrantMirrorConfig struct {
	Client      qdrant.Client
	Collection  string
	SidecarPath string
	VectorSize  uint64
}

// NewQdrantMirrorBackend constructs a QdrantMirrorBackend. The collection
// is created if absent.
func NewQdrantMirrorBackend(ctx context.Context, cfg QdrantMirrorConfig) (*QdrantMirrorBackend, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("%w: qdrant client required", libcore.ErrValidation)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "library-core"
	}

	exists, err := cfg.Client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, libcore.NewProviderError("qdrant", err)
	}
	if !exists {
		if err := cfg.Client.CreateCollection(ctx, collection, cfg.VectorSize); err != nil {
			return nil, libcore.NewProviderError("qdrant", err)
		}
	}

	sidecar, err := NewFileBackend(Config{Path: cfg.SidecarPath, Gzip: true, Atomic: true})
	if err != nil {
		return nil, err
	}

	return &QdrantMirrorBackend{client: cfg.Client, collection: collection, sidecar: sidecar}, nil
}

// Save upserts every stored vector into Qdrant and writes the full
// snapshot, vectors included, through the sidecar FileBackend.
func (b *QdrantMirrorBackend) Save(ctx context.Context, snap Snapshot) error {
	ids := snap.Vectors.Ids()
	points := make([]*qdrant.Point, 0, len(ids))
	for _, id := range ids {
		vol, ok := snap.Vectors.Get(id)
		if !ok {
			continue
		}
		points = append(points, &qdrant.Point{ID: id, Vector: vol.Embedding})
	}
	if len(points) > 0 {
		if err := b.client.Upsert(ctx, b.collection, points); err != nil {
			return libcore.NewProviderError("qdrant", err)
		}
	}
	return b.sidecar.Save(ctx, snap)
}

// Load restores the full snapshot, including volumes, from the sidecar.
// Qdrant is a write-through mirror for external tooling, not the source of
// truth for restore.
func (b *QdrantMirrorBackend) Load(ctx context.Context, snap Snapshot) error {
	return b.sidecar.Load(ctx, snap)
}
