package libstorage

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	chromem "github.com/philippgille/chromem-go"
)

// ChromemBackend mirrors every volume's embedding into an embedded
// chromem-go collection, for deployments that already depend on chromem-go
// elsewhere and want a queryable vector store in that format. It is a
// write-through mirror only: the sidecar FileBackend remains the source of
// truth for restore, carrying the full VECS section (text, metadata,
// timestamps, and vectors) plus TopicCatalog/GraphIndex/LearningEngine.
type ChromemBackend struct {
	db         *chromem.DB
	collection string
	sidecar    *FileBackend
}

// ChromemConfig configures a ChromemBackend.
type ChromemConfig struct {
	PersistPath string
	Collection  string
	SidecarPath string
}

// NewChromemBackend opens (or creates) a persistent chromem-go database at
// cfg.PersistPath.
func NewChromemBackend(cfg ChromemConfig) (*ChromemBackend, error) {
	if cfg.PersistPath == "" {
		return nil, fmt.Errorf("%w: chromem persist path required", libcore.ErrValidation)
	}
	db, err := chromem.NewPersistentDB(cfg.PersistPath, false)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem database: %v", libcore.ErrIO, err)
	}

	sidecar, err := NewFileBackend(Config{Path: cfg.SidecarPath, Gzip: true, Atomic: true})
	if err != nil {
		return nil, err
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "library-core"
	}
	return &ChromemBackend{db: db, collection: collection, sidecar: sidecar}, nil
}

// Save mirrors vectors into the chromem collection (replacing it wholesale,
// since chromem-go has no bulk-replace primitive) and writes the full
// snapshot, volumes included, through the sidecar FileBackend.
func (b *ChromemBackend) Save(ctx context.Context, snap Snapshot) error {
	b.db.DeleteCollection(b.collection)
	collection, err := b.db.GetOrCreateCollection(b.collection, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: creating chromem collection: %v", libcore.ErrIO, err)
	}

	ids := snap.Vectors.Ids()
	docs := make([]chromem.Document, 0, len(ids))
	for _, id := range ids {
		vol, ok := snap.Vectors.Get(id)
		if !ok {
			continue
		}
		docs = append(docs, chromem.Document{ID: id, Embedding: vol.Embedding})
	}
	if len(docs) > 0 {
		if err := collection.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("%w: writing chromem documents: %v", libcore.ErrIO, err)
		}
	}

	return b.sidecar.Save(ctx, snap)
}

// Load restores the full snapshot, including volumes, from the sidecar.
// chromem is a write-only mirror for external tooling; it is never read
// back, since the sidecar already carries full volume fidelity.
func (b *ChromemBackend) Load(ctx context.Context, snap Snapshot) error {
	return b.sidecar.Load(ctx, snap)
}
