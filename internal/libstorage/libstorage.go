// Package libstorage implements StorageBackend: durable persistence for
// the four in-memory indices (VectorIndex, TopicCatalog, GraphIndex,
// LearningEngine) behind Stacks (spec.md §4.4, §6). The reference backend
// gzips a single file containing four tagged, length-prefixed sections
// (VECS/CATL/GRPH/LERN) and writes atomically via temp-file-then-rename.
package libstorage

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/librarycore/internal/graphindex"
	"github.com/fyrsmithlabs/librarycore/internal/learning"
	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/fyrsmithlabs/librarycore/internal/topiccatalog"
	"github.com/fyrsmithlabs/librarycore/internal/vectorindex"
)

// magic identifies a Library Core snapshot file; version allows the format
// to evolve without silently misreading an older file.
const (
	magic          = "LCORESNAP"
	formatVersion  = 1
)

// Snapshot bundles the four persisted indices for a single Save/Load call.
type Snapshot struct {
	Vectors  *vectorindex.VectorIndex
	Catalog  *topiccatalog.TopicCatalog
	Graph    *graphindex.GraphIndex
	Learning *learning.LearningEngine
}

// Backend persists and restores a Snapshot. Stacks calls Save on its
// debounce timer and Load once at startup.
type Backend interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, snap Snapshot) error
}

// FileBackend is the reference Backend: a single gzip-compressed file on
// local disk, written atomically.
type FileBackend struct {
	path  string
	gzip  bool
	atomic bool
}

// Config configures a FileBackend.
type Config struct {
	Path   string
	Gzip   bool
	Atomic bool
}

// NewFileBackend constructs a FileBackend writing to cfg.Path.
func NewFileBackend(cfg Config) (*FileBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: storage path required", libcore.ErrValidation)
	}
	return &FileBackend{path: cfg.Path, gzip: cfg.Gzip, atomic: cfg.Atomic}, nil
}

// Save writes snap to disk. With Atomic set, it writes to a sibling temp
// file and renames over the destination so a crash mid-write never leaves
// a truncated snapshot in place.
func (b *FileBackend) Save(ctx context.Context, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0700); err != nil {
		return fmt.Errorf("%w: creating storage directory: %v", libcore.ErrIO, err)
	}

	destPath := b.path
	writePath := destPath
	if b.atomic {
		writePath = destPath + ".tmp"
	}

	f, err := os.OpenFile(writePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("%w: opening snapshot file: %v", libcore.ErrIO, err)
	}

	if err := b.writeSnapshot(f, snap, true); err != nil {
		f.Close()
		os.Remove(writePath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(writePath)
		return fmt.Errorf("%w: closing snapshot file: %v", libcore.ErrIO, err)
	}

	if b.atomic {
		if err := os.Rename(writePath, destPath); err != nil {
			os.Remove(writePath)
			return fmt.Errorf("%w: renaming snapshot into place: %v", libcore.ErrIO, err)
		}
	}
	return nil
}

func (b *FileBackend) writeSnapshot(f *os.File, snap Snapshot, includeVectors bool) error {
	var w io.Writer = f
	var gz *gzip.Writer
	if b.gzip {
		gz = gzip.NewWriter(f)
		w = gz
	}

	if _, err := w.Write([]byte(magic)); err != nil {
		return fmt.Errorf("%w: writing magic: %v", libcore.ErrIO, err)
	}
	if _, err := w.Write([]byte{formatVersion}); err != nil {
		return fmt.Errorf("%w: writing version: %v", libcore.ErrIO, err)
	}

	if includeVectors {
		if _, err := snap.Vectors.WriteTo(w); err != nil {
			return fmt.Errorf("writing vector section: %w", err)
		}
	}
	if _, err := snap.Catalog.WriteTo(w); err != nil {
		return fmt.Errorf("writing catalog section: %w", err)
	}
	if _, err := snap.Graph.WriteTo(w); err != nil {
		return fmt.Errorf("writing graph section: %w", err)
	}
	if _, err := snap.Learning.WriteTo(w); err != nil {
		return fmt.Errorf("writing learning section: %w", err)
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("%w: closing gzip writer: %v", libcore.ErrIO, err)
		}
	}
	return nil
}

// Load restores snap from disk. A missing file is not an error: Stacks
// starts empty on first run.
func (b *FileBackend) Load(ctx context.Context, snap Snapshot) error {
	return b.readSnapshot(snap, true)
}

func (b *FileBackend) readSnapshot(snap Snapshot, includeVectors bool) error {
	f, err := os.Open(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: opening snapshot file: %v", libcore.ErrIO, err)
	}
	defer f.Close()

	var r io.Reader = f
	if b.gzip {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("%w: opening gzip reader: %v", libcore.ErrCorrupt, err)
		}
		defer gz.Close()
		r = gz
	}

	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		return fmt.Errorf("%w: reading magic: %v", libcore.ErrCorrupt, err)
	}
	if string(magicBuf) != magic {
		return fmt.Errorf("%w: bad magic %q", libcore.ErrCorrupt, magicBuf)
	}

	versionBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, versionBuf); err != nil {
		return fmt.Errorf("%w: reading version: %v", libcore.ErrCorrupt, err)
	}
	if versionBuf[0] != formatVersion {
		return fmt.Errorf("%w: unsupported snapshot version %d", libcore.ErrCorrupt, versionBuf[0])
	}

	if includeVectors {
		if _, err := snap.Vectors.ReadFrom(r); err != nil {
			return fmt.Errorf("reading vector section: %w", err)
		}
	}
	if _, err := snap.Catalog.ReadFrom(r); err != nil {
		return fmt.Errorf("reading catalog section: %w", err)
	}
	if _, err := snap.Graph.ReadFrom(r); err != nil {
		return fmt.Errorf("reading graph section: %w", err)
	}
	if _, err := snap.Learning.ReadFrom(r); err != nil {
		return fmt.Errorf("reading learning section: %w", err)
	}
	return nil
}
