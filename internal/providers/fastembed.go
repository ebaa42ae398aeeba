package providers

import (
	"context"
	"fmt"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/fyrsmithlabs/librarycore/internal/libcore"
)

// FastEmbedEmbedder runs embedding inference in-process via fastembed-go's
// ONNX runtime binding, avoiding a network hop to a TEI server at the cost
// of a larger local footprint. Grounded on the teacher's embeddings.fastembed
// integration (the ONNX-backed local embedder it falls back to when TEI is
// unavailable).
type FastEmbedEmbedder struct {
	model     *fastembed.FlagEmbedding
	dimension int
}

// FastEmbedConfig configures a FastEmbedEmbedder.
type FastEmbedConfig struct {
	ModelName  fastembed.EmbeddingModel
	CacheDir   string
	MaxLength  int
	Dimension  int
}

// NewFastEmbedEmbedder loads (or downloads into CacheDir, on first use) the
// requested local embedding model.
func NewFastEmbedEmbedder(cfg FastEmbedConfig) (*FastEmbedEmbedder, error) {
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}

	options := fastembed.InitOptions{
		Model:     cfg.ModelName,
		CacheDir:  cfg.CacheDir,
		MaxLength: maxLength,
	}

	model, err := fastembed.NewFlagEmbedding(&options)
	if err != nil {
		return nil, libcore.NewProviderError("fastembed", err)
	}

	return &FastEmbedEmbedder{model: model, dimension: cfg.Dimension}, nil
}

func (e *FastEmbedEmbedder) Dimension() int { return e.dimension }

// EmbedDocuments implements EmbeddingProvider.
func (e *FastEmbedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", libcore.ErrValidation)
	}
	embeddings, err := e.model.Embed(texts, 0)
	if err != nil {
		return nil, libcore.NewProviderError("fastembed", err)
	}
	out := make([][]float32, len(embeddings))
	for i, vec := range embeddings {
		out[i] = vec
	}
	return out, nil
}

// EmbedQuery implements EmbeddingProvider.
func (e *FastEmbedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", libcore.ErrValidation)
	}
	vectors, err := e.model.QueryEmbed(text)
	if err != nil {
		return nil, libcore.NewProviderError("fastembed", err)
	}
	return vectors, nil
}
