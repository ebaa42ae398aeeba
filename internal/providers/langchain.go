package providers

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

// LangchainEmbedder adapts a langchaingo embeddings.Embedder to
// EmbeddingProvider, giving Library Core access to every backend
// langchaingo supports (OpenAI, Ollama, HuggingFace, ...) without a
// bespoke client per vendor.
type LangchainEmbedder struct {
	embedder  embeddings.Embedder
	dimension int
}

// NewLangchainEmbedder wraps an already-constructed langchaingo embedder.
// Callers build the concrete embeddings.Embedder (e.g. via
// embeddings.NewEmbedder(openai.New(...))) and pass it in, keeping vendor
// selection out of this package.
func NewLangchainEmbedder(embedder embeddings.Embedder, dimension int) (*LangchainEmbedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: langchain embedder required", libcore.ErrValidation)
	}
	return &LangchainEmbedder{embedder: embedder, dimension: dimension}, nil
}

func (e *LangchainEmbedder) Dimension() int { return e.dimension }

// EmbedDocuments implements EmbeddingProvider.
func (e *LangchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", libcore.ErrValidation)
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, libcore.NewProviderError("langchain", err)
	}
	return vectors, nil
}

// EmbedQuery implements EmbeddingProvider.
func (e *LangchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", libcore.ErrValidation)
	}
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, libcore.NewProviderError("langchain", err)
	}
	return vec, nil
}

// LangchainGenerator adapts a langchaingo llms.Model to
// TextGenerationProvider, used when the deployment prefers langchaingo's
// model abstraction over the direct Anthropic SDK.
type LangchainGenerator struct {
	model llms.Model
}

// NewLangchainGenerator wraps an already-constructed langchaingo model.
func NewLangchainGenerator(model llms.Model) (*LangchainGenerator, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: langchain model required", libcore.ErrValidation)
	}
	return &LangchainGenerator{model: model}, nil
}

// Generate implements TextGenerationProvider.
func (g *LangchainGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	if systemPrompt != "" {
		content = append([]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt)}, content...)
	}

	resp, err := g.model.GenerateContent(ctx, content)
	if err != nil {
		return "", libcore.NewProviderError("langchain", err)
	}
	if len(resp.Choices) == 0 {
		return "", libcore.NewProviderError("langchain", fmt.Errorf("empty response"))
	}
	return resp.Choices[0].Content, nil
}
