// Package providers defines the two small interfaces Library Core consumes
// from the outside world — EmbeddingProvider and TextGenerationProvider —
// plus concrete implementations and test stubs. No Library Core component
// imports an LLM or embedding SDK directly; everything goes through these.
package providers

import "context"

// EmbeddingProvider turns text into vectors. Implementations must be safe
// for concurrent use.
type EmbeddingProvider interface {
	// EmbedDocuments embeds a batch of texts in one round-trip where the
	// backing provider supports batching.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query string, which some providers treat
	// differently from a stored document (asymmetric embedding models).
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension reports the fixed output width of this provider's vectors.
	Dimension() int
}

// TextGenerationProvider drives every librarian prompt: extraction,
// compendium synthesis, arbitration tiebreaks, and specialist proposals.
type TextGenerationProvider interface {
	// Generate returns the completion for prompt, or a *libcore.ProviderError
	// wrapping the transport failure.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
