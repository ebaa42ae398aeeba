package providers

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// StubEmbedder is a deterministic EmbeddingProvider for tests: it hashes
// each input string into a fixed-width vector so the same text always
// yields the same embedding without a network call.
type StubEmbedder struct {
	Dim int
}

// NewStubEmbedder builds a StubEmbedder of the given dimension.
func NewStubEmbedder(dim int) *StubEmbedder {
	return &StubEmbedder{Dim: dim}
}

func (s *StubEmbedder) Dimension() int { return s.Dim }

func (s *StubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.embed(t)
	}
	return out, nil
}

func (s *StubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embed(text), nil
}

// embed deterministically maps text to a unit vector derived from a
// simple rolling hash, so similar-looking test strings land near each
// other without pulling in a real model.
func (s *StubEmbedder) embed(text string) []float32 {
	vec := make([]float32, s.Dim)
	var h uint32 = 2166136261
	for i, r := range text {
		h ^= uint32(r)
		h *= 16777619
		vec[i%s.Dim] += float32(h%1000) / 1000.0
	}
	var sumSq float32
	for _, v := range vec {
		sumSq += v * v
	}
	if sumSq == 0 {
		vec[0] = 1
		return vec
	}
	inv := float32(1.0 / math.Sqrt(float64(sumSq)))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// StubGenerator is a scripted TextGenerationProvider for tests: it returns
// canned responses keyed by a substring match against the user prompt, or
// a default response otherwise.
type StubGenerator struct {
	Responses map[string]string
	Default   string
}

// NewStubGenerator builds a StubGenerator with the given default response.
func NewStubGenerator(def string) *StubGenerator {
	return &StubGenerator{Responses: map[string]string{}, Default: def}
}

// WithResponse registers a canned response for prompts containing substr.
func (s *StubGenerator) WithResponse(substr, response string) *StubGenerator {
	s.Responses[substr] = response
	return s
}

func (s *StubGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	for substr, resp := range s.Responses {
		if strings.Contains(userPrompt, substr) {
			return resp, nil
		}
	}
	if s.Default == "" {
		return "", fmt.Errorf("stub generator: no response configured for prompt")
	}
	return s.Default, nil
}
