// Package libcore holds the data model and error vocabulary shared by every
// Library Core component: VectorIndex, GraphIndex, TopicCatalog,
// LearningEngine, Stacks, Library, LibrarianRegistry, and CirculationDesk.
package libcore

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, wrapped with fmt.Errorf("...: %w", err) at each call
// boundary so errors.Is/errors.As keep working through the stack.
var (
	// ErrValidation covers empty text, zero-magnitude vectors, dimension
	// mismatch, bad name format, and fewer-than-2 compendium ids.
	ErrValidation = errors.New("validation failed")

	// ErrNotInitialized is returned for operations attempted before
	// initialize().
	ErrNotInitialized = errors.New("not initialized")

	// ErrDuplicate is returned when the duplicate policy is "error" and a
	// near-duplicate volume already exists.
	ErrDuplicate = errors.New("duplicate volume")

	// ErrNotFound is returned by operations that need an id to resolve to
	// a live volume (e.g. compendium), unlike get_by_id which returns an
	// absent value rather than an error.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt is returned on snapshot magic mismatch, unsupported
	// format version, or a truncated record.
	ErrCorrupt = errors.New("corrupt snapshot")

	// ErrIO is returned on StorageBackend read/write failures.
	ErrIO = errors.New("storage io error")

	// ErrSpecialistNotNeeded is returned when the default text generator
	// declines to propose a specialist librarian.
	ErrSpecialistNotNeeded = errors.New("specialist not needed")

	// ErrArbitrationFailed is reserved for the case where fallback to the
	// highest bidder also fails; by design this never happens (logged as
	// a warning instead), but the sentinel exists for completeness.
	ErrArbitrationFailed = errors.New("arbitration failed")

	// ErrInvalidVector is returned by VectorIndex.Put on dimension
	// mismatch or magnitude drift, a specialization of ErrValidation.
	ErrInvalidVector = fmt.Errorf("invalid vector: %w", ErrValidation)
)

// ProviderError wraps a failure surfaced by an injected EmbeddingProvider or
// TextGenerationProvider, carrying the provider name and underlying cause.
type ProviderError struct {
	Provider string
	Cause    error
}

func (e *ProviderError) Error() string {
	return "provider " + e.Provider + " failed: " + e.Cause.Error()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// NewProviderError builds a ProviderError, returning nil if cause is nil.
func NewProviderError(provider string, cause error) error {
	if cause == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Cause: cause}
}
