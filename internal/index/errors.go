package index

import "errors"

// Sentinel errors for index operations.
// Only errors that callers check with errors.Is() are defined here.
var (
	// ErrIndexNotFound indicates no persisted index artifact exists at the
	// configured location.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexCorrupt indicates the persisted vector structure and its
	// metadata store disagree (one artifact missing, or chunk-id set
	// cardinality mismatch). A partial load is never returned silently.
	ErrIndexCorrupt = errors.New("index corrupt")

	// ErrModelMismatch indicates the persisted index was built with a
	// different embedding model than the one configured. Querying it would
	// produce meaningless similarity scores, so the load is refused.
	ErrModelMismatch = errors.New("embedder model mismatch")

	// ErrDimensionMismatch indicates a query vector's dimensionality does
	// not match the index.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidTopK indicates a non-positive k was passed to Search.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrEmbeddingProvider wraps failures of the embedding backend:
	// unreachable provider, empty or mixed-dimension vectors. Retryable by
	// the caller, never retried internally.
	ErrEmbeddingProvider = errors.New("embedding provider error")
)
