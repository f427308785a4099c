// Package retriever translates free-text queries into ranked context chunks.
//
// It owns the top-k policy: embed the query with the same provider and
// model that built the index, then delegate to the index's nearest-neighbor
// search. An index/query dimensionality mismatch is a programming error and
// fails loudly; vectors are never truncated or padded to fit.
package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"

	"github.com/dmplab/dmpgen/internal/corpus"
	"github.com/dmplab/dmpgen/internal/index"
)

// Searcher is the part of *index.Handle the retriever depends on.
type Searcher interface {
	Search(vector []float32, k int, opts ...index.SearchOption) ([]index.Result, error)
	Dimension() int
}

// ScoredChunk is a retrieved chunk with its similarity to the query.
type ScoredChunk struct {
	Chunk      corpus.Chunk
	Similarity float64
}

// Retriever performs query embedding + top-k similarity search.
// Safe for concurrent use; the underlying handle is read-only.
type Retriever struct {
	searcher      Searcher
	embedder      ai.Embedder
	minSimilarity float64
	logger        *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithMinSimilarity sets a floor below which chunks are dropped from
// results. Zero (the default) disables the floor: the top-k are returned
// regardless of absolute similarity.
func WithMinSimilarity(floor float64) Option {
	return func(r *Retriever) {
		r.minSimilarity = floor
	}
}

// New creates a Retriever over a searchable index handle.
// The embedder must be the same provider and model used to build the index;
// the index manager enforces model identity at load time.
func New(searcher Searcher, embedder ai.Embedder, logger *slog.Logger, opts ...Option) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retriever{
		searcher: searcher,
		embedder: embedder,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to k chunks ranked by similarity to query.
// An empty result is not an error: it means the index is non-empty but
// nothing cleared the configured similarity floor.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", index.ErrInvalidTopK, k)
	}

	vec, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	if dim := r.searcher.Dimension(); len(vec) != dim {
		// The provider returned a different dimensionality than it did at
		// build time. Truncating or padding would silently corrupt ranking.
		return nil, fmt.Errorf("%w: query embedding has %d dimensions, index has %d",
			index.ErrDimensionMismatch, len(vec), dim)
	}

	var opts []index.SearchOption
	if r.minSimilarity > 0 {
		opts = append(opts, index.WithMinSimilarity(r.minSimilarity))
	}

	results, err := r.searcher.Search(vec, k, opts...)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	scored := make([]ScoredChunk, len(results))
	for i, res := range results {
		scored[i] = ScoredChunk{Chunk: res.Chunk, Similarity: res.Similarity}
	}

	r.logger.Debug("retrieved context", "query_len", len(query), "k", k, "hits", len(scored))
	return scored, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	resp, err := r.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", index.ErrEmbeddingProvider, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned for query", index.ErrEmbeddingProvider)
	}
	return resp.Embeddings[0].Embedding, nil
}
