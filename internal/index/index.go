// Package index maintains a queryable similarity index over embedded text
// chunks, persisted as two on-disk artifacts so a corpus is embedded at
// most once.
//
// The only entry point the rest of the system should call is
// Manager.LoadOrBuild: it centralizes the "have we already paid the
// embedding cost" decision behind an advisory file lock, so concurrent
// builders against the same location never double-embed or race a partial
// write. Embedding an entire corpus is the single most expensive operation
// in the system and must never happen implicitly; absent the force flag, a
// valid persisted artifact always wins.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/gofrs/flock"
	"golang.org/x/time/rate"

	"github.com/dmplab/dmpgen/internal/corpus"
)

// lockRetryDelay is the polling interval while waiting on the build lock.
const lockRetryDelay = 50 * time.Millisecond

// Config holds Manager construction parameters.
type Config struct {
	// Dir is the directory holding the persisted index artifacts.
	Dir string

	// EmbedderModel is the identity of the embedding model. It is recorded
	// alongside the index and verified on load; querying an index with a
	// different model's vectors produces meaningless similarity scores.
	EmbedderModel string

	// EmbedRate caps embedding calls per second during build. Zero or
	// negative means unlimited.
	EmbedRate float64
}

// Manager builds, loads, and persists the vector index.
//
// Manager is safe for concurrent use; build/load against the same directory
// is serialized by an in-process mutex plus a cross-process advisory lock.
type Manager struct {
	dir      string
	model    string
	embedder ai.Embedder
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu sync.Mutex // serializes load-then-maybe-build within this process
}

// NewManager creates a Manager.
//
// Parameters:
//   - cfg: index directory, embedder model identity, build rate limit
//   - embedder: embedding provider handle (dependency-injected, no globals)
//   - logger: logger for diagnostics (nil = slog.Default())
func NewManager(cfg Config, embedder ai.Embedder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.EmbedRate > 0 {
		limit = rate.Limit(cfg.EmbedRate)
	}

	return &Manager{
		dir:      cfg.Dir,
		model:    cfg.EmbedderModel,
		embedder: embedder,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// Dir returns the index artifact directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Build embeds every chunk and persists a fresh index, replacing any
// existing artifacts. The embedding provider fixes the dimensionality D
// with the first vector; mixed-dimension responses are rejected.
//
// Returns corpus.ErrEmptyCorpus for an empty chunk slice: an index over
// zero vectors is meaningless and would later return nothing while looking
// healthy.
func (m *Manager) Build(ctx context.Context, chunks []corpus.Chunk) (*Handle, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: refusing to build an index over zero chunks", corpus.ErrEmptyCorpus)
	}

	start := time.Now()
	vectors := make([][]float32, 0, len(chunks))
	dim := 0

	for i, chunk := range chunks {
		vec, err := m.embedText(ctx, chunk.Text)
		if err != nil {
			return nil, fmt.Errorf("embedding chunk %s: %w", chunk.ID(), err)
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return nil, fmt.Errorf("%w: chunk %s returned dimension %d, index dimension is %d",
				ErrEmbeddingProvider, chunk.ID(), len(vec), dim)
		}
		vectors = append(vectors, vec)

		if (i+1)%100 == 0 {
			m.logger.Debug("embedding progress", "done", i+1, "total", len(chunks))
		}
	}

	if err := writeArtifacts(m.dir, m.model, chunks, vectors, dim); err != nil {
		return nil, err
	}

	m.logger.Info("index built",
		"chunks", len(chunks),
		"dimension", dim,
		"dir", m.dir,
		"duration", time.Since(start).Round(time.Millisecond))

	return newHandle(chunks, vectors, dim, m.model), nil
}

// Load reads a previously persisted index.
//
// Returns ErrIndexNotFound when no artifact exists, ErrIndexCorrupt when
// the vector structure and metadata store disagree, and ErrModelMismatch
// when the index was built with a different embedding model.
func (m *Manager) Load(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors, chunks, dim, model, err := readArtifacts(m.dir)
	if err != nil {
		return nil, err
	}
	if model != m.model {
		return nil, fmt.Errorf("%w: index built with %q, configured embedder is %q",
			ErrModelMismatch, model, m.model)
	}

	m.logger.Debug("index loaded", "chunks", len(chunks), "dimension", dim, "dir", m.dir)
	return newHandle(chunks, vectors, dim, model), nil
}

// ChunksProvider supplies the corpus when a build is needed. It is only
// invoked when no valid persisted index exists (or force is set), so
// callers pay the corpus read exactly when they pay the embedding cost.
type ChunksProvider func(ctx context.Context) ([]corpus.Chunk, error)

// LoadOrBuild loads the persisted index if present, else builds from the
// provider and persists. force bypasses the load path entirely.
//
// The check-then-act sequence holds an advisory file lock keyed by the
// index directory, so two simultaneous callers against the same location
// cannot double-embed or observe a partial write. Calling twice with no
// intervening corpus change does not re-embed.
//
// A corrupt artifact is returned as ErrIndexCorrupt rather than silently
// rebuilt; recovering from corruption requires the explicit force flag.
func (m *Manager) LoadOrBuild(ctx context.Context, provider ChunksProvider, force bool) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	unlock, err := m.acquireBuildLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !force {
		h, err := m.Load(ctx)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, ErrIndexNotFound) {
			return nil, err
		}
		m.logger.Info("no persisted index, building", "dir", m.dir)
	} else {
		m.logger.Info("force rebuild requested", "dir", m.dir)
	}

	chunks, err := provider(ctx)
	if err != nil {
		return nil, err
	}
	return m.Build(ctx, chunks)
}

// acquireBuildLock takes the cross-process advisory lock for this index
// directory. The caller must invoke the returned function to release it.
func (m *Manager) acquireBuildLock(ctx context.Context) (func(), error) {
	if err := ensureDir(m.dir); err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(m.dir, lockFileName))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquiring index build lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring index build lock: not acquired")
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			m.logger.Warn("releasing index build lock", "error", err)
		}
	}, nil
}

// embedText embeds a single text through the provider, honoring the build
// rate limit. Provider failures and empty responses are wrapped in
// ErrEmbeddingProvider.
func (m *Manager) embedText(ctx context.Context, text string) ([]float32, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := m.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingProvider, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrEmbeddingProvider)
	}
	return resp.Embeddings[0].Embedding, nil
}

// Result is a single search hit.
type Result struct {
	Chunk      corpus.Chunk
	Similarity float64 // cosine similarity
}

// Handle is an immutable, queryable snapshot of a built or loaded index.
// It is safe for concurrent use.
type Handle struct {
	chunks  []corpus.Chunk
	vectors [][]float32
	norms   []float64
	dim     int
	model   string
}

func newHandle(chunks []corpus.Chunk, vectors [][]float32, dim int, model string) *Handle {
	norms := make([]float64, len(vectors))
	for i, vec := range vectors {
		norms[i] = vectorNorm(vec)
	}
	return &Handle{chunks: chunks, vectors: vectors, norms: norms, dim: dim, model: model}
}

// Dimension returns the embedding dimensionality D fixed at build time.
func (h *Handle) Dimension() int { return h.dim }

// Len returns the number of indexed chunks.
func (h *Handle) Len() int { return len(h.chunks) }

// EmbedderModel returns the identity of the model that produced the index.
func (h *Handle) EmbedderModel() string { return h.model }

// SearchOption configures Search using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	minSimilarity float64
}

// WithMinSimilarity drops results scoring below floor. A floor of 0
// (the default) disables filtering: the top-k are returned regardless of
// absolute similarity.
func WithMinSimilarity(floor float64) SearchOption {
	return func(c *searchConfig) {
		c.minSimilarity = floor
	}
}

// Search returns up to k chunks most similar to the query vector, ordered
// by descending cosine similarity. Ties are broken by original insertion
// order so results are reproducible.
func (h *Handle) Search(vector []float32, k int, opts ...SearchOption) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTopK, k)
	}
	if len(vector) != h.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(vector), h.dim)
	}

	cfg := &searchConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	queryNorm := vectorNorm(vector)

	scores := make([]float64, len(h.vectors))
	for i, vec := range h.vectors {
		scores[i] = cosine(vec, vector, h.norms[i], queryNorm)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	results := make([]Result, 0, min(k, len(order)))
	for _, idx := range order {
		if len(results) == k {
			break
		}
		if cfg.minSimilarity > 0 && scores[idx] < cfg.minSimilarity {
			// Scores are sorted descending, nothing further can pass.
			break
		}
		results = append(results, Result{Chunk: h.chunks[idx], Similarity: scores[idx]})
	}
	return results, nil
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	return nil
}
