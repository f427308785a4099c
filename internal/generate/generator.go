// Package generate turns one section spec plus project metadata into
// generated DMP text: build the retrieval query, gather context, render the
// prompt, call the model once, postprocess.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmplab/dmpgen/internal/corpus"
	"github.com/dmplab/dmpgen/internal/prompt"
	"github.com/dmplab/dmpgen/internal/retriever"
)

// ErrGenerationProvider indicates the text-generation provider failed for a
// section. The wrapped error names the section so callers can report it.
var ErrGenerationProvider = errors.New("generation provider error")

// chunkSeparator joins retrieved chunk texts into the {context} slot.
const chunkSeparator = "\n\n"

// ContextRetriever is the retrieval dependency of the generator.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retriever.ScoredChunk, error)
}

// TextGenerator is the model dependency of the generator. Implementations
// make exactly one provider call per Generate; the generator performs no
// internal retries.
type TextGenerator interface {
	Generate(ctx context.Context, promptText string) (string, error)
}

// GeneratedSection is the output of one section generation.
type GeneratedSection struct {
	SectionKey    string
	Title         string
	Text          string
	ContextChunks []corpus.Chunk
	GeneratedAt   time.Time
}

// Generator produces DMP section text via retrieval-augmented generation.
// Safe for concurrent use: all fields are read-only after construction.
type Generator struct {
	registry  *prompt.Registry
	retriever ContextRetriever
	model     TextGenerator
	topK      int
	logger    *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithTopK overrides the number of context chunks retrieved per section.
func WithTopK(k int) Option {
	return func(g *Generator) {
		if k > 0 {
			g.topK = k
		}
	}
}

// New creates a Generator.
func New(registry *prompt.Registry, ret ContextRetriever, model TextGenerator, logger *slog.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		registry:  registry,
		retriever: ret,
		model:     model,
		topK:      6,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateSection produces the text for one section.
//
// An unknown section key returns prompt.ErrPromptNotFound: the section order
// disagrees with the registry, which is a configuration bug and must abort
// the whole run rather than skip quietly. Empty retrieval is not an error;
// the section is generated from project metadata alone with a warning.
func (g *Generator) GenerateSection(ctx context.Context, key string, info prompt.ProjectInfo) (*GeneratedSection, error) {
	spec, err := g.registry.Get(key)
	if err != nil {
		return nil, err
	}

	query := spec.BuildQuery(info)
	scored, err := g.retriever.Retrieve(ctx, query, g.topK)
	if err != nil {
		return nil, fmt.Errorf("retrieving context for section %q: %w", key, err)
	}
	if len(scored) == 0 {
		g.logger.Warn("no context retrieved, generating from project metadata alone",
			"section", key, "query_len", len(query))
	}

	chunks := make([]corpus.Chunk, len(scored))
	texts := make([]string, len(scored))
	for i, sc := range scored {
		chunks[i] = sc.Chunk
		texts[i] = sc.Chunk.Text
	}

	rendered, err := prompt.Render(spec.Template, map[string]string{
		"project_info": info.Format(),
		"context":      strings.Join(texts, chunkSeparator),
		"section_name": spec.Title,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering prompt for section %q: %w", key, err)
	}

	out, err := g.model.Generate(ctx, rendered)
	if err != nil {
		return nil, fmt.Errorf("%w: section %q: %v", ErrGenerationProvider, key, err)
	}

	text := strings.TrimSpace(out)
	if text == "" {
		// The plan document must carry a visible gap marker rather than a
		// silently empty section.
		text = fmt.Sprintf("[No content generated for %s]", key)
		g.logger.Warn("model returned empty output", "section", key)
	}

	g.logger.Info("section generated",
		"section", key, "context_chunks", len(chunks), "text_len", len(text))

	return &GeneratedSection{
		SectionKey:    key,
		Title:         spec.Title,
		Text:          text,
		ContextChunks: chunks,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}
