// Package pipeline orchestrates a full DMP generation run: ensure the index
// exists, generate every requested section, assemble the document, export it.
//
// The default policy is fail-fast: the first section failure aborts the run
// and nothing is written. With ContinueOnError the run records per-section
// errors, flags the failed sections in the exported markdown, and still
// writes the document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmplab/dmpgen/internal/assemble"
	"github.com/dmplab/dmpgen/internal/generate"
	"github.com/dmplab/dmpgen/internal/index"
	"github.com/dmplab/dmpgen/internal/prompt"
)

// ErrNoSections indicates a run was requested with an empty section order
// and an empty registry.
var ErrNoSections = errors.New("no sections to generate")

// IndexLoader provides the searchable index for a run.
type IndexLoader interface {
	LoadOrBuild(ctx context.Context, provider index.ChunksProvider, force bool) (*index.Handle, error)
}

// SectionGenerator produces the text for one section.
type SectionGenerator interface {
	GenerateSection(ctx context.Context, key string, info prompt.ProjectInfo) (*generate.GeneratedSection, error)
}

// GeneratorFactory builds a section generator over a loaded index handle.
// The handle only exists once LoadOrBuild has run, so the runner defers
// generator construction to this factory.
type GeneratorFactory func(handle *index.Handle, topK int) SectionGenerator

// Options control a single run.
type Options struct {
	// SectionOrder lists section keys in document order. Empty means the
	// registry's registration order.
	SectionOrder []string

	// Info is the project metadata fed to query builders and templates.
	Info prompt.ProjectInfo

	// TopK is the number of context chunks per section. Zero means 6.
	TopK int

	// RebuildIndex forces re-embedding even when a valid index exists.
	RebuildIndex bool

	// OutName is the markdown file name under the outputs directory.
	// Empty means "dmp.md".
	OutName string

	// ContinueOnError switches from fail-fast to skip-and-continue.
	ContinueOnError bool

	// Workers bounds concurrent section generation. Zero or one means
	// sequential.
	Workers int

	// Timeout bounds the whole run. Zero means no deadline.
	Timeout time.Duration
}

// RunResult reports what a run produced.
type RunResult struct {
	RunID        string
	Sections     map[string]string
	Errors       map[string]error
	MarkdownPath string
	PDFPath      string
	IndexDir     string
	Document     *assemble.Document
}

// Runner executes DMP generation runs. Safe for sequential reuse.
type Runner struct {
	loader       IndexLoader
	chunks       index.ChunksProvider
	newGenerator GeneratorFactory
	registry     *prompt.Registry
	outputsDir   string
	indexDir     string
	logger       *slog.Logger
}

// New creates a Runner.
func New(loader IndexLoader, chunks index.ChunksProvider, factory GeneratorFactory,
	registry *prompt.Registry, outputsDir, indexDir string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		loader:       loader,
		chunks:       chunks,
		newGenerator: factory,
		registry:     registry,
		outputsDir:   outputsDir,
		indexDir:     indexDir,
		logger:       logger,
	}
}

// Run executes one full generation run.
//
// An unknown section key in the order aborts the run regardless of policy:
// a misspelled key means the caller's intent cannot be honored, which is
// different from a provider hiccup on a known section.
func (r *Runner) Run(ctx context.Context, opts Options) (*RunResult, error) {
	runID := uuid.NewString()
	start := time.Now()

	order := opts.SectionOrder
	if len(order) == 0 {
		order = r.registry.Keys()
	}
	if len(order) == 0 {
		return nil, ErrNoSections
	}
	for _, key := range order {
		if _, err := r.registry.Get(key); err != nil {
			return nil, err
		}
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = 6
	}
	outName := opts.OutName
	if outName == "" {
		outName = "dmp.md"
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	logger := r.logger.With("run_id", runID)
	logger.Info("starting run",
		"sections", len(order), "top_k", topK,
		"rebuild_index", opts.RebuildIndex, "continue_on_error", opts.ContinueOnError)

	handle, err := r.loader.LoadOrBuild(ctx, r.chunks, opts.RebuildIndex)
	if err != nil {
		return nil, fmt.Errorf("preparing index: %w", err)
	}
	gen := r.newGenerator(handle, topK)

	sections, secErrs, err := r.generateAll(ctx, gen, order, opts)
	if err != nil {
		// Fail-fast: nothing is written.
		return nil, err
	}

	result := &RunResult{
		RunID:    runID,
		Sections: make(map[string]string, len(order)),
		Errors:   secErrs,
		IndexDir: r.indexDir,
	}

	doc := &assemble.Document{
		Title:    opts.Info.Title(),
		Info:     opts.Info,
		Sections: make([]generate.GeneratedSection, 0, len(order)),
	}
	for i, key := range order {
		if genErr, failed := secErrs[key]; failed {
			spec, _ := r.registry.Get(key)
			doc.Sections = append(doc.Sections, generate.GeneratedSection{
				SectionKey:  key,
				Title:       spec.Title,
				Text:        errorMarker(key, genErr),
				GeneratedAt: time.Now().UTC(),
			})
			continue
		}
		sec := sections[i]
		doc.Sections = append(doc.Sections, *sec)
		result.Sections[key] = sec.Text
	}
	result.Document = doc

	mdPath := filepath.Join(r.outputsDir, outName)
	if err := assemble.SaveMarkdown(assemble.ToMarkdown(doc), mdPath); err != nil {
		return nil, err
	}
	result.MarkdownPath = mdPath

	pdfPath := strings.TrimSuffix(mdPath, filepath.Ext(mdPath)) + ".pdf"
	if err := assemble.SavePDF(doc, pdfPath); err != nil {
		logger.Warn("pdf export failed, markdown remains the canonical artifact", "error", err)
	} else {
		result.PDFPath = pdfPath
	}

	logger.Info("run finished",
		"generated", len(result.Sections), "failed", len(result.Errors),
		"markdown", result.MarkdownPath, "elapsed", time.Since(start))
	return result, nil
}

// generateAll produces every section, respecting the error policy.
// The returned slice is positionally aligned with order; under
// skip-and-continue failed positions are nil and recorded in the error map.
func (r *Runner) generateAll(ctx context.Context, gen SectionGenerator, order []string, opts Options) ([]*generate.GeneratedSection, map[string]error, error) {
	sections := make([]*generate.GeneratedSection, len(order))
	secErrs := make(map[string]error)

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	if workers == 1 && !opts.ContinueOnError {
		for i, key := range order {
			sec, err := gen.GenerateSection(ctx, key, opts.Info)
			if err != nil {
				return nil, nil, err
			}
			sections[i] = sec
		}
		return sections, secErrs, nil
	}

	if workers == 1 {
		for i, key := range order {
			if err := ctx.Err(); err != nil {
				secErrs[key] = err
				continue
			}
			sec, err := gen.GenerateSection(ctx, key, opts.Info)
			if err != nil {
				r.logger.Warn("section failed, continuing", "section", key, "error", err)
				secErrs[key] = err
				continue
			}
			sections[i] = sec
		}
		return sections, secErrs, nil
	}

	// Parallel path. Each goroutine writes only its own slot; the error map
	// is filled after Wait so no mutex is needed.
	perErr := make([]error, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, key := range order {
		g.Go(func() error {
			sec, err := gen.GenerateSection(gctx, key, opts.Info)
			if err != nil {
				if opts.ContinueOnError {
					r.logger.Warn("section failed, continuing", "section", key, "error", err)
					perErr[i] = err
					return nil
				}
				return err
			}
			sections[i] = sec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	for i, key := range order {
		if perErr[i] != nil {
			secErrs[key] = perErr[i]
		}
	}
	return sections, secErrs, nil
}

func errorMarker(key string, err error) string {
	return fmt.Sprintf("> **Generation failed for this section.**\n>\n> Section `%s` could not be generated: %v", key, err)
}
