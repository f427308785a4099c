package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"

	"github.com/dmplab/dmpgen/internal/config"
	"github.com/dmplab/dmpgen/internal/corpus"
	"github.com/dmplab/dmpgen/internal/generate"
	"github.com/dmplab/dmpgen/internal/index"
	"github.com/dmplab/dmpgen/internal/log"
	"github.com/dmplab/dmpgen/internal/pipeline"
	"github.com/dmplab/dmpgen/internal/prompt"
	"github.com/dmplab/dmpgen/internal/retriever"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}

	a := &App{Config: cfg, Logger: logger}

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Index = index.NewManager(index.Config{
		Dir:           cfg.IndexDir,
		EmbedderModel: cfg.EmbedderModel,
		EmbedRate:     cfg.EmbedRate,
	}, embedder, logger.With("component", "index"))

	registry, err := prompt.DefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("building section registry: %w", err)
	}
	a.Registry = registry

	a.Runner = provideRunner(a, g)

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	return a, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
// Supports gemini/googleai (default) and ollama providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		// Register embedder used for both index build and query embedding
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	default: // "gemini" / "googleai"
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - gemini/googleai: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideRunner assembles the pipeline runner. The retriever and generator
// are built per run from the loaded index handle, so the factory closes over
// the stable dependencies and defers the rest.
func provideRunner(a *App, g *genkit.Genkit) *pipeline.Runner {
	cfg := a.Config
	store := corpus.NewStore(cfg.ChunksDir)
	model := &genkitGenerator{
		genkit:      g,
		modelName:   cfg.FullModelName(),
		temperature: cfg.Temperature,
	}

	factory := func(handle *index.Handle, topK int) pipeline.SectionGenerator {
		var retOpts []retriever.Option
		if cfg.MinSimilarity > 0 {
			retOpts = append(retOpts, retriever.WithMinSimilarity(cfg.MinSimilarity))
		}
		ret := retriever.New(handle, a.Embedder, a.Logger.With("component", "retriever"), retOpts...)
		return generate.New(a.Registry, ret, model,
			a.Logger.With("component", "generate"), generate.WithTopK(topK))
	}

	return pipeline.New(a.Index, store.Load, factory, a.Registry,
		cfg.OutputsDir, cfg.IndexDir, a.Logger.With("component", "pipeline"))
}

// genkitGenerator adapts genkit.Generate to the generate.TextGenerator
// interface: one plain-text completion per call, no retries.
type genkitGenerator struct {
	genkit      *genkit.Genkit
	modelName   string
	temperature float32
}

func (t *genkitGenerator) Generate(ctx context.Context, promptText string) (string, error) {
	resp, err := genkit.Generate(ctx, t.genkit,
		ai.WithModelName(t.modelName),
		ai.WithPrompt(promptText),
		ai.WithConfig(map[string]any{"temperature": t.temperature}),
	)
	if err != nil {
		return "", fmt.Errorf("generating with %s: %w", t.modelName, err)
	}
	return resp.Text(), nil
}
