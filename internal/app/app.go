// Package app provides application initialization and dependency injection.
//
// App is the container that wires configuration, logging, the Genkit AI
// providers, the vector index, and the generation pipeline together. All
// other packages receive their dependencies through constructors; only app
// knows the full object graph.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/dmplab/dmpgen/internal/config"
	"github.com/dmplab/dmpgen/internal/index"
	"github.com/dmplab/dmpgen/internal/log"
	"github.com/dmplab/dmpgen/internal/pipeline"
	"github.com/dmplab/dmpgen/internal/prompt"
)

// App is the core application container.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Index    *index.Manager
	Registry *prompt.Registry
	Runner   *pipeline.Runner

	cancel context.CancelFunc
}

// Close releases application resources.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.Logger != nil {
		a.Logger.Debug("application shut down")
	}
	return nil
}
