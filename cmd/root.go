// Package cmd contains the dmpgen command-line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmplab/dmpgen/internal/config"
	"github.com/dmplab/dmpgen/internal/log"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "dmpgen",
	Short: "dmpgen - retrieval-augmented Data Management Plan generator",
	Long: `dmpgen generates NIH-style Data Management and Sharing Plans.

It retrieves relevant policy context from a local vector index built over
pre-chunked reference documents, then drafts each plan section with an AI
model and assembles the result into a markdown (and PDF) document.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadEnvironment loads configuration and builds the root logger shared by
// all subcommands.
func loadEnvironment() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	level := slog.LevelInfo
	if verbose || os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})

	if err := checkRequiredEnv(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// checkRequiredEnv verifies provider credentials before any work starts.
// Ollama is local and needs no key.
func checkRequiredEnv(cfg *config.Config) error {
	if cfg.Provider == config.ProviderOllama {
		return nil
	}
	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "dmpgen requires a Gemini API key for embedding and generation.")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Get your API key at: https://ai.google.dev/")
		return fmt.Errorf("GEMINI_API_KEY not set")
	}
	return nil
}
