// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.dmpgen/config.yaml, or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: generation model, embedder model, provider selection
//   - Corpus: chunk, index, and output directories
//   - Retrieval: top-k, similarity floor
//   - Pipeline: failure policy, worker count, overall timeout
//
// Validation is comprehensive and fail-fast: Load() returns an error for any
// out-of-range value so a misconfigured pipeline never reaches the embedding
// spend. Sentinel errors support errors.Is() checks.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model name is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidBaseDir indicates the data directory is not set.
	ErrInvalidBaseDir = errors.New("invalid base directory")

	// ErrInvalidTopK indicates the retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidMinSimilarity indicates the similarity floor is out of range.
	ErrInvalidMinSimilarity = errors.New("invalid min_similarity")

	// ErrInvalidWorkers indicates the worker count is out of range.
	ErrInvalidWorkers = errors.New("invalid workers")

	// ErrInvalidTimeout indicates the pipeline timeout is negative.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidEmbedRate indicates the embedding rate limit is out of range.
	ErrInvalidEmbedRate = errors.New("invalid embed_rate")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
)

const (
	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// DefaultTopK is the default number of context chunks retrieved per section.
	DefaultTopK = 6

	// MaxTopK bounds retrieval so a bad config cannot flood the prompt window.
	MaxTopK = 50

	// MaxWorkers bounds the section-generation worker pool.
	MaxWorkers = 16
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider"`       // "gemini" (default), "ollama", "googleai"
	ModelName     string  `mapstructure:"model_name"`     // e.g. "gemini-2.5-flash", "llama3.3"
	EmbedderModel string  `mapstructure:"embedder_model"` // embedding model identity, recorded with the index
	Temperature   float32 `mapstructure:"temperature"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host"`

	// Corpus and artifact directories. ChunksDir holds externally produced
	// chunk JSON files; IndexDir holds the persisted vector index artifacts;
	// OutputsDir receives assembled documents.
	BaseDir    string `mapstructure:"base_dir"`
	ChunksDir  string `mapstructure:"chunks_dir"`
	IndexDir   string `mapstructure:"index_dir"`
	OutputsDir string `mapstructure:"outputs_dir"`

	// Retrieval configuration
	TopK          int     `mapstructure:"top_k"`
	MinSimilarity float64 `mapstructure:"min_similarity"` // 0 disables the floor

	// Pipeline configuration
	ContinueOnError bool `mapstructure:"continue_on_error"` // default false: fail-fast
	Workers         int  `mapstructure:"workers"`           // section-generation parallelism
	TimeoutSeconds  int  `mapstructure:"timeout_seconds"`   // 0 disables the overall deadline

	// EmbedRate caps embedding-provider calls per second during index build.
	EmbedRate float64 `mapstructure:"embed_rate"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".dmpgen")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	cfg.applyDerivedPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	v.SetDefault("temperature", 0.3)

	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("base_dir", "data")

	v.SetDefault("top_k", DefaultTopK)
	v.SetDefault("min_similarity", 0.0)

	v.SetDefault("continue_on_error", false)
	v.SetDefault("workers", 1)
	v.SetDefault("timeout_seconds", 0)

	v.SetDefault("embed_rate", 10.0)
}

// bindEnvVariables binds environment variable overrides explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "DMPGEN_PROVIDER")
	mustBind("model_name", "DMPGEN_MODEL_NAME")
	mustBind("embedder_model", "DMPGEN_EMBEDDER_MODEL")
	mustBind("ollama_host", "DMPGEN_OLLAMA_HOST")
	mustBind("base_dir", "DMPGEN_BASE_DIR")
	mustBind("continue_on_error", "DMPGEN_CONTINUE_ON_ERROR")
}

// applyDerivedPaths fills the per-artifact directories from BaseDir when
// they were not set explicitly. This mirrors the conventional layout:
// <base>/chunks, <base>/index, <base>/outputs.
func (c *Config) applyDerivedPaths() {
	if c.BaseDir == "" {
		return
	}
	if c.ChunksDir == "" {
		c.ChunksDir = filepath.Join(c.BaseDir, "chunks")
	}
	if c.IndexDir == "" {
		c.IndexDir = filepath.Join(c.BaseDir, "index")
	}
	if c.OutputsDir == "" {
		c.OutputsDir = filepath.Join(c.BaseDir, "outputs")
	}
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// Timeout returns the configured overall pipeline deadline, zero when disabled.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
