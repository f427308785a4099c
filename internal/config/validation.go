package config

import (
	"fmt"
	"strings"
)

// Validate checks all configuration values and returns the first violation.
// Called by Load() so an invalid configuration never reaches the pipeline.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRetrieval(); err != nil {
		return err
	}
	return c.validatePipeline()
}

func (c *Config) validateProvider() error {
	switch c.Provider {
	case ProviderGemini, ProviderOllama, ProviderGoogleAI:
		return nil
	default:
		return fmt.Errorf("%w: %q (must be one of: gemini, ollama, googleai)", ErrInvalidProvider, c.Provider)
	}
}

func (c *Config) validateModels() error {
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}
	if c.Provider == ProviderOllama && strings.TrimSpace(c.OllamaHost) == "" {
		return fmt.Errorf("%w: host must not be empty when provider is ollama", ErrInvalidOllamaHost)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.BaseDir) == "" && (c.ChunksDir == "" || c.IndexDir == "" || c.OutputsDir == "") {
		return fmt.Errorf("%w: base_dir (or all of chunks_dir/index_dir/outputs_dir) must be set", ErrInvalidBaseDir)
	}
	return nil
}

func (c *Config) validateRetrieval() error {
	if c.TopK < 1 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidTopK, c.TopK, MaxTopK)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("%w: %g (must be 0.0-1.0)", ErrInvalidMinSimilarity, c.MinSimilarity)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidWorkers, c.Workers, MaxWorkers)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: %d (must be >= 0)", ErrInvalidTimeout, c.TimeoutSeconds)
	}
	if c.EmbedRate <= 0 || c.EmbedRate > 1000 {
		return fmt.Errorf("%w: %g (must be > 0 and <= 1000)", ErrInvalidEmbedRate, c.EmbedRate)
	}
	return nil
}
