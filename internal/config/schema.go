package config

import (
	"fmt"
	"time"
)

// Provider types
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

// OpenRouterBaseURL is used for the openrouter provider type when no base
// URL is configured.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// Config holds auditparse configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Provider   ProviderCfg   `mapstructure:"provider" yaml:"provider"`
	Extraction ExtractionCfg `mapstructure:"extraction" yaml:"extraction"`
	Pipeline   PipelineCfg   `mapstructure:"pipeline" yaml:"pipeline"`

	// Output is the result set path (default: {home}/output/reports.json).
	Output string `mapstructure:"output" yaml:"output"`
	// PromptDir holds <key>.tmpl prompt overrides.
	PromptDir string `mapstructure:"prompt_dir" yaml:"prompt_dir"`
}

// ProviderCfg configures the extraction service.
type ProviderCfg struct {
	Type           string  `mapstructure:"type" yaml:"type"`         // "openai", "openrouter"
	Model          string  `mapstructure:"model" yaml:"model"`       // Model name
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`   // API key (supports ${ENV_VAR} syntax)
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"` // OpenAI-compatible endpoint
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	MaxConcurrency int     `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	RepairAttempts int     `mapstructure:"repair_attempts" yaml:"repair_attempts"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // HTTP timeout
}

// ExtractionCfg configures batching and the per-batch retry.
type ExtractionCfg struct {
	BatchSize         int     `mapstructure:"batch_size" yaml:"batch_size"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"` // Per batch call
	Retries           int     `mapstructure:"retries" yaml:"retries"`                 // After the first attempt
	RetryDelaySeconds float64 `mapstructure:"retry_delay_seconds" yaml:"retry_delay_seconds"`
	Trace             bool    `mapstructure:"trace" yaml:"trace"` // Record every call as JSONL
}

// PipelineCfg sizes the worker pools.
type PipelineCfg struct {
	ExtractWorkers int `mapstructure:"extract_workers" yaml:"extract_workers"`
	BatchWorkers   int `mapstructure:"batch_workers" yaml:"batch_workers"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderCfg{
			Type:           ProviderOpenAI,
			Model:          "gpt-5-mini",
			APIKey:         "${OPENAI_API_KEY}",
			RateLimit:      2.0,
			MaxConcurrency: 4,
			RepairAttempts: 1,
			TimeoutSeconds: 300,
		},
		Extraction: ExtractionCfg{
			BatchSize:         5,
			TimeoutSeconds:    180,
			Retries:           1,
			RetryDelaySeconds: 2,
		},
		Pipeline: PipelineCfg{
			ExtractWorkers: 4,
			BatchWorkers:   2,
		},
	}
}

// Validate reports settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case ProviderOpenAI, ProviderOpenRouter:
	default:
		return fmt.Errorf("unknown provider type %q", c.Provider.Type)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.Provider.RateLimit < 0 {
		return fmt.Errorf("provider.rate_limit must not be negative")
	}
	if c.Provider.RepairAttempts < 0 {
		return fmt.Errorf("provider.repair_attempts must not be negative")
	}
	if c.Extraction.BatchSize <= 0 {
		return fmt.Errorf("extraction.batch_size must be positive")
	}
	if c.Extraction.Retries < 0 {
		return fmt.Errorf("extraction.retries must not be negative")
	}
	if c.Pipeline.ExtractWorkers < 0 || c.Pipeline.BatchWorkers < 0 {
		return fmt.Errorf("pipeline worker counts must not be negative")
	}
	return nil
}

// ResolveAPIKey returns the provider API key with ${ENV_VAR} references
// expanded.
func (c *Config) ResolveAPIKey() string {
	return ResolveEnvVars(c.Provider.APIKey)
}

// ResolveBaseURL returns the configured base URL, falling back to the
// provider type's endpoint. Empty means the SDK default.
func (c *Config) ResolveBaseURL() string {
	if c.Provider.BaseURL != "" {
		return ResolveEnvVars(c.Provider.BaseURL)
	}
	if c.Provider.Type == ProviderOpenRouter {
		return OpenRouterBaseURL
	}
	return ""
}

// HTTPTimeout returns the provider HTTP timeout.
func (c *ProviderCfg) HTTPTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CallTimeout returns the per batch call timeout.
func (c *ExtractionCfg) CallTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryDelay returns the initial delay between batch attempts.
func (c *ExtractionCfg) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds * float64(time.Second))
}

// PipelineRetries maps the configured retry count onto pipeline.Config,
// where zero selects the default and a negative value disables retrying.
func (c *ExtractionCfg) PipelineRetries() int {
	if c.Retries == 0 {
		return -1
	}
	return c.Retries
}
