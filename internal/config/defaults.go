package config

import (
	"errors"
	"fmt"
	"unicode"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// ErrInvalidKey is returned when a config key contains invalid characters.
var ErrInvalidKey = errors.New("invalid config key")

// Entry represents a single configuration entry.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns the default configuration entries, one per key.
// They seed viper's defaults, so each key can also be set through the
// environment (provider.model -> AUDITPARSE_PROVIDER_MODEL).
func DefaultEntries() []Entry {
	d := DefaultConfig()
	return []Entry{
		// ===================
		// Extraction service
		// ===================
		{
			Key:         "provider.type",
			Value:       d.Provider.Type,
			Description: "Extraction service type: openai or openrouter",
		},
		{
			Key:         "provider.model",
			Value:       d.Provider.Model,
			Description: "Model used for extraction",
		},
		{
			Key:         "provider.api_key",
			Value:       d.Provider.APIKey,
			Description: "API key (uses environment variable)",
		},
		{
			Key:         "provider.base_url",
			Value:       d.Provider.BaseURL,
			Description: "OpenAI-compatible endpoint; empty uses the provider default",
		},
		{
			Key:         "provider.temperature",
			Value:       d.Provider.Temperature,
			Description: "Sampling temperature; 0 leaves the model default",
		},
		{
			Key:         "provider.max_tokens",
			Value:       d.Provider.MaxTokens,
			Description: "Completion token cap; 0 means no cap",
		},
		{
			Key:         "provider.rate_limit",
			Value:       d.Provider.RateLimit,
			Description: "Rate limit in requests per second, shared by all batch workers",
		},
		{
			Key:         "provider.max_concurrency",
			Value:       d.Provider.MaxConcurrency,
			Description: "Maximum concurrent requests to the service",
		},
		{
			Key:         "provider.repair_attempts",
			Value:       d.Provider.RepairAttempts,
			Description: "Follow-up requests asking the model to fix unparsable or invalid JSON",
		},
		{
			Key:         "provider.timeout_seconds",
			Value:       d.Provider.TimeoutSeconds,
			Description: "HTTP timeout in seconds",
		},

		// ===================
		// Extraction
		// ===================
		{
			Key:         "extraction.batch_size",
			Value:       d.Extraction.BatchSize,
			Description: "Documents per extraction call",
		},
		{
			Key:         "extraction.timeout_seconds",
			Value:       d.Extraction.TimeoutSeconds,
			Description: "Timeout in seconds for one batch call",
		},
		{
			Key:         "extraction.retries",
			Value:       d.Extraction.Retries,
			Description: "Retries for a failed batch before its files are defaulted",
		},
		{
			Key:         "extraction.retry_delay_seconds",
			Value:       d.Extraction.RetryDelaySeconds,
			Description: "Initial delay between batch attempts (doubles per retry)",
		},
		{
			Key:         "extraction.trace",
			Value:       d.Extraction.Trace,
			Description: "Record every extraction call to <output>.calls.jsonl",
		},

		// ===================
		// Pipeline
		// ===================
		{
			Key:         "pipeline.extract_workers",
			Value:       d.Pipeline.ExtractWorkers,
			Description: "Documents read in parallel",
		},
		{
			Key:         "pipeline.batch_workers",
			Value:       d.Pipeline.BatchWorkers,
			Description: "Batches extracted in parallel",
		},
		{
			Key:         "output",
			Value:       d.Output,
			Description: "Result set path; empty uses the home output directory",
		},
		{
			Key:         "prompt_dir",
			Value:       d.PromptDir,
			Description: "Directory of <key>.tmpl prompt overrides",
		},
	}
}

// GetDefault returns the default entry for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	// Don't allow keys starting or ending with dots
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}
