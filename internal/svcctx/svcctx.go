// Package svcctx builds the services a run needs and carries them through
// context to commands.
package svcctx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jackzampolin/auditparse/internal/config"
	"github.com/jackzampolin/auditparse/internal/extraction"
	"github.com/jackzampolin/auditparse/internal/home"
	"github.com/jackzampolin/auditparse/internal/llmcall"
	"github.com/jackzampolin/auditparse/internal/pipeline"
	"github.com/jackzampolin/auditparse/internal/prompts"
	"github.com/jackzampolin/auditparse/internal/providers"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Config   *config.Config
	Home     *home.Dir
	Logger   *slog.Logger
	Client   providers.LLMClient
	Limiter  *providers.RateLimiter
	Prompts  *prompts.Resolver
	Recorder *llmcall.Recorder // nil unless tracing

	resultsPath string
	tracePath   string
}

// Options adjusts how services are built.
type Options struct {
	ResultsPath string              // Overrides config output
	Trace       bool                // Record calls even when config does not
	Client      providers.LLMClient // Overrides the configured client (tests)
	Logger      *slog.Logger
}

// New builds services from cfg.
func New(cfg *config.Config, h *home.Dir, opts Options) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Services{
		Config:  cfg,
		Home:    h,
		Logger:  logger,
		Prompts: prompts.NewResolver(cfg.PromptDir, logger),
	}
	extraction.RegisterPrompts(s.Prompts)

	s.resultsPath = opts.ResultsPath
	if s.resultsPath == "" {
		s.resultsPath = cfg.Output
	}
	if s.resultsPath == "" {
		if h == nil {
			return nil, fmt.Errorf("no output path configured")
		}
		s.resultsPath = h.ResultsPath()
	}
	s.tracePath = TracePath(s.resultsPath)

	s.Client = opts.Client
	if s.Client == nil {
		apiKey := cfg.ResolveAPIKey()
		if apiKey == "" {
			return nil, fmt.Errorf("no API key for provider %q: set %s or provider.api_key", cfg.Provider.Type, apiKeyHint(cfg.Provider.APIKey))
		}
		s.Client = providers.NewOpenAIClient(providers.OpenAIConfig{
			APIKey:         apiKey,
			BaseURL:        cfg.ResolveBaseURL(),
			Model:          cfg.Provider.Model,
			Temperature:    cfg.Provider.Temperature,
			MaxTokens:      cfg.Provider.MaxTokens,
			Timeout:        cfg.Provider.HTTPTimeout(),
			RPS:            cfg.Provider.RateLimit,
			MaxConcurrency: cfg.Provider.MaxConcurrency,
			RepairAttempts: cfg.Provider.RepairAttempts,
		})
	}

	rps := cfg.Provider.RateLimit
	if rps <= 0 {
		rps = s.Client.RequestsPerSecond()
	}
	s.Limiter = providers.NewRateLimiter(rps)

	if opts.Trace || cfg.Extraction.Trace {
		if err := os.MkdirAll(filepath.Dir(s.tracePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create trace directory: %w", err)
		}
		rec, err := llmcall.NewRecorder(llmcall.RecorderConfig{Path: s.tracePath, Logger: logger})
		if err != nil {
			return nil, err
		}
		s.Recorder = rec
	}

	logger.Debug("services ready",
		"provider", s.Client.Name(),
		"model", cfg.Provider.Model,
		"rps", rps,
		"results", s.resultsPath,
		"trace", s.Recorder != nil)
	return s, nil
}

// ResultsPath returns where the result set is persisted.
func (s *Services) ResultsPath() string {
	return s.resultsPath
}

// TracePath returns where calls are recorded when tracing.
func (s *Services) TracePath() string {
	return s.tracePath
}

// NewRunner builds a pipeline runner sharing this service set's client,
// limiter and recorder. An empty runID is generated.
func (s *Services) NewRunner(runID string) (*pipeline.Runner, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	cfg := s.Config

	ext, err := extraction.New(extraction.Config{
		Client:      s.Client,
		Limiter:     s.Limiter,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
		Timeout:     cfg.Extraction.CallTimeout(),
		Prompts:     s.Prompts,
		Recorder:    s.Recorder,
		RunID:       runID,
		Logger:      s.Logger,
	})
	if err != nil {
		return nil, err
	}

	batchWorkers := cfg.Pipeline.BatchWorkers
	if mc := s.Client.MaxConcurrency(); mc > 0 && (batchWorkers <= 0 || batchWorkers > mc) {
		batchWorkers = mc
	}

	return pipeline.NewRunner(pipeline.Config{
		Extractor:      ext,
		BatchSize:      cfg.Extraction.BatchSize,
		ExtractWorkers: cfg.Pipeline.ExtractWorkers,
		BatchWorkers:   batchWorkers,
		Retries:        cfg.Extraction.PipelineRetries(),
		RetryDelay:     cfg.Extraction.RetryDelay(),
		RunID:          runID,
		Logger:         s.Logger,
	})
}

// Close flushes the call recorder.
func (s *Services) Close() error {
	if s == nil || s.Recorder == nil {
		return nil
	}
	return s.Recorder.Close()
}

// TracePath derives the call trace path from a results path:
// out/reports.json -> out/reports.calls.jsonl.
func TracePath(resultsPath string) string {
	base := strings.TrimSuffix(resultsPath, filepath.Ext(resultsPath))
	return base + ".calls.jsonl"
}

func apiKeyHint(raw string) string {
	if strings.HasPrefix(raw, "${") && strings.HasSuffix(raw, "}") {
		return raw[2 : len(raw)-1]
	}
	return "OPENAI_API_KEY"
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// LoggerFrom extracts the logger from context, falling back to the default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ClientFrom extracts the extraction service client from context.
func ClientFrom(ctx context.Context) providers.LLMClient {
	if s := ServicesFrom(ctx); s != nil {
		return s.Client
	}
	return nil
}
