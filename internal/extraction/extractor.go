// Package extraction sends assembled batches to the extraction service and
// decodes the reply into one raw extraction per source file.
package extraction

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackzampolin/auditparse/internal/batch"
	"github.com/jackzampolin/auditparse/internal/llmcall"
	"github.com/jackzampolin/auditparse/internal/prompts"
	"github.com/jackzampolin/auditparse/internal/providers"
	"github.com/jackzampolin/auditparse/internal/report"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPrompt string

// Prompt keys
const (
	SystemPromptKey = "extraction.batch.system"
	UserPromptKey   = "extraction.batch.user"
)

// DefaultTimeout bounds one service call.
const DefaultTimeout = 3 * time.Minute

// RegisterPrompts registers the extraction prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Batch extraction system prompt - one record per file marker",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPrompt,
		Description: "Batch extraction user prompt carrying the combined text",
	})
}

// Config configures an Extractor.
type Config struct {
	Client  providers.LLMClient
	Limiter *providers.RateLimiter // Optional; shared across workers

	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // Per call (default: 3m)

	Prompts  *prompts.Resolver // Optional; embedded prompts when nil
	Recorder *llmcall.Recorder // Optional
	RunID    string
	Logger   *slog.Logger
}

// Extractor runs schema-constrained extraction for batches.
type Extractor struct {
	client   providers.LLMClient
	limiter  *providers.RateLimiter
	model    string
	temp     float64
	maxTok   int
	timeout  time.Duration
	prompts  *prompts.Resolver
	recorder *llmcall.Recorder
	runID    string
	logger   *slog.Logger
}

// New creates an Extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("extraction client is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.NewResolver("", cfg.Logger)
	}
	RegisterPrompts(cfg.Prompts)

	return &Extractor{
		client:   cfg.Client,
		limiter:  cfg.Limiter,
		model:    cfg.Model,
		temp:     cfg.Temperature,
		maxTok:   cfg.MaxTokens,
		timeout:  cfg.Timeout,
		prompts:  cfg.Prompts,
		recorder: cfg.Recorder,
		runID:    cfg.RunID,
		logger:   cfg.Logger,
	}, nil
}

// Extract makes one service call for b. attempt is 1-based and only used
// for tracing.
func (e *Extractor) Extract(ctx context.Context, b batch.Batch, attempt int) Outcome {
	logger := e.logger.With("batch", b.Index, "attempt", attempt, "files", b.Len())
	serviceErr := func(err error) error {
		return &BatchServiceError{Batch: b.Index, Files: b.Files, Attempt: attempt, Err: err}
	}

	req, promptKey, err := e.request(b)
	if err != nil {
		return Failed(b, fmt.Errorf("failed to build request for batch %d: %w", b.Index, err))
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return Failed(b, serviceErr(err))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	logger.Debug("calling extraction service", "provider", e.client.Name())
	result, err := e.client.Chat(callCtx, req)
	e.recorder.Record(result, llmcall.RecordOptions{
		RunID:       e.runID,
		Batch:       b.Index,
		Files:       b.Files,
		Attempt:     attempt,
		PromptKey:   promptKey,
		Temperature: &e.temp,
	})

	if err != nil {
		if ctx.Err() != nil {
			return Failed(b, serviceErr(ctx.Err()))
		}
		if rle, ok := providers.IsRateLimitError(err); ok && e.limiter != nil {
			e.limiter.Record429(rle.RetryAfter)
		}
		logger.Warn("extraction call failed", "error", err)
		return Retry(b, serviceErr(err))
	}

	if result.ErrorType == providers.ErrorTypeSchemaMismatch {
		logger.Warn("response does not match batch schema, reconciling", "issue", result.ErrorMessage)
	}

	obj, err := decodeObject(result)
	if err != nil {
		logger.Warn("extraction response unusable", "error", err)
		return Retry(b, serviceErr(err))
	}

	raw, mismatch := Reconcile(b.Index, b.Files, obj)
	if mismatch != nil {
		logger.Warn("reconciled response keys", "extra", mismatch.Extra, "missing", mismatch.Missing)
	}
	logger.Info("batch extracted",
		"tokens", result.TotalTokens,
		"latency_ms", result.TotalTime.Milliseconds(),
		"repairs", max(result.Attempts-1, 0))
	return OK(b, raw, mismatch, result)
}

// errProvenance is returned when a batch's text does not delimit exactly its
// files, in order.
var errProvenance = errors.New("batch text does not match batch files")

func (e *Extractor) request(b batch.Batch) (*providers.ChatRequest, string, error) {
	items, err := batch.Split(b.Text)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errProvenance, err)
	}
	if len(items) != len(b.Files) {
		return nil, "", fmt.Errorf("%w: %d delimited documents for %d files", errProvenance, len(items), len(b.Files))
	}
	for i, item := range items {
		if item.Name != b.Files[i] {
			return nil, "", fmt.Errorf("%w: position %d is %q, want %q", errProvenance, i, item.Name, b.Files[i])
		}
	}

	schema, err := report.BatchResponseFormat(b.Files)
	if err != nil {
		return nil, "", err
	}

	quoted := make([]string, len(b.Files))
	for i, f := range b.Files {
		quoted[i] = strconv.Quote(f)
	}

	sys, err := e.prompts.Resolve(SystemPromptKey)
	if err != nil {
		return nil, "", err
	}
	sysText, err := sys.Render(map[string]any{
		"Count": b.Len(),
		"Files": strings.Join(quoted, ", "),
	})
	if err != nil {
		return nil, "", err
	}

	user, err := e.prompts.Resolve(UserPromptKey)
	if err != nil {
		return nil, "", err
	}
	userText, err := user.Render(map[string]any{"Text": b.Text})
	if err != nil {
		return nil, "", err
	}

	return &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: sysText},
			{Role: providers.RoleUser, Content: userText},
		},
		Model:       e.model,
		Temperature: e.temp,
		MaxTokens:   e.maxTok,
		ResponseFormat: &providers.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: schema,
		},
	}, SystemPromptKey + "@" + sys.Hash, nil
}

// errNotObject is returned when the service reply decodes to something other
// than a JSON object.
var errNotObject = errors.New("response is not a JSON object")

func decodeObject(result *providers.ChatResult) (map[string]any, error) {
	if result == nil || len(result.ParsedJSON) == 0 {
		return nil, fmt.Errorf("%w: empty response", providers.ErrUnparsableOutput)
	}
	var doc any
	if err := json.Unmarshal(result.ParsedJSON, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrUnparsableOutput, err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w (got %T)", errNotObject, doc)
	}
	return obj, nil
}

// recordKeys are top-level record fields. An object carrying them in place
// of filename keys is a bare record.
var recordKeys = []string{
	report.FieldReportTitle, report.FieldExecutiveSummary, report.FieldOverallAuditRating,
	report.FieldDetails, report.FieldRecommendations, report.FieldManagementActionPlan,
}

// Reconcile maps response keys onto the batch's files.
//
// Keys match exactly first, then after trimming and case folding, then by
// name without extension. Unmatched keys are dropped. Files without a
// matching key are reported missing. A single-file batch answered with a
// bare record is accepted as that file's record.
func Reconcile(batchIndex int, files []string, obj map[string]any) (map[string]RawExtraction, *SchemaMismatchError) {
	raw := make(map[string]RawExtraction, len(files))

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(files) == 1 {
		if _, keyed := obj[files[0]]; !keyed && looksLikeRecord(obj) {
			raw[files[0]] = RawExtraction{File: files[0], Data: obj}
			return raw, nil
		}
	}

	fold := uniqueIndex(files, func(f string) string { return strings.ToLower(strings.TrimSpace(f)) })
	stem := uniqueIndex(files, func(f string) string {
		f = strings.ToLower(strings.TrimSpace(f))
		return strings.TrimSuffix(f, path.Ext(f))
	})

	var extra []string
	pending := make([]string, 0, len(keys))
	for _, k := range keys {
		if slices.Contains(files, k) {
			raw[k] = RawExtraction{File: k, Data: obj[k]}
			continue
		}
		pending = append(pending, k)
	}
	for _, k := range pending {
		name := strings.ToLower(strings.TrimSpace(k))
		file, ok := fold[name]
		if !ok {
			file, ok = stem[strings.TrimSuffix(name, path.Ext(name))]
		}
		if !ok {
			extra = append(extra, k)
			continue
		}
		if _, taken := raw[file]; taken {
			extra = append(extra, k)
			continue
		}
		raw[file] = RawExtraction{File: file, Data: obj[k]}
	}

	var missing []string
	for _, f := range files {
		if _, ok := raw[f]; !ok {
			missing = append(missing, f)
		}
	}

	if len(extra) == 0 && len(missing) == 0 {
		return raw, nil
	}
	return raw, &SchemaMismatchError{Batch: batchIndex, Extra: extra, Missing: missing}
}

func looksLikeRecord(obj map[string]any) bool {
	for _, k := range recordKeys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

// uniqueIndex maps key(f) to f, omitting keys shared by several files.
func uniqueIndex(files []string, key func(string) string) map[string]string {
	idx := make(map[string]string, len(files))
	dup := make(map[string]bool)
	for _, f := range files {
		k := key(f)
		if _, seen := idx[k]; seen {
			dup[k] = true
			continue
		}
		idx[k] = f
	}
	for k := range dup {
		delete(idx, k)
	}
	return idx
}
