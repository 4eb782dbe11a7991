// Package pipeline runs a document set through extraction: read documents,
// assemble batches, extract each batch with a bounded retry, and merge every
// outcome into a results.Set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/auditparse/internal/batch"
	"github.com/jackzampolin/auditparse/internal/extraction"
	"github.com/jackzampolin/auditparse/internal/report"
	"github.com/jackzampolin/auditparse/internal/results"
	"github.com/jackzampolin/auditparse/internal/slides"
)

// Defaults
const (
	DefaultExtractWorkers = 4
	DefaultBatchWorkers   = 2
	DefaultRetries        = 1
	DefaultRetryDelay     = 2 * time.Second
)

// BatchExtractor makes one extraction attempt for a batch.
// *extraction.Extractor implements it.
type BatchExtractor interface {
	Extract(ctx context.Context, b batch.Batch, attempt int) extraction.Outcome
}

// Config configures a Runner.
type Config struct {
	Extractor BatchExtractor

	BatchSize      int // Documents per batch (default: 5)
	ExtractWorkers int // Concurrent document reads (default: 4)
	BatchWorkers   int // Concurrent batch calls (default: 2)

	// Retries after the first failed attempt of a batch (default: 1).
	// Negative disables retrying.
	Retries    int
	RetryDelay time.Duration // Initial delay between attempts (default: 2s)

	RunID  string // Generated when empty
	Logger *slog.Logger
}

// Runner executes extraction runs.
type Runner struct {
	extractor      BatchExtractor
	batchSize      int
	extractWorkers int
	batchWorkers   int
	retries        int
	retryDelay     time.Duration
	runID          string
	logger         *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("pipeline extractor is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = batch.DefaultSize
	}
	if cfg.ExtractWorkers <= 0 {
		cfg.ExtractWorkers = DefaultExtractWorkers
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = DefaultBatchWorkers
	}
	switch {
	case cfg.Retries == 0:
		cfg.Retries = DefaultRetries
	case cfg.Retries < 0:
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Runner{
		extractor:      cfg.Extractor,
		batchSize:      cfg.BatchSize,
		extractWorkers: cfg.ExtractWorkers,
		batchWorkers:   cfg.BatchWorkers,
		retries:        cfg.Retries,
		retryDelay:     cfg.RetryDelay,
		runID:          cfg.RunID,
		logger:         cfg.Logger.With("run_id", cfg.RunID),
	}, nil
}

// RunID returns the identifier attached to this runner's calls and logs.
func (r *Runner) RunID() string {
	return r.runID
}

// Run extracts every supported document in dir (at most limit when
// positive) into set. The only fatal error is an unreadable directory;
// per-document and per-batch failures become unresolved records.
func (r *Runner) Run(ctx context.Context, dir string, limit int, set *results.Set) (*Summary, error) {
	paths, err := slides.List(dir, limit)
	if err != nil {
		return nil, err
	}
	r.logger.Info("listed documents", "dir", dir, "count", len(paths), "limit", limit)
	return r.RunFiles(ctx, paths, set)
}

// RunFiles extracts the given documents into set. Records already in set
// for other filenames are left alone; records for these filenames are
// replaced.
//
// When ctx is cancelled, batches that did not finish are not merged and
// ctx's error is returned with the partial summary.
func (r *Runner) RunFiles(ctx context.Context, paths []string, set *results.Set) (*Summary, error) {
	start := time.Now()
	sum := &Summary{RunID: r.runID, Documents: len(paths)}

	items, unreadable, err := r.readDocuments(ctx, paths)
	if err != nil {
		return sum.finish(set, start), err
	}
	for _, rerr := range unreadable {
		sum.Unreadable = append(sum.Unreadable, rerr.Name)
		set.Put(rerr.Name, report.Unresolved(rerr.Error()))
	}

	accepted, rejected := batch.Screen(items)
	acceptedNames := make(map[string]struct{}, len(accepted))
	for _, item := range accepted {
		acceptedNames[item.Name] = struct{}{}
	}
	for _, rej := range rejected {
		r.logger.Warn("document excluded from batching", "file", rej.Name, "error", rej.Err)
		sum.Rejected = append(sum.Rejected, rej.Name)
		// A repeat of an accepted name keeps that document's record.
		if _, ok := acceptedNames[rej.Name]; ok || slices.Contains(sum.excluded, rej.Name) {
			continue
		}
		sum.excluded = append(sum.excluded, rej.Name)
		set.Put(rej.Name, report.Unresolved(rej.Error()))
	}
	sum.Extracted = len(accepted)

	batches, err := batch.Assemble(accepted, r.batchSize)
	if err != nil {
		return sum.finish(set, start), fmt.Errorf("failed to assemble batches: %w", err)
	}
	sum.Batches = len(batches)
	sum.files = batch.Files(batches)

	r.processBatches(ctx, batches, set, sum)

	if ctx.Err() != nil {
		if missing := set.Missing(sum.files); len(missing) > 0 {
			r.logger.Warn("run cancelled before every batch finished", "without_result", missing)
		}
		return sum.finish(set, start), ctx.Err()
	}
	if filled := set.Complete(sum.files); len(filled) > 0 {
		r.logger.Warn("filled files without a result", "files", filled)
	}
	return sum.finish(set, start), nil
}

// readDocuments extracts text from every path with bounded parallelism.
// Items keep the order of paths; unreadable documents are returned
// separately and never stop the others.
func (r *Runner) readDocuments(ctx context.Context, paths []string) ([]batch.Item, []*slides.DocumentReadError, error) {
	type read struct {
		item batch.Item
		err  error
	}
	reads := make([]read, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.extractWorkers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name := filepath.Base(p)
			_, text, err := slides.Extract(p)
			if err != nil {
				reads[i] = read{item: batch.Item{Name: name}, err: err}
				return nil
			}
			reads[i] = read{item: batch.Item{Name: name, Text: text}}
			r.logger.Debug("extracted document", "file", name, "sections", slides.CountSections(text))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	items := make([]batch.Item, 0, len(paths))
	var unreadable []*slides.DocumentReadError
	for i, rd := range reads {
		if rd.err == nil {
			items = append(items, rd.item)
			continue
		}
		var dre *slides.DocumentReadError
		if !errors.As(rd.err, &dre) {
			dre = &slides.DocumentReadError{Name: rd.item.Name, Path: paths[i], Err: rd.err}
		}
		r.logger.Warn("skipping unreadable document", "file", dre.Name, "error", dre.Err)
		unreadable = append(unreadable, dre)
	}
	return items, unreadable, nil
}
