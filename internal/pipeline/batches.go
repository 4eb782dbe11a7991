package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/auditparse/internal/batch"
	"github.com/jackzampolin/auditparse/internal/extraction"
	"github.com/jackzampolin/auditparse/internal/report"
	"github.com/jackzampolin/auditparse/internal/results"
)

const maxRetryDelay = 30 * time.Second

// batchResult is what a worker hands to the merger.
type batchResult struct {
	outcome  extraction.Outcome
	attempts int
}

// processBatches fans batches out to a fixed pool of workers. Results flow
// back over a channel to a single merge goroutine, the only writer of set
// during the run.
func (r *Runner) processBatches(ctx context.Context, batches []batch.Batch, set *results.Set, sum *Summary) {
	if len(batches) == 0 {
		return
	}

	work := make(chan batch.Batch)
	done := make(chan batchResult, r.batchWorkers)

	var wg sync.WaitGroup
	workers := min(r.batchWorkers, len(batches))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r.worker(ctx, id, work, done)
		}(i)
	}

	merged := make(chan struct{})
	go func() {
		defer close(merged)
		for res := range done {
			r.merge(res, set, sum)
		}
	}()

dispatch:
	for _, b := range batches {
		select {
		case work <- b:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	wg.Wait()
	close(done)
	<-merged
}

func (r *Runner) worker(ctx context.Context, id int, work <-chan batch.Batch, done chan<- batchResult) {
	logger := r.logger.With("worker", id)
	for b := range work {
		res := r.extractWithRetry(ctx, b)
		if ctx.Err() != nil {
			logger.Debug("run cancelled, dropping batch", "batch", b.Index)
			continue
		}
		done <- res
	}
}

// extractWithRetry makes up to retries+1 attempts. A Failed outcome stops
// immediately; a Retry outcome still standing after the last attempt
// becomes Failed.
func (r *Runner) extractWithRetry(ctx context.Context, b batch.Batch) batchResult {
	var (
		out     extraction.Outcome
		attempt int
	)
	logger := r.logger.With("batch", b.Index, "files", b.Files)

	err := retry.Do(
		func() error {
			attempt++
			out = r.extractor.Extract(ctx, b, attempt)
			switch out.Status {
			case extraction.StatusOK:
				return nil
			case extraction.StatusFailed:
				return retry.Unrecoverable(out.Err)
			default:
				return out.Err
			}
		},
		retry.Context(ctx),
		retry.Attempts(uint(r.retries+1)),
		retry.Delay(r.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("retrying batch", "failed_attempt", n+1, "error", err)
		}),
	)

	if err != nil && out.Status == extraction.StatusRetry {
		cause := out.Err
		if cause == nil {
			cause = err
		}
		out = extraction.Failed(b, cause)
	}
	if out.Status == extraction.StatusFailed && ctx.Err() == nil {
		logger.Error("batch failed permanently", "attempts", attempt, "error", out.Err)
	}
	return batchResult{outcome: out, attempts: attempt}
}

// merge folds one batch outcome into set. Validation problems are logged
// and counted; none of them drop a file.
func (r *Runner) merge(res batchResult, set *results.Set, sum *Summary) {
	out := res.outcome
	logger := r.logger.With("batch", out.Batch.Index)

	sum.Retries += max(res.attempts-1, 0)
	if out.Status != extraction.StatusOK {
		sum.FailedBatches++
		if bse, ok := extraction.IsBatchServiceError(out.Err); ok {
			logger.Warn("defaulting batch files", "files", bse.Files, "attempt", bse.Attempt, "error", bse.Err)
		} else {
			logger.Warn("defaulting batch files", "files", out.Batch.Files, "error", out.Err)
		}
	}
	if out.Result != nil {
		sum.Tokens += out.Result.TotalTokens
	}

	recs, problems := out.Records()
	for _, p := range problems {
		var (
			fve *report.FieldValidationError
			sme *extraction.SchemaMismatchError
		)
		switch {
		case errors.As(p, &fve):
			sum.FlaggedFields++
			logger.Warn("field failed validation", "file", fve.File, "field", fve.Field, "value", fve.Value)
		case errors.As(p, &sme):
			sum.SchemaMismatches++
			logger.Warn("schema mismatch", "extra", sme.Extra, "missing", sme.Missing)
		default:
			logger.Warn("record defaulted", "error", p)
		}
	}
	set.Merge(recs)
	logger.Debug("merged batch", "status", out.Status, "records", len(recs))
}
