package extraction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackzampolin/auditparse/internal/batch"
	"github.com/jackzampolin/auditparse/internal/providers"
	"github.com/jackzampolin/auditparse/internal/report"
)

// RawExtraction is one file's untyped service output. It only flows into
// report.Validate.
type RawExtraction struct {
	File string
	Data any
}

// Status tags an Outcome.
type Status int

const (
	StatusOK Status = iota
	StatusRetry
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRetry:
		return "retry"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of one extraction attempt for a batch.
type Outcome struct {
	Status Status
	Batch  batch.Batch

	// Set when Status is StatusOK. Raw holds an entry for every file the
	// service answered for; files listed in Mismatch.Missing have none.
	Raw      map[string]RawExtraction
	Mismatch *SchemaMismatchError
	Result   *providers.ChatResult

	// Set when Status is StatusRetry or StatusFailed.
	Err error
}

// OK builds a successful outcome.
func OK(b batch.Batch, raw map[string]RawExtraction, mismatch *SchemaMismatchError, result *providers.ChatResult) Outcome {
	return Outcome{Status: StatusOK, Batch: b, Raw: raw, Mismatch: mismatch, Result: result}
}

// Retry builds an outcome the caller may retry.
func Retry(b batch.Batch, err error) Outcome {
	return Outcome{Status: StatusRetry, Batch: b, Err: err}
}

// Failed builds a terminal failed outcome.
func Failed(b batch.Batch, err error) Outcome {
	return Outcome{Status: StatusFailed, Batch: b, Err: err}
}

// Records turns the outcome into one validated Record per file of the batch.
//
// Files missing from the response, files whose data is not an object, and
// every file of a failed (or still retryable) outcome get an unresolved
// default record. Validation problems are returned alongside; none of them
// drop a file.
func (o Outcome) Records() (map[string]report.Record, []error) {
	out := make(map[string]report.Record, len(o.Batch.Files))
	var problems []error

	if o.Status != StatusOK {
		reason := "extraction failed"
		if o.Err != nil {
			reason = o.Err.Error()
		}
		for _, f := range o.Batch.Files {
			out[f] = report.Unresolved(reason)
		}
		return out, nil
	}

	if o.Mismatch != nil {
		problems = append(problems, o.Mismatch)
	}
	for _, f := range o.Batch.Files {
		raw, ok := o.Raw[f]
		if !ok {
			out[f] = report.Unresolved("missing from service response")
			continue
		}
		rec, fieldErrs, err := report.Validate(f, raw.Data)
		if err != nil {
			out[f] = report.Unresolved(err.Error())
			problems = append(problems, err)
			continue
		}
		for _, fe := range fieldErrs {
			problems = append(problems, fe)
		}
		out[f] = rec
	}
	return out, problems
}

// BatchServiceError reports a failed or wholly unparsable service call.
type BatchServiceError struct {
	Batch   int
	Files   []string
	Attempt int
	Err     error
}

func (e *BatchServiceError) Error() string {
	return fmt.Sprintf("batch %d (attempt %d, %d files): %v", e.Batch, e.Attempt, len(e.Files), e.Err)
}

func (e *BatchServiceError) Unwrap() error {
	return e.Err
}

// IsBatchServiceError unwraps err looking for a *BatchServiceError.
func IsBatchServiceError(err error) (*BatchServiceError, bool) {
	var bse *BatchServiceError
	if errors.As(err, &bse) {
		return bse, true
	}
	return nil, false
}

// SchemaMismatchError reports response keys outside the batch (dropped) and
// batch files absent from the response (defaulted).
type SchemaMismatchError struct {
	Batch   int
	Extra   []string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.Extra) > 0 {
		parts = append(parts, fmt.Sprintf("dropped unexpected keys %q", e.Extra))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing files %q", e.Missing))
	}
	return fmt.Sprintf("batch %d schema mismatch: %s", e.Batch, strings.Join(parts, "; "))
}
