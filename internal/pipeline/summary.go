package pipeline

import (
	"time"

	"github.com/jackzampolin/auditparse/internal/results"
)

// Summary reports the outcome of a run.
type Summary struct {
	RunID     string `json:"run_id" yaml:"run_id"`
	Documents int    `json:"documents" yaml:"documents"`
	Extracted int    `json:"extracted" yaml:"extracted"`
	Batches   int    `json:"batches" yaml:"batches"`

	Resolved   int      `json:"resolved" yaml:"resolved"`
	Unresolved []string `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Unreadable []string `json:"unreadable,omitempty" yaml:"unreadable,omitempty"`
	Rejected   []string `json:"rejected,omitempty" yaml:"rejected,omitempty"`

	FailedBatches    int `json:"failed_batches" yaml:"failed_batches"`
	Retries          int `json:"retries" yaml:"retries"`
	SchemaMismatches int `json:"schema_mismatches" yaml:"schema_mismatches"`
	FlaggedFields    int `json:"flagged_fields" yaml:"flagged_fields"`
	Tokens           int `json:"tokens" yaml:"tokens"`

	Elapsed string `json:"elapsed" yaml:"elapsed"`
	Output  string `json:"output,omitempty" yaml:"output,omitempty"`

	files    []string // batched
	excluded []string // rejected, given an unresolved record
}

// HasWarnings reports whether any document of the run ended without a
// resolved record.
func (s *Summary) HasWarnings() bool {
	return len(s.Unresolved) > 0 || len(s.Rejected) > 0 || s.FailedBatches > 0
}

// finish fills the per-file tallies from set for the files this run
// covered.
func (s *Summary) finish(set *results.Set, start time.Time) *Summary {
	s.Resolved = 0
	s.Unresolved = nil
	names := make([]string, 0, len(s.Unreadable)+len(s.excluded)+len(s.files))
	names = append(names, s.Unreadable...)
	names = append(names, s.excluded...)
	names = append(names, s.files...)
	for _, name := range names {
		rec, ok := set.Get(name)
		if ok && !rec.IsUnresolved() {
			s.Resolved++
			continue
		}
		s.Unresolved = append(s.Unresolved, name)
	}
	s.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return s
}
