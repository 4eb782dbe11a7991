package llmcall

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/jackzampolin/auditparse/internal/providers"
)

// QueryFilter specifies filters for listing recorded calls.
type QueryFilter struct {
	RunID    string
	File     string
	Batch    *int
	Provider string
	Model    string
	After    *time.Time
	Before   *time.Time
	Success  *bool
	Limit    int
	Offset   int
}

// ReadFile loads every call from a JSON Lines trace file.
func ReadFile(path string) ([]Call, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open call trace: %w", err)
	}
	defer f.Close()

	var calls []Call
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var c Call
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		calls = append(calls, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call trace: %w", err)
	}
	return calls, nil
}

// List returns calls matching the filter, in file order.
func List(calls []Call, filter QueryFilter) []Call {
	var out []Call
	skipped := 0
	for _, c := range calls {
		if !filter.matches(c) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, c)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

func (f QueryFilter) matches(c Call) bool {
	switch {
	case f.RunID != "" && c.RunID != f.RunID:
		return false
	case f.File != "" && !slices.Contains(c.Files, f.File):
		return false
	case f.Batch != nil && c.Batch != *f.Batch:
		return false
	case f.Provider != "" && c.Provider != f.Provider:
		return false
	case f.Model != "" && c.Model != f.Model:
		return false
	case f.Success != nil && c.Success != *f.Success:
		return false
	case f.After != nil && !c.Timestamp.After(*f.After):
		return false
	case f.Before != nil && !c.Timestamp.Before(*f.Before):
		return false
	}
	return true
}

// Stats aggregates a set of calls.
type Stats struct {
	Calls        int            `json:"calls" yaml:"calls"`
	Failed       int            `json:"failed" yaml:"failed"`
	Mismatched   int            `json:"schema_mismatch" yaml:"schema_mismatch"`
	Repairs      int            `json:"repair_rounds" yaml:"repair_rounds"`
	InputTokens  int            `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int            `json:"output_tokens" yaml:"output_tokens"`
	AvgLatencyMs int            `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	ByModel      map[string]int `json:"by_model" yaml:"by_model"`
}

// Summarize computes Stats over calls.
func Summarize(calls []Call) Stats {
	s := Stats{ByModel: make(map[string]int)}
	total := 0
	for _, c := range calls {
		s.Calls++
		if !c.Success {
			s.Failed++
		}
		if c.ErrorType == providers.ErrorTypeSchemaMismatch {
			s.Mismatched++
		}
		s.Repairs += c.RepairRounds
		s.InputTokens += c.InputTokens
		s.OutputTokens += c.OutputTokens
		s.ByModel[c.Model]++
		total += c.LatencyMs
	}
	if s.Calls > 0 {
		s.AvgLatencyMs = total / s.Calls
	}
	return s
}
