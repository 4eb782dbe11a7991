package llmcall

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/auditparse/internal/providers"
)

func TestFromChatResult(t *testing.T) {
	if FromChatResult(nil, RecordOptions{}) != nil {
		t.Fatal("nil result should give nil call")
	}

	temp := 0.0
	result := &providers.ChatResult{
		Content:          `{"a.pptx":{}}`,
		PromptTokens:     100,
		CompletionTokens: 20,
		TotalTime:        1500 * time.Millisecond,
		Provider:         "openai",
		ModelUsed:        "gpt-5-mini",
		RequestID:        "req-1",
		Attempts:         2,
		Success:          true,
		ErrorType:        providers.ErrorTypeSchemaMismatch,
		ErrorMessage:     "missing b.pptx",
	}
	call := FromChatResult(result, RecordOptions{
		RunID:       "run-1",
		Batch:       3,
		Files:       []string{"a.pptx", "b.pptx"},
		Attempt:     1,
		PromptKey:   "extract.batch",
		Temperature: &temp,
	})

	if call.ID == "" || call.Timestamp.IsZero() {
		t.Error("expected ID and timestamp to be set")
	}
	if call.LatencyMs != 1500 {
		t.Errorf("LatencyMs = %d", call.LatencyMs)
	}
	if call.RepairRounds != 1 {
		t.Errorf("RepairRounds = %d, want 1", call.RepairRounds)
	}
	if call.Error != "missing b.pptx" {
		t.Errorf("Error = %q, mismatch message should be kept", call.Error)
	}
	if call.Temperature == nil || *call.Temperature != 0 {
		t.Error("explicit zero temperature should be recorded")
	}
	if len(call.Files) != 2 || call.Batch != 3 || call.RunID != "run-1" {
		t.Errorf("unexpected context: %+v", call)
	}
}

func TestRecorder_WritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.json.calls.jsonl")
	rec, err := NewRecorder(RecorderConfig{Path: path, QueueSize: 2})
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		rec.Record(&providers.ChatResult{
			Provider:  "mock",
			ModelUsed: "m",
			Success:   i != 2,
		}, RecordOptions{RunID: "r", Batch: i, Files: []string{"f.pptx"}})
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	// Records after close are dropped, not panics.
	rec.Record(&providers.ChatResult{}, RecordOptions{})

	calls, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(calls) != 5 {
		t.Fatalf("expected 5 calls, got %d", len(calls))
	}
	for i, c := range calls {
		if c.Batch != i {
			t.Errorf("call %d has batch %d", i, c.Batch)
		}
	}

	stats := Summarize(calls)
	if stats.Calls != 5 || stats.Failed != 1 || stats.ByModel["m"] != 5 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRecorder_Nil(t *testing.T) {
	var rec *Recorder
	rec.Record(&providers.ChatResult{}, RecordOptions{})
	if err := rec.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestList(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := []Call{
		{ID: "1", Batch: 0, Files: []string{"a.pptx"}, Success: true, Timestamp: base},
		{ID: "2", Batch: 0, Files: []string{"a.pptx"}, Success: false, Timestamp: base.Add(time.Minute)},
		{ID: "3", Batch: 1, Files: []string{"b.pptx"}, Success: true, Timestamp: base.Add(2 * time.Minute)},
		{ID: "4", Batch: 1, Files: []string{"b.pptx", "c.pptx"}, Success: true, Timestamp: base.Add(3 * time.Minute)},
	}

	ok := true
	one := 1
	after := base.Add(30 * time.Second)
	tests := []struct {
		name   string
		filter QueryFilter
		want   []string
	}{
		{"all", QueryFilter{}, []string{"1", "2", "3", "4"}},
		{"by file", QueryFilter{File: "b.pptx"}, []string{"3", "4"}},
		{"by batch", QueryFilter{Batch: &one}, []string{"3", "4"}},
		{"successes", QueryFilter{Success: &ok}, []string{"1", "3", "4"}},
		{"after", QueryFilter{After: &after}, []string{"2", "3", "4"}},
		{"limit offset", QueryFilter{Offset: 1, Limit: 2}, []string{"2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := List(calls, tt.filter)
			var ids []string
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("got %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", ids, tt.want)
				}
			}
		})
	}
}

func TestReadFile_Errors(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte("{\"id\":\"1\"}\nnot json\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Error("expected error for corrupt line")
	}
}
