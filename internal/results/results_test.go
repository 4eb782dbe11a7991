package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/jackzampolin/auditparse/internal/report"
)

func titled(title string) report.Record {
	r := report.New()
	r.ReportTitle = title
	return r
}

func TestSet_PutLastWriteWins(t *testing.T) {
	s := NewSet()
	s.Put("a.pptx", titled("first"))
	s.Put("a.pptx", titled("second"))

	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	got, ok := s.Get("a.pptx")
	if !ok || got.ReportTitle != "second" {
		t.Errorf("Get() = %+v, %v", got, ok)
	}
	if _, ok := s.Get("b.pptx"); ok {
		t.Error("unexpected record for b.pptx")
	}
}

func TestSet_MergeCompleteness(t *testing.T) {
	s := NewSet()
	s.Merge(map[string]report.Record{"b.pptx": titled("b"), "a.pptx": titled("a")})
	s.Merge(map[string]report.Record{"c.pdf": report.Unresolved("batch failed")})

	if want := []string{"a.pptx", "b.pptx", "c.pdf"}; !reflect.DeepEqual(s.Names(), want) {
		t.Errorf("Names() = %v, want %v", s.Names(), want)
	}
	if want := []string{"c.pdf"}; !reflect.DeepEqual(s.Unresolved(), want) {
		t.Errorf("Unresolved() = %v, want %v", s.Unresolved(), want)
	}

	expected := []string{"a.pptx", "d.pptx", "b.pptx", "e.pdf"}
	if want := []string{"d.pptx", "e.pdf"}; !reflect.DeepEqual(s.Missing(expected), want) {
		t.Errorf("Missing() = %v, want %v", s.Missing(expected), want)
	}

	filled := s.Complete(expected)
	if want := []string{"d.pptx", "e.pdf"}; !reflect.DeepEqual(filled, want) {
		t.Errorf("Complete() filled %v, want %v", filled, want)
	}
	if missing := s.Missing(expected); len(missing) != 0 {
		t.Errorf("still missing after Complete: %v", missing)
	}
	rec, _ := s.Get("d.pptx")
	if !rec.IsUnresolved() || rec.Meta.Reason != MissingReason {
		t.Errorf("filled record = %+v", rec)
	}
	if s.Complete(expected) != nil {
		t.Error("second Complete should fill nothing")
	}
}

func TestSet_ConcurrentPut(t *testing.T) {
	s := NewSet()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Put(fmt.Sprintf("doc%02d.pptx", i), titled("x"))
			s.Names()
		}(i)
	}
	wg.Wait()
	if s.Len() != 50 {
		t.Errorf("Len() = %d, want 50", s.Len())
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "results.json")

	s := NewSet()
	rec := titled("Payroll Audit")
	rec.OverallAuditRating = report.RatingForImprovement
	s.Put("payroll.pptx", rec)
	s.Put("broken.pdf", report.Unresolved("document unreadable"))

	if err := s.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("output is not a filename-keyed object: %v", err)
	}
	if _, ok := raw["payroll.pptx"]["_meta"]; ok {
		t.Error("resolved record should not carry _meta")
	}
	if _, ok := raw["broken.pdf"]["_meta"]; !ok {
		t.Error("unresolved record should carry _meta")
	}
	for _, key := range []string{"report_title", "details", "recommendations", "management_action_plan"} {
		if _, ok := raw["broken.pdf"][key]; !ok {
			t.Errorf("key %s omitted from default record", key)
		}
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(loaded.Names(), s.Names()) {
		t.Errorf("loaded names = %v", loaded.Names())
	}
	got, _ := loaded.Get("payroll.pptx")
	if got.ReportTitle != "Payroll Audit" || got.OverallAuditRating != report.RatingForImprovement {
		t.Errorf("loaded record = %+v", got)
	}
	if got, _ := loaded.Get("broken.pdf"); !got.IsUnresolved() {
		t.Error("unresolved flag lost on load")
	}
}

func TestSave_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewSet()
	s.Put("a.pptx", titled("a"))
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("Len() = %d", loaded.Len())
	}
}

func TestLoadOrNew(t *testing.T) {
	dir := t.TempDir()

	s, err := LoadOrNew(filepath.Join(dir, "absent.json"))
	if err != nil || s.Len() != 0 {
		t.Errorf("LoadOrNew(absent) = %v, %v", s, err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("[1,2]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrNew(bad); err == nil {
		t.Error("expected parse error")
	}
}
