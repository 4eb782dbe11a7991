package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/auditparse/internal/extraction"
	"github.com/jackzampolin/auditparse/internal/providers"
	"github.com/jackzampolin/auditparse/internal/report"
	"github.com/jackzampolin/auditparse/internal/results"
	"github.com/jackzampolin/auditparse/internal/testutil"
)

var fileMarkerRe = regexp.MustCompile(`\[\[START_FILE: ([^\]]+)\]\]`)

// batchFiles returns the filenames marked in a request's user message.
func batchFiles(req *providers.ChatRequest) []string {
	var files []string
	for _, m := range fileMarkerRe.FindAllStringSubmatch(req.Messages[1].Content, -1) {
		files = append(files, m[1])
	}
	return files
}

// echoResponse answers every marked file with a record titled by its name.
func echoResponse(req *providers.ChatRequest) (string, error) {
	out := make(map[string]any)
	for _, f := range batchFiles(req) {
		out[f] = map[string]any{
			"report_title":           "Report " + f,
			"executive_summary":      "summary of " + f,
			"overall_audit_rating":   "FOR_IMPROVEMENT",
			"details":                []any{map[string]any{"observation": "o", "risk_rating": "INADEQUATE"}},
			"recommendations":        []any{"r1"},
			"management_action_plan": "plan",
		}
	}
	b, err := json.Marshal(out)
	return string(b), err
}

func writeDeck(t *testing.T, dir, name string) string {
	t.Helper()
	return testutil.WritePPTX(t, dir, name,
		testutil.SlideXML(testutil.TextShape(name+" title", "Executive summary")),
		testutil.SlideXML(testutil.TableShape([][]string{{"Observation", "Risk"}, {"late", "high"}})),
	)
}

func newRunner(t *testing.T, client providers.LLMClient, cfg Config) *Runner {
	t.Helper()
	ext, err := extraction.New(extraction.Config{Client: client, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	cfg.Extractor = ext
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestNewRunner_Defaults(t *testing.T) {
	if _, err := NewRunner(Config{}); err == nil {
		t.Error("expected error without extractor")
	}

	client := providers.NewMockClient()
	r := newRunner(t, client, Config{})
	if r.batchSize != 5 || r.retries != DefaultRetries || r.batchWorkers != DefaultBatchWorkers {
		t.Errorf("unexpected defaults: %+v", r)
	}
	if r.RunID() == "" {
		t.Error("expected generated run id")
	}

	r = newRunner(t, client, Config{Retries: -1, RunID: "fixed"})
	if r.retries != 0 || r.RunID() != "fixed" {
		t.Errorf("retries = %d, run id = %q", r.retries, r.RunID())
	}
}

func TestRun_TotalFailureAfterOneRetry(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "A.pptx")
	writeDeck(t, dir, "B.pptx")

	client := providers.NewMockClient()
	client.ShouldFail = true

	set := results.NewSet()
	sum, err := newRunner(t, client, Config{}).Run(context.Background(), dir, 0, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if n := client.RequestCount(); n != 2 {
		t.Errorf("expected one call plus one retry, got %d calls", n)
	}
	for _, req := range client.Requests() {
		if got := batchFiles(req); !reflect.DeepEqual(got, []string{"A.pptx", "B.pptx"}) {
			t.Errorf("batch markers = %v, want A.pptx then B.pptx", got)
		}
	}

	if set.Len() != 2 {
		t.Fatalf("expected two records, got %v", set.Names())
	}
	for _, name := range []string{"A.pptx", "B.pptx"} {
		rec, ok := set.Get(name)
		if !ok || !rec.IsUnresolved() {
			t.Errorf("%s: expected unresolved default, got %+v", name, rec)
		}
		if rec.ReportTitle != "" || len(rec.Details) != 0 {
			t.Errorf("%s: default record should be empty", name)
		}
	}

	if sum.FailedBatches != 1 || sum.Retries != 1 || sum.Resolved != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if !reflect.DeepEqual(sum.Unresolved, []string{"A.pptx", "B.pptx"}) || !sum.HasWarnings() {
		t.Errorf("Unresolved = %v", sum.Unresolved)
	}
}

func TestRun_AllResolved(t *testing.T) {
	dir := t.TempDir()
	var names []string
	for i := 0; i < 7; i++ {
		name := fmt.Sprintf("audit%02d.pptx", i)
		writeDeck(t, dir, name)
		names = append(names, name)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := providers.NewMockClient()
	client.Latency = 0
	client.Respond = echoResponse

	set := results.NewSet()
	sum, err := newRunner(t, client, Config{BatchSize: 3, BatchWorkers: 3}).Run(context.Background(), dir, 0, set)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if client.RequestCount() != 3 || sum.Batches != 3 {
		t.Errorf("expected 3 batches, got %d calls, summary %+v", client.RequestCount(), sum)
	}
	if !reflect.DeepEqual(set.Names(), names) {
		t.Errorf("Names() = %v", set.Names())
	}
	for _, name := range names {
		rec, _ := set.Get(name)
		if rec.ReportTitle != "Report "+name {
			t.Errorf("%s got record %q", name, rec.ReportTitle)
		}
		if rec.OverallAuditRating != report.RatingForImprovement {
			t.Errorf("%s rating = %q", name, rec.OverallAuditRating)
		}
		if !reflect.DeepEqual(rec.ManagementActionPlan, []string{"plan"}) {
			t.Errorf("%s plan = %v", name, rec.ManagementActionPlan)
		}
	}
	if sum.Resolved != 7 || sum.HasWarnings() || sum.FlaggedFields != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRun_RecoversOnRetry(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "A.pptx")

	var calls atomic.Int32
	client := providers.NewMockClient()
	client.Latency = 0
	client.Respond = func(req *providers.ChatRequest) (string, error) {
		if calls.Add(1) == 1 {
			return "I could not find any reports.", nil
		}
		return echoResponse(req)
	}

	set := results.NewSet()
	sum, err := newRunner(t, client, Config{}).Run(context.Background(), dir, 0, set)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 || sum.Retries != 1 || sum.FailedBatches != 0 {
		t.Errorf("calls = %d, summary = %+v", calls.Load(), sum)
	}
	if rec, _ := set.Get("A.pptx"); rec.IsUnresolved() {
		t.Error("record should resolve on the second attempt")
	}
}

func TestRun_NoRetryWhenDisabled(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "A.pptx")

	client := providers.NewMockClient()
	client.ShouldFail = true

	if _, err := newRunner(t, client, Config{Retries: -1}).Run(context.Background(), dir, 0, results.NewSet()); err != nil {
		t.Fatal(err)
	}
	if client.RequestCount() != 1 {
		t.Errorf("expected a single attempt, got %d", client.RequestCount())
	}
}

func TestRun_PartialResponseAndFlags(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "A.pptx")
	writeDeck(t, dir, "B.pptx")

	client := providers.NewMockClient()
	client.Latency = 0
	client.ResponseText = `{"A.pptx": {"report_title": "A", "overall_audit_rating": "Needs Work"}, "C.pptx": {}}`

	set := results.NewSet()
	sum, err := newRunner(t, client, Config{}).Run(context.Background(), dir, 0, set)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := set.Get("A.pptx")
	if a.OverallAuditRating != "Needs Work" || len(a.Flags()) != 1 {
		t.Errorf("invalid rating should be preserved and flagged: %+v", a)
	}
	if b, _ := set.Get("B.pptx"); !b.IsUnresolved() {
		t.Error("missing file should be defaulted")
	}
	if _, ok := set.Get("C.pptx"); ok {
		t.Error("extra key must be dropped")
	}
	if sum.SchemaMismatches != 1 || sum.FlaggedFields != 1 || sum.Retries != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if !reflect.DeepEqual(sum.Unresolved, []string{"B.pptx"}) {
		t.Errorf("Unresolved = %v", sum.Unresolved)
	}
}

func TestRun_UnreadableDocument(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "good.pptx")
	if err := os.WriteFile(filepath.Join(dir, "bad.pptx"), []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}

	client := providers.NewMockClient()
	client.Latency = 0
	client.Respond = echoResponse

	set := results.NewSet()
	sum, err := newRunner(t, client, Config{}).Run(context.Background(), dir, 0, set)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(sum.Unreadable, []string{"bad.pptx"}) {
		t.Errorf("Unreadable = %v", sum.Unreadable)
	}
	bad, ok := set.Get("bad.pptx")
	if !ok || !bad.IsUnresolved() {
		t.Errorf("unreadable document should get an unresolved record: %+v", bad)
	}
	if good, _ := set.Get("good.pptx"); good.IsUnresolved() {
		t.Error("readable document should resolve")
	}
	if got := batchFiles(client.Requests()[0]); !reflect.DeepEqual(got, []string{"good.pptx"}) {
		t.Errorf("batch files = %v", got)
	}
}

func TestRun_RejectedNameGetsRecord(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "A.pptx")
	writeDeck(t, dir, "bad]]name.pptx")

	client := providers.NewMockClient()
	client.Latency = 0
	client.Respond = echoResponse

	set := results.NewSet()
	sum, err := newRunner(t, client, Config{}).Run(context.Background(), dir, 0, set)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(sum.Rejected, []string{"bad]]name.pptx"}) {
		t.Errorf("Rejected = %v", sum.Rejected)
	}
	if want := []string{"A.pptx", "bad]]name.pptx"}; !reflect.DeepEqual(set.Names(), want) {
		t.Fatalf("Names() = %v, want %v", set.Names(), want)
	}
	bad, _ := set.Get("bad]]name.pptx")
	if !bad.IsUnresolved() {
		t.Errorf("rejected document should get an unresolved record: %+v", bad)
	}
	if a, _ := set.Get("A.pptx"); a.IsUnresolved() {
		t.Error("accepted document should resolve")
	}
	if got := batchFiles(client.Requests()[0]); !reflect.DeepEqual(got, []string{"A.pptx"}) {
		t.Errorf("batch files = %v", got)
	}
	if sum.Resolved != 1 || !reflect.DeepEqual(sum.Unresolved, []string{"bad]]name.pptx"}) {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRunFiles_DuplicateKeepsAcceptedRecord(t *testing.T) {
	first := writeDeck(t, t.TempDir(), "A.pptx")
	second := writeDeck(t, t.TempDir(), "A.pptx")

	client := providers.NewMockClient()
	client.Latency = 0
	client.Respond = echoResponse

	set := results.NewSet()
	sum, err := newRunner(t, client, Config{}).RunFiles(context.Background(), []string{first, second}, set)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sum.Rejected, []string{"A.pptx"}) {
		t.Errorf("Rejected = %v", sum.Rejected)
	}
	if rec, _ := set.Get("A.pptx"); set.Len() != 1 || rec.IsUnresolved() {
		t.Errorf("duplicate must not replace the accepted record: %v %+v", set.Names(), rec)
	}
	if sum.Resolved != 1 || len(sum.Unresolved) != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRun_FailedBatchIsolated(t *testing.T) {
	dir := t.TempDir()
	var names []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("audit%d.pptx", i)
		writeDeck(t, dir, name)
		names = append(names, name)
	}

	client := providers.NewMockClient()
	client.Latency = 0
	client.Respond = func(req *providers.ChatRequest) (string, error) {
		if slices.Contains(batchFiles(req), "audit2.pptx") {
			return "", errors.New("quota exceeded")
		}
		return echoResponse(req)
	}

	set := results.NewSet()
	sum, err := newRunner(t, client, Config{BatchSize: 2, BatchWorkers: 2}).Run(context.Background(), dir, 0, set)
	if err != nil {
		t.Fatal(err)
	}

	if set.Len() != 5 || !reflect.DeepEqual(set.Names(), names) {
		t.Fatalf("Names() = %v, want %v", set.Names(), names)
	}
	failed := map[string]bool{"audit2.pptx": true, "audit3.pptx": true}
	for _, name := range names {
		rec, _ := set.Get(name)
		if rec.IsUnresolved() != failed[name] {
			t.Errorf("%s: unresolved = %v, want %v", name, rec.IsUnresolved(), failed[name])
		}
	}
	if sum.Batches != 3 || sum.FailedBatches != 1 || sum.Retries != 1 || sum.Resolved != 3 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if !reflect.DeepEqual(sum.Unresolved, []string{"audit2.pptx", "audit3.pptx"}) {
		t.Errorf("Unresolved = %v", sum.Unresolved)
	}
	if n := client.RequestCount(); n != 4 {
		t.Errorf("expected 4 calls (one retry for the failing batch), got %d", n)
	}
}

func TestRun_LimitAndMerge(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "a.pptx")
	writeDeck(t, dir, "b.pptx")
	writeDeck(t, dir, "c.pptx")

	set := results.NewSet()
	set.Put("old.pptx", report.Unresolved("from a previous run"))

	client := providers.NewMockClient()
	client.Latency = 0
	client.Respond = echoResponse

	sum, err := newRunner(t, client, Config{}).Run(context.Background(), dir, 2, set)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Documents != 2 {
		t.Errorf("Documents = %d, want 2", sum.Documents)
	}
	if want := []string{"a.pptx", "b.pptx", "old.pptx"}; !reflect.DeepEqual(set.Names(), want) {
		t.Errorf("Names() = %v, want %v", set.Names(), want)
	}
	if sum.Resolved != 2 || len(sum.Unresolved) != 0 {
		t.Errorf("previous records should not count toward this run: %+v", sum)
	}
}

func TestRun_ListError(t *testing.T) {
	client := providers.NewMockClient()
	_, err := newRunner(t, client, Config{}).Run(context.Background(), filepath.Join(t.TempDir(), "absent"), 0, results.NewSet())
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
	if client.RequestCount() != 0 {
		t.Error("no calls expected")
	}
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeDeck(t, dir, "A.pptx")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := providers.NewMockClient()
	set := results.NewSet()
	_, err := newRunner(t, client, Config{}).Run(ctx, dir, 0, set)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if set.Len() != 0 {
		t.Errorf("cancelled run should not merge defaults, got %v", set.Names())
	}
}

func TestSummary_Tallies(t *testing.T) {
	set := results.NewSet()
	set.Put("ok.pptx", report.New())
	set.Put("bad.pptx", report.Unresolved("x"))

	s := &Summary{files: []string{"ok.pptx", "gone.pptx"}, Unreadable: []string{"bad.pptx"}}
	s.finish(set, time.Now())
	if s.Resolved != 1 {
		t.Errorf("Resolved = %d", s.Resolved)
	}
	if !reflect.DeepEqual(s.Unresolved, []string{"bad.pptx", "gone.pptx"}) {
		t.Errorf("Unresolved = %v", s.Unresolved)
	}
	if !strings.HasSuffix(s.Elapsed, "s") {
		t.Errorf("Elapsed = %q", s.Elapsed)
	}
}
