package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jackzampolin/auditparse/internal/config"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"${OPENAI_API_KEY}", "${OPENAI_API_KEY}"},
		{"short", "****"},
		{"sk-proj-abcdefghijkl", "sk-p****ijkl"},
	}
	for _, tt := range tests {
		if got := redact(tt.in); got != tt.want {
			t.Errorf("redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestReadyPaths(t *testing.T) {
	dir := t.TempDir()
	b := filepath.Join(dir, "b.pptx")
	a := filepath.Join(dir, "a.pdf")
	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	sub := filepath.Join(dir, "sub.pptx")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	pending := map[string]struct{}{
		b:                               {},
		a:                               {},
		sub:                             {},
		filepath.Join(dir, "gone.pptx"): {},
	}
	if got := readyPaths(pending); !reflect.DeepEqual(got, []string{a, b}) {
		t.Errorf("readyPaths() = %v", got)
	}
}

func TestResultsPathFor(t *testing.T) {
	cfg := config.DefaultConfig()
	if got := resultsPathFor(cfg, "/home/x/reports.json"); got != "/home/x/reports.json" {
		t.Errorf("got %q", got)
	}
	cfg.Output = "out.json"
	if got := resultsPathFor(cfg, "/home/x/reports.json"); got != "out.json" {
		t.Errorf("got %q", got)
	}
}

func TestRootCommandTree(t *testing.T) {
	want := map[string]bool{"parse": true, "watch": true, "config": true, "trace": true, "version": true}
	for _, c := range rootCmd.Commands() {
		delete(want, c.Name())
	}
	for name := range want {
		t.Errorf("missing command %q", name)
	}
}
