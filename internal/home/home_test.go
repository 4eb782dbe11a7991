package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-auditparse")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-auditparse" {
			t.Errorf("expected path /tmp/test-auditparse, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-auditparse")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"OutputPath", dir.OutputPath(), "/tmp/test-auditparse/output"},
		{"ConfigPath", dir.ConfigPath(), "/tmp/test-auditparse/config.yaml"},
		{"EnvPath", dir.EnvPath(), "/tmp/test-auditparse/.env"},
		{"ResultsPath", dir.ResultsPath(), "/tmp/test-auditparse/output/reports.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, tt.got)
			}
		})
	}
}

func TestDir_EnsureExists(t *testing.T) {
	tmpDir := t.TempDir()
	root := filepath.Join(tmpDir, "auditparse-test")

	dir, err := New(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.Exists() {
		t.Fatal("expected directory to not exist yet")
	}

	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	if !dir.Exists() {
		t.Error("expected home directory to exist")
	}
	if _, err := os.Stat(dir.OutputPath()); err != nil {
		t.Errorf("expected output directory to exist: %v", err)
	}
	if dir.ConfigExists() {
		t.Error("expected config file to not exist")
	}
}
