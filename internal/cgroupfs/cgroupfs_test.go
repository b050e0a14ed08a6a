package cgroupfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteOneLineOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl")
	if err := os.WriteFile(path, []byte("stale content that is long"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteOneLine(path, "short"); err != nil {
		t.Fatalf("WriteOneLine failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "short" {
		t.Errorf("content = %q, want %q", got, "short")
	}
}

func TestReadNestedKeyedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "io.cost.model")
	content := "8:0 ctrl=user model=linear rbps=100000000 rseqiops=1000\n8:16 ctrl=auto\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	parsed, err := ReadNestedKeyedFile(path)
	if err != nil {
		t.Fatalf("ReadNestedKeyedFile failed: %v", err)
	}
	if parsed["8:0"]["rbps"] != "100000000" {
		t.Errorf("rbps = %q, want 100000000", parsed["8:0"]["rbps"])
	}
	if parsed["8:16"]["ctrl"] != "auto" {
		t.Errorf("8:16 ctrl = %q, want auto", parsed["8:16"]["ctrl"])
	}
}
