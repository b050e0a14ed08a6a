package svc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStartAndStopShortLivedProcess(t *testing.T) {
	s := New("test-sleep", "/bin/sleep", []string{"30"})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("expected StateRunning, got %v", s.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if st := s.State(); st != StateExited && st != StateFailed {
		t.Errorf("expected process to have exited, got state %v", st)
	}
}

func TestStopIsNoOpWhenNotRunning(t *testing.T) {
	s := New("never-started", "/bin/true", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("expected Stop on a non-running service to be a no-op, got %v", err)
	}
}

func TestMoveToSliceWritesPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cgroup.procs")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := MoveToSlice(dir, 1234); err != nil {
		t.Fatalf("MoveToSlice failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "1234" {
		t.Errorf("cgroup.procs content = %q, want %q", got, "1234")
	}
}
