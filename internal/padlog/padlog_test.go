package padlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogAppendsPaddedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashd.log")
	l, err := New(path, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.Log("req lat=0.001234", 16)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	line := strings.TrimRight(string(data), "\n")
	if !strings.Contains(line, "req lat=0.001234") {
		t.Errorf("expected message in log line, got %q", line)
	}
	if !strings.HasSuffix(line, strings.Repeat("0", 16)) {
		t.Errorf("expected 16 bytes of padding at end of line, got %q", line)
	}
}

func TestLogRotatesPastMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashd.log")
	l, err := New(path, 32)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	for i := 0; i < 10; i++ {
		l.Log("x", 8)
	}

	if _, err := os.Stat(path + ".old"); err != nil {
		t.Errorf("expected a rotated %s.old file, stat failed: %v", path, err)
	}
}

func TestLogNoPaddingStillWritesLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hashd.log")
	l, err := New(path, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Close()

	l.Log("req lat=0.0001", 0)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if !strings.Contains(string(data), "req lat=0.0001") {
		t.Errorf("expected message in log, got %q", string(data))
	}
}
