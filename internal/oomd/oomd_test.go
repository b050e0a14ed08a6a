package oomd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linuxresctl/resctld/internal/model"
)

type fakeKiller struct {
	killed []string
}

func (f *fakeKiller) Kill(path string) error {
	f.killed = append(f.killed, path)
	return nil
}

func TestPressureTrackerRequiresSustainedDuration(t *testing.T) {
	tracker := &pressureTracker{}
	base := time.Now()

	if tracker.observe(base, 60, 50, 10) {
		t.Error("should not fire before duration elapses")
	}
	if tracker.observe(base.Add(5*time.Second), 60, 50, 10) {
		t.Error("should not fire before full duration elapses")
	}
	if !tracker.observe(base.Add(11*time.Second), 60, 50, 10) {
		t.Error("should fire once duration has elapsed while sustained above threshold")
	}
	if tracker.observe(base.Add(12*time.Second), 60, 50, 10) {
		t.Error("should not fire again until pressure dips and re-crosses")
	}
}

func TestPressureTrackerResetsBelowThreshold(t *testing.T) {
	tracker := &pressureTracker{}
	base := time.Now()
	tracker.observe(base, 60, 50, 10)
	tracker.observe(base.Add(3*time.Second), 10, 50, 10) // dips below
	if tracker.observe(base.Add(11*time.Second), 60, 50, 10) {
		t.Error("should not fire since the sustained window was interrupted")
	}
}

func TestReadPressureParsesAvg10(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.pressure")
	content := "some avg10=12.34 avg60=5.00 avg300=1.00 total=1000\nfull avg10=3.21 avg60=1.00 avg300=0.50 total=500\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	stats, err := readPressure(path)
	if err != nil {
		t.Fatalf("readPressure failed: %v", err)
	}
	if stats.someAvg10 != 12.34 {
		t.Errorf("someAvg10 = %v, want 12.34", stats.someAvg10)
	}
	if stats.fullAvg10 != 3.21 {
		t.Errorf("fullAvg10 = %v, want 3.21", stats.fullAvg10)
	}
}

func TestTickSkippedWhenDisabled(t *testing.T) {
	root := t.TempDir()
	killer := &fakeKiller{}
	d := New(root, nil)
	d.killer = killer

	knobs := model.DefaultOomdKnobs()
	knobs.DisableSeq = 100

	d.Tick(knobs, 5) // reportSeq 5 <= DisableSeq 100: should no-op
	if len(killer.killed) != 0 {
		t.Error("expected no kills while OOMD is globally disabled")
	}
}

func TestHighestMemoryUserPicksLargest(t *testing.T) {
	root := t.TempDir()
	workDir := model.SliceWork.Cgroup(root)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatal(err)
	}

	small := filepath.Join(workDir, "small.scope")
	big := filepath.Join(workDir, "big.scope")
	os.MkdirAll(small, 0o755)
	os.MkdirAll(big, 0o755)
	os.WriteFile(filepath.Join(small, "memory.current"), []byte("1000"), 0o644)
	os.WriteFile(filepath.Join(big, "memory.current"), []byte("99999"), 0o644)

	d := New(root, nil)
	victim := d.highestMemoryUser(model.SliceWork)
	if victim != big {
		t.Errorf("expected %s to be picked as highest memory user, got %s", big, victim)
	}
}
