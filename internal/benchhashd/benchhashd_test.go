package benchhashd

import (
	"path/filepath"
	"testing"

	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/rerr"
	"github.com/linuxresctl/resctld/internal/testfiles"
)

func setupTestFiles(t *testing.T) *testfiles.Files {
	t.Helper()
	dir := t.TempDir()
	tf := testfiles.New(filepath.Join(dir, "data"), 64*1024, 4)
	if err := tf.Setup(nil); err != nil {
		t.Fatalf("testfiles setup failed: %v", err)
	}
	return tf
}

func quickParams() model.Params {
	p := model.DefaultParams()
	p.ControlPeriod = 0.01
	p.P99LatTarget = 500 * model.Msec
	p.FileSizeMean = 4096
	return p
}

func TestRunAbortsOnImmediateCancel(t *testing.T) {
	tf := setupTestFiles(t)
	cancelled := true

	_, err := Run(tf, quickParams(), nil, func() bool { return cancelled }, nil)
	if err == nil {
		t.Fatal("expected cancellation to produce an error")
	}
	if !rerr.Is(err, rerr.KindBenchmarkFailure) {
		t.Errorf("expected KindBenchmarkFailure, got %v", err)
	}
}

func TestRunProducesKnobs(t *testing.T) {
	tf := setupTestFiles(t)
	var phases []Phase

	res, err := Run(tf, quickParams(), func(p Phase, frac float64) {
		phases = append(phases, p)
	}, nil, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Knobs.RPSMax == 0 {
		t.Error("expected a non-zero rps_max")
	}
	if res.Knobs.MemFrac <= 0 || res.Knobs.MemFrac > 1 {
		t.Errorf("mem_frac out of range: %v", res.Knobs.MemFrac)
	}
	if len(phases) == 0 {
		t.Error("expected progress callbacks during the run")
	}
}

func TestRunPropagatesFakeCPULoad(t *testing.T) {
	tf := setupTestFiles(t)
	params := quickParams()
	params.FakeCPULoad = true

	res, err := Run(tf, params, nil, nil, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Knobs.FakeCPULoad {
		t.Error("expected FakeCPULoad:true to round-trip into the committed HashdKnobs")
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseCPUSaturation: "cpu-saturation",
		PhaseMemoryProbing: "memory-probing",
		PhaseCommit:        "commit",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}
