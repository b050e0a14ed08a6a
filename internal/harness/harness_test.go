package harness

import (
	"context"
	"testing"

	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/rerr"
	"github.com/linuxresctl/resctld/internal/rlog"
)

type fakeHandle struct {
	sysreqs   []model.SysReq
	runResult RunResult
	runErr    error
	formatted string
}

func (f *fakeHandle) Sysreqs() []model.SysReq { return f.sysreqs }
func (f *fakeHandle) Run(ctx context.Context, spec model.JobSpec) (RunResult, error) {
	return f.runResult, f.runErr
}
func (f *fakeHandle) Study(spec model.JobSpec, results []RunResult) (Study, error) {
	return Study{Spec: spec, Data: len(results), Accepted: len(results)}, nil
}
func (f *fakeHandle) Format(s Study) string { return f.formatted }

func withFakeHandle(t *testing.T, kind string, h *fakeHandle) {
	t.Helper()
	prev, hadPrev := registry[kind]
	Register(kind, func() Handle { return h })
	t.Cleanup(func() {
		if hadPrev {
			registry[kind] = prev
		} else {
			delete(registry, kind)
		}
	})
}

func TestRunJobRejectsUnregisteredKind(t *testing.T) {
	h := New(model.SysReqsReport{}, rlog.New("test", false))
	_, err := h.RunJob(context.Background(), model.JobSpec{Kind: "does-not-exist"}, 1)
	if !rerr.Is(err, rerr.KindConfiguration) {
		t.Fatalf("expected KindConfiguration, got %v", err)
	}
}

func TestRunJobFailsOnMissingSysreq(t *testing.T) {
	withFakeHandle(t, "fake-missing", &fakeHandle{sysreqs: []model.SysReq{model.SysReqIOCost}})
	h := New(model.SysReqsReport{Missed: []model.SysReq{model.SysReqIOCost}}, rlog.New("test", false))

	_, err := h.RunJob(context.Background(), model.JobSpec{Kind: "fake-missing"}, 1)
	if !rerr.Is(err, rerr.KindEnvironment) {
		t.Fatalf("expected KindEnvironment, got %v", err)
	}
}

func TestRunJobStudiesAcceptedRuns(t *testing.T) {
	withFakeHandle(t, "fake-ok", &fakeHandle{runResult: RunResult{Data: 42}})
	h := New(model.SysReqsReport{}, rlog.New("test", false))

	study, err := h.RunJob(context.Background(), model.JobSpec{Kind: "fake-ok"}, 3)
	if err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}
	if study.Accepted != 3 {
		t.Errorf("expected 3 accepted runs, got %d", study.Accepted)
	}
}

func TestRunJobFailsWhenEveryRunErrors(t *testing.T) {
	withFakeHandle(t, "fake-fail", &fakeHandle{runErr: assertErr{}})
	h := New(model.SysReqsReport{}, rlog.New("test", false))

	_, err := h.RunJob(context.Background(), model.JobSpec{Kind: "fake-fail"}, 2)
	if !rerr.Is(err, rerr.KindBenchmarkFailure) {
		t.Fatalf("expected KindBenchmarkFailure, got %v", err)
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated run failure" }

func TestMedianHashdKnobsOddCount(t *testing.T) {
	runs := []model.HashdKnobs{
		{RPSMax: 100, MemFrac: 0.1},
		{RPSMax: 300, MemFrac: 0.3},
		{RPSMax: 200, MemFrac: 0.2},
	}
	got := medianHashdKnobs(runs)
	if got.RPSMax != 200 {
		t.Errorf("expected median rps_max 200, got %d", got.RPSMax)
	}
	if got.MemFrac != 0.2 {
		t.Errorf("expected median mem_frac 0.2, got %v", got.MemFrac)
	}
}

func TestPropStringFallsBackToDefault(t *testing.T) {
	spec := model.JobSpec{Props: model.JobProps{{"dir": "/custom"}}}
	if got := propString(spec, "dir", "/default"); got != "/custom" {
		t.Errorf("propString = %q, want /custom", got)
	}
	if got := propString(spec, "missing", "/default"); got != "/default" {
		t.Errorf("propString fallback = %q, want /default", got)
	}
}
