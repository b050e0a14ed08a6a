package diff

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/linuxresctl/resctld/internal/model"
)

func TestCompareMetricsDetectsRegression(t *testing.T) {
	baseline := map[string]float64{"lat_p99": 10, "rps": 1000}
	current := map[string]float64{"lat_p99": 16, "rps": 1000}

	d := CompareMetrics("before", "after", baseline, current)
	if d.Regressions != 1 {
		t.Fatalf("regressions = %d, want 1", d.Regressions)
	}

	found := false
	for _, c := range d.Changes {
		if c.Metric == "lat_p99" {
			found = true
			if c.Direction != "regression" {
				t.Errorf("direction = %q, want regression", c.Direction)
			}
			if c.Significance != "high" {
				t.Errorf("significance = %q, want high (60%% change)", c.Significance)
			}
		}
	}
	if !found {
		t.Error("missing lat_p99 change")
	}
}

func TestCompareMetricsDetectsImprovement(t *testing.T) {
	baseline := map[string]float64{"lat_p99": 20}
	current := map[string]float64{"lat_p99": 8}

	d := CompareMetrics("before", "after", baseline, current)
	if d.Improvements != 1 {
		t.Fatalf("improvements = %d, want 1", d.Improvements)
	}
	if d.Changes[0].Significance != "high" {
		t.Errorf("significance = %q, want high", d.Changes[0].Significance)
	}
}

func TestCompareMetricsIsOrderIndependent(t *testing.T) {
	baseline := map[string]float64{"lat_p99": 10, "rps": 1000}
	current := map[string]float64{"rps": 1000, "lat_p99": 16}

	a := CompareMetrics("before", "after", baseline, current)
	b := CompareMetrics("before", "after", baseline, current)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("CompareMetrics not deterministic across calls (-first +second):\n%s", diff)
	}
}

func TestCompareMetricsIgnoresUnchanged(t *testing.T) {
	baseline := map[string]float64{"rps": 1000}
	current := map[string]float64{"rps": 1000.05}

	d := CompareMetrics("before", "after", baseline, current)
	if len(d.Changes) != 0 {
		t.Errorf("expected no changes for a negligible delta, got %v", d.Changes)
	}
}

func TestCompareMetricsSkipsMissingBaseline(t *testing.T) {
	baseline := map[string]float64{"rps": 1000}
	current := map[string]float64{"rps": 1000, "new_metric": 42}

	d := CompareMetrics("before", "after", baseline, current)
	for _, c := range d.Changes {
		if c.Metric == "new_metric" {
			t.Error("should not diff a metric absent from the baseline")
		}
	}
}

func TestHashdKnobsMetricsAndIOCostModelMetrics(t *testing.T) {
	k := model.HashdKnobs{RPSMax: 500, MemSize: 1 << 20}
	hm := HashdKnobsMetrics(k)
	if hm["rps_max"] != 500 {
		t.Errorf("rps_max = %v, want 500", hm["rps_max"])
	}

	m := model.IOCostModelKnobs{RBPS: 100, WBPS: 200}
	im := IOCostModelMetrics(m)
	if im["rbps"] != 100 || im["wbps"] != 200 {
		t.Errorf("unexpected iocost metrics: %v", im)
	}
}

func TestFormatDiff(t *testing.T) {
	d := &DiffReport{
		Baseline:     "run-1",
		Current:      "run-2",
		Regressions:  1,
		Improvements: 1,
		Changes: []MetricChange{
			{Metric: "lat_p99", OldValue: 10, NewValue: 16, DeltaPct: 60, Direction: "regression", Significance: "medium"},
			{Metric: "rps", OldValue: 800, NewValue: 1200, DeltaPct: 50, Direction: "improvement", Significance: "medium"},
		},
	}

	out := FormatDiff(d)
	if out == "" {
		t.Fatal("empty diff output")
	}
	if len(out) < 50 {
		t.Error("diff output too short")
	}
}
