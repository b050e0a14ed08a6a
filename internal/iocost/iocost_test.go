package iocost

import (
	"math"
	"testing"

	"github.com/linuxresctl/resctld/internal/model"
)

func TestChauvenetKeepRejectsFarOutlier(t *testing.T) {
	values := []float64{100, 101, 99, 102, 98, 100, 5000}
	kept := ChauvenetKeep(values)
	for _, v := range kept {
		if v == 5000 {
			t.Error("expected the far outlier to be rejected")
		}
	}
	if len(kept) < 5 {
		t.Errorf("expected most in-range samples to survive, kept %d of %d", len(kept), len(values))
	}
}

func TestChauvenetKeepSmallSampleKeepsAll(t *testing.T) {
	values := []float64{1, 1000}
	kept := ChauvenetKeep(values)
	if len(kept) != 2 {
		t.Errorf("expected small samples to bypass rejection, got %d", len(kept))
	}
}

func TestMergeRunsMedian(t *testing.T) {
	runs := []model.IOCostModelKnobs{
		{RBPS: 100, WBPS: 50},
		{RBPS: 110, WBPS: 55},
		{RBPS: 105, WBPS: 52},
	}
	merged := MergeRuns(runs)
	if merged.RBPS != 105 {
		t.Errorf("RBPS median = %d, want 105", merged.RBPS)
	}
}

func TestApplyMinVrateFloor(t *testing.T) {
	m := model.IOCostModelKnobs{RBPS: 1000, WBPS: 1000, RRandIOPS: 10, WRandIOPS: 10}
	floored := ApplyMinVrateFloor(m)
	if floored.RBPS != minSeqBPS || floored.WBPS != minSeqBPS {
		t.Errorf("expected bandwidths raised to floor, got %+v", floored)
	}
	if floored.RRandIOPS != minRandIOPS || floored.WRandIOPS != minRandIOPS {
		t.Errorf("expected random iops raised to floor, got %+v", floored)
	}
}

func TestApplyMinVrateFloorLeavesHighValues(t *testing.T) {
	m := model.IOCostModelKnobs{RBPS: minSeqBPS * 2, RRandIOPS: minRandIOPS * 2}
	floored := ApplyMinVrateFloor(m)
	if floored.RBPS != minSeqBPS*2 {
		t.Errorf("expected value above floor to be left alone, got %d", floored.RBPS)
	}
}

func TestMergeGroupRejectsSingleOutlierAndMediansTheRest(t *testing.T) {
	sources := []MergeSource{
		{Path: "host-a.json", Model: model.IOCostModelKnobs{RBPS: 125}},
		{Path: "host-b.json", Model: model.IOCostModelKnobs{RBPS: 122}},
		{Path: "host-c.json", Model: model.IOCostModelKnobs{RBPS: 127}},
		{Path: "host-d.json", Model: model.IOCostModelKnobs{RBPS: 160}},
	}
	info := MergeGroup(sources)

	if info.Merged.RBPS != 125 {
		t.Errorf("expected merged rbps=125, got %d", info.Merged.RBPS)
	}
	if len(info.Rejected) != 1 {
		t.Fatalf("expected exactly one rejected source, got %d", len(info.Rejected))
	}
	if info.Rejected[0].Source != "host-d.json" {
		t.Errorf("expected host-d.json rejected, got %s", info.Rejected[0].Source)
	}
	if info.Rejected[0].Reason != "model is an outlier" {
		t.Errorf("expected reason %q, got %q", "model is an outlier", info.Rejected[0].Reason)
	}
	if len(info.Accepted) != 3 {
		t.Errorf("expected 3 accepted sources, got %d", len(info.Accepted))
	}
}

func TestMergeGroupSingleSourceIsNeverRejected(t *testing.T) {
	// ChauvenetKeep never rejects from fewer than three values, so a
	// lone source is always accepted and becomes the merged model.
	sources := []MergeSource{
		{Path: "only.json", Model: model.IOCostModelKnobs{RBPS: 100}},
	}
	info := MergeGroup(sources)
	if len(info.Rejected) != 0 {
		t.Errorf("expected no rejections with a single source, got %+v", info.Rejected)
	}
	if info.Merged.RBPS != 100 {
		t.Errorf("expected merged rbps=100, got %d", info.Merged.RBPS)
	}
}

func TestPhiIsStandardNormalCDF(t *testing.T) {
	if math.Abs(phi(0)-0.5) > 1e-9 {
		t.Errorf("phi(0) = %v, want 0.5", phi(0))
	}
	if phi(3) < 0.99 {
		t.Errorf("phi(3) should be close to 1, got %v", phi(3))
	}
}
