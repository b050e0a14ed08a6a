package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linuxresctl/resctld/internal/harness"
	"github.com/linuxresctl/resctld/internal/model"
)

func TestParseProps(t *testing.T) {
	props := parseProps("dev=8:0,loops=3")
	if len(props) != 1 {
		t.Fatalf("expected one property group, got %d", len(props))
	}
	if props[0]["dev"] != "8:0" || props[0]["loops"] != "3" {
		t.Errorf("unexpected props: %v", props[0])
	}
}

func TestParsePropsEmpty(t *testing.T) {
	if props := parseProps(""); props != nil {
		t.Errorf("expected nil props for empty flag, got %v", props)
	}
}

func TestStudyMetricsHashdKnobs(t *testing.T) {
	s := harness.Study{Data: model.HashdKnobs{RPSMax: 500}}
	m := studyMetrics(s)
	if m["rps_max"] != 500 {
		t.Errorf("rps_max = %v, want 500", m["rps_max"])
	}
}

func TestStudyMetricsUnknownTypeReturnsNil(t *testing.T) {
	s := harness.Study{Data: "not a recognized knobs type"}
	if m := studyMetrics(s); m != nil {
		t.Errorf("expected nil metrics for an unrecognized Data type, got %v", m)
	}
}

func TestSaveStudyThenLoadStudyRoundTrips(t *testing.T) {
	spec := model.JobSpec{Kind: "hashd-params", ID: "a"}
	study := harness.Study{Spec: spec, Data: model.HashdKnobs{RPSMax: 123}}

	path := filepath.Join(t.TempDir(), "result.json")
	if err := saveStudy(path, spec, study); err != nil {
		t.Fatalf("saveStudy failed: %v", err)
	}

	loaded, err := loadStudy(path)
	if err != nil {
		t.Fatalf("loadStudy failed: %v", err)
	}
	if loaded.Spec.Kind != "hashd-params" || loaded.Spec.ID != "a" {
		t.Errorf("unexpected spec after round trip: %v", loaded.Spec)
	}
	if loaded.Metrics["rps_max"] != 123 {
		t.Errorf("rps_max after round trip = %v, want 123", loaded.Metrics["rps_max"])
	}
	if loaded.RunID == "" {
		t.Error("expected a non-empty run id")
	}
}

func TestApplyGlobalDefaultsDoesNotOverrideExplicitProps(t *testing.T) {
	spec := model.JobSpec{Kind: "iocost-qos", Props: model.JobProps{{"dev": "8:0"}}}
	gf := &globalFlags{dir: "/var/lib/resctl-demo", dev: "254:16"}

	applyGlobalDefaults(&spec, gf)

	if spec.Props[0]["dev"] != "8:0" {
		t.Errorf("expected explicit dev prop preserved, got %v", spec.Props[0]["dev"])
	}
	if spec.Props[0]["dir"] != "/var/lib/resctl-demo" {
		t.Errorf("expected --dir injected as a default prop, got %v", spec.Props[0]["dir"])
	}
}

func TestAppendArchiveThenFindCompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.json")
	spec := model.JobSpec{Kind: "hashd-params", Props: model.JobProps{{"dir": "/d"}}}
	study := harness.Study{Spec: spec, Data: model.HashdKnobs{RPSMax: 999}}

	if err := appendArchive(path, spec, study); err != nil {
		t.Fatalf("appendArchive failed: %v", err)
	}

	if _, ok := findCompatible(path, model.JobSpec{Kind: "iocost-qos"}); ok {
		t.Error("expected no compatible result for a different kind")
	}

	sr, ok := findCompatible(path, spec)
	if !ok {
		t.Fatal("expected a compatible result for the identical spec")
	}
	if sr.Metrics["rps_max"] != 999 {
		t.Errorf("rps_max = %v, want 999", sr.Metrics["rps_max"])
	}
}

func TestFindCompatibleIgnoresApplyCommitProps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.json")
	spec := model.JobSpec{Kind: "hashd-params", Props: model.JobProps{{"apply": "true"}}}
	study := harness.Study{Spec: spec, Data: model.HashdKnobs{}}
	if err := appendArchive(path, spec, study); err != nil {
		t.Fatalf("appendArchive failed: %v", err)
	}

	other := model.JobSpec{Kind: "hashd-params", Props: model.JobProps{{"apply": "false"}}}
	if _, ok := findCompatible(path, other); !ok {
		t.Error("expected specs differing only in apply/commit props to be compatible")
	}
}

func TestIocostModelFromMetricsRoundTrips(t *testing.T) {
	m := model.IOCostModelKnobs{RBPS: 100, RSeqIOPS: 200, RRandIOPS: 300, WBPS: 400, WSeqIOPS: 500, WRandIOPS: 600}
	metrics := studyMetrics(harness.Study{Data: m})

	got, ok := iocostModelFromMetrics(metrics)
	if !ok {
		t.Fatal("expected reconstruction to succeed")
	}
	if got != m {
		t.Errorf("round-tripped model = %+v, want %+v", got, m)
	}
}

func TestIocostModelFromMetricsRejectsIncompleteSet(t *testing.T) {
	if _, ok := iocostModelFromMetrics(map[string]float64{"rbps": 1}); ok {
		t.Error("expected incomplete metrics map to be rejected")
	}
}

func TestPruneOlderThanRemovesStaleEntriesOnly(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "stale.json")
	fresh := filepath.Join(dir, "fresh.json")
	if err := os.WriteFile(stale, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fresh, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	if err := pruneOlderThan(dir, 24*time.Hour); err != nil {
		t.Fatalf("pruneOlderThan failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("expected the stale entry to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("expected the fresh entry to survive")
	}
}
