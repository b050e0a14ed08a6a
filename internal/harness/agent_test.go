package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/linuxresctl/resctld/internal/jsonfile"
	"github.com/linuxresctl/resctld/internal/model"
)

// setupAgentDir writes the minimal on-disk layout NewAgentClient and
// AgentClient expect: index.json plus empty cmd.json/bench.json.
func setupAgentDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	idx := model.Index{
		Cmd:   filepath.Join(dir, "cmd.json"),
		Bench: filepath.Join(dir, "bench.json"),
	}
	if err := jsonfile.Save(filepath.Join(dir, "index.json"), idx); err != nil {
		t.Fatalf("saving index.json: %v", err)
	}
	if err := jsonfile.Save(idx.Cmd, model.DefaultCmd()); err != nil {
		t.Fatalf("saving cmd.json: %v", err)
	}
	if err := jsonfile.Save(idx.Bench, model.BenchKnobs{}); err != nil {
		t.Fatalf("saving bench.json: %v", err)
	}
	return dir
}

// fakeAgentCommitHashd emulates runner.Runner.runBench's eventual
// bench.json write, without spawning a real Agent process.
func fakeAgentCommitHashd(t *testing.T, dir string, knobs model.HashdKnobs) {
	t.Helper()
	var cmd model.Cmd
	if err := jsonfile.Load(filepath.Join(dir, "cmd.json"), &cmd); err != nil {
		t.Fatalf("loading cmd.json: %v", err)
	}
	var bench model.BenchKnobs
	bench.HashdSeq = cmd.BenchHashdSeq
	bench.Hashd = knobs
	if err := jsonfile.Save(filepath.Join(dir, "bench.json"), bench); err != nil {
		t.Fatalf("saving bench.json: %v", err)
	}
}

func fakeAgentCommitIOCost(t *testing.T, dir string, knobs model.IOCostKnobs) {
	t.Helper()
	var cmd model.Cmd
	if err := jsonfile.Load(filepath.Join(dir, "cmd.json"), &cmd); err != nil {
		t.Fatalf("loading cmd.json: %v", err)
	}
	var bench model.BenchKnobs
	bench.IOCostSeq = cmd.BenchIOCostSeq
	bench.IOCost = knobs
	if err := jsonfile.Save(filepath.Join(dir, "bench.json"), bench); err != nil {
		t.Fatalf("saving bench.json: %v", err)
	}
}

func TestRequestHashdBenchBumpsSeqAndWaitsForCommit(t *testing.T) {
	dir := setupAgentDir(t)
	agent, err := NewAgentClient(dir)
	if err != nil {
		t.Fatalf("NewAgentClient failed: %v", err)
	}

	done := make(chan model.HashdKnobs, 1)
	errCh := make(chan error, 1)
	go func() {
		knobs, err := agent.RequestHashdBench(context.Background(), 2*time.Second)
		errCh <- err
		done <- knobs
	}()

	// Give the request time to bump cmd.json before the fake agent
	// reacts, mirroring the real Agent's reconciliation-tick latency.
	time.Sleep(50 * time.Millisecond)
	fakeAgentCommitHashd(t, dir, model.HashdKnobs{RPSMax: 4242})

	if err := <-errCh; err != nil {
		t.Fatalf("RequestHashdBench failed: %v", err)
	}
	knobs := <-done
	if knobs.RPSMax != 4242 {
		t.Errorf("expected committed RPSMax 4242, got %d", knobs.RPSMax)
	}

	var cmd model.Cmd
	if err := jsonfile.Load(filepath.Join(dir, "cmd.json"), &cmd); err != nil {
		t.Fatalf("loading cmd.json: %v", err)
	}
	if cmd.BenchHashdSeq != 1 {
		t.Errorf("expected cmd.json bench_hashd_seq bumped to 1, got %d", cmd.BenchHashdSeq)
	}
}

func TestRequestIOCostBenchRejectsDeviceMismatch(t *testing.T) {
	dir := setupAgentDir(t)
	agent, err := NewAgentClient(dir)
	if err != nil {
		t.Fatalf("NewAgentClient failed: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		fakeAgentCommitIOCost(t, dir, model.IOCostKnobs{DevNr: "8:32"})
	}()

	_, err = agent.RequestIOCostBench(context.Background(), "8:16", 2*time.Second)
	if err == nil {
		t.Fatal("expected a device-mismatch error")
	}
}

func TestRequestHashdBenchTimesOutWithoutAgentCommit(t *testing.T) {
	dir := setupAgentDir(t)
	agent, err := NewAgentClient(dir)
	if err != nil {
		t.Fatalf("NewAgentClient failed: %v", err)
	}

	_, err = agent.RequestHashdBench(context.Background(), 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error when no agent ever commits bench.json")
	}
}
