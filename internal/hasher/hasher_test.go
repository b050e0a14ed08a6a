package hasher

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/padlog"
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

func testParams() model.Params {
	p := model.DefaultParams()
	p.MaxConcurrency = 8
	p.RPSTarget = 50
	p.P99LatTarget = 50 * model.Msec
	p.FileSizeMean = 4096
	p.SleepMean = 1 * model.Msec
	return p
}

func TestNewStartsOneWorker(t *testing.T) {
	tf := setupTestFiles(t)
	d := New(tf, testParams(), nil)
	defer d.Stop()

	d.workerMu.Lock()
	n := len(d.workers)
	d.workerMu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 initial worker, got %d", n)
	}
}

func TestSetConcurrencyGrowsAndShrinks(t *testing.T) {
	tf := setupTestFiles(t)
	d := New(tf, testParams(), nil)
	defer d.Stop()

	d.setConcurrency(5)
	d.workerMu.Lock()
	if len(d.workers) != 5 {
		t.Errorf("expected 5 workers after growing, got %d", len(d.workers))
	}
	d.workerMu.Unlock()

	d.setConcurrency(2)
	d.workerMu.Lock()
	if len(d.workers) != 2 {
		t.Errorf("expected 2 workers after shrinking, got %d", len(d.workers))
	}
	d.workerMu.Unlock()
}

func TestTickProducesStat(t *testing.T) {
	tf := setupTestFiles(t)
	d := New(tf, testParams(), nil)
	defer d.Stop()

	time.Sleep(50 * time.Millisecond)
	stat := d.Tick()
	if stat.NrWorkers < 1 {
		t.Errorf("expected at least 1 worker reported, got %d", stat.NrWorkers)
	}
}

func TestDoRequestRecordsLatency(t *testing.T) {
	tf := setupTestFiles(t)
	d := New(tf, testParams(), nil)
	defer d.Stop()

	rnd := rand.New(rand.NewSource(7))
	d.doRequest(rnd)

	d.statMu.Lock()
	defer d.statMu.Unlock()
	if d.nrDone != 1 || len(d.lats) != 1 {
		t.Errorf("expected one recorded request, got nrDone=%d lats=%d", d.nrDone, len(d.lats))
	}
}

func TestSnapshotStatIdleWorkersNeverExceedsWorkerCount(t *testing.T) {
	tf := setupTestFiles(t)
	d := New(tf, testParams(), nil)
	defer d.Stop()

	d.setConcurrency(4)
	time.Sleep(50 * time.Millisecond)
	stat := d.snapshotStat(0.05)
	if stat.NrIdleWorkers > stat.NrWorkers {
		t.Errorf("idle workers %d exceeds worker count %d", stat.NrIdleWorkers, stat.NrWorkers)
	}
	if stat.NrIdleWorkers < 0 {
		t.Errorf("idle workers must not be negative, got %d", stat.NrIdleWorkers)
	}
}

func TestPercentilesMonotonic(t *testing.T) {
	lats := []float64{0.01, 0.02, 0.05, 0.1, 0.2, 0.3, 0.9}
	lat := percentiles(lats)
	if !(lat.P01 <= lat.P50 && lat.P50 <= lat.P99) {
		t.Errorf("expected monotonic percentiles, got %+v", lat)
	}
}

func TestDispatchOneDropsAndFlagsOverloadPastBacklogBound(t *testing.T) {
	tf := setupTestFiles(t)
	d := New(tf, testParams(), nil)
	defer d.Stop()

	// Shrink to a single worker so the 2x-concurrency backlog bound is
	// tiny, then fill the queue past it without anything draining it.
	d.setConcurrency(1)
	d.workerMu.Lock()
	for id, stop := range d.workers {
		close(stop)
		delete(d.workers, id)
	}
	d.workerMu.Unlock()

	for i := 0; i < 10; i++ {
		d.dispatchOne()
	}

	d.statMu.Lock()
	overloaded := d.overloaded
	nrOverloaded := d.nrOverloaded
	d.statMu.Unlock()

	if !overloaded {
		t.Error("expected overload to be flagged once backlog exceeded 2x concurrency")
	}
	if nrOverloaded == 0 {
		t.Error("expected at least one dropped request to be counted")
	}
}

func TestTickConvergesOnMinOfLatAndRPSOutputs(t *testing.T) {
	tf := setupTestFiles(t)
	params := testParams()
	d := New(tf, params, nil)
	defer d.Stop()

	// Latency wildly over target should pull concurrency down even if
	// RPS is wildly under target pulling the other way up.
	d.latPID.Reset()
	d.rpsPID.Reset()
	d.setConcurrency(8)
	d.lastTick = time.Now().Add(-time.Second)

	d.statMu.Lock()
	d.lats = []float64{10} // far above p99_lat_target
	d.nrDone = 0           // far below rps_target
	d.statMu.Unlock()

	d.Tick()

	n := d.concurrency()
	if n >= 8 {
		t.Errorf("expected concurrency to shrink toward the latency-limited output, got %d workers", n)
	}
	if n < 1 {
		t.Errorf("concurrency must never drop below 1, got %d", n)
	}
}

func TestDoRequestFakeCPULoadSkipsRealHash(t *testing.T) {
	tf := setupTestFiles(t)
	params := testParams()
	params.FakeCPULoad = true
	params.FileSizeMean = 1 << 20 // large enough that a real hash vs. sleep is distinguishable
	d := New(tf, params, nil)
	defer d.Stop()

	rnd := rand.New(rand.NewSource(3))
	d.doRequest(rnd)

	d.statMu.Lock()
	defer d.statMu.Unlock()
	if d.nrDone != 1 {
		t.Errorf("expected request to still complete and record latency, got nrDone=%d", d.nrDone)
	}
}

func TestSetPadLogAppendsLineForEachRequest(t *testing.T) {
	tf := setupTestFiles(t)
	params := testParams()
	params.LogPadding = 12
	d := New(tf, params, nil)
	defer d.Stop()

	logPath := filepath.Join(t.TempDir(), "hashd.log")
	l, err := padlog.New(logPath, 0)
	if err != nil {
		t.Fatalf("padlog.New failed: %v", err)
	}
	defer l.Close()
	d.SetPadLog(l)

	rnd := rand.New(rand.NewSource(11))
	d.doRequest(rnd)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected doRequest to append a log line via the attached padlog.Logger")
	}
}
