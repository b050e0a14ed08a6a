// Package benchhashd implements hashd's self-calibration routine: the
// three-phase search (CPU-saturation, memory probing, commit) that
// derives rps_max and the maximum tolerable memory footprint for a
// given machine, producing the HashdKnobs a resctld deployment commits
// to BenchKnobs.
//
// Grounded on spec §4.2's phase description and on
// original_source/rd-agent/src/bench.rs's update_hashd, which shows
// what the commit phase's result feeds: hash_size, rps_max, mem_size,
// mem_frac and chunk_pages copied verbatim into BenchKnobs.hashd.
package benchhashd

import (
	"time"

	"github.com/linuxresctl/resctld/internal/hasher"
	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/rerr"
	"github.com/linuxresctl/resctld/internal/rlog"
	"github.com/linuxresctl/resctld/internal/testfiles"
)

// Phase identifies which stage of the bench routine is running, for
// progress reporting.
type Phase int

const (
	PhaseCPUSaturation Phase = iota
	PhaseMemoryProbing
	PhaseCommit
)

func (p Phase) String() string {
	switch p {
	case PhaseCPUSaturation:
		return "cpu-saturation"
	case PhaseMemoryProbing:
		return "memory-probing"
	case PhaseCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// ProgressFunc reports phase/fraction-complete as the routine runs.
type ProgressFunc func(phase Phase, frac float64)

// CancelFunc reports whether the in-flight bench run has been
// cancelled. It is checked before every wait of a phase, so checks are
// at most two control periods apart (one period while memory probing).
type CancelFunc func() bool

// plateauThreshold is the relative step-over-step growth in p99
// per-request latency below which CPU saturation is considered to have
// plateaued.
const plateauThreshold = 0.03

// latSustainTicks is how many consecutive control periods latency
// must stay under target for a memory-probing step to be accepted.
const latSustainTicks = 3

// Result is the outcome of a successful bench run.
type Result struct {
	Knobs model.HashdKnobs
}

// Run executes all three phases against tf using params as the
// starting point, and returns the committed HashdKnobs. It aborts with
// rerr.KindBenchmarkFailure if cancel() reports true at a checkpoint.
func Run(tf *testfiles.Files, params model.Params, progress ProgressFunc, cancel CancelFunc, log *rlog.Logger) (Result, error) {
	params.SleepMean = 0 // sleep disabled during CPU-saturation search
	d := hasher.New(tf, params, log)
	defer d.Stop()

	rpsMax, err := runCPUSaturation(d, params, progress, cancel)
	if err != nil {
		return Result{}, err
	}

	loadParams := params
	loadParams.SleepMean = model.DefaultParams().SleepMean
	loadParams.RPSTarget = uint64(float64(rpsMax) * 0.8)
	d.SetParams(loadParams)

	memFrac, err := runMemoryProbing(d, loadParams, progress, cancel)
	if err != nil {
		return Result{}, err
	}

	if progress != nil {
		progress(PhaseCommit, 1.0)
	}

	knobs := model.HashdKnobs{
		HashSize:    params.FileSizeMean,
		RPSMax:      rpsMax,
		MemSize:     uint64(float64(tf.FileSize*tf.NrFiles) * params.FileTotalFrac * params.AnonTotalRatio),
		MemFrac:     memFrac,
		ChunkPages:  params.ChunkPages,
		FakeCPULoad: params.FakeCPULoad,
	}
	return Result{Knobs: knobs}, nil
}

// runCPUSaturation ramps the RPS target upward, doubling each step,
// until p99 per-request latency (standing in for CPU time, since sleep
// is disabled) grows by less than plateauThreshold relative to the
// prior step — the knee taken as rps_max.
func runCPUSaturation(d *hasher.Dispatch, params model.Params, progress ProgressFunc, cancel CancelFunc) (uint64, error) {
	target := uint64(100)
	var prevLat float64
	var plateauAt uint64

	for step := 0; step < 20; step++ {
		if cancel != nil && cancel() {
			return 0, rerr.New(rerr.KindBenchmarkFailure, "cpu-saturation phase cancelled")
		}

		p := params
		p.RPSTarget = target
		p.MaxConcurrency = target * 2
		if p.MaxConcurrency < 8 {
			p.MaxConcurrency = 8
		}
		d.SetParams(p)

		time.Sleep(time.Duration(p.ControlPeriod*float64(time.Second)) * 2)
		stat := d.Tick()

		if progress != nil {
			progress(PhaseCPUSaturation, float64(step)/20.0)
		}

		if prevLat > 0 && stat.Lat.P99 > 0 {
			growth := (stat.Lat.P99 - prevLat) / prevLat
			if growth < plateauThreshold {
				plateauAt = target
				break
			}
		}
		prevLat = stat.Lat.P99
		plateauAt = target
		target *= 2
	}

	return plateauAt, nil
}

// runMemoryProbing grows AnonTotalRatio in fixed increments, holding
// RPS near the load factor set by the caller, and accepts each step
// only once p99 latency has stayed under target for latSustainTicks
// consecutive control periods. The last accepted step's ratio (scaled
// against the params default) is returned as mem_frac; when no step is
// accepted, the first step's ratio, 0.1, is returned.
func runMemoryProbing(d *hasher.Dispatch, params model.Params, progress ProgressFunc, cancel CancelFunc) (float64, error) {
	const steps = 10
	best := 0.1

	for step := 1; step <= steps; step++ {
		if cancel != nil && cancel() {
			return 0, rerr.New(rerr.KindBenchmarkFailure, "memory-probing phase cancelled")
		}

		frac := float64(step) / steps
		p := params
		p.AnonTotalRatio = params.AnonTotalRatio * frac
		d.SetParams(p)

		if progress != nil {
			progress(PhaseMemoryProbing, float64(step)/float64(steps))
		}

		passed := true
		for i := 0; i < latSustainTicks; i++ {
			if cancel != nil && cancel() {
				return 0, rerr.New(rerr.KindBenchmarkFailure, "memory-probing phase cancelled")
			}
			time.Sleep(time.Duration(p.ControlPeriod * float64(time.Second)))
			stat := d.Tick()
			if stat.Lat.P99 > p.P99LatTarget {
				passed = false
				break
			}
		}

		if !passed {
			break
		}
		best = frac
	}

	return best, nil
}
