// Package oomd implements the policy-only OOM daemon: per-slice
// mem-pressure kill, senpai adaptive memory.high probing, and global
// swap protection, all described declaratively by model.OomdKnobs and
// gated by the DisableSeq convention shared with the slice manager.
//
// Grounded on spec §4.4's OOMD description and on the teacher's
// internal/collector/container.go idiom for per-cgroup-file textual
// reads, adapted here to PSI pressure files and memory.current.
package oomd

import (
	"bufio"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/rlog"
)

// Killer abstracts "kill the highest memory consumer in this cgroup"
// so the daemon's policy logic can be tested without touching a real
// cgroup.kill knob.
type Killer interface {
	Kill(cgroupPath string) error
}

// cgroupKiller writes "1" to cgroup.kill, the v2 knob that SIGKILLs
// every process in the cgroup.
type cgroupKiller struct{}

func (cgroupKiller) Kill(cgroupPath string) error {
	f, err := os.OpenFile(cgroupPath+"/cgroup.kill", os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString("1")
	return err
}

// pressureTracker maintains the sustained-threshold window for one
// slice's mem-pressure policy: it starts a timer the moment pressure
// crosses the threshold and only fires once the timer has run
// uninterrupted for Duration seconds.
type pressureTracker struct {
	aboveSince time.Time
	fired      bool
}

func (t *pressureTracker) observe(now time.Time, pct, threshold, duration float64) bool {
	if pct < threshold {
		t.aboveSince = time.Time{}
		t.fired = false
		return false
	}
	if t.aboveSince.IsZero() {
		t.aboveSince = now
	}
	if !t.fired && now.Sub(t.aboveSince).Seconds() >= duration {
		t.fired = true
		return true
	}
	return false
}

// senpaiState tracks one slice's adaptively-probed memory.high.
type senpaiState struct {
	currentHigh uint64
	initialized bool
}

// Daemon runs OOMD's policies against a cgroup hierarchy.
type Daemon struct {
	CgroupRoot string
	killer     Killer
	log        *rlog.Logger

	pressure map[model.Slice]*pressureTracker
	senpai   map[model.Slice]*senpaiState
}

// New creates a Daemon rooted at cgroupRoot.
func New(cgroupRoot string, log *rlog.Logger) *Daemon {
	return &Daemon{
		CgroupRoot: cgroupRoot,
		killer:     cgroupKiller{},
		log:        log,
		pressure:   make(map[model.Slice]*pressureTracker),
		senpai:     make(map[model.Slice]*senpaiState),
	}
}

// Tick evaluates every configured policy once against the current
// system state, at the given report sequence (for DisableSeq gating).
func (d *Daemon) Tick(knobs model.OomdKnobs, reportSeq uint64) {
	if knobs.DisableSeq >= reportSeq {
		return
	}
	now := time.Now()

	d.evalMemPressure(model.SliceWork, knobs.Workload.MemPressure, reportSeq, now)
	d.evalMemPressure(model.SliceSys, knobs.System.MemPressure, reportSeq, now)

	d.evalSenpai(model.SliceWork, knobs.Workload.Senpai)
	d.evalSenpai(model.SliceSys, knobs.System.Senpai)

	if knobs.SwapEnable {
		d.evalSwapProtection(knobs.SwapThresh)
	}
}

func (d *Daemon) evalMemPressure(s model.Slice, knobs model.OomdSliceMemPressureKnobs, reportSeq uint64, now time.Time) {
	if knobs.DisableSeq >= reportSeq {
		return
	}
	pressure, err := readPressure(s.Cgroup(d.CgroupRoot) + "/memory.pressure")
	if err != nil {
		return
	}

	tracker, ok := d.pressure[s]
	if !ok {
		tracker = &pressureTracker{}
		d.pressure[s] = tracker
	}

	if tracker.observe(now, pressure.someAvg10, knobs.Threshold, knobs.Duration) {
		victim := d.highestMemoryUser(s)
		if victim != "" {
			if err := d.killer.Kill(victim); err != nil && d.log != nil {
				d.log.Warn("oomd: failed to kill %s (%v)", victim, err)
			} else if d.log != nil {
				d.log.Log("oomd: killed %s in %s (pressure sustained above %.1f%%)", victim, s.Name(), knobs.Threshold)
			}
		}
	}
}

// evalSenpai adjusts memory.high for s toward minBytesFrac*sliceSize,
// probing downward when stall is low and backing off when it's high.
func (d *Daemon) evalSenpai(s model.Slice, knobs model.OomdSliceSenpaiKnobs) {
	if !knobs.Enable {
		delete(d.senpai, s)
		return
	}

	cgroupPath := s.Cgroup(d.CgroupRoot)
	sliceSize, err := readUint(cgroupPath + "/memory.current")
	if err != nil || sliceSize == 0 {
		return
	}

	state, ok := d.senpai[s]
	if !ok {
		state = &senpaiState{currentHigh: sliceSize, initialized: true}
		d.senpai[s] = state
	}

	pressure, err := readPressure(cgroupPath + "/memory.pressure")
	if err != nil {
		return
	}

	minHigh := uint64(float64(sliceSize) * knobs.MinBytesFrac)
	maxHigh := uint64(float64(sliceSize) * knobs.MaxBytesFrac)

	if pressure.someAvg10 < knobs.StallThresh {
		probe := uint64(float64(state.currentHigh) * knobs.MaxProbe)
		if probe == 0 {
			probe = 1
		}
		state.currentHigh -= probe
	} else {
		backoff := knobs.CoeffBackoff * pressure.someAvg10
		if backoff > knobs.MaxBackoff {
			backoff = knobs.MaxBackoff
		}
		state.currentHigh += uint64(float64(sliceSize) * backoff)
	}

	if state.currentHigh < minHigh {
		state.currentHigh = minHigh
	}
	if state.currentHigh > maxHigh {
		state.currentHigh = maxHigh
	}

	f, err := os.OpenFile(cgroupPath+"/memory.high", os.O_WRONLY|os.O_TRUNC, 0)
	if err == nil {
		f.WriteString(strconv.FormatUint(state.currentHigh, 10))
		f.Close()
	}
}

func (d *Daemon) evalSwapProtection(thresholdPct float64) {
	total, free, err := readSwapTotalsFree()
	if err != nil || total == 0 {
		return
	}
	freePct := float64(free) / float64(total) * 100
	if freePct >= thresholdPct {
		return
	}
	victim := d.highestMemoryUser(model.SliceWork)
	if victim != "" {
		if err := d.killer.Kill(victim); err != nil && d.log != nil {
			d.log.Warn("oomd: swap-protection kill of %s failed (%v)", victim, err)
		} else if d.log != nil {
			d.log.Log("oomd: swap-protection killed %s (free swap %.1f%% < %.1f%%)", victim, freePct, thresholdPct)
		}
	}
}

// highestMemoryUser finds the immediate child cgroup of s with the
// largest memory.current, the unit OOMD kills against.
func (d *Daemon) highestMemoryUser(s model.Slice) string {
	base := s.Cgroup(d.CgroupRoot)
	entries, err := os.ReadDir(base)
	if err != nil {
		return ""
	}

	type candidate struct {
		path string
		size uint64
	}
	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := base + "/" + e.Name()
		size, err := readUint(path + "/memory.current")
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{path, size})
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].size > candidates[j].size })
	return candidates[0].path
}

type pressureStats struct {
	someAvg10 float64
	fullAvg10 float64
}

// readPressure parses a PSI file's "some avg10=X avg60=Y avg300=Z
// total=N" / "full ..." two-line format.
func readPressure(path string) (pressureStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return pressureStats{}, err
	}
	defer f.Close()

	var stats pressureStats
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		kind := fields[0]
		for _, kv := range fields[1:] {
			if !strings.HasPrefix(kv, "avg10=") {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimPrefix(kv, "avg10="), 64)
			if err != nil {
				continue
			}
			switch kind {
			case "some":
				stats.someAvg10 = v
			case "full":
				stats.fullAvg10 = v
			}
		}
	}
	return stats, scanner.Err()
}

func readUint(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "max" {
		return ^uint64(0), nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// readSwapTotalsFree reads /proc/swaps-derived totals. Implemented via
// /proc/meminfo's SwapTotal/SwapFree, both in kB.
func readSwapTotalsFree() (total, free uint64, err error) {
	f, ferr := os.Open("/proc/meminfo")
	if ferr != nil {
		return 0, 0, ferr
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "SwapTotal":
			total, _ = strconv.ParseUint(fields[1], 10, 64)
		case "SwapFree":
			free, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	return total, free, scanner.Err()
}
