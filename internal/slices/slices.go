// Package slices applies resctld's cgroup slice configuration to the
// live cgroup v2 hierarchy: cpu.weight, io.weight and the memory.{min,
// low,high} protection/limit knobs, gated per-controller by DisableSeq.
//
// Grounded on the teacher's internal/collector/container.go for the
// cgroup-path-join and per-controller-file idiom (adapted here from
// read-only metrics collection to writing control files), and on spec
// §4.4's memory defaults and DisableSeq semantics.
package slices

import (
	"fmt"
	"os"

	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/rerr"
)

// Manager applies SliceKnobs against a cgroup v2 hierarchy rooted at
// CgroupRoot (the Runner uses "/sys/fs/cgroup/resctl.slice" by default).
type Manager struct {
	CgroupRoot string
}

// New creates a Manager rooted at cgroupRoot.
func New(cgroupRoot string) *Manager {
	return &Manager{CgroupRoot: cgroupRoot}
}

// EnsureSliceDirs creates the cgroup directory for every slice that
// doesn't already exist, so later writes to its controller files
// succeed.
func (m *Manager) EnsureSliceDirs() error {
	for _, s := range model.AllSlices {
		if err := os.MkdirAll(s.Cgroup(m.CgroupRoot), 0o755); err != nil {
			return rerr.Wrap(rerr.KindTransientIO, fmt.Sprintf("creating cgroup dir for %s", s.Name()), err)
		}
	}
	return nil
}

// Apply writes knobs to the live cgroup hierarchy at the given report
// sequence, skipping any controller whose DisableSeq has disabled it.
// Errors from individual slice writes are collected; Apply returns the
// first one but still attempts every slice so one bad write doesn't
// block every other slice's update.
func (m *Manager) Apply(knobs model.SliceKnobs, reportSeq uint64) error {
	var firstErr error
	cpuDisabled := knobs.DisableSeqs.CPU >= reportSeq
	memDisabled := knobs.DisableSeqs.Mem >= reportSeq
	ioDisabled := knobs.DisableSeqs.IO >= reportSeq

	for _, s := range model.AllSlices {
		cfg, ok := knobs.Get(s)
		if !ok {
			continue
		}
		path := s.Cgroup(m.CgroupRoot)

		if !cpuDisabled {
			if err := writeFile(path, "cpu.weight", fmt.Sprintf("%d", cfg.CPUWeight)); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if !ioDisabled {
			if err := writeFile(path, "io.weight", fmt.Sprintf("default %d", cfg.IOWeight)); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if !memDisabled {
			if err := writeMemoryKnob(path, "memory.min", cfg.MemMin, false); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := writeMemoryKnob(path, "memory.low", cfg.MemLow, false); err != nil && firstErr == nil {
				firstErr = err
			}
			if err := writeMemoryKnob(path, "memory.high", cfg.MemHigh, true); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func writeMemoryKnob(cgroupPath, file string, knob model.MemoryKnob, isLimit bool) error {
	var value string
	if !knob.Set {
		if isLimit {
			value = "max"
		} else {
			value = "0"
		}
	} else {
		value = fmt.Sprintf("%d", knob.Bytes)
	}
	return writeFile(cgroupPath, file, value)
}

func writeFile(cgroupPath, file, value string) error {
	path := cgroupPath + "/" + file
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return rerr.Wrap(rerr.KindTransientIO, fmt.Sprintf("opening %s", path), err)
	}
	defer f.Close()
	if _, err := f.WriteString(value); err != nil {
		return rerr.Wrap(rerr.KindTransientIO, fmt.Sprintf("writing %s to %s", value, path), err)
	}
	return nil
}

// DetectVersion reports whether the cgroup hierarchy at root is v2
// (unified, indicated by the presence of cgroup.controllers) or v1.
func DetectVersion(root string) int {
	if _, err := os.Stat(root + "/cgroup.controllers"); err == nil {
		return 2
	}
	return 1
}
