// Package sideloader implements admission control for best-effort
// sideload jobs: a spare-CPU estimate over a rolling window, a
// progressive CPU-max throttle when spare capacity runs low, and the
// overload/critical latch pair that protect the primary workload.
//
// Grounded on spec §4.5's thresholds and on
// original_source/rd-agent/src/sideloader.rs's SIDELOADER_CONFIG
// defaults (cpu_headroom_period=5s, cpu_min_avail=10%, cpu_floor=5%,
// overload_cpu_duration=10s, overload_hold=10s/hold_max=30s/
// decay_rate=0.5 per second, critical thresholds of 75% pressure and
// 10% free swap) — reimplemented natively rather than as config for an
// external daemon, since this module owns the whole control plane.
package sideloader

import (
	"time"

	"github.com/linuxresctl/resctld/internal/rlog"
)

// Config holds the sideloader's tunables, defaulted to the upstream
// SIDELOADER_CONFIG values.
type Config struct {
	CPUHeadroomPeriod    time.Duration
	CPUMinAvailPct       float64
	CPUFloorPct          float64
	OverloadCPUDuration  time.Duration
	OverloadMemPressure  float64
	OverloadHold         time.Duration
	OverloadHoldMax      time.Duration
	OverloadHoldDecay    float64 // per second
	CriticalSwapFreePct  float64
	CriticalMemPressure  float64
	CriticalIOPressure   float64
}

// DefaultConfig reproduces SIDELOADER_CONFIG's numeric defaults.
func DefaultConfig() Config {
	return Config{
		CPUHeadroomPeriod:   5 * time.Second,
		CPUMinAvailPct:      10,
		CPUFloorPct:         5,
		OverloadCPUDuration: 10 * time.Second,
		OverloadMemPressure: 50,
		OverloadHold:        10 * time.Second,
		OverloadHoldMax:     30 * time.Second,
		OverloadHoldDecay:   0.5,
		CriticalSwapFreePct: 10,
		CriticalMemPressure: 75,
		CriticalIOPressure:  75,
	}
}

// Sample is one observation of the main workload slice's state, fed
// into the controller once per control tick.
type Sample struct {
	Now            time.Time
	BusyRatioMain  float64 // [0,1] fraction of the headroom period main-slice was busy
	MemPressure    float64 // percent
	IOPressure     float64 // percent
	SwapFreePct    float64 // percent
}

// Admission is the computed throttle state for the current tick.
type Admission struct {
	Overload    bool
	OverloadWhy string
	Critical    bool
	CriticalWhy string
	// CPUMaxPct is the CPU ceiling to apply to sideload.slice's
	// cpu.max, 100 meaning unrestricted.
	CPUMaxPct float64
}

// Controller tracks the overload/critical latches and the spare-CPU
// window across ticks.
type Controller struct {
	cfg Config
	log *rlog.Logger

	overloadSince    time.Time
	overloadHold     time.Duration
	overloadReleased time.Time // when the hold last fully decayed to zero
	lastTriggered    bool

	cpuBusySince time.Time
}

// New creates a Controller with cfg (use DefaultConfig for the
// upstream defaults).
func New(cfg Config, log *rlog.Logger) *Controller {
	return &Controller{cfg: cfg, log: log}
}

// Evaluate runs one control tick and returns the admission decision.
func (c *Controller) Evaluate(s Sample, cpuHeadroom float64) Admission {
	spare := 1 - s.BusyRatioMain
	adm := Admission{CPUMaxPct: 100}

	critical := s.MemPressure > c.cfg.CriticalMemPressure ||
		s.IOPressure > c.cfg.CriticalIOPressure ||
		s.SwapFreePct < c.cfg.CriticalSwapFreePct
	if critical {
		adm.Critical = true
		switch {
		case s.MemPressure > c.cfg.CriticalMemPressure:
			adm.CriticalWhy = "mem_pressure"
		case s.IOPressure > c.cfg.CriticalIOPressure:
			adm.CriticalWhy = "io_pressure"
		default:
			adm.CriticalWhy = "swap_free"
		}
		adm.CPUMaxPct = 0 // freeze: no sideload CPU at all
		return adm
	}

	busyOverThreshold := s.BusyRatioMain > (1 - cpuHeadroom)
	if busyOverThreshold {
		if c.cpuBusySince.IsZero() {
			c.cpuBusySince = s.Now
		}
	} else {
		c.cpuBusySince = time.Time{}
	}
	sustainedBusy := !c.cpuBusySince.IsZero() && s.Now.Sub(c.cpuBusySince) >= c.cfg.OverloadCPUDuration

	triggerOverload := s.MemPressure > c.cfg.OverloadMemPressure || sustainedBusy

	if triggerOverload {
		if !c.lastTriggered {
			// Fresh entry: double the prior hold (if any residual hold
			// decayed away, start at the base hold again).
			if c.overloadHold == 0 {
				c.overloadHold = c.cfg.OverloadHold
			} else {
				c.overloadHold *= 2
			}
			if c.overloadHold > c.cfg.OverloadHoldMax {
				c.overloadHold = c.cfg.OverloadHoldMax
			}
		}
		c.overloadSince = s.Now
		adm.Overload = true
		if s.MemPressure > c.cfg.OverloadMemPressure {
			adm.OverloadWhy = "mem_pressure"
		} else {
			adm.OverloadWhy = "cpu_busy"
		}
	} else if !c.overloadSince.IsZero() {
		elapsed := s.Now.Sub(c.overloadSince).Seconds()
		remaining := c.overloadHold.Seconds() - elapsed*c.cfg.OverloadHoldDecay
		if remaining <= 0 {
			c.overloadSince = time.Time{}
			c.overloadHold = 0
			c.overloadReleased = s.Now
		} else {
			adm.Overload = true
			adm.OverloadWhy = "hold"
		}
	}
	c.lastTriggered = triggerOverload

	switch {
	case adm.Overload:
		adm.CPUMaxPct = c.cfg.CPUFloorPct
	case spare >= cpuHeadroom:
		adm.CPUMaxPct = 100
	default:
		// Progressively throttle toward cpu_floor as spare shrinks
		// below cpu_headroom.
		ratio := spare / cpuHeadroom
		if ratio < 0 {
			ratio = 0
		}
		adm.CPUMaxPct = c.cfg.CPUFloorPct + (100-c.cfg.CPUFloorPct)*ratio
	}

	return adm
}

// FrozenSideload tracks how long a sideload has stayed frozen, so the
// Runner can terminate one that overstays its frozen_exp budget.
type FrozenSideload struct {
	Name       string
	FrozenAt   time.Time
	FrozenExp  float64 // seconds
}

// Expired reports whether the sideload has been frozen longer than its
// FrozenExp budget.
func (f FrozenSideload) Expired(now time.Time) bool {
	return now.Sub(f.FrozenAt).Seconds() > f.FrozenExp
}
