// Package model defines resctld's on-disk data model: the cgroup slice
// hierarchy, commands, bench knobs, OOMD knobs, runtime reports and job
// specs exchanged over the file-based control plane described in the
// external interfaces.
//
// Grounded on rd-agent-intf's slices.rs/cmd.rs/bench.rs/oomd.rs/
// cmd_ack.rs/sysreqs.rs/side_defs.rs/index.rs and rd-hashd-intf's
// params.rs/report.rs.
package model

import "fmt"

// Slice enumerates the fixed cgroup hierarchy every resctld deployment
// manages. Order matches the original enum so numeric comparisons (if
// ever serialized) stay stable.
type Slice int

const (
	SliceInit Slice = iota
	SliceHost
	SliceUser
	SliceSys
	SliceWork
	SliceSide
)

var sliceNames = [...]string{
	SliceInit: "init.scope",
	SliceHost: "hostcritical.slice",
	SliceUser: "user.slice",
	SliceSys:  "system.slice",
	SliceWork: "workload.slice",
	SliceSide: "sideload.slice",
}

// Name returns the slice's cgroup unit name.
func (s Slice) Name() string {
	if int(s) < 0 || int(s) >= len(sliceNames) {
		return ""
	}
	return sliceNames[s]
}

// Cgroup returns the slice's absolute cgroup v2 path under root.
func (s Slice) Cgroup(cgroupRoot string) string {
	return cgroupRoot + "/" + s.Name()
}

// AllSlices lists every slice in the fixed order used for iteration
// when applying or reporting on the whole hierarchy.
var AllSlices = []Slice{SliceInit, SliceHost, SliceUser, SliceSys, SliceWork, SliceSide}

// MemoryKnob is either unset or an absolute byte count, held as a Set
// flag beside the byte count; the zero value is unset.
type MemoryKnob struct {
	Set   bool   `json:"-"`
	Bytes uint64 `json:"-"`
}

// NoMemoryKnob is the unset sentinel.
var NoMemoryKnob = MemoryKnob{}

// BytesKnob constructs a set MemoryKnob.
func BytesKnob(b uint64) MemoryKnob { return MemoryKnob{Set: true, Bytes: b} }

// NrBytes returns the value to write to a limit knob (memory.max-style,
// where unset means "unlimited") or a protection knob (memory.min/low,
// where unset means 0).
func (m MemoryKnob) NrBytes(isLimit bool) uint64 {
	if m.Set {
		return m.Bytes
	}
	if isLimit {
		return ^uint64(0)
	}
	return 0
}

// MarshalJSON renders an unset knob as null and a set one as its raw
// byte count, matching the Rust enum's serde representation.
func (m MemoryKnob) MarshalJSON() ([]byte, error) {
	if !m.Set {
		return []byte("null"), nil
	}
	return []byte(fmt.Sprintf("%d", m.Bytes)), nil
}

// UnmarshalJSON accepts null or a bare integer.
func (m *MemoryKnob) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = MemoryKnob{}
		return nil
	}
	var v uint64
	if _, err := fmt.Sscanf(string(b), "%d", &v); err != nil {
		return err
	}
	*m = MemoryKnob{Set: true, Bytes: v}
	return nil
}

// SliceConfig holds the tunable cgroup weights/limits for one slice.
type SliceConfig struct {
	CPUWeight uint64     `json:"cpu_weight"`
	IOWeight  uint64     `json:"io_weight"`
	MemMin    MemoryKnob `json:"mem_min"`
	MemLow    MemoryKnob `json:"mem_low"`
	MemHigh   MemoryKnob `json:"mem_high"`
}

// DefaultSliceConfig returns the baseline {cpu_weight:100, io_weight:100,
// all memory knobs unset} used before per-slice defaults are applied.
func DefaultSliceConfig() SliceConfig {
	return SliceConfig{CPUWeight: 100, IOWeight: 100}
}

// fbProdMemMargin computes the Workload slice's reserved margin: a
// quarter of total memory, or (for the production profile) that same
// quarter plus 2GiB, capped at half of total memory.
func fbProdMemMargin(total uint64, prodProfile bool) uint64 {
	margin := total / 4
	if prodProfile {
		alt := margin + 2<<30
		if alt < total/2 {
			return alt
		}
		return total / 2
	}
	return margin
}

// DefaultSliceConfigFor returns the per-slice default configuration.
// totalMemory and prodProfile only affect HostCritical and Workload.
func DefaultSliceConfigFor(s Slice, totalMemory uint64, prodProfile bool) SliceConfig {
	c := DefaultSliceConfig()
	switch s {
	case SliceInit:
		c.CPUWeight = 10
		c.MemMin = BytesKnob(16 << 20)
	case SliceHost:
		c.CPUWeight = 10
		hostMin := uint64(768 << 20)
		if prodProfile {
			hostMin += 512 << 20
		}
		c.MemMin = BytesKnob(hostMin)
	case SliceUser:
		c.MemLow = BytesKnob(512 << 20)
	case SliceSys:
		c.CPUWeight = 10
		c.IOWeight = 50
	case SliceWork:
		c.IOWeight = 500
		margin := fbProdMemMargin(totalMemory, prodProfile)
		if margin < totalMemory {
			c.MemLow = BytesKnob(totalMemory - margin)
		} else {
			c.MemLow = BytesKnob(0)
		}
	case SliceSide:
		c.CPUWeight = 1
		c.IOWeight = 1
	}
	return c
}

// DisableSeqKnobs holds the per-controller DisableSeq described in the
// data model: a controller is disabled iff its sequence number is >=
// the current report's seq. Sequences never decrease.
type DisableSeqKnobs struct {
	CPU uint64 `json:"cpu"`
	Mem uint64 `json:"mem"`
	IO  uint64 `json:"io"`
}

// ControlsDisabled reports whether any controller is disabled at the
// given report sequence.
func (d DisableSeqKnobs) ControlsDisabled(seq uint64) bool {
	return d.CPU >= seq || d.Mem >= seq || d.IO >= seq
}

const sliceDoc = "" +
	"//\n" +
	"// resctld slice resource control configuration\n" +
	"//\n" +
	"//  disable_seqs: Disable cpu/mem/io control if its seq >= report.seq\n" +
	"//  slices: Per cgroup-slice weight and memory protection knobs\n" +
	"//\n"

// SliceKnobs is the full {disable_seqs, slices} document written to
// slices.json and read on every reconciliation tick.
type SliceKnobs struct {
	DisableSeqs DisableSeqKnobs        `json:"disable_seqs"`
	Slices      map[string]SliceConfig `json:"slices"`
}

// Preamble implements jsonfile.Documented.
func (SliceKnobs) Preamble() string { return sliceDoc }

// Get looks up a slice's config by its enum value, resolving through
// the name-keyed map (the static table that sidesteps the cyclic
// "SliceKnobs indexed by Slice whose name is the cgroup path"
// reference noted as a design pitfall).
func (k SliceKnobs) Get(s Slice) (SliceConfig, bool) {
	c, ok := k.Slices[s.Name()]
	return c, ok
}

// Set installs a slice's config in the map.
func (k *SliceKnobs) Set(s Slice, c SliceConfig) {
	if k.Slices == nil {
		k.Slices = make(map[string]SliceConfig)
	}
	k.Slices[s.Name()] = c
}

// DefaultSliceKnobs builds a SliceKnobs with every slice's defaults
// applied for the given total memory and production-profile flag.
func DefaultSliceKnobs(totalMemory uint64, prodProfile bool) SliceKnobs {
	k := SliceKnobs{Slices: make(map[string]SliceConfig, len(AllSlices))}
	for _, s := range AllSlices {
		k.Set(s, DefaultSliceConfigFor(s, totalMemory, prodProfile))
	}
	return k
}
