package model

const oomdDoc = "" +
	"//\n" +
	"// resctld OOMD configuration\n" +
	"//\n" +
	"//  disable_seq: Disable OOMD entirely if disable_seq >= report.seq\n" +
	"//  workload, system: Per-slice mem_pressure and senpai policies\n" +
	"//  swap_enable, swap_threshold: Global swap-protection kill switch\n" +
	"//\n"

// OomdSliceMemPressureKnobs configures the kill-on-sustained-pressure
// policy for one slice.
type OomdSliceMemPressureKnobs struct {
	DisableSeq uint64  `json:"disable_seq"`
	Threshold  float64 `json:"threshold"`
	Duration   float64 `json:"duration"`
}

// OomdSliceSenpaiKnobs configures the adaptive memory.high prober for
// one slice.
type OomdSliceSenpaiKnobs struct {
	Enable        bool    `json:"enable"`
	MinBytesFrac  float64 `json:"min_bytes_frac"`
	MaxBytesFrac  float64 `json:"max_bytes_frac"`
	Interval      float64 `json:"interval"`
	StallThresh   float64 `json:"stall_threshold"`
	MaxProbe      float64 `json:"max_probe"`
	MaxBackoff    float64 `json:"max_backoff"`
	CoeffProbe    float64 `json:"coeff_probe"`
	CoeffBackoff  float64 `json:"coeff_backoff"`
}

// DefaultSenpai returns senpai's baseline knobs; callers then set
// MinBytesFrac per slice.
func DefaultSenpai() OomdSliceSenpaiKnobs {
	return OomdSliceSenpaiKnobs{
		Enable:       false,
		MinBytesFrac: 0.0,
		MaxBytesFrac: 1.0,
		Interval:     2,
		StallThresh:  0.075,
		MaxProbe:     0.01,
		MaxBackoff:   1.0,
		CoeffProbe:   10.0,
		CoeffBackoff: 20.0,
	}
}

// OomdSliceKnobs bundles one slice's mem_pressure and senpai policies.
type OomdSliceKnobs struct {
	MemPressure OomdSliceMemPressureKnobs `json:"mem_pressure"`
	Senpai      OomdSliceSenpaiKnobs      `json:"senpai"`
}

// OomdKnobs is the full oomd.json document.
type OomdKnobs struct {
	DisableSeq  uint64         `json:"disable_seq"`
	Workload    OomdSliceKnobs `json:"workload"`
	System      OomdSliceKnobs `json:"system"`
	SwapEnable  bool           `json:"swap_enable"`
	SwapThresh  float64        `json:"swap_threshold"`
}

// Preamble implements jsonfile.Documented.
func (OomdKnobs) Preamble() string { return oomdDoc }

// DefaultOomdKnobs matches the upstream defaults: both slices kill at
// 50% pressure sustained 30s, senpai off with a 25% floor configured
// but unused until enabled, swap protection on at a 10% floor.
func DefaultOomdKnobs() OomdKnobs {
	mkSlice := func() OomdSliceKnobs {
		senpai := DefaultSenpai()
		senpai.MinBytesFrac = 0.25
		return OomdSliceKnobs{
			MemPressure: OomdSliceMemPressureKnobs{DisableSeq: 0, Threshold: 50, Duration: 30},
			Senpai:      senpai,
		}
	}
	return OomdKnobs{
		DisableSeq: 0,
		Workload:   mkSlice(),
		System:     mkSlice(),
		SwapEnable: true,
		SwapThresh: 10,
	}
}
