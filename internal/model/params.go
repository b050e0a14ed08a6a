package model

// DflStdev is the default truncated-normal stdev ratio used throughout
// the file/anon addressing and size distributions.
const DflStdev = 0.333333

// DflAnonRatio is the default ratio of anon-to-file working set size.
const DflAnonRatio = 400.0 * Pct

// PidParams holds one PID controller's gains.
type PidParams struct {
	KP float64 `json:"kp"`
	KI float64 `json:"ki"`
	KD float64 `json:"kd"`
}

// DefaultPidParams matches both the latency and RPS controllers'
// upstream defaults.
func DefaultPidParams() PidParams {
	return PidParams{KP: 0.25, KI: 0.01, KD: 0.01}
}

const paramsDoc = "" +
	"//\n" +
	"// rd-hashd runtime parameters (hot-reloadable)\n" +
	"//\n" +
	"//  control_period: Control loop period in seconds\n" +
	"//  max_concurrency: Upper bound on worker count\n" +
	"//  p99_lat_target: Target 99th-percentile latency in seconds\n" +
	"//  rps_target, rps_max: Requested and bench-calibrated max RPS\n" +
	"//  file_*, anon_*: File/anon footprint, sizing and addressing knobs\n" +
	"//  sleep_mean, sleep_stdev_ratio: Per-request artificial delay\n" +
	"//  cpu_ratio: Fraction of file_size hashed per request\n" +
	"//  chunk_pages: Pages touched per anon-memory access\n" +
	"//  log_padding: Bytes appended to each request's log line\n" +
	"//  fake_cpu_load: Substitute a calibrated sleep for the real hash\n" +
	"//  lat_pid, rps_pid: Dual PID controller gains\n" +
	"//\n"

// Params are rd-hashd's full set of dispatch and hashing knobs,
// reloadable while the dispatcher is running.
type Params struct {
	ControlPeriod float64 `json:"control_period"`
	MaxConcurrency uint64 `json:"max_concurrency"`
	P99LatTarget  float64 `json:"p99_lat_target"`
	RPSTarget     uint64  `json:"rps_target"`
	RPSMax        uint64  `json:"rps_max"`

	FileTotalFrac        float64 `json:"file_total_frac"`
	FileSizeMean         uint64  `json:"file_size_mean"`
	FileSizeStdevRatio   float64 `json:"file_size_stdev_ratio"`
	FileAddrStdevRatio   float64 `json:"file_addr_stdev_ratio"`
	FileAddrRPSBaseFrac  float64 `json:"file_addr_rps_base_frac"`

	AnonTotalRatio      float64 `json:"anon_total_ratio"`
	AnonSizeRatio       float64 `json:"anon_size_ratio"`
	AnonSizeStdevRatio  float64 `json:"anon_size_stdev_ratio"`
	AnonAddrStdevRatio  float64 `json:"anon_addr_stdev_ratio"`
	AnonAddrRPSBaseFrac float64 `json:"anon_addr_rps_base_frac"`

	SleepMean       float64 `json:"sleep_mean"`
	SleepStdevRatio float64 `json:"sleep_stdev_ratio"`

	CPURatio    float64 `json:"cpu_ratio"`
	ChunkPages  uint64  `json:"chunk_pages"`
	LogPadding  uint64  `json:"log_padding"`
	FakeCPULoad bool    `json:"fake_cpu_load"`

	LatPid PidParams `json:"lat_pid"`
	RPSPid PidParams `json:"rps_pid"`
}

// Preamble implements jsonfile.Documented.
func (Params) Preamble() string { return paramsDoc }

// DefaultParams reproduces rd-hashd-intf's Params::default() exactly.
func DefaultParams() Params {
	return Params{
		ControlPeriod:  1.0,
		MaxConcurrency: 65536,
		P99LatTarget:   100.0 * Msec,
		RPSTarget:      65536,
		RPSMax:         0,

		FileTotalFrac:       100.0 * Pct,
		FileSizeMean:        4 << 20,
		FileSizeStdevRatio:  DflStdev,
		FileAddrStdevRatio:  DflStdev,
		FileAddrRPSBaseFrac: 50.0 * Pct,

		AnonTotalRatio:      DflAnonRatio,
		AnonSizeRatio:       DflAnonRatio,
		AnonSizeStdevRatio:  DflStdev,
		AnonAddrStdevRatio:  DflStdev,
		AnonAddrRPSBaseFrac: 10.0 * Pct,

		SleepMean:       30.0 * Msec,
		SleepStdevRatio: DflStdev,

		CPURatio:    100.0 * Pct,
		ChunkPages:  1,
		LogPadding:  0,
		FakeCPULoad: false,

		LatPid: DefaultPidParams(),
		RPSPid: DefaultPidParams(),
	}
}

// FootprintFrac implements the memory footprint scaling rule shared by
// file and anon addressing:
//
//	frac(rps) = baseFrac + (1-baseFrac) * clamp(rps/rpsMax, 0, 1)
//
// with frac forced to 1 when rpsMax is 0 (scaling disabled).
func FootprintFrac(baseFrac float64, rps, rpsMax float64) float64 {
	if rpsMax == 0 {
		return 1
	}
	ratio := rps / rpsMax
	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}
	return baseFrac + (1-baseFrac)*ratio
}
