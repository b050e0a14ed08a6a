package model

import "time"

// Latencies holds the fixed set of percentiles hashd tracks per
// control period.
type Latencies struct {
	P01 float64 `json:"p01"`
	P10 float64 `json:"p10"`
	P16 float64 `json:"p16"`
	P50 float64 `json:"p50"`
	P84 float64 `json:"p84"`
	P90 float64 `json:"p90"`
	P99 float64 `json:"p99"`
}

// Add accumulates rhs into l, field by field.
func (l *Latencies) Add(rhs Latencies) {
	l.P01 += rhs.P01
	l.P10 += rhs.P10
	l.P16 += rhs.P16
	l.P50 += rhs.P50
	l.P84 += rhs.P84
	l.P90 += rhs.P90
	l.P99 += rhs.P99
}

// Div scales every field by 1/div.
func (l *Latencies) Div(div float64) {
	l.P01 /= div
	l.P10 /= div
	l.P16 /= div
	l.P50 /= div
	l.P84 /= div
	l.P90 /= div
	l.P99 /= div
}

// Stat is hashd's per-control-period summary, reported both at the
// control period and, averaged across periods, at the 1s report tick.
type Stat struct {
	RPS           float64   `json:"rps"`
	Concurrency   float64   `json:"concurrency"`
	FileAddrFrac  float64   `json:"file_addr_frac"`
	AnonAddrFrac  float64   `json:"anon_addr_frac"`
	NrDone        uint64    `json:"nr_done"`
	NrWorkers     int       `json:"nr_workers"`
	NrIdleWorkers int       `json:"nr_idle_workers"`
	Overload      bool      `json:"overload"`
	NrOverloaded  uint64    `json:"nr_overloaded"`
	Lat           Latencies `json:"lat"`
}

// Add accumulates rhs into s, field by field.
func (s *Stat) Add(rhs Stat) {
	s.RPS += rhs.RPS
	s.Concurrency += rhs.Concurrency
	s.FileAddrFrac += rhs.FileAddrFrac
	s.AnonAddrFrac += rhs.AnonAddrFrac
	s.NrDone += rhs.NrDone
	s.NrWorkers += rhs.NrWorkers
	s.NrIdleWorkers += rhs.NrIdleWorkers
	s.NrOverloaded += rhs.NrOverloaded
	s.Overload = s.Overload || rhs.Overload
	s.Lat.Add(rhs.Lat)
}

// Avg divides the rate, fraction, worker-count and latency fields by
// div, rounding the integer worker counts; nr_done and nr_overloaded
// stay summed.
func (s *Stat) Avg(div float64) {
	s.RPS /= div
	s.Concurrency /= div
	s.FileAddrFrac /= div
	s.AnonAddrFrac /= div
	s.NrWorkers = int(float64(s.NrWorkers)/div + 0.5)
	s.NrIdleWorkers = int(float64(s.NrIdleWorkers)/div + 0.5)
	s.Lat.Div(div)
}

const hashdReportDoc = "" +
	"//\n" +
	"// rd-hashd runtime report\n" +
	"//\n" +
	"//  timestamp: When this report was produced\n" +
	"//  rotational, rotational_testfiles, rotational_swap: Storage type flags\n" +
	"//  testfiles_progress: 1.0 once testfile preparation is complete\n" +
	"//  params_modified: mtime of the params file at last reload\n" +
	"//  stat: Stat (rps, concurrency, ..., lat.p*)\n" +
	"//\n"

// HashdReport is the hashd-A/-B.report.json document. Stat's fields are
// reported alongside the hashd-specific ones (the upstream document
// flattens them into one object; here they nest under "stat" for a
// plain, unambiguous Go encoding of the same data).
type HashdReport struct {
	Timestamp           time.Time `json:"timestamp"`
	Rotational          bool      `json:"rotational"`
	RotationalTestfiles bool      `json:"rotational_testfiles"`
	RotationalSwap      bool      `json:"rotational_swap"`
	TestfilesProgress   float64   `json:"testfiles_progress"`
	ParamsModified      time.Time `json:"params_modified"`
	Stat                Stat      `json:"stat"`
}

// Preamble implements jsonfile.Documented.
func (HashdReport) Preamble() string { return hashdReportDoc }

// UsageReport is one cgroup's resource usage snapshot as published in
// the agent report's usages map.
type UsageReport struct {
	CPUUsagePct  float64 `json:"cpu_usage_pct"`
	MemBytes     uint64  `json:"mem_bytes"`
	MemPressure  float64 `json:"mem_pressure"`
	IOPressure   float64 `json:"io_pressure"`
	IOUsageBytes uint64  `json:"io_usage_bytes"`
}

// IOLatPercentiles are the nested per-IO-class percentile tables the
// agent measures for the scratch device (rd-util's iolat study).
type IOLatPercentiles struct {
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P99  float64 `json:"p99"`
	P999 float64 `json:"p999"`
	Max  float64 `json:"max"`
}

// BenchProgress reports an in-flight hashd bench's phase and fraction
// complete, or the zero value when no bench is running.
type BenchProgress struct {
	Phase    string  `json:"phase"`
	Progress float64 `json:"progress"`
}

const agentReportDoc = "" +
	"//\n" +
	"// resctld agent runtime report (written at 1Hz)\n" +
	"//\n" +
	"//  seq: Monotonic report tick, strictly increasing\n" +
	"//  bench_hashd: Current hashd bench phase/progress, if running\n" +
	"//  hashd[2]: Per-instance Stat\n" +
	"//  usages: cgroup path -> UsageReport\n" +
	"//  iolat, iolat_cum: Nested read/write percentile tables\n" +
	"//\n"

// Report is the agent's report.json document.
type Report struct {
	Timestamp  time.Time                   `json:"timestamp"`
	Seq        uint64                      `json:"seq"`
	BenchHashd BenchProgress               `json:"bench_hashd"`
	Hashd      [2]Stat                     `json:"hashd"`
	Usages     map[string]UsageReport      `json:"usages"`
	IOLat      map[string]IOLatPercentiles `json:"iolat"`
	IOLatCum   map[string]IOLatPercentiles `json:"iolat_cum"`
}

// Preamble implements jsonfile.Documented.
func (Report) Preamble() string { return agentReportDoc }
