package model

import (
	"fmt"
	"time"
)

const benchDoc = "" +
	"//\n" +
	"// resctld benchmark results\n" +
	"//\n" +
	"//  hashd_seq, iocost_seq: Bump after a successful bench commit\n" +
	"//  hashd: Calibrated hashd knobs (hash_size, rps_max, mem_size, ...)\n" +
	"//  iocost: Calibrated IO-cost model and QoS parameters\n" +
	"//\n"

// HashdKnobs are the parameters the hashd bench phases solve for.
type HashdKnobs struct {
	HashSize    uint64  `json:"hash_size"`
	RPSMax      uint64  `json:"rps_max"`
	MemSize     uint64  `json:"mem_size"`
	MemFrac     float64 `json:"mem_frac"`
	ChunkPages  uint64  `json:"chunk_pages"`
	FakeCPULoad bool    `json:"fake_cpu_load"`
}

// ActualMemSize is the footprint actually exercised: mem_size scaled
// by mem_frac, rounded up to a whole byte.
func (h HashdKnobs) ActualMemSize() uint64 {
	return uint64((float64(h.MemSize)*h.MemFrac)+0.999999)
}

// IOCostModelKnobs are the linear model coefficients iocost uses to
// price an IO: cost = rbps*bytes + rseqiops*seq_ios + rrandiops*rand_ios
// (and the w* analogues for writes).
type IOCostModelKnobs struct {
	RBPS       uint64 `json:"rbps"`
	RSeqIOPS   uint64 `json:"rseqiops"`
	RRandIOPS  uint64 `json:"rrandiops"`
	WBPS       uint64 `json:"wbps"`
	WSeqIOPS   uint64 `json:"wseqiops"`
	WRandIOPS  uint64 `json:"wrandiops"`
}

// Scale multiplies every coefficient by f, rounding each to the
// nearest integer — used when deriving a merged/median model.
func (m IOCostModelKnobs) Scale(f float64) IOCostModelKnobs {
	round := func(v uint64) uint64 { return uint64(float64(v)*f + 0.5) }
	return IOCostModelKnobs{
		RBPS:      round(m.RBPS),
		RSeqIOPS:  round(m.RSeqIOPS),
		RRandIOPS: round(m.RRandIOPS),
		WBPS:      round(m.WBPS),
		WSeqIOPS:  round(m.WSeqIOPS),
		WRandIOPS: round(m.WRandIOPS),
	}
}

// IOCostQoSKnobs are the latency-percentile operating points the
// kernel's iocost QoS controller targets.
type IOCostQoSKnobs struct {
	RPct float64 `json:"rpct"`
	RLat uint64  `json:"rlat"`
	WPct float64 `json:"wpct"`
	WLat uint64  `json:"wlat"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// round2 matches the kernel's two-decimal-place parsing: format then
// reparse, so the in-memory value is bit-identical to what a
// subsequent read of the sysfs file would produce.
func round2(f float64) float64 {
	var v float64
	fmt.Sscanf(fmt.Sprintf("%.2f", f), "%f", &v)
	return v
}

// Sanitize rounds every percentage/ratio field through the kernel's
// two-decimal-place text representation, satisfying the round-trip
// invariant: re-reading a written io.cost.qos line yields identical
// floats.
func (q IOCostQoSKnobs) Sanitize() IOCostQoSKnobs {
	q.RPct = round2(q.RPct)
	q.WPct = round2(q.WPct)
	q.Min = round2(q.Min)
	q.Max = round2(q.Max)
	return q
}

// IOCostKnobs bundles the calibrated model/QoS pair for one device.
type IOCostKnobs struct {
	DevNr string           `json:"devnr"`
	Model IOCostModelKnobs `json:"model"`
	QoS   IOCostQoSKnobs   `json:"qos"`
}

// BenchKnobs is the full bench.json document.
type BenchKnobs struct {
	Timestamp  time.Time   `json:"timestamp"`
	HashdSeq   uint64      `json:"hashd_seq"`
	IOCostSeq  uint64      `json:"iocost_seq"`
	Hashd      HashdKnobs  `json:"hashd"`
	IOCost     IOCostKnobs `json:"iocost"`
}

// Preamble implements jsonfile.Documented.
func (BenchKnobs) Preamble() string { return benchDoc }
