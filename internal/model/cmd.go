package model

const cmdDoc = "" +
	"//\n" +
	"// resctld command file\n" +
	"//\n" +
	"//  cmd_seq: Bump to force the agent to re-examine this file\n" +
	"//  bench_hashd_seq, bench_iocost_seq: Start a bench iff greater than\n" +
	"//    bench.{hashd,iocost}_seq; lowering it cancels a running bench\n" +
	"//  sideloader.cpu_headroom: Fraction of main-slice CPU reserved\n" +
	"//  hashd[2]: Primary and secondary hashd instance commands\n" +
	"//  sysloads, sideloads: name -> definition id maps\n" +
	"//\n"

// SideloaderCmd is the sideloader's only live-tunable knob.
type SideloaderCmd struct {
	CPUHeadroom float64 `json:"cpu_headroom"`
}

// DefaultSideloaderCmd matches the upstream default of a 20% reserve.
func DefaultSideloaderCmd() SideloaderCmd { return SideloaderCmd{CPUHeadroom: 0.2} }

// HashdCmd controls one hashd instance (A or B).
type HashdCmd struct {
	Active        bool    `json:"active"`
	LatTarget     float64 `json:"lat_target"`
	RPSTargetRatio float64 `json:"rps_target_ratio"`
	MemRatio      float64 `json:"mem_ratio"`
	Weight        float64 `json:"weight"`
}

// DefaultHashdCmd matches the upstream defaults: a 100ms p99 latency
// target, rps_target set at 10x rps_max (effectively "as fast as
// possible"), half the calibrated memory footprint, and unit weight.
func DefaultHashdCmd() HashdCmd {
	return HashdCmd{
		Active:         false,
		LatTarget:      100.0 * Msec,
		RPSTargetRatio: 10.0,
		MemRatio:       0.5,
		Weight:         1.0,
	}
}

// Cmd is the full command document: the Harness's/operator's intent,
// reconciled by the Runner on every tick.
type Cmd struct {
	CmdSeq         uint64            `json:"cmd_seq"`
	BenchHashdSeq  uint64            `json:"bench_hashd_seq"`
	BenchIOCostSeq uint64            `json:"bench_iocost_seq"`
	Sideloader     SideloaderCmd     `json:"sideloader"`
	Hashd          [2]HashdCmd       `json:"hashd"`
	Sysloads       map[string]string `json:"sysloads"`
	Sideloads      map[string]string `json:"sideloads"`
}

// Preamble implements jsonfile.Documented.
func (Cmd) Preamble() string { return cmdDoc }

// DefaultCmd returns the zero-intent command: no bench requested, both
// hashd instances inactive, the default sideloader headroom.
func DefaultCmd() Cmd {
	return Cmd{
		Sideloader: DefaultSideloaderCmd(),
		Hashd:      [2]HashdCmd{DefaultHashdCmd(), DefaultHashdCmd()},
		Sysloads:   map[string]string{},
		Sideloads:  map[string]string{},
	}
}

// BenchHashdRequested reports whether cmd asks for the hashd bench to
// (re)start, i.e. its target sequence exceeds the knobs' recorded one.
func BenchHashdRequested(cmd Cmd, knobs BenchKnobs) bool {
	return cmd.BenchHashdSeq > knobs.HashdSeq
}

// BenchIOCostRequested is the IO-cost analogue of BenchHashdRequested.
func BenchIOCostRequested(cmd Cmd, knobs BenchKnobs) bool {
	return cmd.BenchIOCostSeq > knobs.IOCostSeq
}

const cmdAckDoc = "" +
	"//\n" +
	"// resctld command ack file\n" +
	"//\n" +
	"// When a command is durably accepted, its cmd_seq is copied here.\n" +
	"// Used by writers to synchronize command issuing.\n" +
	"//\n"

// CmdAck records the last cmd_seq the Runner has durably accepted.
type CmdAck struct {
	CmdSeq uint64 `json:"cmd_seq"`
}

// Preamble implements jsonfile.Documented.
func (CmdAck) Preamble() string { return cmdAckDoc }
