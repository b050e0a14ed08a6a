package model

const indexDoc = "" +
	"//\n" +
	"// resctld interface file path index\n" +
	"//\n" +
	"//  cmd: Launch and stop workloads and benchmarks\n" +
	"//  cmd_ack: Command sequence ack\n" +
	"//  sysreqs: Satisfied and missed system requirements\n" +
	"//  report: Summary report of the current state (per-second)\n" +
	"//  report_d: Per-second report directory\n" +
	"//  report_1min: Summary report of the current state (per-minute)\n" +
	"//  report_1min_d: Per-minute report directory\n" +
	"//  bench: Benchmark results\n" +
	"//  slices: Top-level slice resource control configurations\n" +
	"//  oomd: OOMD on/off and configurations\n" +
	"//  sideloader_status: Sideloader status\n" +
	"//  hashd[].args/params/report: Per-instance hashd interface files\n" +
	"//  sideload_defs: Side and sys workload definitions\n" +
	"//\n"

// HashdIndex names one hashd instance's (A or B) interface files.
type HashdIndex struct {
	Args   string `json:"args"`
	Params string `json:"params"`
	Report string `json:"report"`
}

// Index lets the Harness discover the Agent's actual on-disk file
// layout instead of hardcoding paths; the Agent writes it once at
// startup under --dir.
type Index struct {
	Cmd             string        `json:"cmd"`
	CmdAck          string        `json:"cmd_ack"`
	SysReqs         string        `json:"sysreqs"`
	Report          string        `json:"report"`
	ReportDir       string        `json:"report_d"`
	Report1Min      string        `json:"report_1min"`
	Report1MinDir   string        `json:"report_1min_d"`
	Bench           string        `json:"bench"`
	Slices          string        `json:"slices"`
	Oomd            string        `json:"oomd"`
	SideloaderStatus string       `json:"sideloader_status"`
	Hashd           [2]HashdIndex `json:"hashd"`
	SideloadDefs    string        `json:"sideload_defs"`
}

// Preamble implements jsonfile.Documented.
func (Index) Preamble() string { return indexDoc }
