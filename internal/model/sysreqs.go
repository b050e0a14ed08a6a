package model

// SysReq enumerates the system requirements resctld probes for before
// running any workload. Grounded on rd-agent-intf's sysreqs.rs.
type SysReq int

const (
	SysReqControllers SysReq = iota
	SysReqFreezer
	SysReqMemCgRecursiveProt
	SysReqIOCost
	SysReqIOCostVer
	SysReqNoOtherIOControllers
	SysReqAnonBalance
	SysReqBtrfs
	SysReqBtrfsAsyncDiscard
	SysReqNoCompositeStorage
	SysReqIOSched
	SysReqNoWbt
	SysReqSwapOnScratch
	SysReqSwap
	SysReqOomd
	SysReqNoSysOomd
	SysReqHostCriticalServices
	SysReqDependencies
)

var sysReqNames = map[SysReq]string{
	SysReqControllers:          "controllers",
	SysReqFreezer:              "freezer",
	SysReqMemCgRecursiveProt:   "mem_cg_recursive_prot",
	SysReqIOCost:               "io_cost",
	SysReqIOCostVer:            "io_cost_ver",
	SysReqNoOtherIOControllers: "no_other_io_controllers",
	SysReqAnonBalance:          "anon_balance",
	SysReqBtrfs:                "btrfs",
	SysReqBtrfsAsyncDiscard:    "btrfs_async_discard",
	SysReqNoCompositeStorage:   "no_composite_storage",
	SysReqIOSched:              "io_sched",
	SysReqNoWbt:                "no_wbt",
	SysReqSwapOnScratch:        "swap_on_scratch",
	SysReqSwap:                 "swap",
	SysReqOomd:                 "oomd",
	SysReqNoSysOomd:            "no_sys_oomd",
	SysReqHostCriticalServices: "host_critical_services",
	SysReqDependencies:         "dependencies",
}

// String renders the requirement's stable name, used both for JSON
// encoding and log messages.
func (r SysReq) String() string {
	if n, ok := sysReqNames[r]; ok {
		return n
	}
	return "unknown"
}

// MarshalJSON renders the requirement as its stable string name.
func (r SysReq) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

const sysReqDoc = "" +
	"//\n" +
	"// resctld system requirements report\n" +
	"//\n" +
	"// satisfied: List of satisfied system requirements\n" +
	"// missed: List of missed system requirements\n" +
	"// scr_dev_model: Scratch storage device model string\n" +
	"// scr_dev_size: Scratch storage device size\n" +
	"// total_swap: Swap size\n" +
	"//\n"

// SysReqsReport is the sysreqs.json document.
type SysReqsReport struct {
	Satisfied    []SysReq `json:"satisfied"`
	Missed       []SysReq `json:"missed"`
	NrCPUs       int      `json:"nr_cpus"`
	TotalMemory  uint64   `json:"total_memory"`
	TotalSwap    uint64   `json:"total_swap"`
	ScrDev       string   `json:"scr_dev"`
	ScrDevNrMaj  uint32   `json:"scr_devnr_maj"`
	ScrDevNrMin  uint32   `json:"scr_devnr_min"`
	ScrDevModel  string   `json:"scr_dev_model"`
	ScrDevSize   uint64   `json:"scr_dev_size"`
	ScrDevIOSched string  `json:"scr_dev_iosched"`
}

// Preamble implements jsonfile.Documented.
func (SysReqsReport) Preamble() string { return sysReqDoc }
