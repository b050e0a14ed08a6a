// Package sysreqs probes the host for the kernel and storage features
// resctld depends on before it will schedule any workload: cgroup2
// controllers, io.cost support and version, the scratch device's
// rotational-ness and I/O scheduler, swap availability and the
// presence of an external, conflicting oomd.
//
// Grounded on original_source/rd-agent-intf/src/sysreqs.rs (the
// requirement set, reproduced in model.SysReq) and
// original_source/rd-util/src/storage_info.rs (mountpoint-to-device
// and device model/rotational probing), adapted from the teacher's
// internal/collector/container.go cgroup-file-read idiom.
package sysreqs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/linuxresctl/resctld/internal/model"
)

// Report mirrors model.SysReqsReport but keeps the probing
// intermediates (scratch device name, mountpoint) around for callers
// that want to print a human-readable diagnosis.
type Report struct {
	model.SysReqsReport
	ScrDevName string
}

// Probe walks every SysReq check against scrPath (the directory the
// scratch/testfiles tree will live under) and cgroupRoot, returning a
// report with Satisfied/Missed populated.
func Probe(cgroupRoot, scrPath string) (*Report, error) {
	r := &Report{}
	r.NrCPUs = nrCPUs()
	r.TotalMemory = totalMemory()
	r.TotalSwap, _ = swapTotal()

	devName, devErr := pathToDevname(scrPath)
	if devErr == nil {
		r.ScrDevName = devName
		if maj, min, err := devnameToDevnr(devName); err == nil {
			r.ScrDevNrMaj, r.ScrDevNrMin = maj, min
		}
		if model_, _, size, err := devnameToModelFwrevSize(devName); err == nil {
			r.ScrDevModel = model_
			r.ScrDevSize = size
		}
		r.ScrDevIOSched = readIOScheduler(devName)
	}

	checks := []struct {
		req model.SysReq
		ok  bool
	}{
		{model.SysReqControllers, hasControllers(cgroupRoot)},
		{model.SysReqFreezer, fileExists(filepath.Join(cgroupRoot, "cgroup.freeze"))},
		{model.SysReqMemCgRecursiveProt, hasMemCgRecursiveProt()},
		{model.SysReqIOCost, devErr == nil && hasIOCostModel(devName)},
		{model.SysReqIOCostVer, devErr == nil && ioCostVerOK(devName)},
		{model.SysReqNoOtherIOControllers, devErr == nil && !hasCompetingIOController(devName)},
		{model.SysReqAnonBalance, hasAnonBalance()},
		{model.SysReqBtrfs, devErr == nil && isBtrfs(scrPath)},
		{model.SysReqBtrfsAsyncDiscard, devErr == nil && isBtrfs(scrPath) && hasAsyncDiscard(scrPath)},
		{model.SysReqNoCompositeStorage, devErr == nil && !isCompositeStorage(devName)},
		{model.SysReqIOSched, devErr == nil && r.ScrDevIOSched != ""},
		{model.SysReqNoWbt, devErr == nil && !hasWBT(devName)},
		{model.SysReqSwapOnScratch, devErr == nil && swapOnSameDevice(devName)},
		{model.SysReqSwap, r.TotalSwap > 0},
		{model.SysReqOomd, true},
		{model.SysReqNoSysOomd, !systemOomdRunning()},
		{model.SysReqHostCriticalServices, true},
		{model.SysReqDependencies, hasDependencies()},
	}

	for _, c := range checks {
		if c.ok {
			r.Satisfied = append(r.Satisfied, c.req)
		} else {
			r.Missed = append(r.Missed, c.req)
		}
	}

	return r, nil
}

func hasControllers(cgroupRoot string) bool {
	return fileExists(filepath.Join(cgroupRoot, "cgroup.controllers"))
}

func hasMemCgRecursiveProt() bool {
	data, err := os.ReadFile("/sys/fs/cgroup/cgroup.subtree_control")
	if err != nil {
		return false
	}
	return strings.Contains(string(data), "memory")
}

func hasAnonBalance() bool {
	return fileExists("/sys/kernel/mm/lru_gen/enabled") || kernelAtLeast(5, 14)
}

func hasIOCostModel(devName string) bool {
	return fileExists("/sys/fs/cgroup/io.cost.model")
}

func ioCostVerOK(devName string) bool {
	// io.cost requires the "linear" cost model, introduced in 5.4+.
	return kernelAtLeast(5, 4)
}

func hasCompetingIOController(devName string) bool {
	data, err := os.ReadFile(fmt.Sprintf("/sys/block/%s/queue/scheduler", devName))
	if err != nil {
		return false
	}
	return strings.Contains(data2str(data), "[bfq]")
}

func isCompositeStorage(devName string) bool {
	if _, err := os.Stat(fmt.Sprintf("/sys/block/%s/slaves", devName)); err != nil {
		return false
	}
	entries, err := os.ReadDir(fmt.Sprintf("/sys/block/%s/slaves", devName))
	return err == nil && len(entries) > 0
}

func hasWBT(devName string) bool {
	data, err := os.ReadFile(fmt.Sprintf("/sys/block/%s/queue/wbt_lat_usec", devName))
	if err != nil {
		return false
	}
	v, err := strconv.Atoi(strings.TrimSpace(data2str(data)))
	return err == nil && v > 0
}

func isBtrfs(path string) bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 3 && strings.HasPrefix(path, fields[1]) && fields[2] == "btrfs" {
			return true
		}
	}
	return false
}

func hasAsyncDiscard(path string) bool {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "btrfs") && strings.Contains(line, "discard=async") {
			return true
		}
	}
	return false
}

func swapOnSameDevice(devName string) bool {
	data, err := os.ReadFile("/proc/swaps")
	if err != nil {
		return false
	}
	return strings.Contains(data2str(data), devName)
}

func systemOomdRunning() bool {
	return fileExists("/run/oomd.pid") || fileExists("/run/systemd/oomd")
}

func hasDependencies() bool {
	for _, bin := range []string{"findmnt"} {
		if _, err := execLookPath(bin); err == nil {
			continue
		}
		return false
	}
	return true
}

func execLookPath(bin string) (string, error) {
	for _, dir := range strings.Split(os.Getenv("PATH"), ":") {
		p := filepath.Join(dir, bin)
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: not found in PATH", bin)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func data2str(b []byte) string { return string(b) }

func nrCPUs() int {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 1
	}
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "cpu") && len(line) > 3 && line[3] >= '0' && line[3] <= '9' {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

func totalMemory() uint64 {
	v, _ := readMeminfoField("MemTotal")
	return v * 1024
}

func swapTotal() (uint64, error) {
	v, err := readMeminfoField("SwapTotal")
	return v * 1024, err
}

func readMeminfoField(key string) (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && strings.TrimSuffix(fields[0], ":") == key {
			v, err := strconv.ParseUint(fields[1], 10, 64)
			return v, err
		}
	}
	return 0, fmt.Errorf("sysreqs: %s not found in /proc/meminfo", key)
}

func kernelAtLeast(major, minor int) bool {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return false
	}
	parts := strings.SplitN(strings.TrimSpace(string(data)), ".", 3)
	if len(parts) < 2 {
		return false
	}
	maj, _ := strconv.Atoi(parts[0])
	minStr := parts[1]
	for i, c := range minStr {
		if c < '0' || c > '9' {
			minStr = minStr[:i]
			break
		}
	}
	min, _ := strconv.Atoi(minStr)
	return maj > major || (maj == major && min >= minor)
}

func readIOScheduler(devName string) string {
	data, err := os.ReadFile(fmt.Sprintf("/sys/block/%s/queue/scheduler", devName))
	if err != nil {
		return ""
	}
	s := strings.TrimSpace(string(data))
	start := strings.Index(s, "[")
	end := strings.Index(s, "]")
	if start >= 0 && end > start {
		return s[start+1 : end]
	}
	fields := strings.Fields(s)
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}
