package sysreqs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pathToMountDevice finds the block device backing path by walking up
// to its mountpoint and resolving /proc/mounts, mirroring
// storage_info.rs's path_to_mountpoint + path_to_devname pair without
// needing a mount-table library.
func pathToMountDevice(path string) (source, target string, err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		abs = filepath.Clean(abs)
	}

	f, err := os.Open("/proc/mounts")
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	bestSrc, bestDst := "", ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		dst := unescapeMount(fields[1])
		if strings.HasPrefix(abs, dst) && len(dst) > len(bestDst) {
			bestSrc, bestDst = fields[0], dst
		}
	}
	if bestDst == "" {
		return "", "", fmt.Errorf("sysreqs: no mountpoint found for %s", path)
	}
	return bestSrc, bestDst, nil
}

func unescapeMount(s string) string {
	// /proc/mounts octal-escapes spaces and a few other characters.
	return strings.ReplaceAll(s, `\040`, " ")
}

// pathToDevname resolves path to the kernel device name (e.g. "sda",
// "nvme0n1") backing its mountpoint, stripping off any partition
// suffix so scratch storage on a partitioned disk still maps to the
// whole-disk sysfs directory.
func pathToDevname(path string) (string, error) {
	source, _, err := pathToMountDevice(path)
	if err != nil {
		return "", err
	}
	name := strings.TrimPrefix(source, "/dev/")
	if name == source {
		// Not a simple block device path (tmpfs, overlay, etc.);
		// devnrToDevname stats the path but cannot name a device, so
		// it reports an error.
		return devnrToDevname(path)
	}
	return wholeDiskName(name), nil
}

// wholeDiskName strips a trailing partition number, handling both
// "sda1"-style and "nvme0n1p1"-style naming.
func wholeDiskName(name string) string {
	if idx := strings.Index(name, "p"); strings.HasPrefix(name, "nvme") && idx > 0 {
		if _, err := strconv.Atoi(name[idx+1:]); err == nil {
			return name[:idx]
		}
	}
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i > 0 && i < len(name) && !strings.HasPrefix(name, "nvme") {
		return name[:i]
	}
	return name
}

func devnrToDevname(path string) (string, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return "", err
	}
	return "", fmt.Errorf("sysreqs: cannot resolve devname for %s", path)
}

// devnameToDevnr reads the major:minor pair for a /sys/block device.
func devnameToDevnr(name string) (maj, min uint32, err error) {
	data, err := os.ReadFile(filepath.Join("/sys/block", name, "dev"))
	if err != nil {
		return 0, 0, err
	}
	var a, b int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d:%d", &a, &b); err != nil {
		return 0, 0, err
	}
	return uint32(a), uint32(b), nil
}

// devnameToModelFwrevSize mirrors storage_info.rs's
// devname_to_model_fwrev_size: reads the device/model and
// device/firmware_rev (or device/rev) sysfs files and the device's
// byte size from the block layer's sector count.
func devnameToModelFwrevSize(name string) (model, fwrev string, size uint64, err error) {
	base := filepath.Join("/sys/block", name)

	model = readTrimmed(filepath.Join(base, "device", "model"))
	if model == "" {
		model = "<UNKNOWN>"
	}

	fwrev = readTrimmed(filepath.Join(base, "device", "firmware_rev"))
	if fwrev == "" {
		fwrev = readTrimmed(filepath.Join(base, "device", "rev"))
	}
	if fwrev == "" {
		fwrev = "<UNKNOWN>"
	}

	sectors := readTrimmed(filepath.Join(base, "size"))
	if sectors != "" {
		if n, perr := strconv.ParseUint(sectors, 10, 64); perr == nil {
			size = n * 512
		}
	}

	return model, fwrev, size, nil
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// isRotational mirrors storage_info.rs's is_devname_rotational.
func isRotational(name string) bool {
	data, err := os.ReadFile(filepath.Join("/sys/block", name, "queue", "rotational"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}
