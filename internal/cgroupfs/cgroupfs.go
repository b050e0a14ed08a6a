// Package cgroupfs provides the small set of textual cgroupfs/sysfs
// I/O primitives shared by the slice manager and the IO-cost
// calibrator: writing a single control-file line and parsing the
// kernel's "nested keyed" format (one line per key, space-separated
// key=value pairs) used by io.cost.model and io.cost.qos.
//
// Grounded on usage sites in original_source/rd-util/src/iocost.rs
// (write_one_line, read_cgroup_nested_keyed_file) and
// original_source/rd-agent/src/bench.rs (write_one_line call sites);
// the util crate's own definitions weren't part of the retrieved
// pack, so the implementations here are original, built to the
// documented call contract.
package cgroupfs

import (
	"bufio"
	"os"
	"strings"
)

// WriteOneLine overwrites path with a single line of content,
// truncating any prior contents. Used for cgroup control files that
// accept one write per update (io.cost.model, io.cost.qos, memory.*).
func WriteOneLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

// ReadNestedKeyedFile parses the kernel's "nested keyed" format: each
// line begins with a key (here, a devnr string like "8:0") followed
// by space-separated field=value pairs.
func ReadNestedKeyedFile(path string) (map[string]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	result := make(map[string]map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		entry := make(map[string]string, len(fields)-1)
		for _, kv := range fields[1:] {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 {
				entry[parts[0]] = parts[1]
			}
		}
		result[fields[0]] = entry
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
