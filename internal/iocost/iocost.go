// Package iocost implements the IO-cost calibrator: save/restore of
// the kernel's io.cost.model/qos control files around a benchmark
// window, outlier-rejecting (Chauvenet) median merging of repeated
// calibration runs and of archived results, and the min-vrate floor
// that keeps the primary workload recoverable after a reclaim event.
// No search across vrate operating points is performed here.
//
// Grounded on original_source/rd-util/src/iocost.rs's IoCostSysSave
// (read_from_sys/write_to_sys/Drop-restores pattern, adapted to an
// explicit Restore method since Go has no destructor) and spec
// §4.3's tune/Chauvenet/min-vrate-floor design.
package iocost

import (
	"fmt"
	"math"
	"sort"

	"github.com/linuxresctl/resctld/internal/cgroupfs"
	"github.com/linuxresctl/resctld/internal/model"
)

const (
	modelPath = "/sys/fs/cgroup/io.cost.model"
	qosPath   = "/sys/fs/cgroup/io.cost.qos"

	// minSeqBPS and minRandIOPS are the absolute floors the calibrator
	// never configures a vrate below, keeping the primary workload
	// recoverable after reclaim.
	minSeqBPS    = 60 << 20
	minRandIOPS  = 160
)

// SysSave captures io.cost.model/qos for one device so a calibration
// window can disable and later restore them.
type SysSave struct {
	DevNr        string
	Enable       bool
	ModelCtrlUser bool
	QoSCtrlUser   bool
	Model        model.IOCostModelKnobs
	QoS          model.IOCostQoSKnobs
}

// ReadFromSys reads the current io.cost.model/qos entries for devNr
// (formatted "major:minor").
func ReadFromSys(devNr string) (*SysSave, error) {
	modelEntries, err := cgroupfs.ReadNestedKeyedFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("iocost: reading io.cost.model: %w", err)
	}
	qosEntries, err := cgroupfs.ReadNestedKeyedFile(qosPath)
	if err != nil {
		return nil, fmt.Errorf("iocost: reading io.cost.qos: %w", err)
	}

	s := &SysSave{DevNr: devNr}
	m, ok := modelEntries[devNr]
	if !ok {
		return s, nil
	}
	q, ok := qosEntries[devNr]
	if !ok {
		return nil, fmt.Errorf("iocost: io.cost.qos has no entry for %s", devNr)
	}

	s.Enable = q["enable"] == "1"
	s.ModelCtrlUser = m["ctrl"] == "user"
	s.QoSCtrlUser = q["ctrl"] == "user"
	fmt.Sscanf(m["rbps"], "%d", &s.Model.RBPS)
	fmt.Sscanf(m["rseqiops"], "%d", &s.Model.RSeqIOPS)
	fmt.Sscanf(m["rrandiops"], "%d", &s.Model.RRandIOPS)
	fmt.Sscanf(m["wbps"], "%d", &s.Model.WBPS)
	fmt.Sscanf(m["wseqiops"], "%d", &s.Model.WSeqIOPS)
	fmt.Sscanf(m["wrandiops"], "%d", &s.Model.WRandIOPS)
	fmt.Sscanf(q["rpct"], "%g", &s.QoS.RPct)
	fmt.Sscanf(q["rlat"], "%d", &s.QoS.RLat)
	fmt.Sscanf(q["wpct"], "%g", &s.QoS.WPct)
	fmt.Sscanf(q["wlat"], "%d", &s.QoS.WLat)
	fmt.Sscanf(q["min"], "%g", &s.QoS.Min)
	fmt.Sscanf(q["max"], "%g", &s.QoS.Max)
	return s, nil
}

// WriteToSys applies s's settings to the live control files.
func (s *SysSave) WriteToSys() error {
	var modelLine string
	if !s.ModelCtrlUser {
		modelLine = fmt.Sprintf("%s ctrl=auto", s.DevNr)
	} else {
		modelLine = fmt.Sprintf("%s ctrl=user %s", s.DevNr, formatModel(s.Model))
	}
	if err := cgroupfs.WriteOneLine(modelPath, modelLine); err != nil {
		return err
	}

	enable := 0
	if s.Enable {
		enable = 1
	}
	qosLine := fmt.Sprintf("%s enable=%d ", s.DevNr, enable)
	if !s.QoSCtrlUser {
		qosLine += "ctrl=auto"
	} else {
		qosLine += "ctrl=user " + formatQoS(s.QoS)
	}
	return cgroupfs.WriteOneLine(qosPath, qosLine)
}

// Disable turns off IO control for the calibration window, returning
// a Restore func that writes the original settings back — the Go
// stand-in for the upstream's Drop-triggered restore.
func Disable(devNr string) (restore func() error, err error) {
	saved, err := ReadFromSys(devNr)
	if err != nil {
		return nil, err
	}
	if err := cgroupfs.WriteOneLine(qosPath, fmt.Sprintf("%s enable=0", devNr)); err != nil {
		return nil, err
	}
	return saved.WriteToSys, nil
}

// Apply writes a calibrated model+QoS pair to the live control files.
func Apply(devNr string, knobs model.IOCostKnobs) error {
	modelLine := fmt.Sprintf("%s model=linear %s", devNr, formatModel(knobs.Model))
	if err := cgroupfs.WriteOneLine(modelPath, modelLine); err != nil {
		return err
	}
	qos := knobs.QoS.Sanitize()
	qosLine := fmt.Sprintf("%s %s", devNr, formatQoS(qos))
	return cgroupfs.WriteOneLine(qosPath, qosLine)
}

func formatModel(m model.IOCostModelKnobs) string {
	return fmt.Sprintf("rbps=%d rseqiops=%d rrandiops=%d wbps=%d wseqiops=%d wrandiops=%d",
		m.RBPS, m.RSeqIOPS, m.RRandIOPS, m.WBPS, m.WSeqIOPS, m.WRandIOPS)
}

func formatQoS(q model.IOCostQoSKnobs) string {
	return fmt.Sprintf("rpct=%.2f rlat=%d wpct=%.2f wlat=%d min=%.2f max=%.2f",
		q.RPct, q.RLat, q.WPct, q.WLat, q.Min, q.Max)
}

// Sample is one measured metric value at a given vrate operating
// point. No function in this package takes Samples: ChauvenetKeep and
// MergeRuns work on plain values and model knobs.
type Sample struct {
	VRate float64
	Value float64
}

// phi is the standard normal CDF.
func phi(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// ChauvenetKeep applies Chauvenet's criterion to values, rejecting any
// point whose deviation from the mean is improbable given the sample
// count: reject if (1-Φ(|z|))*N < 0.5. Returns the surviving values.
func ChauvenetKeep(values []float64) []float64 {
	n := len(values)
	if n < 3 {
		return append([]float64(nil), values...)
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	stdev := math.Sqrt(variance)

	var kept []float64
	for _, v := range values {
		if stdev == 0 {
			kept = append(kept, v)
			continue
		}
		z := math.Abs(v-mean) / stdev
		criterion := (1 - phi(z)) * float64(n)
		if criterion >= 0.5 {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return append([]float64(nil), values...)
	}
	return kept
}

// median returns the median of values. values is sorted in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// MergeRuns reduces repeated measurement runs of the six linear model
// parameters into a single model, rejecting outliers per-parameter via
// Chauvenet's criterion before taking the median of what's kept.
func MergeRuns(runs []model.IOCostModelKnobs) model.IOCostModelKnobs {
	extract := func(f func(model.IOCostModelKnobs) uint64) float64 {
		vals := make([]float64, len(runs))
		for i, r := range runs {
			vals[i] = float64(f(r))
		}
		return median(ChauvenetKeep(vals))
	}
	return model.IOCostModelKnobs{
		RBPS:      uint64(extract(func(m model.IOCostModelKnobs) uint64 { return m.RBPS })),
		RSeqIOPS:  uint64(extract(func(m model.IOCostModelKnobs) uint64 { return m.RSeqIOPS })),
		RRandIOPS: uint64(extract(func(m model.IOCostModelKnobs) uint64 { return m.RRandIOPS })),
		WBPS:      uint64(extract(func(m model.IOCostModelKnobs) uint64 { return m.WBPS })),
		WSeqIOPS:  uint64(extract(func(m model.IOCostModelKnobs) uint64 { return m.WSeqIOPS })),
		WRandIOPS: uint64(extract(func(m model.IOCostModelKnobs) uint64 { return m.WRandIOPS })),
	}
}

// MergeSource is one archived result feeding a cross-archive merge:
// its origin path (for the MergeInfo report) and the model it
// contributed.
type MergeSource struct {
	Path  string
	Model model.IOCostModelKnobs
}

// MergeRejection names a source dropped from a merge and why.
type MergeRejection struct {
	Source string
	Reason string
}

// MergeInfo is spec §4.7's Merge record: the outlier-rejected median
// model plus which sources were kept and which were dropped.
type MergeInfo struct {
	Merged   model.IOCostModelKnobs
	Accepted []string
	Rejected []MergeRejection
}

// MergeGroup combines sources already grouped by (kind, id,
// mem_profile, storage_model, classifier) — the caller's
// responsibility, per spec §4.7 — into one outlier-rejected median
// model. Chauvenet's criterion is applied on the rbps dimension (the
// model's dominant, most outlier-sensitive parameter per spec §8
// scenario S4); any source whose rbps doesn't survive is reported
// rejected and excluded from every other parameter's median too, so
// one bad run can't pollute the rest of its own model.
//
// Grounded on spec §4.7's Merge description and §8's S4 scenario.
func MergeGroup(sources []MergeSource) MergeInfo {
	if len(sources) == 0 {
		return MergeInfo{}
	}

	rbps := make([]float64, len(sources))
	for i, s := range sources {
		rbps[i] = float64(s.Model.RBPS)
	}
	kept := ChauvenetKeep(rbps)
	keptSet := make(map[float64]int, len(kept))
	for _, v := range kept {
		keptSet[v]++
	}

	var info MergeInfo
	var survivors []model.IOCostModelKnobs
	for _, s := range sources {
		v := float64(s.Model.RBPS)
		if keptSet[v] > 0 {
			keptSet[v]--
			info.Accepted = append(info.Accepted, s.Path)
			survivors = append(survivors, s.Model)
		} else {
			info.Rejected = append(info.Rejected, MergeRejection{Source: s.Path, Reason: "model is an outlier"})
		}
	}

	if len(survivors) == 0 {
		// Every source rejected: spec §7's merge-rejection handling
		// bails only when zero valid sources remain — fall back to
		// merging the full set so callers still get a usable model.
		survivors = make([]model.IOCostModelKnobs, len(sources))
		for i, s := range sources {
			survivors[i] = s.Model
		}
		info.Accepted = nil
		info.Rejected = nil
		for _, s := range sources {
			info.Accepted = append(info.Accepted, s.Path)
		}
	}

	info.Merged = MergeRuns(survivors)
	return info
}

// ApplyMinVrateFloor raises any coefficient that implies a bandwidth
// below the conservative floor (60MB/s sequential, 160 iops random),
// so a too-aggressive vrate can never be configured.
func ApplyMinVrateFloor(m model.IOCostModelKnobs) model.IOCostModelKnobs {
	if m.RBPS < minSeqBPS {
		m.RBPS = minSeqBPS
	}
	if m.WBPS < minSeqBPS {
		m.WBPS = minSeqBPS
	}
	if m.RRandIOPS < minRandIOPS {
		m.RRandIOPS = minRandIOPS
	}
	if m.WRandIOPS < minRandIOPS {
		m.WRandIOPS = minRandIOPS
	}
	return m
}
