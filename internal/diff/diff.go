// Package diff compares two resctl-bench results and highlights
// regressions/improvements — the role resctl-bench's own merge/compare
// step plays when a benchmark is re-run against a prior baseline.
//
// Grounded on the teacher's internal/diff.go: the MetricChange/DiffReport
// shape, the addChange threshold rules and FormatDiff's rendering are
// carried over directly; only the metric sources change, from sysdiag's
// model.Report categories to resctl-bench's hashd/iocost study outputs.
package diff

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/linuxresctl/resctld/internal/model"
)

// DiffReport is the comparison between two bench results.
type DiffReport struct {
	Baseline     string         `json:"baseline"`
	Current      string         `json:"current"`
	Changes      []MetricChange `json:"changes"`
	Regressions  int            `json:"regressions"`
	Improvements int            `json:"improvements"`
}

// MetricChange is a single metric's difference between two runs.
type MetricChange struct {
	Metric       string  `json:"metric"`
	OldValue     float64 `json:"old_value"`
	NewValue     float64 `json:"new_value"`
	Delta        float64 `json:"delta"`
	DeltaPct     float64 `json:"delta_pct"`
	Direction    string  `json:"direction"`    // "regression", "improvement", "unchanged"
	Significance string  `json:"significance"` // "high", "medium", "low"
}

// higherIsWorse marks which hashd/iocost metrics regress when they
// increase (latency, merged coefficients going down means less
// available bandwidth) versus when they decrease (throughput).
var higherIsWorse = map[string]bool{
	"lat_p50":    true,
	"lat_p99":    true,
	"rps":        false,
	"rps_max":    false,
	"mem_size":   false,
	"rbps":       false,
	"rseqiops":   false,
	"rrandiops":  false,
	"wbps":       false,
	"wseqiops":   false,
	"wrandiops":  false,
}

// CompareMetrics diffs two name->value metric maps, both drawn from a
// common vocabulary (see HashdKnobsMetrics/IOCostModelMetrics/
// StatMetrics below), labeling baselineLabel/currentLabel for display.
func CompareMetrics(baselineLabel, currentLabel string, baseline, current map[string]float64) *DiffReport {
	d := &DiffReport{Baseline: baselineLabel, Current: currentLabel}

	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		newVal := current[name]
		oldVal, ok := baseline[name]
		if !ok {
			continue
		}
		addChange(d, name, oldVal, newVal, higherIsWorse[name])
	}

	for _, c := range d.Changes {
		switch c.Direction {
		case "regression":
			d.Regressions++
		case "improvement":
			d.Improvements++
		}
	}
	return d
}

func addChange(d *DiffReport, metric string, oldVal, newVal float64, worseWhenHigher bool) {
	delta := newVal - oldVal
	deltaPct := 0.0
	if oldVal != 0 {
		deltaPct = (delta / math.Abs(oldVal)) * 100
	}

	if math.Abs(deltaPct) < 1.0 && math.Abs(delta) < 0.1 {
		return
	}

	direction := "unchanged"
	if worseWhenHigher {
		switch {
		case deltaPct > 5:
			direction = "regression"
		case deltaPct < -5:
			direction = "improvement"
		}
	} else {
		switch {
		case deltaPct < -5:
			direction = "regression"
		case deltaPct > 5:
			direction = "improvement"
		}
	}

	significance := "low"
	absPct := math.Abs(deltaPct)
	switch {
	case absPct >= 50:
		significance = "high"
	case absPct >= 20:
		significance = "medium"
	}

	d.Changes = append(d.Changes, MetricChange{
		Metric:       metric,
		OldValue:     oldVal,
		NewValue:     newVal,
		Delta:        delta,
		DeltaPct:     deltaPct,
		Direction:    direction,
		Significance: significance,
	})
}

// HashdKnobsMetrics projects a calibrated HashdKnobs onto the common
// metric-name vocabulary CompareMetrics expects.
func HashdKnobsMetrics(k model.HashdKnobs) map[string]float64 {
	return map[string]float64{
		"rps_max":  float64(k.RPSMax),
		"mem_size": float64(k.ActualMemSize()),
	}
}

// IOCostModelMetrics projects a calibrated IOCostModelKnobs onto the
// common metric-name vocabulary.
func IOCostModelMetrics(m model.IOCostModelKnobs) map[string]float64 {
	return map[string]float64{
		"rbps":      float64(m.RBPS),
		"rseqiops":  float64(m.RSeqIOPS),
		"rrandiops": float64(m.RRandIOPS),
		"wbps":      float64(m.WBPS),
		"wseqiops":  float64(m.WSeqIOPS),
		"wrandiops": float64(m.WRandIOPS),
	}
}

// StatMetrics projects a runtime Stat snapshot onto the common
// metric-name vocabulary, used to compare two points of one hashd
// instance's report history.
func StatMetrics(s model.Stat) map[string]float64 {
	return map[string]float64{
		"rps":     s.RPS,
		"lat_p50": s.Lat.P50,
		"lat_p99": s.Lat.P99,
	}
}

// FormatDiff renders a human-readable diff summary.
func FormatDiff(d *DiffReport) string {
	var sb strings.Builder

	sb.WriteString("=== Bench Diff ===\n")
	sb.WriteString(fmt.Sprintf("Baseline: %s\n", d.Baseline))
	sb.WriteString(fmt.Sprintf("Current:  %s\n\n", d.Current))
	sb.WriteString(fmt.Sprintf("Regressions: %d, Improvements: %d\n\n", d.Regressions, d.Improvements))

	if d.Regressions > 0 {
		sb.WriteString("regressions:\n")
		for _, c := range d.Changes {
			if c.Direction == "regression" {
				sb.WriteString(fmt.Sprintf("  [%s] %s: %.2f -> %.2f (%+.1f%%)\n",
					strings.ToUpper(c.Significance), c.Metric, c.OldValue, c.NewValue, c.DeltaPct))
			}
		}
		sb.WriteString("\n")
	}

	if d.Improvements > 0 {
		sb.WriteString("improvements:\n")
		for _, c := range d.Changes {
			if c.Direction == "improvement" {
				sb.WriteString(fmt.Sprintf("  [%s] %s: %.2f -> %.2f (%+.1f%%)\n",
					strings.ToUpper(c.Significance), c.Metric, c.OldValue, c.NewValue, c.DeltaPct))
			}
		}
	}

	return sb.String()
}
