// resctl-bench — the benchmark supervisor: drives registered job
// kinds against a running Agent's sysreqs, studies repeated runs into
// a single result, merges compatible archived results, and compares
// two saved results for regressions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/linuxresctl/resctld/internal/diff"
	"github.com/linuxresctl/resctld/internal/harness"
	"github.com/linuxresctl/resctld/internal/iocost"
	"github.com/linuxresctl/resctld/internal/jsonfile"
	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/rlog"
)

var version = "0.1.0"

// savedResult is what `run` writes to --output (and appends to the
// --result archive): a job's spec plus its studied result flattened to
// the metric vocabulary diff.CompareMetrics and iocost.MergeGroup
// understand, so `compare`/`merge` never need to know the job kind.
// RunID disambiguates repeated runs written to the same path history.
type savedResult struct {
	RunID   string             `json:"run_id"`
	Spec    model.JobSpec      `json:"spec"`
	Metrics map[string]float64 `json:"metrics"`
}

// suiteFile is a YAML batch of jobs to run back to back, the same role
// the upstream's bench-suite definitions play: a named list of job
// specs to drive in one invocation instead of one `run` per kind.
type suiteFile struct {
	Jobs []struct {
		Kind   string `yaml:"kind"`
		ID     string `yaml:"id,omitempty"`
		Repeat int    `yaml:"repeat,omitempty"`
		Props  string `yaml:"props,omitempty"`
	} `yaml:"jobs"`
}

// globalFlags are the harness-wide settings shared by every job,
// spec §6's documented CLI surface: the Agent's --dir, the target
// --dev, an optional --linux-tar for build-workload job kinds, the
// --result archive used by --incremental, and the report retention
// knobs applied once per invocation.
type globalFlags struct {
	dir             string
	dev             string
	linuxTar        string
	result          string
	repRetention    time.Duration
	rep1MinRetention time.Duration
	keepReports     bool
	clearReports    bool
	incremental     bool
}

func main() {
	gf := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:     "resctl-bench",
		Short:   "Benchmark supervisor driving hashd-params, iocost-qos and future job kinds",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&gf.dir, "dir", "/var/lib/resctl-demo", "agent interface directory (passed to jobs as a default \"dir\" prop)")
	rootCmd.PersistentFlags().StringVar(&gf.dev, "dev", "", "target block device \"major:minor\" (passed to jobs as a default \"dev\" prop)")
	rootCmd.PersistentFlags().StringVar(&gf.linuxTar, "linux-tar", "", "path to a linux source tarball for build-workload job kinds (passed to jobs as a default \"linux-tar\" prop)")
	rootCmd.PersistentFlags().StringVar(&gf.result, "result", "", "result archive path; --incremental checks it, run/suite append to it")
	rootCmd.PersistentFlags().DurationVar(&gf.repRetention, "rep-retention", 24*time.Hour, "prune report.d entries older than this")
	rootCmd.PersistentFlags().DurationVar(&gf.rep1MinRetention, "rep-1min-retention", 7*24*time.Hour, "prune report-1min.d entries older than this")
	rootCmd.PersistentFlags().BoolVar(&gf.keepReports, "keep-reports", false, "skip report retention pruning entirely")
	rootCmd.PersistentFlags().BoolVar(&gf.clearReports, "clear-reports", false, "delete all report.d/report-1min.d entries before running")
	rootCmd.PersistentFlags().BoolVar(&gf.incremental, "incremental", false, "skip a job if a compatible result already exists in --result")

	rootCmd.AddCommand(listCmd(), runCmd(gf), compareCmd(), suiteCmd(gf), mergeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered job kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := []string{"hashd-params", "iocost-qos"}
			sort.Strings(kinds)
			for _, k := range kinds {
				if _, ok := harness.Lookup(k); ok {
					fmt.Println(k)
				}
			}
			return nil
		},
	}
}

func runCmd(gf *globalFlags) *cobra.Command {
	var (
		sysreqsPath string
		propsFlag   string
		repeat      int
		output      string
		jobID       string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "run <kind>",
		Short: "Run a job against the Agent's probed sysreqs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyReportRetention(gf); err != nil {
				fmt.Fprintf(os.Stderr, "report retention: %v\n", err)
			}

			var report model.SysReqsReport
			if sysreqsPath != "" {
				if err := jsonfile.Load(sysreqsPath, &report); err != nil {
					return fmt.Errorf("load sysreqs: %w", err)
				}
			}

			spec := model.JobSpec{Kind: args[0], ID: jobID, Props: parseProps(propsFlag)}
			applyGlobalDefaults(&spec, gf)

			if gf.incremental {
				if sr, ok := findCompatible(gf.result, spec); ok {
					fmt.Printf("%s: reusing compatible result %s (--incremental)\n", spec, sr.RunID)
					return nil
				}
			}

			h := harness.New(report, rlog.New("resctl-bench", verbose))

			study, err := h.RunJob(context.Background(), spec, repeat)
			if err != nil {
				return err
			}
			rendered, err := h.Format(spec, study)
			if err != nil {
				return err
			}
			fmt.Print(rendered)

			if output != "" {
				if err := saveStudy(output, spec, study); err != nil {
					return err
				}
			}
			return appendArchive(gf.result, spec, study)
		},
	}

	cmd.Flags().StringVar(&sysreqsPath, "sysreqs", "", "path to a previously probed sysreqs.json (skips checks if empty)")
	cmd.Flags().StringVar(&propsFlag, "props", "", "comma-separated k=v job properties")
	cmd.Flags().IntVar(&repeat, "repeat", 3, "number of repetitions to study")
	cmd.Flags().StringVarP(&output, "output", "o", "", "save the studied result to this path for later comparison")
	cmd.Flags().StringVar(&jobID, "id", "", "disambiguate multiple instances of the same job kind")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <baseline.json> <current.json>",
		Short: "Compare two saved job results for regressions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseline, err := loadStudy(args[0])
			if err != nil {
				return fmt.Errorf("load baseline: %w", err)
			}
			current, err := loadStudy(args[1])
			if err != nil {
				return fmt.Errorf("load current: %w", err)
			}
			d := diff.CompareMetrics(args[0], args[1], baseline.Metrics, current.Metrics)
			fmt.Print(diff.FormatDiff(d))
			return nil
		},
	}
}

func suiteCmd(gf *globalFlags) *cobra.Command {
	var (
		sysreqsPath string
		outputDir   string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "suite <suite.yaml>",
		Short: "Run every job listed in a YAML suite file back to back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyReportRetention(gf); err != nil {
				fmt.Fprintf(os.Stderr, "report retention: %v\n", err)
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read suite file: %w", err)
			}
			var suite suiteFile
			if err := yaml.Unmarshal(data, &suite); err != nil {
				return fmt.Errorf("parse suite file: %w", err)
			}

			var report model.SysReqsReport
			if sysreqsPath != "" {
				if err := jsonfile.Load(sysreqsPath, &report); err != nil {
					return fmt.Errorf("load sysreqs: %w", err)
				}
			}
			h := harness.New(report, rlog.New("resctl-bench", verbose))

			for _, job := range suite.Jobs {
				repeat := job.Repeat
				if repeat < 1 {
					repeat = 3
				}
				spec := model.JobSpec{Kind: job.Kind, ID: job.ID, Props: parseProps(job.Props)}
				applyGlobalDefaults(&spec, gf)

				if gf.incremental {
					if sr, ok := findCompatible(gf.result, spec); ok {
						fmt.Printf("%s: reusing compatible result %s (--incremental)\n", spec, sr.RunID)
						continue
					}
				}

				study, err := h.RunJob(context.Background(), spec, repeat)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", spec, err)
					continue
				}
				rendered, err := h.Format(spec, study)
				if err != nil {
					return err
				}
				fmt.Print(rendered)

				if outputDir != "" {
					path := fmt.Sprintf("%s/%s.json", outputDir, strings.ReplaceAll(spec.String(), "/", "-"))
					if err := saveStudy(path, spec, study); err != nil {
						return fmt.Errorf("save %s: %w", path, err)
					}
				}
				if err := appendArchive(gf.result, spec, study); err != nil {
					fmt.Fprintf(os.Stderr, "%s: appending --result: %v\n", spec, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sysreqsPath, "sysreqs", "", "path to a previously probed sysreqs.json (skips checks if empty)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory to save each job's studied result under")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

// mergeCmd implements spec §4.7's cross-archive merge: combine several
// saved iocost-qos results — e.g. one per machine of the same model —
// into a single outlier-rejecting model, naming which sources were
// kept and why any were dropped. Callers choose the file set to merge;
// the job-level grouping key (kind, id, mem_profile, storage_model,
// classifier) is the caller's responsibility to have already applied
// when selecting which --result entries or saved-result files to pass.
func mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <result.json>...",
		Short: "Merge several saved iocost-qos results into one outlier-rejected model",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := make([]iocost.MergeSource, 0, len(args))
			for _, path := range args {
				sr, err := loadStudy(path)
				if err != nil {
					return fmt.Errorf("load %s: %w", path, err)
				}
				m, ok := iocostModelFromMetrics(sr.Metrics)
				if !ok {
					return fmt.Errorf("%s: metrics are not an iocost-qos model (missing rbps/rseqiops/...)", path)
				}
				sources = append(sources, iocost.MergeSource{Path: path, Model: m})
			}

			info := iocost.MergeGroup(sources)
			m := info.Merged
			fmt.Printf("merged: rbps=%d rseqiops=%d rrandiops=%d wbps=%d wseqiops=%d wrandiops=%d\n",
				m.RBPS, m.RSeqIOPS, m.RRandIOPS, m.WBPS, m.WSeqIOPS, m.WRandIOPS)
			fmt.Printf("accepted (%d): %s\n", len(info.Accepted), strings.Join(info.Accepted, ", "))
			for _, rej := range info.Rejected {
				fmt.Printf("rejected: %s (%s)\n", rej.Source, rej.Reason)
			}
			return nil
		},
	}
}

// iocostModelFromMetrics reconstructs an IOCostModelKnobs from a
// savedResult's flattened Metrics map, the inverse of
// diff.IOCostModelMetrics.
func iocostModelFromMetrics(metrics map[string]float64) (model.IOCostModelKnobs, bool) {
	keys := []string{"rbps", "rseqiops", "rrandiops", "wbps", "wseqiops", "wrandiops"}
	for _, k := range keys {
		if _, ok := metrics[k]; !ok {
			return model.IOCostModelKnobs{}, false
		}
	}
	return model.IOCostModelKnobs{
		RBPS:      uint64(metrics["rbps"]),
		RSeqIOPS:  uint64(metrics["rseqiops"]),
		RRandIOPS: uint64(metrics["rrandiops"]),
		WBPS:      uint64(metrics["wbps"]),
		WSeqIOPS:  uint64(metrics["wseqiops"]),
		WRandIOPS: uint64(metrics["wrandiops"]),
	}, true
}

func parseProps(flag string) model.JobProps {
	if flag == "" {
		return nil
	}
	group := map[string]string{}
	for _, kv := range strings.Split(flag, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			group[parts[0]] = parts[1]
		} else {
			group[parts[0]] = ""
		}
	}
	return model.JobProps{group}
}

// applyGlobalDefaults injects --dir/--dev/--linux-tar as prop defaults
// on spec's first property group, without overriding a value the
// caller already supplied via --props.
func applyGlobalDefaults(spec *model.JobSpec, gf *globalFlags) {
	if len(spec.Props) == 0 {
		spec.Props = model.JobProps{map[string]string{}}
	}
	group := spec.Props[0]
	setDefault := func(key, val string) {
		if val == "" {
			return
		}
		if _, ok := group[key]; !ok {
			group[key] = val
		}
	}
	setDefault("dir", gf.dir)
	setDefault("dev", gf.dev)
	setDefault("linux-tar", gf.linuxTar)
}

// studyMetrics flattens a Study's job-kind-specific Data into the
// common metric vocabulary diff.CompareMetrics operates on.
func studyMetrics(s harness.Study) map[string]float64 {
	switch v := s.Data.(type) {
	case model.HashdKnobs:
		return diff.HashdKnobsMetrics(v)
	case model.IOCostModelKnobs:
		return diff.IOCostModelMetrics(v)
	default:
		return nil
	}
}

func newSavedResult(spec model.JobSpec, s harness.Study) savedResult {
	return savedResult{RunID: uuid.NewString(), Spec: spec, Metrics: studyMetrics(s)}
}

func saveStudy(path string, spec model.JobSpec, s harness.Study) error {
	data, err := json.MarshalIndent(newSavedResult(spec, s), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func loadStudy(path string) (savedResult, error) {
	var sr savedResult
	data, err := os.ReadFile(path)
	if err != nil {
		return sr, err
	}
	return sr, json.Unmarshal(data, &sr)
}

// loadArchive reads the --result archive (a JSON array of savedResult,
// empty/missing treated as an empty archive).
func loadArchive(path string) ([]savedResult, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var archive []savedResult
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &archive); err != nil {
		return nil, err
	}
	return archive, nil
}

// appendArchive adds spec/s's result to the --result archive, a no-op
// when --result is unset.
func appendArchive(path string, spec model.JobSpec, s harness.Study) error {
	if path == "" {
		return nil
	}
	archive, err := loadArchive(path)
	if err != nil {
		return err
	}
	archive = append(archive, newSavedResult(spec, s))
	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// findCompatible looks up an archived result whose spec is Compatible
// with spec — spec §4.7's incremental-resumption rule: equal specs
// after stripping apply/commit keys.
func findCompatible(archivePath string, spec model.JobSpec) (savedResult, bool) {
	archive, err := loadArchive(archivePath)
	if err != nil {
		return savedResult{}, false
	}
	for _, sr := range archive {
		if sr.Spec.Compatible(spec) {
			return sr, true
		}
	}
	return savedResult{}, false
}

// applyReportRetention prunes the Agent's report.d/report-1min.d
// directories (discovered via --dir's index.json) per --rep-retention/
// --rep-1min-retention, or clears them outright when --clear-reports is
// set; --keep-reports skips this entirely.
func applyReportRetention(gf *globalFlags) error {
	if gf.keepReports || gf.dir == "" {
		return nil
	}
	var idx model.Index
	if err := jsonfile.Load(filepath.Join(gf.dir, "index.json"), &idx); err != nil {
		return nil // no agent running against --dir yet; nothing to prune
	}

	if gf.clearReports {
		return clearReportDirs(idx)
	}
	if err := pruneOlderThan(idx.ReportDir, gf.repRetention); err != nil {
		return err
	}
	return pruneOlderThan(idx.Report1MinDir, gf.rep1MinRetention)
}

func clearReportDirs(idx model.Index) error {
	for _, dir := range []string{idx.ReportDir, idx.Report1MinDir} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

func pruneOlderThan(dir string, retention time.Duration) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	cutoff := time.Now().Add(-retention)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}
