// rd-agent — the resource-control Agent: supervises rd-hashd instances
// and sideloaded/sysloaded workloads, applies slice and OOMD
// configuration to the live cgroup hierarchy, and drives hashd-params
// self-calibration benchmarks on request.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/linuxresctl/resctld/internal/jsonfile"
	"github.com/linuxresctl/resctld/internal/rlog"
	"github.com/linuxresctl/resctld/internal/runner"
	"github.com/linuxresctl/resctld/internal/sysreqs"
)

var version = "0.1.0"

func main() {
	var (
		dir         string
		cgroupRoot  string
		scratchDir  string
		scratchDevNr string
		hashdBin    string
		totalMemory uint64
		verbose     bool
	)

	rootCmd := &cobra.Command{
		Use:     "rd-agent",
		Short:   "Resource-control agent — supervises hashd, sideloads and cgroup slices",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rlog.New("rd-agent", verbose)

			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create --dir: %w", err)
			}

			report, err := sysreqs.Probe(cgroupRoot, scratchDir)
			if err != nil {
				return fmt.Errorf("probe sysreqs: %w", err)
			}
			if err := jsonfile.Save(dir+"/sysreqs.json", report); err != nil {
				return fmt.Errorf("write sysreqs.json: %w", err)
			}
			log.Log("sysreqs: %d satisfied, %d missed", len(report.Satisfied), len(report.Missed))

			cfg := runner.Config{
				Dir:          dir,
				CgroupRoot:   cgroupRoot,
				ScratchDir:   scratchDir,
				ScratchDevNr: scratchDevNr,
				HashdBin:     hashdBin,
				TotalMemory:  totalMemory,
			}
			if cfg.TotalMemory == 0 {
				cfg.TotalMemory = report.TotalMemory
			}

			r, err := runner.New(cfg, log)
			if err != nil {
				return fmt.Errorf("initialize runner: %w", err)
			}
			return r.Run(context.Background())
		},
	}

	rootCmd.Flags().StringVar(&dir, "dir", "/var/lib/resctl-demo", "base directory for the command/report interface files")
	rootCmd.Flags().StringVar(&cgroupRoot, "cgroup-root", "/sys/fs/cgroup/resctl.slice", "root of the managed cgroup hierarchy")
	rootCmd.Flags().StringVar(&scratchDir, "scratch-dir", "/var/tmp/resctl-demo-scratch", "directory hashd's test file tree lives under")
	rootCmd.Flags().StringVar(&scratchDevNr, "dev-nr", "", "\"major:minor\" of the block device backing --scratch-dir, required for io-cost bench requests")
	rootCmd.Flags().StringVar(&hashdBin, "hashd-bin", "rd-hashd", "path to the rd-hashd binary this Agent supervises")
	rootCmd.Flags().Uint64Var(&totalMemory, "total-memory", 0, "override detected total memory in bytes (0: use sysreqs probe)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
