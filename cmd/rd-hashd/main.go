// rd-hashd — the latency-sensitive load generator: reads params.json
// for its dual-PID targets, runs the hasher's worker pool against a
// test file tree, and publishes a per-second HashdReport until
// interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/linuxresctl/resctld/internal/hasher"
	"github.com/linuxresctl/resctld/internal/jsonfile"
	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/padlog"
	"github.com/linuxresctl/resctld/internal/rlog"
	"github.com/linuxresctl/resctld/internal/testfiles"
)

var version = "0.1.0"

func main() {
	var (
		testfilesDir string
		paramsPath   string
		reportPath   string
		fileSize     uint64
		nrFiles      uint64
		logPath      string
		logSize      uint64
		verbose      bool
	)

	rootCmd := &cobra.Command{
		Use:     "rd-hashd",
		Short:   "Latency-sensitive load generator driven by a dual-PID concurrency controller",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rlog.New("rd-hashd", verbose)

			params, err := jsonfile.LoadOrCreateConfig(paramsPath, model.DefaultParams())
			if err != nil {
				return fmt.Errorf("load params: %w", err)
			}

			tf := testfiles.New(testfilesDir, fileSize, nrFiles)
			var setupProgress float64
			if err := tf.Setup(func(done, total uint64) {
				setupProgress = float64(done) / float64(total)
				log.Log("testfiles setup: %.0f%%", setupProgress*100)
			}); err != nil {
				return fmt.Errorf("set up test files: %w", err)
			}

			d := hasher.New(tf, params.Data, log)

			if logPath != "" {
				padLogger, err := padlog.New(logPath, logSize)
				if err != nil {
					return fmt.Errorf("open request log: %w", err)
				}
				defer padLogger.Close()
				d.SetPadLog(padLogger)
			}

			report := jsonfile.NewReportFile[model.HashdReport](reportPath)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			ticker := time.NewTicker(time.Duration(params.Data.ControlPeriod * float64(time.Second)))
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					d.Stop()
					return nil
				case <-ticker.C:
					if reloaded, err := params.MaybeReload(); err == nil && reloaded {
						d.SetParams(params.Data)
					}
					stat := d.Tick()
					report.Data = model.HashdReport{
						Timestamp:         time.Now(),
						TestfilesProgress: setupProgress,
						ParamsModified:    params.LoadedMod,
						Stat:              stat,
					}
					if err := report.Commit(); err != nil {
						log.Warn("commit report: %v", err)
					}
				}
			}
		},
	}

	rootCmd.Flags().StringVar(&testfilesDir, "testfiles", "/var/tmp/resctl-demo-scratch/hashd-testfiles", "test file tree directory")
	rootCmd.Flags().StringVar(&paramsPath, "params", "hashd-params.json", "path to this instance's params.json")
	rootCmd.Flags().StringVar(&reportPath, "report", "hashd-report.json", "path to this instance's report.json")
	rootCmd.Flags().Uint64Var(&fileSize, "file-size", 4<<20, "size in bytes of each test file")
	rootCmd.Flags().Uint64Var(&nrFiles, "nr-files", 256, "number of test files")
	rootCmd.Flags().StringVar(&logPath, "log", "", "path to the per-request padded log file (disabled if empty)")
	rootCmd.Flags().Uint64Var(&logSize, "log-size", padlog.DefaultMaxSize, "rotate --log past this many bytes")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
