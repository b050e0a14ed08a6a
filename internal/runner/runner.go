// Package runner implements the Agent's reconciliation loop: once per
// tick it refreshes the command file, drives any in-flight benchmark,
// synchronizes the supervised hashd/sysload/sideload services against
// the command's intent, and applies the slice and OOMD configuration
// to the live cgroup hierarchy.
//
// Grounded on spec §4.6's four-step tick and on the teacher's
// internal/orchestrator.go for the ambient shape of a long-running,
// signal-cancellable loop: a root context cancelled on SIGINT/SIGTERM,
// a progress logger, and a clean partial-shutdown path.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/linuxresctl/resctld/internal/benchhashd"
	"github.com/linuxresctl/resctld/internal/iocost"
	"github.com/linuxresctl/resctld/internal/jsonfile"
	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/oomd"
	"github.com/linuxresctl/resctld/internal/rerr"
	"github.com/linuxresctl/resctld/internal/rlog"
	"github.com/linuxresctl/resctld/internal/sideloader"
	"github.com/linuxresctl/resctld/internal/slices"
	"github.com/linuxresctl/resctld/internal/svc"
	"github.com/linuxresctl/resctld/internal/testfiles"
)

// TickPeriod is the Agent's reconciliation interval.
const TickPeriod = time.Second

// Config bundles the on-disk layout and cgroup root a Runner operates
// against.
type Config struct {
	Dir         string // --dir: base directory for all interface files
	CgroupRoot  string // --cgroup-root, defaults to /sys/fs/cgroup/resctl.slice
	ScratchDir  string // where hashd's testfiles tree lives
	ScratchDevNr string // "major:minor" of the block device backing ScratchDir, for IO-cost bench
	HashdBin    string // path to the rd-hashd binary the Agent supervises
	TotalMemory uint64
}

// Runner is the Agent's long-lived reconciliation engine.
type Runner struct {
	cfg Config
	log *rlog.Logger

	index   model.Index
	cmd     *jsonfile.ConfigFile[model.Cmd]
	cmdAck  *jsonfile.ReportFile[model.CmdAck]
	bench   model.BenchKnobs
	benchPath string
	reportRF *jsonfile.ReportFile[model.Report]

	sliceMgr *slices.Manager
	oomdD    *oomd.Daemon
	sideCtl  *sideloader.Controller

	mu       sync.Mutex
	services map[string]*svc.Service
	reportSeq uint64

	benchMu      sync.Mutex
	benchRunning bool
	benchCancel  context.CancelFunc
	benchProgress model.BenchProgress
}

// New wires up a Runner's on-disk interface files under cfg.Dir,
// creating any that don't yet exist with their documented defaults.
func New(cfg Config, log *rlog.Logger) (*Runner, error) {
	if cfg.CgroupRoot == "" {
		cfg.CgroupRoot = "/sys/fs/cgroup/resctl.slice"
	}

	idx := model.Index{
		Cmd:              filepath.Join(cfg.Dir, "cmd.json"),
		CmdAck:           filepath.Join(cfg.Dir, "cmd-ack.json"),
		SysReqs:          filepath.Join(cfg.Dir, "sysreqs.json"),
		Report:           filepath.Join(cfg.Dir, "report.json"),
		ReportDir:        filepath.Join(cfg.Dir, "report.d"),
		Report1Min:       filepath.Join(cfg.Dir, "report-1min.json"),
		Report1MinDir:    filepath.Join(cfg.Dir, "report-1min.d"),
		Bench:            filepath.Join(cfg.Dir, "bench.json"),
		Slices:           filepath.Join(cfg.Dir, "slices.json"),
		Oomd:             filepath.Join(cfg.Dir, "oomd.json"),
		SideloaderStatus: filepath.Join(cfg.Dir, "sideloader-status.json"),
		SideloadDefs:     filepath.Join(cfg.Dir, "sideload-defs.json"),
	}
	idx.Hashd[0] = model.HashdIndex{
		Args:   filepath.Join(cfg.Dir, "hashd-A.args.json"),
		Params: filepath.Join(cfg.Dir, "hashd-A.params.json"),
		Report: filepath.Join(cfg.Dir, "hashd-A.report.json"),
	}
	idx.Hashd[1] = model.HashdIndex{
		Args:   filepath.Join(cfg.Dir, "hashd-B.args.json"),
		Params: filepath.Join(cfg.Dir, "hashd-B.params.json"),
		Report: filepath.Join(cfg.Dir, "hashd-B.report.json"),
	}
	if err := jsonfile.Save(filepath.Join(cfg.Dir, "index.json"), idx); err != nil {
		return nil, rerr.Wrap(rerr.KindConfiguration, "writing index.json", err)
	}

	cmd, err := jsonfile.LoadOrCreateConfig(idx.Cmd, model.DefaultCmd())
	if err != nil {
		return nil, rerr.Wrap(rerr.KindConfiguration, "loading cmd.json", err)
	}

	r := &Runner{
		cfg:       cfg,
		log:       log,
		index:     idx,
		cmd:       cmd,
		cmdAck:    jsonfile.NewReportFile[model.CmdAck](idx.CmdAck),
		benchPath: idx.Bench,
		reportRF:  jsonfile.NewReportFile[model.Report](idx.Report),
		sliceMgr:  slices.New(cfg.CgroupRoot),
		oomdD:     oomd.New(cfg.CgroupRoot, log),
		sideCtl:   sideloader.New(sideloader.DefaultConfig(), log),
		services:  make(map[string]*svc.Service),
	}

	if _, err := jsonfile.MaybeCreateDefault(idx.Oomd, model.DefaultOomdKnobs()); err != nil {
		return nil, rerr.Wrap(rerr.KindConfiguration, "creating oomd.json", err)
	}
	if _, err := jsonfile.MaybeCreateDefault(idx.Slices, model.DefaultSliceKnobs(cfg.TotalMemory, false)); err != nil {
		return nil, rerr.Wrap(rerr.KindConfiguration, "creating slices.json", err)
	}
	if _, err := jsonfile.MaybeCreateDefault(idx.SideloadDefs, model.DefaultSideloadDefs()); err != nil {
		return nil, rerr.Wrap(rerr.KindConfiguration, "creating sideload-defs.json", err)
	}
	if err := jsonfile.Load(idx.Bench, &r.bench); err != nil {
		r.bench = model.BenchKnobs{}
		_ = jsonfile.Save(idx.Bench, r.bench)
	}

	if err := r.sliceMgr.EnsureSliceDirs(); err != nil {
		return nil, err
	}

	return r, nil
}

// Run drives the reconciliation loop until ctx is cancelled or a
// SIGINT/SIGTERM arrives, at which point it stops every supervised
// service before returning.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			r.log.Log("received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.log.Log("tick error: %v", err)
			}
		}
	}
}

// Tick runs one reconciliation pass: refresh the command, progress any
// in-flight bench, reconcile supervised services, then apply the slice
// and OOMD configuration.
func (r *Runner) Tick(ctx context.Context) error {
	if _, err := r.cmd.MaybeReload(); err != nil {
		return rerr.Wrap(rerr.KindConfiguration, "reloading cmd.json", err)
	}
	cmd := r.cmd.Data

	if r.cmdAck.Data.CmdSeq != cmd.CmdSeq {
		r.cmdAck.Data.CmdSeq = cmd.CmdSeq
		if err := r.cmdAck.Commit(); err != nil {
			return rerr.Wrap(rerr.KindTransientIO, "committing cmd-ack.json", err)
		}
	}

	r.reconcileBench(cmd)
	r.reconcileIOCostBench(cmd)
	if err := r.reconcileServices(cmd); err != nil {
		r.log.Log("service reconciliation: %v", err)
	}

	var sliceKnobs model.SliceKnobs
	if err := jsonfile.Load(r.index.Slices, &sliceKnobs); err == nil {
		if err := r.sliceMgr.Apply(sliceKnobs, r.reportSeq); err != nil {
			r.log.Log("applying slices: %v", err)
		}
	}

	var oomdKnobs model.OomdKnobs
	if err := jsonfile.Load(r.index.Oomd, &oomdKnobs); err == nil {
		r.oomdD.Tick(oomdKnobs, r.reportSeq)
	}

	r.reconcileSideloader(cmd)

	r.reportSeq++
	r.reportRF.Data = model.Report{
		Timestamp:  time.Now(),
		Seq:        r.reportSeq,
		BenchHashd: r.currentBenchProgress(),
		Usages:     map[string]model.UsageReport{},
		IOLat:      map[string]model.IOLatPercentiles{},
		IOLatCum:   map[string]model.IOLatPercentiles{},
	}
	return r.reportRF.Commit()
}

// reconcileBench starts a hashd bench run when the command's sequence
// advances past the last committed one. While a run is in flight it
// cancels that run once the command's sequence drops back to or below
// the committed one, and otherwise does nothing.
func (r *Runner) reconcileBench(cmd model.Cmd) {
	r.benchMu.Lock()
	defer r.benchMu.Unlock()

	if r.benchRunning {
		if !model.BenchHashdRequested(cmd, r.bench) && r.benchCancel != nil {
			r.benchCancel()
		}
		return
	}
	if !model.BenchHashdRequested(cmd, r.bench) {
		return
	}

	benchCtx, cancel := context.WithCancel(context.Background())
	r.benchCancel = cancel
	r.benchRunning = true
	r.benchProgress = model.BenchProgress{Phase: benchhashd.PhaseCPUSaturation.String(), Progress: 0}

	go r.runBench(benchCtx, cmd.BenchHashdSeq)
}

func (r *Runner) runBench(ctx context.Context, seq uint64) {
	tf := testfiles.New(r.cfg.ScratchDir, 4<<20, 256)
	params := model.DefaultParams()

	progress := func(phase benchhashd.Phase, frac float64) {
		r.benchMu.Lock()
		r.benchProgress = model.BenchProgress{Phase: phase.String(), Progress: frac}
		r.benchMu.Unlock()
	}
	cancelled := func() bool { return ctx.Err() != nil }

	result, err := benchhashd.Run(tf, params, progress, cancelled, r.log)

	r.benchMu.Lock()
	defer r.benchMu.Unlock()
	r.benchRunning = false
	r.benchProgress = model.BenchProgress{}
	if err != nil {
		r.log.Log("hashd bench failed: %v", err)
		return
	}

	r.bench.Timestamp = time.Now()
	r.bench.HashdSeq = seq
	r.bench.Hashd = result.Knobs
	if saveErr := jsonfile.Save(r.benchPath, r.bench); saveErr != nil {
		r.log.Log("saving bench.json: %v", saveErr)
	}
}

// reconcileIOCostBench samples the scratch device's current io.cost
// model/QoS and commits it to bench.json whenever cmd's IO-cost
// sequence advances past the last committed one. Unlike the hashd
// bench, a sysfs read completes well within one tick, so this runs
// synchronously rather than as a background goroutine.
func (r *Runner) reconcileIOCostBench(cmd model.Cmd) {
	if !model.BenchIOCostRequested(cmd, r.bench) {
		return
	}
	if r.cfg.ScratchDevNr == "" {
		r.log.Log("iocost bench requested but no --dev-nr configured")
		return
	}

	save, err := iocost.ReadFromSys(r.cfg.ScratchDevNr)
	if err != nil {
		r.log.Log("reading io.cost for bench: %v", err)
		return
	}

	r.benchMu.Lock()
	defer r.benchMu.Unlock()
	r.bench.Timestamp = time.Now()
	r.bench.IOCostSeq = cmd.BenchIOCostSeq
	r.bench.IOCost = model.IOCostKnobs{
		DevNr: save.DevNr,
		Model: save.Model,
		QoS:   save.QoS,
	}
	if err := jsonfile.Save(r.benchPath, r.bench); err != nil {
		r.log.Log("saving bench.json: %v", err)
	}
}

func (r *Runner) currentBenchProgress() model.BenchProgress {
	r.benchMu.Lock()
	defer r.benchMu.Unlock()
	return r.benchProgress
}

// reconcileServices computes the desired supervised-service set from
// cmd's intent (hashd-A/B when active, sysload-NAME/sideload-NAME per
// map entry) and starts/stops services to match it.
func (r *Runner) reconcileServices(cmd model.Cmd) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	type desiredSvc struct {
		factory func() *svc.Service
		slice   model.Slice
	}
	desired := make(map[string]desiredSvc)

	for i, hc := range cmd.Hashd {
		if !hc.Active {
			continue
		}
		name := fmt.Sprintf("hashd-%c", 'A'+i)
		idx := r.index.Hashd[i]
		desired[name] = desiredSvc{
			slice: model.SliceWork,
			factory: func() *svc.Service {
				return svc.New(name, r.cfg.HashdBin, []string{
					"--testfiles", r.cfg.ScratchDir,
					"--params", idx.Params,
					"--report", idx.Report,
				})
			},
		}
	}

	var defs model.SideloadDefs
	_ = jsonfile.Load(r.index.SideloadDefs, &defs)

	for jobName, defID := range cmd.Sysloads {
		name := "sysload-" + jobName
		spec, ok := defs.Defs[defID]
		if !ok {
			continue
		}
		desired[name] = desiredSvc{
			slice:   model.SliceSys,
			factory: func() *svc.Service { return svc.New(name, spec.Args[0], spec.Args[1:]) },
		}
	}
	for jobName, defID := range cmd.Sideloads {
		name := "sideload-" + jobName
		spec, ok := defs.Defs[defID]
		if !ok {
			continue
		}
		desired[name] = desiredSvc{
			slice:   model.SliceSide,
			factory: func() *svc.Service { return svc.New(name, spec.Args[0], spec.Args[1:]) },
		}
	}

	var firstErr error
	for name, ds := range desired {
		if _, exists := r.services[name]; exists {
			continue
		}
		s := ds.factory()
		if err := s.Start(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := svc.MoveToSlice(ds.slice.Cgroup(r.cfg.CgroupRoot), s.PID()); err != nil {
			r.log.Log("moving %s into %s: %v", name, ds.slice.Name(), err)
		}
		r.services[name] = s
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), svc.GraceWindow+5*time.Second)
	defer cancel()
	for name, s := range r.services {
		if _, wanted := desired[name]; wanted {
			continue
		}
		if err := s.Stop(stopCtx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.services, name)
	}

	return firstErr
}

// shutdown stops every supervised service and any in-flight bench on
// the way out.
func (r *Runner) shutdown() {
	r.benchMu.Lock()
	if r.benchCancel != nil {
		r.benchCancel()
	}
	r.benchMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), svc.GraceWindow+5*time.Second)
	defer cancel()
	for name, s := range r.services {
		if err := s.Stop(ctx); err != nil {
			r.log.Log("stopping %s: %v", name, err)
		}
	}
}

// reconcileSideloader samples the workload slice's pressure/swap state
// and writes the resulting CPU ceiling to sideload.slice's cpu.max,
// freezing or throttling sideloads per the admission decision.
func (r *Runner) reconcileSideloader(cmd model.Cmd) {
	sample := r.sampleSideloaderState()
	adm := r.sideCtl.Evaluate(sample, cmd.Sideloader.CPUHeadroom)

	path := filepath.Join(model.SliceSide.Cgroup(r.cfg.CgroupRoot), "cpu.max")
	value := "max"
	if adm.CPUMaxPct < 100 {
		// cpu.max takes "$MAX $PERIOD" in microseconds; a 100000us
		// period is the kernel default, scaled by the admitted pct.
		period := 100000
		value = fmt.Sprintf("%d %d", int(float64(period)*adm.CPUMaxPct/100), period)
	}
	if err := os.WriteFile(path, []byte(value), 0); err != nil {
		r.log.Log("applying sideload cpu.max: %v", err)
	}
}

// sampleSideloaderState reads the workload slice's memory/IO pressure
// and the host's free-swap ratio, the inputs the sideloader's
// admission control needs each tick.
func (r *Runner) sampleSideloaderState() sideloader.Sample {
	workDir := model.SliceWork.Cgroup(r.cfg.CgroupRoot)
	return sideloader.Sample{
		Now:           time.Now(),
		BusyRatioMain: readCPUBusyRatio(),
		MemPressure:   readPressureSomeAvg10(filepath.Join(workDir, "memory.pressure")),
		IOPressure:    readPressureSomeAvg10(filepath.Join(workDir, "io.pressure")),
		SwapFreePct:   readSwapFreePct(),
	}
}

func readCPUBusyRatio() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	var one float64
	if _, err := fmt.Sscanf(string(data), "%f", &one); err != nil {
		return 0
	}
	ratio := one
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

func readPressureSomeAvg10(path string) float64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if len(line) >= 4 && line[:4] == "some" {
			var avg10 float64
			fmt.Sscanf(line, "some avg10=%f", &avg10)
			return avg10
		}
	}
	return 0
}

func readSwapFreePct() float64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 100
	}
	var total, free float64
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Sscanf(line, "SwapTotal: %f kB", &total)
		fmt.Sscanf(line, "SwapFree: %f kB", &free)
	}
	if total == 0 {
		return 100
	}
	return free / total * 100
}
