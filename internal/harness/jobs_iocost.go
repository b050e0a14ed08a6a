package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/linuxresctl/resctld/internal/iocost"
	"github.com/linuxresctl/resctld/internal/model"
)

func init() {
	Register("iocost-qos", func() Handle { return &iocostQoSJob{} })
}

// iocostBenchTimeout bounds how long an iocost-qos job waits for the
// Agent to sample and commit io.cost state to bench.json.
const iocostBenchTimeout = time.Minute

// iocostQoSJob drives iocost model calibration by asking a
// separately-running Agent to sample the target device's currently
// configured io.cost.model coefficients (populated by an external
// calibration run, as the upstream iocost-qos job's fio-driven ramp is
// out of scope for this harness) through AgentClient rather than
// reading sysfs in-process — per spec §2/§4.7's file-only Harness/Agent
// boundary — and Study merges the repeated samples with
// iocost.MergeRuns' Chauvenet-filtered median before applying the
// min-vrate floor.
type iocostQoSJob struct{}

func (j *iocostQoSJob) Sysreqs() []model.SysReq {
	return []model.SysReq{model.SysReqIOCost, model.SysReqIOCostVer}
}

func (j *iocostQoSJob) Run(ctx context.Context, spec model.JobSpec) (RunResult, error) {
	if ctx.Err() != nil {
		return RunResult{}, ctx.Err()
	}
	devNr := propString(spec, "dev", "")
	if devNr == "" {
		return RunResult{}, fmt.Errorf("iocost-qos: job spec missing required \"dev\" property")
	}
	dir := propString(spec, "dir", "/var/lib/resctl-demo")
	agent, err := NewAgentClient(dir)
	if err != nil {
		return RunResult{}, err
	}
	knobs, err := agent.RequestIOCostBench(ctx, devNr, iocostBenchTimeout)
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{Data: knobs.Model}, nil
}

func (j *iocostQoSJob) Study(spec model.JobSpec, results []RunResult) (Study, error) {
	models := make([]model.IOCostModelKnobs, 0, len(results))
	for _, r := range results {
		if m, ok := r.Data.(model.IOCostModelKnobs); ok {
			models = append(models, m)
		}
	}
	merged := iocost.ApplyMinVrateFloor(iocost.MergeRuns(models))
	return Study{Spec: spec, Data: merged, Accepted: len(models)}, nil
}

func (j *iocostQoSJob) Format(s Study) string {
	m, ok := s.Data.(model.IOCostModelKnobs)
	if !ok {
		return "iocost-qos: no result\n"
	}
	return fmt.Sprintf(
		"iocost-qos: rbps=%d rseqiops=%d rrandiops=%d wbps=%d wseqiops=%d wrandiops=%d (%d runs merged)\n",
		m.RBPS, m.RSeqIOPS, m.RRandIOPS, m.WBPS, m.WSeqIOPS, m.WRandIOPS, s.Accepted)
}
