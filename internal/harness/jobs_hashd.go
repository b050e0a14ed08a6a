package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/linuxresctl/resctld/internal/model"
)

// hashdBenchTimeout bounds how long a hashd-params job waits for the
// Agent to commit a requested bench to bench.json.
const hashdBenchTimeout = 10 * time.Minute

func init() {
	Register("hashd-params", func() Handle { return &hashdParamsJob{} })
}

// hashdParamsJob drives rd-hashd's self-calibration bench by asking a
// separately-running Agent to run it — per spec §2/§4.7 the Harness
// never runs benchhashd in-process, only bumps cmd.json and polls
// bench.json through AgentClient — and reduces repeated runs to a
// median HashdKnobs, the same role resctl-bench's hashd-params job
// plays for the upstream.
type hashdParamsJob struct{}

func (j *hashdParamsJob) Sysreqs() []model.SysReq {
	return []model.SysReq{model.SysReqControllers, model.SysReqIOCost}
}

func (j *hashdParamsJob) Run(ctx context.Context, spec model.JobSpec) (RunResult, error) {
	dir := propString(spec, "dir", "/var/lib/resctl-demo")
	agent, err := NewAgentClient(dir)
	if err != nil {
		return RunResult{}, err
	}
	knobs, err := agent.RequestHashdBench(ctx, hashdBenchTimeout)
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{Data: knobs}, nil
}

func (j *hashdParamsJob) Study(spec model.JobSpec, results []RunResult) (Study, error) {
	knobsList := make([]model.HashdKnobs, 0, len(results))
	for _, r := range results {
		if k, ok := r.Data.(model.HashdKnobs); ok {
			knobsList = append(knobsList, k)
		}
	}
	return Study{
		Spec:     spec,
		Data:     medianHashdKnobs(knobsList),
		Accepted: len(knobsList),
		Rejected: len(results) - len(knobsList),
	}, nil
}

func (j *hashdParamsJob) Format(s Study) string {
	k, ok := s.Data.(model.HashdKnobs)
	if !ok {
		return "hashd-params: no result\n"
	}
	return fmt.Sprintf(
		"hashd-params: rps_max=%d hash_size=%d mem_size=%d mem_frac=%.3f (%d/%d runs accepted)\n",
		k.RPSMax, k.HashSize, k.MemSize, k.MemFrac, s.Accepted, s.Accepted+s.Rejected)
}

// medianHashdKnobs reduces repeated bench runs to the per-field median
// of rps_max, hash_size, mem_size and mem_frac (the upper middle value
// for an even count); chunk_pages and fake_cpu_load are taken from the
// first run. Unlike iocost.MergeRuns, no outlier rejection is applied.
func medianHashdKnobs(runs []model.HashdKnobs) model.HashdKnobs {
	if len(runs) == 0 {
		return model.HashdKnobs{}
	}
	rpsMax := make([]uint64, len(runs))
	hashSize := make([]uint64, len(runs))
	memSize := make([]uint64, len(runs))
	memFrac := make([]float64, len(runs))
	for i, r := range runs {
		rpsMax[i], hashSize[i], memSize[i], memFrac[i] = r.RPSMax, r.HashSize, r.MemSize, r.MemFrac
	}
	return model.HashdKnobs{
		RPSMax:      medianUint64(rpsMax),
		HashSize:    medianUint64(hashSize),
		MemSize:     medianUint64(memSize),
		MemFrac:     medianFloat64(memFrac),
		ChunkPages:  runs[0].ChunkPages,
		FakeCPULoad: runs[0].FakeCPULoad,
	}
}

func medianUint64(vals []uint64) uint64 {
	sorted := append([]uint64(nil), vals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

func medianFloat64(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

func propString(spec model.JobSpec, key, dflt string) string {
	if len(spec.Props) == 0 {
		return dflt
	}
	if v, ok := spec.Props[0][key]; ok && v != "" {
		return v
	}
	return dflt
}
