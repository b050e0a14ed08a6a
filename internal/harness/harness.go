// Package harness is resctl-bench's job driver: a registry of handles
// keyed by JobSpec.Kind, each knowing how to check its prerequisites,
// run one repetition, and reduce a set of repeated runs into a single
// studied result. The Harness itself only sequences handles; each
// handle owns its own run/study logic, including any outlier rejection.
//
// Grounded on the teacher's internal/executor/registry.go (the
// name-keyed ToolSpec registry, adapted from BCC-tool invocation specs
// to bench-job handles) and on
// original_source/resctl-bench/src/bench/merge_info.rs's Job trait
// (sysreqs/run/study/format), reproduced here as a plain Go interface
// instead of a trait object.
package harness

import (
	"context"
	"fmt"

	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/rerr"
	"github.com/linuxresctl/resctld/internal/rlog"
)

// RunResult is one repetition's raw measurement, opaque to the
// Harness: only the owning Handle knows how to interpret Data.
type RunResult struct {
	Data interface{}
}

// Study is a handle's reduced result across every accepted repetition,
// plus the set of repetitions it rejected as outliers.
type Study struct {
	Spec     model.JobSpec
	Data     interface{}
	Accepted int
	Rejected int
}

// Handle is implemented by each registered job kind.
type Handle interface {
	// Sysreqs lists the system requirements this job depends on.
	Sysreqs() []model.SysReq
	// Run executes one repetition against spec's props.
	Run(ctx context.Context, spec model.JobSpec) (RunResult, error)
	// Study reduces repeated Run results into one studied value,
	// rejecting outliers by whatever criterion fits the job kind.
	Study(spec model.JobSpec, results []RunResult) (Study, error)
	// Format renders a Study as a human-readable report section.
	Format(s Study) string
}

// registry maps a JobSpec.Kind to the Handle that drives it.
var registry = map[string]func() Handle{}

// Register adds a handle factory under kind. Called from each job
// kind's init().
func Register(kind string, factory func() Handle) {
	registry[kind] = factory
}

// Lookup returns the registered factory's handle for kind, or false if
// no handle is registered.
func Lookup(kind string) (Handle, bool) {
	factory, ok := registry[kind]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Harness sequences job specs against the registry: checking sysreqs,
// running the configured number of repetitions, then studying them.
type Harness struct {
	log     *rlog.Logger
	sysreqs model.SysReqsReport
}

// New creates a Harness against a previously probed sysreqs report;
// jobs whose requirements aren't satisfied are skipped with an error
// rather than attempted.
func New(sysreqs model.SysReqsReport, log *rlog.Logger) *Harness {
	return &Harness{log: log, sysreqs: sysreqs}
}

func (h *Harness) satisfies(reqs []model.SysReq) error {
	missed := make(map[model.SysReq]bool, len(h.sysreqs.Missed))
	for _, r := range h.sysreqs.Missed {
		missed[r] = true
	}
	for _, r := range reqs {
		if missed[r] {
			return rerr.New(rerr.KindEnvironment, fmt.Sprintf("unsatisfied system requirement: %s", r))
		}
	}
	return nil
}

// RunJob looks up spec.Kind's handle, verifies its sysreqs, runs it
// repeat times (repeat<1 is treated as 1), and studies the results.
func (h *Harness) RunJob(ctx context.Context, spec model.JobSpec, repeat int) (Study, error) {
	handle, ok := Lookup(spec.Kind)
	if !ok {
		return Study{}, rerr.New(rerr.KindConfiguration, fmt.Sprintf("no handle registered for job kind %q", spec.Kind))
	}
	if err := h.satisfies(handle.Sysreqs()); err != nil {
		return Study{}, err
	}
	if repeat < 1 {
		repeat = 1
	}

	var results []RunResult
	for i := 0; i < repeat; i++ {
		if ctx.Err() != nil {
			return Study{}, rerr.Wrap(rerr.KindBenchmarkFailure, spec.String()+" cancelled", ctx.Err())
		}
		h.log.Log("%s: run %d/%d", spec, i+1, repeat)
		res, err := handle.Run(ctx, spec)
		if err != nil {
			h.log.Log("%s: run %d failed: %v", spec, i+1, err)
			continue
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return Study{}, rerr.New(rerr.KindBenchmarkFailure, spec.String()+": every repetition failed")
	}

	study, err := handle.Study(spec, results)
	if err != nil {
		return Study{}, rerr.Wrap(rerr.KindBenchmarkFailure, spec.String()+": study failed", err)
	}
	return study, nil
}

// Format renders spec.Kind's handle's report for an already-studied
// result, used both right after RunJob and when replaying an archived
// result passively.
func (h *Harness) Format(spec model.JobSpec, s Study) (string, error) {
	handle, ok := Lookup(spec.Kind)
	if !ok {
		return "", rerr.New(rerr.KindConfiguration, fmt.Sprintf("no handle registered for job kind %q", spec.Kind))
	}
	return handle.Format(s), nil
}
