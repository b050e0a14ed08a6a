package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/linuxresctl/resctld/internal/jsonfile"
	"github.com/linuxresctl/resctld/internal/model"
	"github.com/linuxresctl/resctld/internal/rerr"
)

// pollInterval is how often AgentClient re-reads bench.json while
// waiting for a requested benchmark to commit.
const pollInterval = 200 * time.Millisecond

// AgentClient drives a separately-running Agent exclusively through
// its on-disk command/report files — per spec §2/§4.7, the Harness
// never calls into the benchmark routines in-process, only bumps
// cmd.json's sequence numbers and polls bench.json for the Agent's
// committed result, the same file-only boundary the Agent's own
// internal/runner.Runner observes from its side.
//
// Grounded on internal/runner.Runner's cmd.json/bench.json handling
// and model.BenchHashdRequested/BenchIOCostRequested, the sequence
// comparison both sides already share.
type AgentClient struct {
	dir   string
	index model.Index
}

// NewAgentClient loads dir/index.json, the Agent's published file-path
// manifest (written once by runner.New at startup).
func NewAgentClient(dir string) (*AgentClient, error) {
	var idx model.Index
	if err := jsonfile.Load(filepath.Join(dir, "index.json"), &idx); err != nil {
		return nil, rerr.Wrap(rerr.KindEnvironment, "loading agent index.json — is rd-agent running against --dir?", err)
	}
	return &AgentClient{dir: dir, index: idx}, nil
}

// RequestHashdBench bumps cmd.json's bench_hashd_seq and waits for
// bench.json's hashd_seq to catch up, returning the committed
// HashdKnobs or an error if ctx is cancelled or timeout elapses first.
func (a *AgentClient) RequestHashdBench(ctx context.Context, timeout time.Duration) (model.HashdKnobs, error) {
	seq, err := a.bumpCmdSeq(func(cmd *model.Cmd) uint64 {
		cmd.BenchHashdSeq++
		return cmd.BenchHashdSeq
	})
	if err != nil {
		return model.HashdKnobs{}, err
	}

	deadline := time.Now().Add(timeout)
	for {
		var bench model.BenchKnobs
		if err := jsonfile.Load(a.index.Bench, &bench); err == nil && bench.HashdSeq >= seq {
			return bench.Hashd, nil
		}
		if err := a.waitTick(ctx, deadline); err != nil {
			return model.HashdKnobs{}, err
		}
	}
}

// RequestIOCostBench bumps cmd.json's bench_iocost_seq and waits for
// bench.json's iocost_seq to catch up, verifying the committed result
// is for devNr before returning it.
func (a *AgentClient) RequestIOCostBench(ctx context.Context, devNr string, timeout time.Duration) (model.IOCostKnobs, error) {
	seq, err := a.bumpCmdSeq(func(cmd *model.Cmd) uint64 {
		cmd.BenchIOCostSeq++
		return cmd.BenchIOCostSeq
	})
	if err != nil {
		return model.IOCostKnobs{}, err
	}

	deadline := time.Now().Add(timeout)
	for {
		var bench model.BenchKnobs
		if err := jsonfile.Load(a.index.Bench, &bench); err == nil && bench.IOCostSeq >= seq {
			if bench.IOCost.DevNr != devNr {
				return model.IOCostKnobs{}, rerr.New(rerr.KindDeviceMismatch,
					fmt.Sprintf("agent committed io-cost bench for dev %q, requested %q", bench.IOCost.DevNr, devNr))
			}
			return bench.IOCost, nil
		}
		if err := a.waitTick(ctx, deadline); err != nil {
			return model.IOCostKnobs{}, err
		}
	}
}

// bumpCmdSeq loads the live cmd.json, bumps its overall cmd_seq plus
// whichever bench sequence mutate increments, and saves it back,
// returning the new bench sequence the Agent must reach or exceed to
// signal completion.
func (a *AgentClient) bumpCmdSeq(mutate func(*model.Cmd) uint64) (uint64, error) {
	var cmd model.Cmd
	if err := jsonfile.Load(a.index.Cmd, &cmd); err != nil {
		return 0, rerr.Wrap(rerr.KindEnvironment, "loading cmd.json", err)
	}
	cmd.CmdSeq++
	seq := mutate(&cmd)
	if err := jsonfile.Save(a.index.Cmd, cmd); err != nil {
		return 0, rerr.Wrap(rerr.KindTransientIO, "saving cmd.json", err)
	}
	return seq, nil
}

func (a *AgentClient) waitTick(ctx context.Context, deadline time.Time) error {
	if time.Now().After(deadline) {
		return rerr.New(rerr.KindBenchmarkFailure, "timed out waiting for agent to commit bench.json")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(pollInterval):
		return nil
	}
}
