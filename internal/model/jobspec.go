package model

import (
	"sort"
	"strings"
)

// JobProps is one bench's property groups — most jobs have a single
// group, but some (e.g. protection benches driving multiple scenarios)
// use several, separated by ':' in the CLI string form.
type JobProps []map[string]string

// FormatJobProps renders props back to the `k=v,k=v:k=v` CLI form,
// with keys sorted for determinism.
func FormatJobProps(props JobProps) string {
	var groups []string
	for _, group := range props {
		keys := make([]string, 0, len(group))
		for k := range group {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			if v := group[k]; v != "" {
				parts = append(parts, k+"="+v)
			} else {
				parts = append(parts, k)
			}
		}
		groups = append(groups, strings.Join(parts, ","))
	}
	return strings.Join(groups, ":")
}

// JobSpec is one bench invocation: a registered kind, an optional id
// disambiguating multiple instances of the same kind, an optional
// "passive" marker (study/format an existing result without running
// anything), and its property groups.
type JobSpec struct {
	Kind    string   `json:"kind"`
	ID      string   `json:"id,omitempty"`
	Passive string   `json:"passive,omitempty"`
	Props   JobProps `json:"props"`
}

// ignoredCompatProps are stripped before comparing two specs for
// result-reuse compatibility, since they affect how a job is driven,
// not what it measures.
var ignoredCompatProps = map[string]bool{"apply": true, "commit": true}

// Compatible reports whether self and other would produce comparable
// results: equal kind/id/passive and equal props after stripping the
// ignored keys from every property group of each spec.
func (s JobSpec) Compatible(o JobSpec) bool {
	if s.Kind != o.Kind || s.ID != o.ID || s.Passive != o.Passive {
		return false
	}
	if len(s.Props) != len(o.Props) {
		return false
	}
	strip := func(p JobProps) JobProps {
		out := make(JobProps, len(p))
		for i, g := range p {
			ng := make(map[string]string, len(g))
			for k, v := range g {
				if !ignoredCompatProps[k] {
					ng[k] = v
				}
			}
			out[i] = ng
		}
		return out
	}
	a, b := strip(s.Props), strip(o.Props)
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for k, v := range a[i] {
			if b[i][k] != v {
				return false
			}
		}
	}
	return true
}

// String renders "job[kind:id]" (id shown as "-" when empty), matching
// the upstream Display impl used in log/diagnostic lines.
func (s JobSpec) String() string {
	id := s.ID
	if id == "" {
		id = "-"
	}
	return "job[" + s.Kind + ":" + id + "]"
}

// JobCtx accumulates a running or completed job's bookkeeping: its
// spec, timing, sysreqs outcome and result payload.
type JobCtx struct {
	Spec       JobSpec                `json:"spec"`
	StartedAt  string                 `json:"started_at,omitempty"`
	EndedAt    string                 `json:"ended_at,omitempty"`
	SysReqs    SysReqsReport          `json:"sysreqs"`
	Result     map[string]interface{} `json:"result,omitempty"`
}
