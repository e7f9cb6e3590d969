// Package engine resolves analysis dependency graphs and executes them in
// topological order against one evaluation: compute, render figures, and
// persist every figure leaf to the catalog.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/ctxlog"
	"github.com/vk/policylab/internal/registry"
	"github.com/vk/policylab/internal/store"
)

// Options carries the run-level knobs the CLI exposes.
type Options struct {
	// FigDumpPath, when set, additionally writes rendered figures (plus a
	// parameter sidecar) under this directory.
	FigDumpPath string
	// FigDumpFormats selects the dump formats; empty means all supported.
	FigDumpFormats []string
	// CacheDir is the evaluation-state cache directory.
	CacheDir string
	// NoCacheRead recomputes states even when a cache entry exists.
	NoCacheRead bool
	// NoCacheWrite skips writing computed states back to the cache.
	NoCacheWrite bool
}

// Engine drives one analysis run. Execution is single-threaded; ordering
// is dependency order, then request order among siblings.
type Engine struct {
	store *store.Store
	reg   *registry.Registry
	opts  Options
}

func New(st *store.Store, reg *registry.Registry, opts Options) *Engine {
	return &Engine{store: st, reg: reg, opts: opts}
}

// StateCache returns the evaluation-state cache configured by the engine
// options.
func (e *Engine) StateCache() *StateCache {
	return NewStateCache(e.opts.CacheDir, e.opts.NoCacheRead, e.opts.NoCacheWrite)
}

// Node statuses reported after a run.
const (
	StatusComputed = "computed"
	StatusSkipped  = "skipped"
)

// NodeReport describes the outcome of one graph node. Node is the factory
// name; Key is the full identity key distinguishing same-named nodes with
// different parameters.
type NodeReport struct {
	Node    string
	Key     string
	Status  string
	Reason  string
	Figures int
}

// Report summarizes an engine run.
type Report struct {
	Nodes   []NodeReport
	Figures int
}

// Skipped returns the reports of skipped nodes.
func (r *Report) Skipped() []NodeReport {
	var out []NodeReport
	for _, n := range r.Nodes {
		if n.Status == StatusSkipped {
			out = append(out, n)
		}
	}
	return out
}

// Run resolves the module's requested analyses into a dependency graph and
// executes it. Dependency nodes only compute; requested nodes additionally
// render and persist figures. A node with an unmet condition is skipped,
// as is any node that reports it cannot proceed without a skipped
// dependency's result. Any other failure aborts the run.
func (e *Engine) Run(
	ctx context.Context,
	mod *registry.StudyModule,
	data analysis.InputData,
	eval *store.EvaluationRecord,
) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	g, err := buildGraph(e.reg, mod.Analyses)
	if err != nil {
		return nil, fmt.Errorf("resolve analysis graph for module %q: %w", mod.ID, err)
	}
	logger.Info("Dependency graph resolved.", "module", mod.ID, "nodes", len(g.order))

	hps, err := analysis.FirstHyperparams(data.Hps)
	if err != nil {
		return nil, err
	}

	results := make(map[string]any)
	computed := make(map[string]bool)
	report := &Report{}

	for _, n := range g.order {
		nr := NodeReport{Node: n.spec.Node, Key: n.key}

		if reason, err := e.unmetCondition(n.inst, data); err != nil {
			return nil, fmt.Errorf("analysis %q: %w", n.spec.Node, err)
		} else if reason != "" {
			logger.Info("Skipping analysis.", "node", n.spec.Node, "reason", reason)
			nr.Status = StatusSkipped
			nr.Reason = reason
			report.Nodes = append(report.Nodes, nr)
			continue
		}

		vdata, err := data.ForVariant(n.inst.Variant())
		if err != nil {
			return nil, fmt.Errorf("analysis %q: %w", n.spec.Node, err)
		}

		// Skipped dependencies are absent from the map rather than nil,
		// so dependents can distinguish "skipped" from "computed nil".
		deps := make(map[string]any, len(n.deps))
		for _, name := range n.depOrder {
			dep := n.deps[name]
			if computed[dep.key] {
				deps[name] = results[dep.key]
			}
		}

		logger.Debug("Computing analysis.", "node", n.spec.Node)
		result, err := n.inst.Compute(ctx, vdata, deps)
		if err != nil {
			if errors.Is(err, analysis.ErrSkip) {
				logger.Info("Skipping analysis.", "node", n.spec.Node, "reason", err.Error())
				nr.Status = StatusSkipped
				nr.Reason = err.Error()
				report.Nodes = append(report.Nodes, nr)
				continue
			}
			return nil, fmt.Errorf("compute %q: %w", n.spec.Node, err)
		}
		results[n.key] = result
		computed[n.key] = true
		nr.Status = StatusComputed

		if n.requested {
			figs, err := n.inst.MakeFigs(ctx, vdata, result, deps)
			if err != nil {
				if errors.Is(err, analysis.ErrSkip) {
					logger.Info("Skipping figures.", "node", n.spec.Node, "reason", err.Error())
					report.Nodes = append(report.Nodes, nr)
					continue
				}
				return nil, fmt.Errorf("make figures for %q: %w", n.spec.Node, err)
			}
			count, err := e.persistFigures(ctx, n, vdata, result, figs, eval, mod.AxisParams, hps.EvalN)
			if err != nil {
				return nil, fmt.Errorf("persist figures for %q: %w", n.spec.Node, err)
			}
			nr.Figures = count
			report.Figures += count
			logger.Info("Analysis complete.", "node", n.spec.Node, "figures", count)
		}

		report.Nodes = append(report.Nodes, nr)
	}

	logger.Info("Run complete.",
		"module", mod.ID,
		"nodes", len(report.Nodes),
		"skipped", len(report.Skipped()),
		"figures", report.Figures,
	)
	return report, nil
}

// unmetCondition returns a reason naming the first failing condition, or
// "" when all conditions hold.
func (e *Engine) unmetCondition(inst analysis.Analysis, data analysis.InputData) (string, error) {
	for _, name := range inst.Conditions() {
		cond, err := e.reg.ConditionFn(name)
		if err != nil {
			return "", err
		}
		if !cond(data) {
			return fmt.Sprintf("condition %q unmet", name), nil
		}
	}
	return "", nil
}
