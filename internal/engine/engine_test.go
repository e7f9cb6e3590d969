package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/figure"
	"github.com/vk/policylab/internal/ldict"
	"github.com/vk/policylab/internal/registry"
	"github.com/vk/policylab/internal/store"
	"github.com/vk/policylab/internal/tree"
)

// leafMean is a minimal real analysis: it averages each states leaf and
// renders one figure per leaf.
type leafMean struct {
	analysis.Base
}

func (leafMean) Variant() string { return "" }

func (leafMean) Compute(ctx context.Context, data analysis.InputData, deps map[string]any) (any, error) {
	return tree.Map(data.States, func(leaf any) any {
		vals, ok := leaf.([]float64)
		if !ok {
			return leaf
		}
		var sum float64
		for _, v := range vals {
			sum += v
		}
		return sum / float64(len(vals))
	}, nil), nil
}

func (leafMean) MakeFigs(ctx context.Context, data analysis.InputData, result any, deps map[string]any) (any, error) {
	return tree.Map(result, func(leaf any) any {
		mean, ok := leaf.(float64)
		if !ok {
			return nil
		}
		return &figure.Figure{
			Title:  "leaf mean",
			Kind:   "scatter",
			Traces: []figure.Trace{{Name: "mean", X: []float64{0}, Y: []float64{mean}}},
		}
	}, nil), nil
}

// countingNode counts Compute invocations through a shared counter.
type countingNode struct {
	analysis.Base
	calls *int
}

func (countingNode) Variant() string { return "" }

func (c countingNode) Compute(ctx context.Context, data analysis.InputData, deps map[string]any) (any, error) {
	*c.calls++
	return "shared-result", nil
}

// relayNode passes its single dependency's result through and renders one
// figure from it. It strictly requires the dependency.
type relayNode struct {
	analysis.Base
	dep analysis.Spec
}

func (relayNode) Variant() string { return "" }

func (r relayNode) Dependencies() map[string]analysis.Spec {
	return map[string]analysis.Spec{"x": r.dep}
}

func (r relayNode) Compute(ctx context.Context, data analysis.InputData, deps map[string]any) (any, error) {
	if err := analysis.RequireDeps(deps, "x"); err != nil {
		return nil, err
	}
	return deps["x"], nil
}

func (r relayNode) MakeFigs(ctx context.Context, data analysis.InputData, result any, deps map[string]any) (any, error) {
	return &figure.Figure{Title: fmt.Sprintf("%v", result), Kind: "scatter"}, nil
}

func newTestEngine(t *testing.T, reg *registry.Registry, opts Options) (*Engine, *store.Store, *store.EvaluationRecord) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	eval, err := st.AddEvaluation(context.Background(), nil, "test-run",
		map[string]any{"eval_n": 5}, t.TempDir())
	require.NoError(t, err)

	return New(st, reg, opts), st, eval
}

func singleHps(evalN int) any {
	return &analysis.Hyperparams{EvalN: evalN, Seed: 1}
}

func TestSharedDependencyComputesOnce(t *testing.T) {
	reg := registry.New()
	calls := 0
	reg.RegisterAnalysis("shared", func(params map[string]any) (analysis.Analysis, error) {
		return countingNode{calls: &calls}, nil
	})
	reg.RegisterAnalysis("relay", func(params map[string]any) (analysis.Analysis, error) {
		return relayNode{dep: analysis.NewSpec("shared", nil)}, nil
	})

	eng, _, eval := newTestEngine(t, reg, Options{})
	mod := &registry.StudyModule{
		ID: "memo",
		Analyses: []analysis.Spec{
			analysis.NewSpec("relay", map[string]any{"which": "a"}),
			analysis.NewSpec("relay", map[string]any{"which": "b"}),
		},
	}

	report, err := eng.Run(context.Background(), mod, analysis.InputData{Hps: singleHps(5)}, eval)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "shared dependency must compute exactly once")
	require.Len(t, report.Nodes, 3)
	for _, nr := range report.Nodes {
		assert.Equal(t, StatusComputed, nr.Status)
	}
	assert.Equal(t, 2, report.Figures)
}

func TestCycleDetectedBeforeAnyCompute(t *testing.T) {
	reg := registry.New()
	reg.RegisterAnalysis("ping", func(params map[string]any) (analysis.Analysis, error) {
		return relayNode{dep: analysis.NewSpec("pong", nil)}, nil
	})
	reg.RegisterAnalysis("pong", func(params map[string]any) (analysis.Analysis, error) {
		return relayNode{dep: analysis.NewSpec("ping", nil)}, nil
	})

	eng, _, eval := newTestEngine(t, reg, Options{})
	mod := &registry.StudyModule{
		ID:       "cyclic",
		Analyses: []analysis.Spec{analysis.NewSpec("ping", nil)},
	}

	_, err := eng.Run(context.Background(), mod, analysis.InputData{Hps: singleHps(1)}, eval)
	require.ErrorIs(t, err, ErrCyclicDependency)
}

func TestConditionSkipPropagation(t *testing.T) {
	reg := registry.New()
	gatedCalls := 0
	reg.RegisterAnalysis("gated", func(params map[string]any) (analysis.Analysis, error) {
		return gatedNode{calls: &gatedCalls}, nil
	})
	reg.RegisterAnalysis("relay", func(params map[string]any) (analysis.Analysis, error) {
		return relayNode{dep: analysis.NewSpec("gated", nil)}, nil
	})
	reg.RegisterAnalysis("mean", func(params map[string]any) (analysis.Analysis, error) {
		return leafMean{}, nil
	})

	eng, st, eval := newTestEngine(t, reg, Options{})
	mod := &registry.StudyModule{
		ID: "gating",
		Analyses: []analysis.Spec{
			analysis.NewSpec("gated", nil),
			analysis.NewSpec("relay", nil),
			analysis.NewSpec("mean", nil),
		},
	}
	data := analysis.InputData{
		States: ldict.New("cond", ldict.Pair{K: "a", V: []float64{2, 4}}),
		Hps:    singleHps(1),
	}

	report, err := eng.Run(context.Background(), mod, data, eval)
	require.NoError(t, err, "unmet conditions skip, they do not fail")

	assert.Zero(t, gatedCalls, "gated node must not compute when its condition is unmet")

	byNode := map[string]NodeReport{}
	for _, nr := range report.Nodes {
		byNode[nr.Node] = nr
	}
	assert.Equal(t, StatusSkipped, byNode["gated"].Status)
	assert.Contains(t, byNode["gated"].Reason, "multi_eval")
	assert.Equal(t, StatusSkipped, byNode["relay"].Status, "strict dependents of a skipped node skip too")
	assert.Equal(t, StatusComputed, byNode["mean"].Status, "unrelated siblings still run")
	assert.Equal(t, 1, byNode["mean"].Figures)

	figs, err := st.QueryFigures(context.Background(), eval.ID)
	require.NoError(t, err)
	assert.Len(t, figs, 1)
}

type gatedNode struct {
	analysis.Base
	calls *int
}

func (gatedNode) Variant() string      { return "" }
func (gatedNode) Conditions() []string { return []string{"multi_eval"} }

func (g gatedNode) Compute(ctx context.Context, data analysis.InputData, deps map[string]any) (any, error) {
	*g.calls++
	return "gated-result", nil
}

func TestEndToEndTwoLevelStates(t *testing.T) {
	reg := registry.New()
	reg.RegisterAnalysis("mean", func(params map[string]any) (analysis.Analysis, error) {
		return variantMean{}, nil
	})

	dump := t.TempDir()
	eng, st, eval := newTestEngine(t, reg, Options{
		FigDumpPath:    dump,
		FigDumpFormats: []string{"json"},
	})
	mod := &registry.StudyModule{
		ID:         "e2e",
		Analyses:   []analysis.Spec{analysis.NewSpec("mean", nil)},
		AxisParams: map[string]string{"train_pert_std": "train_pert_std"},
	}

	states := ldict.New("variant", ldict.Pair{K: "main", V: ldict.New("train_pert_std",
		ldict.Pair{K: 0.0, V: []float64{1, 3}},
		ldict.Pair{K: 1.0, V: []float64{5, 7}},
	)})
	hps := ldict.New("variant", ldict.Pair{K: "main", V: singleHps(5)})

	report, err := eng.Run(context.Background(), mod,
		analysis.InputData{States: states, Hps: hps}, eval)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Figures)

	figs, err := st.QueryFigures(context.Background(), eval.ID)
	require.NoError(t, err)
	require.Len(t, figs, 2)

	seen := map[any]bool{}
	for _, f := range figs {
		assert.Contains(t, f.Identifier, "mean/")
		assert.FileExists(t, f.FilePath)
		assert.EqualValues(t, 5, f.Params["eval_n"])
		seen[f.Params["train_pert_std"]] = true
	}
	assert.Len(t, seen, 2, "each leaf carries its own axis value")

	// One dumped payload and one sidecar per figure.
	for _, f := range figs {
		base := filepath.Join(dump, filepath.FromSlash(f.Identifier))
		assert.FileExists(t, base+".json")
		assert.FileExists(t, base+".params.yaml")
	}
}

// variantMean is leafMean pinned to the default "main" variant.
type variantMean struct {
	leafMean
}

func (variantMean) Variant() string { return "main" }

// figPair renders two sibling figures inside a plain slice, with no axis
// labels on the path.
type figPair struct {
	analysis.Base
}

func (figPair) Variant() string { return "" }

func (figPair) MakeFigs(ctx context.Context, data analysis.InputData, result any, deps map[string]any) (any, error) {
	return []any{
		&figure.Figure{Title: "first", Kind: "scatter"},
		&figure.Figure{Title: "second", Kind: "scatter"},
	}, nil
}

func TestUnlabeledSiblingFiguresPersistSeparately(t *testing.T) {
	reg := registry.New()
	reg.RegisterAnalysis("pair", func(params map[string]any) (analysis.Analysis, error) {
		return figPair{}, nil
	})

	eng, st, eval := newTestEngine(t, reg, Options{})
	mod := &registry.StudyModule{
		ID:       "pair",
		Analyses: []analysis.Spec{analysis.NewSpec("pair", nil)},
	}

	report, err := eng.Run(context.Background(), mod, analysis.InputData{Hps: singleHps(1)}, eval)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Figures)

	figs, err := st.QueryFigures(context.Background(), eval.ID)
	require.NoError(t, err)
	require.Len(t, figs, 2, "every rendered figure lands in the catalog")
	assert.NotEqual(t, figs[0].Identifier, figs[1].Identifier,
		"slice indices distinguish siblings without axis labels")
}

func TestStateCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := NewStateCache(dir, false, false)
	ctx := context.Background()
	hps := &analysis.Hyperparams{EvalN: 3, Seed: 7}

	_, ok := c.Load(ctx, "study", nil, hps)
	assert.False(t, ok, "empty cache misses")

	states := ldict.New("train_pert_std",
		ldict.Pair{K: 0.0, V: []float64{1, 2}},
		ldict.Pair{K: 1.0, V: []float64{3, 4}},
	)
	c.Save(ctx, "study", nil, hps, states)

	got, ok := c.Load(ctx, "study", nil, hps)
	require.True(t, ok)
	require.True(t, ldict.Equal(got.(*ldict.LDict), states))

	// A different hyperparameter set misses.
	_, ok = c.Load(ctx, "study", nil, &analysis.Hyperparams{EvalN: 4, Seed: 7})
	assert.False(t, ok)
}

func TestStateCacheScopedByModuleAndModel(t *testing.T) {
	dir := t.TempDir()
	c := NewStateCache(dir, false, false)
	ctx := context.Background()
	hps := &analysis.Hyperparams{EvalN: 1, Seed: 5}

	c.Save(ctx, "plantperts", nil, hps, []float64{1, 2})

	_, ok := c.Load(ctx, "feedbackperts", nil, hps)
	assert.False(t, ok, "one module's states never serve another module")

	modelID := int64(7)
	_, ok = c.Load(ctx, "plantperts", &modelID, hps)
	assert.False(t, ok, "selecting a model record changes the states")

	got, ok := c.Load(ctx, "plantperts", nil, hps)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, got)
}

func TestStateCacheCorruptEntryIsAMiss(t *testing.T) {
	dir := t.TempDir()
	c := NewStateCache(dir, false, false)
	ctx := context.Background()
	hps := &analysis.Hyperparams{EvalN: 1}

	key, err := c.Key("study", nil, hps)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+".states"), []byte("not gob"), 0o644))

	_, ok := c.Load(ctx, "study", nil, hps)
	assert.False(t, ok, "corrupt entries fall back to recompute")
}

func TestStateCacheFlags(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	hps := &analysis.Hyperparams{EvalN: 2}

	noWrite := NewStateCache(dir, false, true)
	noWrite.Save(ctx, "study", nil, hps, []float64{1})
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	rw := NewStateCache(dir, false, false)
	rw.Save(ctx, "study", nil, hps, []float64{1})
	noRead := NewStateCache(dir, true, false)
	_, ok := noRead.Load(ctx, "study", nil, hps)
	assert.False(t, ok)
}
