package plantperts

import (
	"context"
	"fmt"

	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/figure"
	"github.com/vk/policylab/internal/ldict"
	"github.com/vk/policylab/internal/tree"
)

// effectorTrajectories renders raw effector trajectories straight from
// the states tree. It computes nothing itself and uses the small variant:
// per-evaluation traces for every amplitude are unreadable.
type effectorTrajectories struct {
	analysis.Base
}

func (effectorTrajectories) Variant() string { return "small" }

func (effectorTrajectories) MakeFigs(ctx context.Context, data analysis.InputData, result any, deps map[string]any) (any, error) {
	return tree.Map(data.States, func(leaf any) any {
		st, ok := leaf.(*States)
		if !ok {
			return nil
		}
		fig := &figure.Figure{Title: "Effector trajectories", Kind: "scatter"}
		for i, pos := range st.Pos {
			fig.Traces = append(fig.Traces, figure.Trace{
				Name: fmt.Sprintf("eval %d", i),
				X:    timeAxis(len(pos)),
				Y:    pos,
			})
		}
		return fig
	}, nil), nil
}

// alignedVars shifts each trajectory so the configured origin sits at
// zero, the common frame for cross-amplitude comparisons.
type alignedVars struct {
	analysis.Base
	origin string
}

func newAlignedVars(params map[string]any) (analysis.Analysis, error) {
	origin, _ := params["origin"].(string)
	if origin == "" {
		origin = "onset"
	}
	if origin != "onset" && origin != "goal" {
		return nil, fmt.Errorf("aligned_vars: unknown origin %q", origin)
	}
	return &alignedVars{origin: origin}, nil
}

func (a *alignedVars) DefaultParams() map[string]any {
	return map[string]any{"origin": "onset"}
}

func (a *alignedVars) Compute(ctx context.Context, data analysis.InputData, deps map[string]any) (any, error) {
	return tree.Map(data.States, func(leaf any) any {
		st, ok := leaf.(*States)
		if !ok {
			return leaf
		}
		out := &AlignedVars{
			Origin: a.origin,
			Pos:    make([][]float64, len(st.Pos)),
			Vel:    make([][]float64, len(st.Vel)),
		}
		for i := range st.Pos {
			out.Pos[i] = alignRow(st.Pos[i], a.origin)
			out.Vel[i] = alignRow(st.Vel[i], a.origin)
		}
		return out
	}, nil), nil
}

func alignRow(row []float64, origin string) []float64 {
	if len(row) == 0 {
		return nil
	}
	ref := row[pertOnsetStep]
	if origin == "goal" {
		ref = row[len(row)-1]
	}
	out := make([]float64, len(row))
	for t, v := range row {
		out[t] = v - ref
	}
	return out
}

// alignedTrajectories plots goal-aligned trajectories. It computes
// nothing of its own; the aligned_vars dependency does the work, tuned
// here to goal alignment instead of its default.
type alignedTrajectories struct {
	analysis.Base
}

func (alignedTrajectories) Dependencies() map[string]analysis.Spec {
	return map[string]analysis.Spec{
		"aligned": analysis.NewSpec("aligned_vars", nil),
	}
}

func (alignedTrajectories) DependencyParams() map[string]map[string]any {
	return map[string]map[string]any{
		"aligned": {"origin": "goal"},
	}
}

func (alignedTrajectories) Compute(ctx context.Context, data analysis.InputData, deps map[string]any) (any, error) {
	if err := analysis.RequireDeps(deps, "aligned"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (alignedTrajectories) MakeFigs(ctx context.Context, data analysis.InputData, result any, deps map[string]any) (any, error) {
	if err := analysis.RequireDeps(deps, "aligned"); err != nil {
		return nil, err
	}
	return tree.Map(deps["aligned"], func(leaf any) any {
		av, ok := leaf.(*AlignedVars)
		if !ok {
			return nil
		}
		fig := &figure.Figure{Title: "Aligned trajectories", Kind: "scatter"}
		for i, pos := range av.Pos {
			fig.Traces = append(fig.Traces, figure.Trace{
				Name: fmt.Sprintf("eval %d", i),
				X:    timeAxis(len(pos)),
				Y:    pos,
			})
		}
		return fig
	}, nil), nil
}

func (alignedTrajectories) ParamsToSave(data analysis.InputData, result any, pathParams map[string]any) map[string]any {
	return map[string]any{"aligned_origin": "goal"}
}

// measureNames lists the robustness measures in presentation order.
var measureNames = []string{"max_deviation", "endpoint_error"}

// measures summarizes each condition's repeated evaluations into scalar
// robustness measures. Gated on multiple evaluations.
type measures struct {
	analysis.Base
}

func (measures) Conditions() []string { return []string{"multi_eval"} }

func (measures) Compute(ctx context.Context, data analysis.InputData, deps map[string]any) (any, error) {
	return tree.Map(data.States, func(leaf any) any {
		st, ok := leaf.(*States)
		if !ok {
			return leaf
		}
		var dev, end float64
		for _, pos := range st.Pos {
			dev += maxDeviation(pos)
			end += endpointError(pos)
		}
		n := float64(len(st.Pos))
		return ldict.New("measure",
			ldict.Pair{K: "max_deviation", V: dev / n},
			ldict.Pair{K: "endpoint_error", V: end / n},
		)
	}, nil), nil
}

func (measures) MakeFigs(ctx context.Context, data analysis.InputData, result any, deps map[string]any) (any, error) {
	return tree.Map(result, func(leaf any) any {
		v, ok := leaf.(float64)
		if !ok {
			return nil
		}
		return &figure.Figure{
			Kind:   "bar",
			Traces: []figure.Trace{{Name: "mean", X: []float64{0}, Y: []float64{v}}},
		}
	}, nil), nil
}

// profiles plots the across-evaluation mean profile of one state
// variable.
type profiles struct {
	analysis.Base
	varName string
}

func newProfiles(params map[string]any) (analysis.Analysis, error) {
	name, _ := params["var"].(string)
	if name == "" {
		name = "vel"
	}
	switch name {
	case "pos", "vel", "force":
	default:
		return nil, fmt.Errorf("profiles: unknown state variable %q", name)
	}
	return &profiles{varName: name}, nil
}

func (p *profiles) DefaultParams() map[string]any {
	return map[string]any{"var": "vel"}
}

func (p *profiles) rows(st *States) [][]float64 {
	switch p.varName {
	case "pos":
		return st.Pos
	case "force":
		return st.Force
	default:
		return st.Vel
	}
}

func (p *profiles) Compute(ctx context.Context, data analysis.InputData, deps map[string]any) (any, error) {
	return tree.Map(data.States, func(leaf any) any {
		st, ok := leaf.(*States)
		if !ok {
			return leaf
		}
		return meanProfile(p.rows(st))
	}, nil), nil
}

func (p *profiles) MakeFigs(ctx context.Context, data analysis.InputData, result any, deps map[string]any) (any, error) {
	return tree.Map(result, func(leaf any) any {
		profile, ok := leaf.([]float64)
		if !ok {
			return nil
		}
		return &figure.Figure{
			Title: "Mean " + p.varName + " profile",
			Kind:  "scatter",
			Traces: []figure.Trace{{
				Name: p.varName,
				X:    timeAxis(len(profile)),
				Y:    profile,
			}},
		}
	}, nil), nil
}

func (p *profiles) ParamsToSave(data analysis.InputData, result any, pathParams map[string]any) map[string]any {
	return map[string]any{"var": p.varName}
}

// profilesCompare overlays mean velocity profiles across a stacked
// amplitude axis, one trace per amplitude.
type profilesCompare struct {
	analysis.Base
}

func (profilesCompare) Compute(ctx context.Context, data analysis.InputData, deps map[string]any) (any, error) {
	return tree.Map(data.States, func(leaf any) any {
		stack, ok := leaf.(analysis.Stack)
		if !ok {
			return leaf
		}
		set := &ProfileSet{Keys: stack.Keys}
		for _, v := range stack.Values {
			st, ok := v.(*States)
			if !ok {
				continue
			}
			set.Profiles = append(set.Profiles, meanProfile(st.Vel))
		}
		return set
	}, nil), nil
}

func (profilesCompare) MakeFigs(ctx context.Context, data analysis.InputData, result any, deps map[string]any) (any, error) {
	return tree.Map(result, func(leaf any) any {
		set, ok := leaf.(*ProfileSet)
		if !ok {
			return nil
		}
		fig := &figure.Figure{Title: "Velocity profiles by amplitude", Kind: "scatter"}
		for i, profile := range set.Profiles {
			fig.Traces = append(fig.Traces, figure.Trace{
				Name: fmt.Sprintf("%v", set.Keys[i]),
				X:    timeAxis(len(profile)),
				Y:    profile,
			})
		}
		return fig
	}, nil), nil
}
