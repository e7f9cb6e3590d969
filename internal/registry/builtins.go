package registry

import (
	"fmt"

	"github.com/vk/policylab/internal/analysis"
)

// registerBuiltins installs the conditions every study shares and the
// combinator factories. Both combinators wrap an inner node described by
// the "inner" parameter, so resolution stays data-driven all the way down.
func (r *Registry) registerBuiltins() {
	// Measures over repeated evaluations are meaningless for a single
	// evaluation, so analyses gate on this condition.
	r.RegisterCondition("multi_eval", func(data analysis.InputData) bool {
		hps, err := analysis.FirstHyperparams(data.Hps)
		return err == nil && hps.EvalN > 1
	})

	r.RegisterAnalysis("transformed", func(params map[string]any) (analysis.Analysis, error) {
		innerSpec, err := innerSpecParam(params)
		if err != nil {
			return nil, err
		}
		name, _ := params["transform"].(string)
		if name == "" {
			return nil, fmt.Errorf("transformed node requires a %q parameter", "transform")
		}
		fn, err := r.Transform(name)
		if err != nil {
			return nil, err
		}
		inner, err := r.NewAnalysis(innerSpec)
		if err != nil {
			return nil, err
		}
		tp, _ := params["transform_params"].(map[string]any)
		return &analysis.WithTransform{
			Inner:           inner,
			TransformName:   name,
			TransformParams: tp,
			Fn:              fn,
		}, nil
	})

	r.RegisterAnalysis("stacked", func(params map[string]any) (analysis.Analysis, error) {
		innerSpec, err := innerSpecParam(params)
		if err != nil {
			return nil, err
		}
		level, _ := params["level"].(string)
		if level == "" {
			return nil, fmt.Errorf("stacked node requires a %q parameter", "level")
		}
		inner, err := r.NewAnalysis(innerSpec)
		if err != nil {
			return nil, err
		}
		return &analysis.WithStacking{Inner: inner, Level: level}, nil
	})
}

func innerSpecParam(params map[string]any) (analysis.Spec, error) {
	raw, ok := params["inner"]
	if !ok {
		return analysis.Spec{}, fmt.Errorf("combinator node requires an %q parameter", "inner")
	}
	return analysis.SpecFromParams(raw)
}
