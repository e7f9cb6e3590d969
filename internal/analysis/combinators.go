package analysis

import (
	"context"
	"fmt"

	"github.com/vk/policylab/internal/ldict"
	"github.com/vk/policylab/internal/tree"
)

// TransformFunc rewrites a states tree ahead of an analysis. Transforms
// are registered by name so derived node specs stay plain data.
type TransformFunc func(states any, params map[string]any) (any, error)

// Transformed derives a spec that applies the named registered transform
// to the states tree before running the inner analysis. The original spec
// is unchanged.
func Transformed(inner Spec, transform string, params map[string]any) Spec {
	return NewSpec("transformed", map[string]any{
		"inner":            specToParams(inner),
		"transform":        transform,
		"transform_params": params,
	})
}

// Stacked derives a spec that collapses the named axis of the states tree
// into Stack leaves before running the inner analysis, so the inner
// analysis sees the whole axis at once (one figure across the axis instead
// of one per key).
func Stacked(inner Spec, level string) Spec {
	return NewSpec("stacked", map[string]any{
		"inner": specToParams(inner),
		"level": level,
	})
}

// Stack is the leaf produced by stacking an axis: the level's label, its
// keys, and the sub-trees that were its values, in order.
type Stack struct {
	Level  string
	Keys   []any
	Values []any
}

// Resolve implements tree.Resolver for navigation into a stacked axis.
func (s Stack) Resolve(key any) (any, error) {
	for i, k := range s.Keys {
		if k == key {
			return s.Values[i], nil
		}
	}
	return nil, fmt.Errorf("stack level %q, key %v: %w", s.Level, key, ldict.ErrKeyNotFound)
}

func specToParams(s Spec) map[string]any {
	return map[string]any{"node": s.Node, "params": s.Params}
}

// SpecFromParams reads back a nested spec encoded by specToParams.
func SpecFromParams(v any) (Spec, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Spec{}, fmt.Errorf("inner spec must be a map, got %T", v)
	}
	node, ok := m["node"].(string)
	if !ok {
		return Spec{}, fmt.Errorf("inner spec missing node name")
	}
	var params map[string]any
	if p, ok := m["params"].(map[string]any); ok {
		params = p
	}
	return NewSpec(node, params), nil
}

// WithTransform wraps an analysis so Compute and MakeFigs see transformed
// states. All other behavior delegates to the inner node.
type WithTransform struct {
	Inner           Analysis
	TransformName   string
	TransformParams map[string]any
	Fn              TransformFunc
}

func (w *WithTransform) Variant() string               { return w.Inner.Variant() }
func (w *WithTransform) Conditions() []string          { return w.Inner.Conditions() }
func (w *WithTransform) Dependencies() map[string]Spec { return w.Inner.Dependencies() }

// DependencyParams delegates to the inner node when it tunes its
// dependencies.
func (w *WithTransform) DependencyParams() map[string]map[string]any {
	if tuner, ok := w.Inner.(DependencyTuner); ok {
		return tuner.DependencyParams()
	}
	return nil
}

func (w *WithTransform) transformed(data InputData) (InputData, error) {
	states, err := w.Fn(data.States, w.TransformParams)
	if err != nil {
		return InputData{}, fmt.Errorf("transform %q: %w", w.TransformName, err)
	}
	out := data
	out.States = states
	return out, nil
}

func (w *WithTransform) Compute(ctx context.Context, data InputData, deps map[string]any) (any, error) {
	td, err := w.transformed(data)
	if err != nil {
		return nil, err
	}
	return w.Inner.Compute(ctx, td, deps)
}

func (w *WithTransform) MakeFigs(ctx context.Context, data InputData, result any, deps map[string]any) (any, error) {
	td, err := w.transformed(data)
	if err != nil {
		return nil, err
	}
	return w.Inner.MakeFigs(ctx, td, result, deps)
}

// ParamsToSave records the transform alongside whatever the inner node
// saves, so figures from transformed and untransformed instances remain
// distinguishable in the catalog.
func (w *WithTransform) ParamsToSave(data InputData, result any, pathParams map[string]any) map[string]any {
	out := map[string]any{"transform": w.TransformName}
	if saver, ok := w.Inner.(ParamSaver); ok {
		for k, v := range saver.ParamsToSave(data, result, pathParams) {
			out[k] = v
		}
	}
	return out
}

// WithStacking wraps an analysis so Compute and MakeFigs see the named
// axis collapsed into Stack leaves.
type WithStacking struct {
	Inner Analysis
	Level string
}

func (w *WithStacking) Variant() string               { return w.Inner.Variant() }
func (w *WithStacking) Conditions() []string          { return w.Inner.Conditions() }
func (w *WithStacking) Dependencies() map[string]Spec { return w.Inner.Dependencies() }

func (w *WithStacking) DependencyParams() map[string]map[string]any {
	if tuner, ok := w.Inner.(DependencyTuner); ok {
		return tuner.DependencyParams()
	}
	return nil
}

func (w *WithStacking) stacked(data InputData) InputData {
	out := data
	out.States = tree.MapAtLabel(data.States, w.Level, func(d *ldict.LDict) any {
		return Stack{Level: w.Level, Keys: d.Keys(), Values: d.Values()}
	})
	return out
}

func (w *WithStacking) Compute(ctx context.Context, data InputData, deps map[string]any) (any, error) {
	return w.Inner.Compute(ctx, w.stacked(data), deps)
}

func (w *WithStacking) MakeFigs(ctx context.Context, data InputData, result any, deps map[string]any) (any, error) {
	return w.Inner.MakeFigs(ctx, w.stacked(data), result, deps)
}

func (w *WithStacking) ParamsToSave(data InputData, result any, pathParams map[string]any) map[string]any {
	out := map[string]any{"stacked_level": w.Level}
	if saver, ok := w.Inner.(ParamSaver); ok {
		for k, v := range saver.ParamsToSave(data, result, pathParams) {
			out[k] = v
		}
	}
	return out
}
