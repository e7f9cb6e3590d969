// Package analysis defines the unit of computation in the pipeline: a node
// that declares dependencies on other nodes, computes a result tree from
// the run's input data, renders figures, and contributes parameters for
// persistence. Nodes are immutable values; derived variants are new
// instances, never mutations.
package analysis

import (
	"context"
	"errors"
	"fmt"
)

// ErrSkip signals that a node cannot proceed for the current dataset and
// should be skipped rather than failed. Nodes return it (wrapped) when a
// dependency they strictly require was itself skipped.
var ErrSkip = errors.New("analysis: skip")

// Analysis is one computation + visualization step. Compute and MakeFigs
// are pure functions of the input data and the already-computed results of
// declared dependencies (passed by name); neither may mutate data. Either
// may return nil: compute-only nodes produce no figures, pass-through
// nodes produce figures from a dependency's result alone.
type Analysis interface {
	// Variant names the InputData sub-tree this node operates on.
	Variant() string
	// Conditions names the preconditions gating execution. An unmet
	// condition skips the node; it does not fail the run.
	Conditions() []string
	// Dependencies maps local names to the node specs whose results this
	// node needs.
	Dependencies() map[string]Spec
	Compute(ctx context.Context, data InputData, deps map[string]any) (any, error)
	MakeFigs(ctx context.Context, data InputData, result any, deps map[string]any) (any, error)
}

// DependencyTuner is implemented by nodes that inject extra construction
// parameters into their declared dependencies, keyed by dependency name.
type DependencyTuner interface {
	DependencyParams() map[string]map[string]any
}

// ParamSaver is implemented by nodes that contribute extra parameters when
// their figures are persisted. pathParams carries the axis values already
// inferred from the figure's position in its tree.
type ParamSaver interface {
	ParamsToSave(data InputData, result any, pathParams map[string]any) map[string]any
}

// Defaulter is implemented by nodes that declare default values for their
// construction parameters. The engine diffs a node's actual params against
// these to find the non-default fields that distinguish instances of the
// same analysis in filenames and catalog rows.
type Defaulter interface {
	DefaultParams() map[string]any
}

// Base provides the neutral defaults; concrete analyses embed it and
// override what they need.
type Base struct{}

func (Base) Variant() string               { return "main" }
func (Base) Conditions() []string          { return nil }
func (Base) Dependencies() map[string]Spec { return nil }

func (Base) Compute(ctx context.Context, data InputData, deps map[string]any) (any, error) {
	return nil, nil
}

func (Base) MakeFigs(ctx context.Context, data InputData, result any, deps map[string]any) (any, error) {
	return nil, nil
}

// RequireDeps returns a wrapped ErrSkip when any of the named dependency
// results is absent from deps (for instance because the dependency's
// conditions were unmet). Nodes call it at the top of Compute or MakeFigs
// for the dependencies they strictly require.
func RequireDeps(deps map[string]any, names ...string) error {
	for _, name := range names {
		if _, ok := deps[name]; !ok {
			return fmt.Errorf("dependency %q absent: %w", name, ErrSkip)
		}
	}
	return nil
}
