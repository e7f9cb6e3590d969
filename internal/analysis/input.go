package analysis

import (
	"context"
	"fmt"

	"github.com/vk/policylab/internal/ldict"
	"github.com/vk/policylab/internal/tree"
)

// Hyperparams is the leaf record of the hyperparameter tree: the run-wide
// evaluation settings plus the open set of study-specific values.
type Hyperparams struct {
	EvalN int
	Seed  int64
	Extra map[string]any
}

// Resolve implements tree.Resolver so hyperparameter trees are navigable
// by path alongside the model/task/state trees.
func (h *Hyperparams) Resolve(key any) (any, error) {
	switch key {
	case "eval_n":
		return h.EvalN, nil
	case "seed":
		return h.Seed, nil
	}
	k, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("hyperparams key must be a string, got %T", key)
	}
	v, ok := h.Extra[k]
	if !ok {
		return nil, fmt.Errorf("hyperparams key %q: %w", k, ldict.ErrKeyNotFound)
	}
	return v, nil
}

// Flat returns the hyperparameters as one flat parameter map, the form the
// catalog persists.
func (h *Hyperparams) Flat() map[string]any {
	out := make(map[string]any, len(h.Extra)+2)
	for k, v := range h.Extra {
		out[k] = v
	}
	out["eval_n"] = h.EvalN
	out["seed"] = h.Seed
	return out
}

// InputData bundles the four parallel trees an analysis node operates on.
// The trees share the same nesting shape down to the variant level; it is
// read-only for the lifetime of a run.
type InputData struct {
	Models any
	Tasks  any
	States any
	Hps    any
}

// ForVariant selects the named sub-tree across all four trees. Trees that
// are nil stay nil. An empty variant returns the data unchanged.
func (d InputData) ForVariant(variant string) (InputData, error) {
	if variant == "" {
		return d, nil
	}
	out := InputData{}
	var err error
	sel := func(t any) any {
		if t == nil || err != nil {
			return nil
		}
		v, selErr := tree.At(t, variant)
		if selErr != nil {
			err = fmt.Errorf("variant %q: %w", variant, selErr)
			return nil
		}
		return v
	}
	out.Models = sel(d.Models)
	out.Tasks = sel(d.Tasks)
	out.States = sel(d.States)
	out.Hps = sel(d.Hps)
	if err != nil {
		return InputData{}, err
	}
	return out, nil
}

// FirstHyperparams returns the first Hyperparams leaf of the tree, the
// reference for values that only vary with the variant (e.g. eval_n).
func FirstHyperparams(hps any) (*Hyperparams, error) {
	leaves := tree.Leaves(hps, func(n any) bool {
		_, ok := n.(*Hyperparams)
		return ok || tree.DefaultIsLeaf(n)
	})
	for _, leaf := range leaves {
		if h, ok := leaf.(*Hyperparams); ok {
			return h, nil
		}
	}
	return nil, fmt.Errorf("no hyperparams leaf in tree")
}

// EvalFunc evaluates one task/model pair into a states tree. It is
// supplied per study module and opaque to the engine.
type EvalFunc func(ctx context.Context, seed int64, hps *Hyperparams, model, task any) (any, error)

// SetupFunc builds the task and model trees for a study from the base
// artifacts loaded out of the store. The returned trees must be congruent.
type SetupFunc func(ctx context.Context, hps *Hyperparams, baseModels, baseTask any) (models, tasks any, err error)
