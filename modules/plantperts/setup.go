package plantperts

import (
	"context"
	"fmt"

	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/ctxlog"
	"github.com/vk/policylab/internal/ldict"
	"github.com/vk/policylab/internal/store"
)

// defaultPertAmps is used when the run configuration does not set
// pert_amps.
var defaultPertAmps = []float64{0.0, 0.5, 1.0, 2.0}

// smallVariantAmps limits the small variant to the extremes; trajectory
// plots stay readable there.
const smallVariantAmps = 2

// Setup builds the variant-keyed task and model trees. The main variant
// covers every configured perturbation amplitude; the small variant keeps
// the first and last.
func Setup(ctx context.Context, hps *analysis.Hyperparams, baseModels, baseTask any) (any, any, error) {
	logger := ctxlog.FromContext(ctx)

	amps := pertAmps(hps)
	if len(amps) == 0 {
		return nil, nil, fmt.Errorf("plantperts: no perturbation amplitudes configured")
	}
	logger.Debug("Setting up plant perturbation tasks.", "amps", amps)

	policy := policyFor(baseModels)

	mainTasks := make([]ldict.Pair, 0, len(amps))
	for _, amp := range amps {
		mainTasks = append(mainTasks, ldict.Pair{
			K: amp,
			V: &Task{PertAmp: amp, Steps: trajectorySteps, Onset: pertOnsetStep},
		})
	}
	smallTasks := []ldict.Pair{mainTasks[0]}
	if len(mainTasks) >= smallVariantAmps {
		smallTasks = append(smallTasks, mainTasks[len(mainTasks)-1])
	}

	tasks := ldict.New("variant",
		ldict.Pair{K: "main", V: ldict.New("pert_amp", mainTasks...)},
		ldict.Pair{K: "small", V: ldict.New("pert_amp", smallTasks...)},
	)
	models := ldict.New("variant",
		ldict.Pair{K: "main", V: policy},
		ldict.Pair{K: "small", V: policy},
	)
	return models, tasks, nil
}

// Eval produces the states tree parallel to the task tree.
func Eval(ctx context.Context, seed int64, hps *analysis.Hyperparams, models, tasks any) (any, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Evaluating plant perturbation states.", "eval_n", hps.EvalN, "seed", seed)

	taskTree, ok := tasks.(*ldict.LDict)
	if !ok {
		return nil, fmt.Errorf("plantperts: unexpected task tree type %T", tasks)
	}

	variants := make([]ldict.Pair, 0, taskTree.Len())
	for variant, sub := range taskTree.All() {
		byAmp, ok := sub.(*ldict.LDict)
		if !ok {
			return nil, fmt.Errorf("plantperts: unexpected variant sub-tree type %T", sub)
		}
		policy, err := variantPolicy(models, variant)
		if err != nil {
			return nil, err
		}

		states := make([]ldict.Pair, 0, byAmp.Len())
		for amp, tv := range byAmp.All() {
			task := tv.(*Task)
			states = append(states, ldict.Pair{
				K: amp,
				V: evalStates(task, policy, hps.EvalN, seed),
			})
		}
		variants = append(variants, ldict.Pair{K: variant, V: ldict.New("pert_amp", states...)})
	}
	return ldict.New("variant", variants...), nil
}

// pertAmps reads the configured amplitudes, accepting ints and floats
// from the run file.
func pertAmps(hps *analysis.Hyperparams) []float64 {
	raw, ok := hps.Extra["pert_amps"].([]any)
	if !ok {
		return defaultPertAmps
	}
	amps := make([]float64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			amps = append(amps, n)
		case int64:
			amps = append(amps, float64(n))
		case int:
			amps = append(amps, float64(n))
		}
	}
	if len(amps) == 0 {
		return defaultPertAmps
	}
	return amps
}

// policyFor derives the evaluated policy from the selected model record.
// Without a record the reference policy is used.
func policyFor(baseModels any) *Policy {
	policy := &Policy{Gain: 0.4, Damping: 0.6}
	rec, ok := baseModels.(*store.ModelRecord)
	if !ok {
		return policy
	}
	if g, ok := asFloat(rec.Hyperparams["gain"]); ok {
		policy.Gain = g
	}
	if d, ok := asFloat(rec.Hyperparams["damping"]); ok {
		policy.Damping = d
	}
	return policy
}

func variantPolicy(models any, variant any) (*Policy, error) {
	tree, ok := models.(*ldict.LDict)
	if !ok {
		return nil, fmt.Errorf("plantperts: unexpected model tree type %T", models)
	}
	v, err := tree.Get(variant)
	if err != nil {
		return nil, err
	}
	policy, ok := v.(*Policy)
	if !ok {
		return nil, fmt.Errorf("plantperts: unexpected model leaf type %T", v)
	}
	return policy, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
