package feedbackperts

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"

	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/ctxlog"
	"github.com/vk/policylab/internal/figure"
	"github.com/vk/policylab/internal/ldict"
	"github.com/vk/policylab/internal/tree"
)

const trajectorySteps = 40

// defaultNoiseStds is used when the run configuration does not set
// fb_noise_stds.
var defaultNoiseStds = []float64{0.0, 0.1, 0.4}

// Task is one reach under corrupted feedback of fixed noise amplitude.
type Task struct {
	NoiseStd float64
	Steps    int
}

// States holds evaluated trajectories for one task, one row per repeated
// evaluation.
type States struct {
	Pos [][]float64
	Err [][]float64
}

func init() {
	gob.Register(&Task{})
	gob.Register(&States{})
}

// Setup builds the task tree over the feedback-noise axis. This study
// runs a single variant.
func Setup(ctx context.Context, hps *analysis.Hyperparams, baseModels, baseTask any) (any, any, error) {
	logger := ctxlog.FromContext(ctx)

	stds := noiseStds(hps)
	logger.Debug("Setting up feedback perturbation tasks.", "noise_stds", stds)

	pairs := make([]ldict.Pair, 0, len(stds))
	for _, std := range stds {
		pairs = append(pairs, ldict.Pair{K: std, V: &Task{NoiseStd: std, Steps: trajectorySteps}})
	}
	byStd := ldict.New("fb_noise_std", pairs...)

	tasks := ldict.New("variant", ldict.Pair{K: "main", V: byStd})
	models := ldict.New("variant", ldict.Pair{K: "main", V: nil})
	return models, tasks, nil
}

// Eval simulates reaches toward a unit goal under noisy feedback.
func Eval(ctx context.Context, seed int64, hps *analysis.Hyperparams, models, tasks any) (any, error) {
	taskTree, ok := tasks.(*ldict.LDict)
	if !ok {
		return nil, fmt.Errorf("feedbackperts: unexpected task tree type %T", tasks)
	}

	variants := make([]ldict.Pair, 0, taskTree.Len())
	for variant, sub := range taskTree.All() {
		byStd := sub.(*ldict.LDict)
		states := make([]ldict.Pair, 0, byStd.Len())
		for std, tv := range byStd.All() {
			task := tv.(*Task)
			states = append(states, ldict.Pair{K: std, V: evalStates(task, hps.EvalN, seed)})
		}
		variants = append(variants, ldict.Pair{K: variant, V: ldict.New("fb_noise_std", states...)})
	}
	return ldict.New("variant", variants...), nil
}

func evalStates(task *Task, evalN int, seed int64) *States {
	st := &States{
		Pos: make([][]float64, evalN),
		Err: make([][]float64, evalN),
	}
	for i := 0; i < evalN; i++ {
		rng := rand.New(rand.NewSource(seed + int64(i)*6151 + int64(task.NoiseStd*1e3)))
		pos := make([]float64, task.Steps)
		errs := make([]float64, task.Steps)
		p := 0.0
		for t := 0; t < task.Steps; t++ {
			// The controller corrects toward the goal using a noisy
			// position estimate.
			sensed := p + rng.NormFloat64()*task.NoiseStd
			p += 0.2 * (1.0 - sensed)
			pos[t] = p
			errs[t] = math.Abs(1.0 - p)
		}
		st.Pos[i] = pos
		st.Err[i] = errs
	}
	return st
}

func noiseStds(hps *analysis.Hyperparams) []float64 {
	raw, ok := hps.Extra["fb_noise_stds"].([]any)
	if !ok {
		return defaultNoiseStds
	}
	stds := make([]float64, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case float64:
			stds = append(stds, n)
		case int64:
			stds = append(stds, float64(n))
		}
	}
	if len(stds) == 0 {
		return defaultNoiseStds
	}
	return stds
}

// feedbackResponse renders per-evaluation position traces for each noise
// level.
type feedbackResponse struct {
	analysis.Base
}

func (feedbackResponse) MakeFigs(ctx context.Context, data analysis.InputData, result any, deps map[string]any) (any, error) {
	return tree.Map(data.States, func(leaf any) any {
		st, ok := leaf.(*States)
		if !ok {
			return nil
		}
		fig := &figure.Figure{Title: "Feedback noise response", Kind: "scatter"}
		for i, pos := range st.Pos {
			x := make([]float64, len(pos))
			for t := range x {
				x[t] = float64(t)
			}
			fig.Traces = append(fig.Traces, figure.Trace{
				Name: fmt.Sprintf("eval %d", i),
				X:    x,
				Y:    pos,
			})
		}
		return fig
	}, nil), nil
}

// responseMeasures reduces repeated evaluations to a mean settled error
// per noise level. Gated on multiple evaluations.
type responseMeasures struct {
	analysis.Base
}

func (responseMeasures) Conditions() []string { return []string{"multi_eval"} }

func (responseMeasures) Compute(ctx context.Context, data analysis.InputData, deps map[string]any) (any, error) {
	return tree.Map(data.States, func(leaf any) any {
		st, ok := leaf.(*States)
		if !ok {
			return leaf
		}
		var sum float64
		for _, errs := range st.Err {
			sum += errs[len(errs)-1]
		}
		return sum / float64(len(st.Err))
	}, nil), nil
}

func (responseMeasures) MakeFigs(ctx context.Context, data analysis.InputData, result any, deps map[string]any) (any, error) {
	return tree.Map(result, func(leaf any) any {
		v, ok := leaf.(float64)
		if !ok {
			return nil
		}
		return &figure.Figure{
			Kind:   "bar",
			Traces: []figure.Trace{{Name: "settled error", X: []float64{0}, Y: []float64{v}}},
		}
	}, nil), nil
}
