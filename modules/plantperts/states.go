package plantperts

import (
	"encoding/gob"
	"math"
	"math/rand"
)

// Trajectory length and perturbation onset, in control steps.
const (
	trajectorySteps = 50
	pertOnsetStep   = 10
)

// Task is one reaching condition with a plant perturbation of fixed
// amplitude applied at the onset step.
type Task struct {
	PertAmp float64
	Steps   int
	Onset   int
}

// Policy is the controller under evaluation. Its gains shape the
// trajectory response to the perturbation.
type Policy struct {
	Gain    float64
	Damping float64
}

// States holds the evaluated trajectories for one task, one row per
// repeated evaluation.
type States struct {
	Pos   [][]float64
	Vel   [][]float64
	Force [][]float64
}

// AlignedVars is the perturbation-aligned form of States produced by the
// aligned_vars analysis.
type AlignedVars struct {
	Origin string
	Pos    [][]float64
	Vel    [][]float64
}

// ProfileSet is one mean profile per perturbation amplitude, produced by
// stacked profile comparisons.
type ProfileSet struct {
	Keys     []any
	Profiles [][]float64
}

func init() {
	// State trees round-trip through the gob evaluation cache.
	gob.Register(&Task{})
	gob.Register(&Policy{})
	gob.Register(&States{})
	gob.Register(&AlignedVars{})
	gob.Register(&ProfileSet{})
}

// evalStates simulates the policy's response to one task. The dynamics
// are a damped second-order response to the perturbation impulse, with
// seeded per-evaluation noise so repeated evaluations differ but runs
// reproduce.
func evalStates(task *Task, policy *Policy, evalN int, seed int64) *States {
	st := &States{
		Pos:   make([][]float64, evalN),
		Vel:   make([][]float64, evalN),
		Force: make([][]float64, evalN),
	}
	for i := 0; i < evalN; i++ {
		rng := rand.New(rand.NewSource(seed + int64(i)*7919 + int64(task.PertAmp*1e3)))
		pos := make([]float64, task.Steps)
		vel := make([]float64, task.Steps)
		force := make([]float64, task.Steps)

		var p, v float64
		for t := 0; t < task.Steps; t++ {
			f := 0.0
			if t == task.Onset {
				f = task.PertAmp
			}
			noise := rng.NormFloat64() * 0.01
			a := f - policy.Gain*p - policy.Damping*v + noise
			v += a
			p += v
			pos[t] = p
			vel[t] = v
			force[t] = f
		}
		st.Pos[i] = pos
		st.Vel[i] = vel
		st.Force[i] = force
	}
	return st
}

// maxDeviation is the largest distance from the starting position across
// one trajectory.
func maxDeviation(pos []float64) float64 {
	var max float64
	for _, p := range pos {
		if d := math.Abs(p); d > max {
			max = d
		}
	}
	return max
}

// endpointError is the distance between the trajectory's final position
// and the start, the proxy for failure to return after the perturbation.
func endpointError(pos []float64) float64 {
	if len(pos) == 0 {
		return 0
	}
	return math.Abs(pos[len(pos)-1])
}

func meanProfile(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float64, len(rows[0]))
	for _, row := range rows {
		for t, v := range row {
			out[t] += v
		}
	}
	for t := range out {
		out[t] /= float64(len(rows))
	}
	return out
}

func timeAxis(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}
