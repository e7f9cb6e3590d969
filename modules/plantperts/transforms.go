package plantperts

import (
	"fmt"

	"github.com/vk/policylab/internal/ldict"
	"github.com/vk/policylab/internal/tree"
)

// bestEval keeps, per condition, the single repeated evaluation with the
// smallest endpoint error.
func bestEval(states any, params map[string]any) (any, error) {
	return tree.Map(states, func(leaf any) any {
		st, ok := leaf.(*States)
		if !ok || len(st.Pos) == 0 {
			return leaf
		}
		best := 0
		for i := 1; i < len(st.Pos); i++ {
			if endpointError(st.Pos[i]) < endpointError(st.Pos[best]) {
				best = i
			}
		}
		return &States{
			Pos:   st.Pos[best : best+1],
			Vel:   st.Vel[best : best+1],
			Force: st.Force[best : best+1],
		}
	}, nil), nil
}

// loHi restricts the perturbation-amplitude axis to its extremes.
func loHi(states any, params map[string]any) (any, error) {
	var err error
	out := tree.MapAtLabel(states, "pert_amp", func(d *ldict.LDict) any {
		keys := d.Keys()
		if len(keys) < 2 {
			return d
		}
		lo, hi := keys[0], keys[len(keys)-1]
		loV, loErr := d.Get(lo)
		hiV, hiErr := d.Get(hi)
		if loErr != nil || hiErr != nil {
			err = fmt.Errorf("lohi: amplitude axis lookup failed")
			return d
		}
		return ldict.New(d.Label(), ldict.Pair{K: lo, V: loV}, ldict.Pair{K: hi, V: hiV})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
