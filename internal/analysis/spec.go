package analysis

import (
	"encoding/json"
	"fmt"
)

// Spec identifies a concrete analysis node: a registered factory name plus
// the construction parameters passed to it. Two specs with the same name
// and parameter values denote the same node, which is how the engine
// recognizes shared dependencies and computes them once.
type Spec struct {
	Node   string
	Params map[string]any
}

// NewSpec constructs a Spec, copying params so later mutation of the
// caller's map cannot change the spec's identity.
func NewSpec(node string, params map[string]any) Spec {
	return Spec{Node: node, Params: copyParams(params)}
}

// Key returns the memoization identity: the factory name plus the
// canonical JSON of the parameters. encoding/json sorts map keys, so
// parameter order never affects identity.
func (s Spec) Key() string {
	if len(s.Params) == 0 {
		return s.Node
	}
	blob, err := json.Marshal(s.Params)
	if err != nil {
		// Construction params are declared in configuration lists and are
		// JSON-serializable by contract; surface violations loudly.
		panic(fmt.Sprintf("analysis: spec %q has non-serializable params: %v", s.Node, err))
	}
	return s.Node + string(blob)
}

// WithParams returns a copy of s with overrides merged in; overrides win.
// The receiver is unchanged.
func (s Spec) WithParams(overrides map[string]any) Spec {
	if len(overrides) == 0 {
		return Spec{Node: s.Node, Params: copyParams(s.Params)}
	}
	merged := copyParams(s.Params)
	if merged == nil {
		merged = make(map[string]any, len(overrides))
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return Spec{Node: s.Node, Params: merged}
}

// Param reads a construction parameter with a fallback.
func (s Spec) Param(name string, fallback any) any {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return fallback
}

func copyParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// NonDefaultParams diffs actual construction params against a node's
// declared defaults: parameters that differ from their default, or have no
// declared default, identify this instance among instances of the same
// analysis.
func NonDefaultParams(params map[string]any, defaults map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range params {
		if def, ok := defaults[k]; ok && jsonEqual(v, def) {
			continue
		}
		out[k] = v
	}
	return out
}

// jsonEqual compares two values by their canonical JSON form, so 1 and
// int64(1) from different decoders compare equal.
func jsonEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}
