package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vk/policylab/internal/analysis"
	"github.com/vk/policylab/internal/registry"
)

// ErrCyclicDependency reports a cycle in the analysis dependency graph.
// The run fails before any computation starts.
var ErrCyclicDependency = errors.New("cyclic dependency")

// node is one resolved analysis in the dependency graph. Nodes are unique
// per spec identity key, so the same configuration requested from several
// places resolves to one node.
type node struct {
	spec      analysis.Spec
	key       string
	inst      analysis.Analysis
	deps      map[string]*node
	depOrder  []string
	requested bool
}

type graph struct {
	nodes map[string]*node
	// order holds nodes with every dependency preceding its dependents.
	// Siblings appear in request order, dependency names sorted.
	order []*node
}

// buildGraph expands the requested specs into a full dependency graph,
// instantiating every node through the registry and applying the
// per-dependency parameter overrides nodes declare. Cycles fail the build.
func buildGraph(reg *registry.Registry, requested []analysis.Spec) (*graph, error) {
	g := &graph{nodes: make(map[string]*node)}
	visiting := make(map[string]bool)

	var resolve func(spec analysis.Spec) (*node, error)
	resolve = func(spec analysis.Spec) (*node, error) {
		key := spec.Key()
		if visiting[key] {
			return nil, fmt.Errorf("%w involving %q", ErrCyclicDependency, spec.Node)
		}
		if n, ok := g.nodes[key]; ok {
			return n, nil
		}

		inst, err := reg.NewAnalysis(spec)
		if err != nil {
			return nil, err
		}
		n := &node{spec: spec, key: key, inst: inst, deps: make(map[string]*node)}

		visiting[key] = true
		declared := inst.Dependencies()
		overrides := dependencyOverrides(inst)
		for _, name := range sortedDepNames(declared) {
			depSpec := declared[name]
			if extra, ok := overrides[name]; ok {
				depSpec = depSpec.WithParams(extra)
			}
			dep, err := resolve(depSpec)
			if err != nil {
				return nil, fmt.Errorf("dependency %q of %q: %w", name, spec.Node, err)
			}
			n.deps[name] = dep
			n.depOrder = append(n.depOrder, name)
		}
		delete(visiting, key)

		g.nodes[key] = n
		g.order = append(g.order, n)
		return n, nil
	}

	for _, spec := range requested {
		n, err := resolve(spec)
		if err != nil {
			return nil, err
		}
		n.requested = true
	}
	return g, nil
}

func dependencyOverrides(inst analysis.Analysis) map[string]map[string]any {
	if tuner, ok := inst.(analysis.DependencyTuner); ok {
		return tuner.DependencyParams()
	}
	return nil
}

func sortedDepNames(deps map[string]analysis.Spec) []string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
