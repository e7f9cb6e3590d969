// Package tree implements structural operations over the result trees the
// pipeline passes between analyses.
//
// Trees are built from a closed set of node kinds: *ldict.LDict, plain
// map[string]any, []any, and any value implementing Resolver. Everything
// else is a leaf. Keeping the set closed (rather than walking arbitrary
// values by reflection) makes traversal order deterministic and path
// resolution explicit.
package tree

import (
	"fmt"
	"sort"

	"github.com/vk/policylab/internal/ldict"
)

// Resolver is the capability a record-like node implements to take part in
// path resolution. Resolver nodes are navigable by At but opaque to
// Flatten, which treats them as leaves.
type Resolver interface {
	Resolve(key any) (any, error)
}

// Path is the sequence of keys from the root to a node.
type Path []any

// IsLeaf is a stop-point predicate for traversals.
type IsLeaf func(node any) bool

// DefaultIsLeaf reports whether a node is outside the closed node set.
func DefaultIsLeaf(node any) bool {
	switch node.(type) {
	case *ldict.LDict, map[string]any, []any:
		return false
	}
	return true
}

// At navigates from root along path and returns the value there. Each step
// requires the current node to be navigable by the key's type: LDicts and
// Resolvers take any scalar key, maps take strings, slices take ints.
func At(root any, path ...any) (any, error) {
	node := root
	for i, key := range path {
		var err error
		node, err = step(node, key)
		if err != nil {
			return nil, fmt.Errorf("at %v: %w", Path(path[:i+1]), err)
		}
	}
	return node, nil
}

func step(node, key any) (any, error) {
	switch n := node.(type) {
	case *ldict.LDict:
		return n.Get(key)
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("map requires string key, got %T", key)
		}
		v, ok := n[k]
		if !ok {
			return nil, fmt.Errorf("map key %q: %w", k, ldict.ErrKeyNotFound)
		}
		return v, nil
	case []any:
		i, ok := key.(int)
		if !ok {
			return nil, fmt.Errorf("slice requires int key, got %T", key)
		}
		if i < 0 || i >= len(n) {
			return nil, fmt.Errorf("slice index %d out of range %d", i, len(n))
		}
		return n[i], nil
	case Resolver:
		return n.Resolve(key)
	default:
		return nil, fmt.Errorf("cannot descend into %T", node)
	}
}

// Map applies f to every leaf of the tree, preserving structure. A nil
// isLeaf uses DefaultIsLeaf.
func Map(tree any, f func(leaf any) any, isLeaf IsLeaf) any {
	if isLeaf == nil {
		isLeaf = DefaultIsLeaf
	}
	return mapNode(tree, f, isLeaf)
}

func mapNode(node any, f func(leaf any) any, isLeaf IsLeaf) any {
	if isLeaf(node) {
		return f(node)
	}
	switch n := node.(type) {
	case *ldict.LDict:
		return n.Map(func(_, v any) any { return mapNode(v, f, isLeaf) })
	case map[string]any:
		out := make(map[string]any, len(n))
		for _, k := range sortedKeys(n) {
			out[k] = mapNode(n[k], f, isLeaf)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = mapNode(v, f, isLeaf)
		}
		return out
	default:
		return f(node)
	}
}

// Leaves returns the leaf values in traversal order: LDict insertion
// order, sorted map keys, slice index order.
func Leaves(tree any, isLeaf IsLeaf) []any {
	_, leaves := Flatten(tree, isLeaf)
	return leaves
}

// Paths returns the path to every leaf, parallel to Leaves.
func Paths(tree any, isLeaf IsLeaf) []Path {
	if isLeaf == nil {
		isLeaf = DefaultIsLeaf
	}
	var out []Path
	walkPaths(tree, nil, isLeaf, func(p Path, _ any) {
		out = append(out, p)
	})
	return out
}

func walkPaths(node any, prefix Path, isLeaf IsLeaf, visit func(Path, any)) {
	if isLeaf(node) {
		visit(append(Path{}, prefix...), node)
		return
	}
	switch n := node.(type) {
	case *ldict.LDict:
		for k, v := range n.All() {
			walkPaths(v, append(prefix, k), isLeaf, visit)
		}
	case map[string]any:
		for _, k := range sortedKeys(n) {
			walkPaths(n[k], append(prefix, k), isLeaf, visit)
		}
	case []any:
		for i, v := range n {
			walkPaths(v, append(prefix, i), isLeaf, visit)
		}
	default:
		visit(append(Path{}, prefix...), node)
	}
}

// LevelLabels returns the LDict labels along the path to the first leaf,
// outermost first. These are the nesting axes of a congruent tree.
func LevelLabels(tree any, isLeaf IsLeaf) []string {
	if isLeaf == nil {
		isLeaf = DefaultIsLeaf
	}
	var labels []string
	node := tree
	for !isLeaf(node) {
		switch n := node.(type) {
		case *ldict.LDict:
			labels = append(labels, n.Label())
			if n.Len() == 0 {
				return labels
			}
			node = n.Values()[0]
		case map[string]any:
			keys := sortedKeys(n)
			if len(keys) == 0 {
				return labels
			}
			node = n[keys[0]]
		case []any:
			if len(n) == 0 {
				return labels
			}
			node = n[0]
		default:
			return labels
		}
	}
	return labels
}

// LabelKV is one (axis label, key) pair collected along a leaf's path.
type LabelKV struct {
	Label string
	Key   any
}

// LabeledPaths returns, for each leaf in traversal order, the (label, key)
// pairs of the LDict levels its path passes through. Keys of unlabeled
// levels (maps, slices) are not included.
func LabeledPaths(tree any, isLeaf IsLeaf) [][]LabelKV {
	if isLeaf == nil {
		isLeaf = DefaultIsLeaf
	}
	var out [][]LabelKV
	var walk func(node any, acc []LabelKV)
	walk = func(node any, acc []LabelKV) {
		if isLeaf(node) {
			out = append(out, append([]LabelKV{}, acc...))
			return
		}
		switch n := node.(type) {
		case *ldict.LDict:
			for k, v := range n.All() {
				walk(v, append(acc, LabelKV{Label: n.Label(), Key: k}))
			}
		case map[string]any:
			for _, k := range sortedKeys(n) {
				walk(n[k], acc)
			}
		case []any:
			for _, v := range n {
				walk(v, acc)
			}
		default:
			out = append(out, append([]LabelKV{}, acc...))
		}
	}
	walk(tree, nil)
	return out
}

// MapAtLabel rewrites every LDict node carrying the given label with f,
// without recursing into f's result.
func MapAtLabel(tree any, label string, f func(d *ldict.LDict) any) any {
	stop := ldict.IsOf(label)
	switch n := tree.(type) {
	case *ldict.LDict:
		if stop(n) {
			return f(n)
		}
		return n.Map(func(_, v any) any { return MapAtLabel(v, label, f) })
	case map[string]any:
		out := make(map[string]any, len(n))
		for _, k := range sortedKeys(n) {
			out[k] = MapAtLabel(n[k], label, f)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = MapAtLabel(v, label, f)
		}
		return out
	default:
		return tree
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
