package tree

import "github.com/vk/policylab/internal/ldict"

type nodeKind int

const (
	kindLeaf nodeKind = iota
	kindLDict
	kindMap
	kindSlice
)

// Def is the structural remainder of a flattened tree: node kinds, LDict
// labels, and ordered keys at every level, but no leaf values. Unflattening
// a Def with a new leaf sequence rebuilds the tree shape, labels included.
type Def struct {
	kind     nodeKind
	label    string
	keys     []any
	children []*Def
}

// Flatten splits a tree into its leaf values (in traversal order) and a
// Def describing everything else. A nil isLeaf uses DefaultIsLeaf.
func Flatten(tree any, isLeaf IsLeaf) (*Def, []any) {
	if isLeaf == nil {
		isLeaf = DefaultIsLeaf
	}
	var leaves []any
	def := flattenNode(tree, isLeaf, &leaves)
	return def, leaves
}

func flattenNode(node any, isLeaf IsLeaf, leaves *[]any) *Def {
	if isLeaf(node) {
		*leaves = append(*leaves, node)
		return &Def{kind: kindLeaf}
	}
	switch n := node.(type) {
	case *ldict.LDict:
		def := &Def{kind: kindLDict, label: n.Label(), keys: n.Keys()}
		for _, v := range n.Values() {
			def.children = append(def.children, flattenNode(v, isLeaf, leaves))
		}
		return def
	case map[string]any:
		def := &Def{kind: kindMap}
		for _, k := range sortedKeys(n) {
			def.keys = append(def.keys, k)
			def.children = append(def.children, flattenNode(n[k], isLeaf, leaves))
		}
		return def
	case []any:
		def := &Def{kind: kindSlice}
		for _, v := range n {
			def.children = append(def.children, flattenNode(v, isLeaf, leaves))
		}
		return def
	default:
		*leaves = append(*leaves, node)
		return &Def{kind: kindLeaf}
	}
}

// NumLeaves returns how many leaf values the Def expects.
func (d *Def) NumLeaves() int {
	if d.kind == kindLeaf {
		return 1
	}
	n := 0
	for _, c := range d.children {
		n += c.NumLeaves()
	}
	return n
}

// Unflatten rebuilds a tree from the Def and a sequence of leaf values in
// traversal order. The leaf count must match NumLeaves; labels and key
// order come back exactly as flattened.
func (d *Def) Unflatten(leaves []any) any {
	i := 0
	return d.unflatten(leaves, &i)
}

func (d *Def) unflatten(leaves []any, i *int) any {
	switch d.kind {
	case kindLeaf:
		v := leaves[*i]
		*i++
		return v
	case kindLDict:
		pairs := make([]ldict.Pair, len(d.keys))
		for j, k := range d.keys {
			pairs[j] = ldict.Pair{K: k, V: d.children[j].unflatten(leaves, i)}
		}
		return ldict.New(d.label, pairs...)
	case kindMap:
		out := make(map[string]any, len(d.keys))
		for j, k := range d.keys {
			out[k.(string)] = d.children[j].unflatten(leaves, i)
		}
		return out
	default: // kindSlice
		out := make([]any, len(d.children))
		for j := range d.children {
			out[j] = d.children[j].unflatten(leaves, i)
		}
		return out
	}
}
