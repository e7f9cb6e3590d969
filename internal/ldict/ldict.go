// Package ldict implements the labeled, ordered, immutable mapping that
// forms every level of the result trees flowing through the pipeline.
//
// A level of a tree corresponds to one semantic axis of a study: the
// training disturbance level, the evaluation disturbance amplitude, and so
// on. Tagging the mapping with the axis name lets callers map over a
// specific level of a tree, and tells the catalog which column a key
// belongs in when a figure is persisted.
package ldict

import (
	"errors"
	"fmt"
	"iter"
	"reflect"
)

// ErrKeyNotFound is returned by Get when the requested key is absent.
var ErrKeyNotFound = errors.New("ldict: key not found")

// Pair is a single key-value entry, used to construct an LDict with a
// definite key order.
type Pair struct {
	K any
	V any
}

// LDict is an ordered mapping tagged with a string label naming the
// semantic axis it represents. Keys are comparable scalars (strings,
// booleans, integers, floats). Once constructed, the label and key set are
// fixed; there is no mutation API.
type LDict struct {
	label string
	keys  []any
	index map[any]int
	vals  []any
}

// New constructs an LDict with the given label and entries, preserving the
// order in which pairs are supplied. A repeated key overwrites the earlier
// value but keeps its original position.
func New(label string, pairs ...Pair) *LDict {
	d := &LDict{
		label: label,
		index: make(map[any]int, len(pairs)),
	}
	for _, p := range pairs {
		if i, ok := d.index[p.K]; ok {
			d.vals[i] = p.V
			continue
		}
		d.index[p.K] = len(d.keys)
		d.keys = append(d.keys, p.K)
		d.vals = append(d.vals, p.V)
	}
	return d
}

// Of returns a constructor bound to the given label.
func Of(label string) func(pairs ...Pair) *LDict {
	return func(pairs ...Pair) *LDict {
		return New(label, pairs...)
	}
}

// FromKeys constructs an LDict with the given label and keys, every key
// mapped to the same value.
func FromKeys(label string, keys []any, value any) *LDict {
	pairs := make([]Pair, len(keys))
	for i, k := range keys {
		pairs[i] = Pair{K: k, V: value}
	}
	return New(label, pairs...)
}

// IsOf returns a predicate reporting whether a node is an LDict carrying
// exactly the given label. The predicate is the usual stop-point test for
// tree traversals over a specific axis.
func IsOf(label string) func(node any) bool {
	return func(node any) bool {
		d, ok := node.(*LDict)
		return ok && d.label == label
	}
}

// Label returns the axis name this mapping represents.
func (d *LDict) Label() string { return d.label }

// Len returns the number of entries.
func (d *LDict) Len() int { return len(d.keys) }

// Has reports whether the key is present.
func (d *LDict) Has(key any) bool {
	_, ok := d.index[key]
	return ok
}

// Get returns the value for key, or a wrapped ErrKeyNotFound naming the
// label and key.
func (d *LDict) Get(key any) (any, error) {
	i, ok := d.index[key]
	if !ok {
		return nil, fmt.Errorf("label %q, key %v: %w", d.label, key, ErrKeyNotFound)
	}
	return d.vals[i], nil
}

// MustGet is Get for keys the caller knows are present.
func (d *LDict) MustGet(key any) any {
	v, err := d.Get(key)
	if err != nil {
		panic(err)
	}
	return v
}

// Keys returns the keys in insertion order. The slice is a copy.
func (d *LDict) Keys() []any {
	out := make([]any, len(d.keys))
	copy(out, d.keys)
	return out
}

// Values returns the values in key order. The slice is a copy.
func (d *LDict) Values() []any {
	out := make([]any, len(d.vals))
	copy(out, d.vals)
	return out
}

// All iterates over entries in key order.
func (d *LDict) All() iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		for i, k := range d.keys {
			if !yield(k, d.vals[i]) {
				return
			}
		}
	}
}

// With returns a copy of d with key set to value. New keys are appended in
// order; existing keys keep their position. The receiver is unchanged.
func (d *LDict) With(key, value any) *LDict {
	pairs := make([]Pair, 0, len(d.keys)+1)
	for i, k := range d.keys {
		pairs = append(pairs, Pair{K: k, V: d.vals[i]})
	}
	pairs = append(pairs, Pair{K: key, V: value})
	return New(d.label, pairs...)
}

// Map returns a copy of d with every value replaced by f(key, value).
func (d *LDict) Map(f func(key, value any) any) *LDict {
	pairs := make([]Pair, len(d.keys))
	for i, k := range d.keys {
		pairs[i] = Pair{K: k, V: f(k, d.vals[i])}
	}
	return New(d.label, pairs...)
}

// Equal reports whether two LDicts have the same label, key order, and
// deeply equal values.
func Equal(a, b *LDict) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.label != b.label || len(a.keys) != len(b.keys) {
		return false
	}
	for i, k := range a.keys {
		if b.keys[i] != k {
			return false
		}
		if !reflect.DeepEqual(a.vals[i], b.vals[i]) {
			return false
		}
	}
	return true
}

func (d *LDict) String() string {
	s := fmt.Sprintf("LDict(%q, {", d.label)
	for i, k := range d.keys {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%v: %v", k, d.vals[i])
	}
	return s + "})"
}
