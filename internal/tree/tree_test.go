package tree

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/policylab/internal/ldict"
)

// record is a Resolver used to stand in for named-record nodes.
type record struct {
	pos float64
	vel float64
}

func (r record) Resolve(key any) (any, error) {
	switch key {
	case "pos":
		return r.pos, nil
	case "vel":
		return r.vel, nil
	}
	return nil, fmt.Errorf("record field %v: %w", key, ldict.ErrKeyNotFound)
}

func sampleTree() *ldict.LDict {
	return ldict.New("train_pert_std",
		ldict.Pair{K: 0.0, V: ldict.New("pert_amp",
			ldict.Pair{K: 0.5, V: []float64{1, 2}},
			ldict.Pair{K: 2.5, V: []float64{3, 4}},
		)},
		ldict.Pair{K: 1.0, V: ldict.New("pert_amp",
			ldict.Pair{K: 0.5, V: []float64{5, 6}},
			ldict.Pair{K: 2.5, V: []float64{7, 8}},
		)},
	)
}

func TestAt(t *testing.T) {
	tr := map[string]any{
		"states": sampleTree(),
		"extras": []any{record{pos: 1.5, vel: -2.0}},
	}

	v, err := At(tr, "states", 1.0, 2.5)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, 8}, v)

	v, err = At(tr, "extras", 0, "vel")
	require.NoError(t, err)
	assert.Equal(t, -2.0, v)
}

func TestAtErrors(t *testing.T) {
	tr := map[string]any{"a": []any{1}}

	_, err := At(tr, "missing")
	assert.ErrorIs(t, err, ldict.ErrKeyNotFound)

	_, err = At(tr, "a", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")

	_, err = At(tr, "a", 0, "deeper")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot descend")
}

func TestMapPreservesStructure(t *testing.T) {
	got := Map(sampleTree(), func(leaf any) any {
		xs := leaf.([]float64)
		sum := 0.0
		for _, x := range xs {
			sum += x
		}
		return sum
	}, nil)

	d, ok := got.(*ldict.LDict)
	require.True(t, ok)
	assert.Equal(t, "train_pert_std", d.Label())

	v, err := At(d, 0.0, 2.5)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestFlattenUnflattenIdentity(t *testing.T) {
	orig := sampleTree()
	def, leaves := Flatten(orig, nil)

	require.Equal(t, 4, len(leaves))
	assert.Equal(t, 4, def.NumLeaves())
	assert.Equal(t, []float64{1, 2}, leaves[0])

	rebuilt := def.Unflatten(leaves)
	rd, ok := rebuilt.(*ldict.LDict)
	require.True(t, ok)
	assert.True(t, ldict.Equal(orig, rd), "unflatten(flatten(T)) must equal T")
}

func TestFlattenUnflattenMixedNodes(t *testing.T) {
	orig := map[string]any{
		"b": []any{1, 2},
		"a": ldict.New("axis", ldict.Pair{K: "k", V: 3}),
	}
	def, leaves := Flatten(orig, nil)
	rebuilt := def.Unflatten(leaves)

	assert.Equal(t, orig, rebuilt)
}

func TestUnflattenWithNewLeaves(t *testing.T) {
	def, leaves := Flatten(sampleTree(), nil)
	newLeaves := make([]any, len(leaves))
	for i := range leaves {
		newLeaves[i] = i
	}

	rebuilt := def.Unflatten(newLeaves).(*ldict.LDict)
	assert.Equal(t, "train_pert_std", rebuilt.Label())
	v, err := At(rebuilt, 1.0, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestPathsParallelToLeaves(t *testing.T) {
	tr := sampleTree()
	paths := Paths(tr, nil)
	leaves := Leaves(tr, nil)
	require.Equal(t, len(leaves), len(paths))

	for i, p := range paths {
		v, err := At(tr, p...)
		require.NoError(t, err)
		assert.Equal(t, leaves[i], v)
	}
	assert.Equal(t, Path{0.0, 0.5}, paths[0])
	assert.Equal(t, Path{1.0, 2.5}, paths[3])
}

func TestLevelLabels(t *testing.T) {
	assert.Equal(t, []string{"train_pert_std", "pert_amp"}, LevelLabels(sampleTree(), nil))
	assert.Empty(t, LevelLabels([]float64{1}, nil))
}

func TestLabeledPaths(t *testing.T) {
	tr := map[string]any{"wrapped": sampleTree()}
	lps := LabeledPaths(tr, nil)
	require.Equal(t, 4, len(lps))

	assert.Equal(t, []LabelKV{
		{Label: "train_pert_std", Key: 0.0},
		{Label: "pert_amp", Key: 0.5},
	}, lps[0])
}

func TestMapAtLabel(t *testing.T) {
	got := MapAtLabel(sampleTree(), "pert_amp", func(d *ldict.LDict) any {
		return d.Len()
	})

	d := got.(*ldict.LDict)
	assert.Equal(t, "train_pert_std", d.Label())
	assert.Equal(t, 2, d.MustGet(0.0))
	assert.Equal(t, 2, d.MustGet(1.0))
}

func TestMapAtLabelRoot(t *testing.T) {
	got := MapAtLabel(sampleTree(), "train_pert_std", func(d *ldict.LDict) any {
		return "stacked"
	})
	assert.Equal(t, "stacked", got)
}

func TestResolverIsLeafToFlatten(t *testing.T) {
	tr := map[string]any{"r": record{pos: 1, vel: 2}}
	_, leaves := Flatten(tr, nil)
	require.Equal(t, 1, len(leaves))
	_, ok := leaves[0].(record)
	assert.True(t, ok)
}

func TestAtWrapsPathContext(t *testing.T) {
	_, err := At(sampleTree(), 0.0, 9.9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ldict.ErrKeyNotFound))
	assert.Contains(t, err.Error(), "pert_amp")
}
