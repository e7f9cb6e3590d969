package ldict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewPreservesInsertionOrder(t *testing.T) {
	d := New("pert_amp",
		Pair{K: 2.0, V: "c"},
		Pair{K: 0.0, V: "a"},
		Pair{K: 1.0, V: "b"},
	)

	assert.Equal(t, "pert_amp", d.Label())
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, []any{2.0, 0.0, 1.0}, d.Keys())
	assert.Equal(t, []any{"c", "a", "b"}, d.Values())
}

func TestRepeatedKeyKeepsPosition(t *testing.T) {
	d := New("axis",
		Pair{K: "x", V: 1},
		Pair{K: "y", V: 2},
		Pair{K: "x", V: 3},
	)

	assert.Equal(t, []any{"x", "y"}, d.Keys())
	assert.Equal(t, 3, d.MustGet("x"))
}

func TestGetMissingKey(t *testing.T) {
	d := New("axis", Pair{K: "x", V: 1})

	_, err := d.Get("y")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Contains(t, err.Error(), "axis")
}

func TestOfAndIsOf(t *testing.T) {
	d := Of("train_pert_std")(Pair{K: 0.0, V: nil}, Pair{K: 1.0, V: nil})

	assert.True(t, IsOf("train_pert_std")(d))
	assert.False(t, IsOf("pert_amp")(d))
	assert.False(t, IsOf("train_pert_std")(map[string]any{}))
	assert.False(t, IsOf("train_pert_std")(nil))
}

func TestFromKeys(t *testing.T) {
	d := FromKeys("axis", []any{"a", "b"}, 0)

	assert.Equal(t, []any{"a", "b"}, d.Keys())
	assert.Equal(t, 0, d.MustGet("a"))
	assert.Equal(t, 0, d.MustGet("b"))
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	d := New("axis", Pair{K: "a", V: 1})
	d2 := d.With("b", 2)
	d3 := d.With("a", 10)

	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 1, d.MustGet("a"))
	assert.Equal(t, []any{"a", "b"}, d2.Keys())
	assert.Equal(t, 10, d3.MustGet("a"))
	assert.Equal(t, 1, d3.Len())
}

func TestAllIterationOrder(t *testing.T) {
	d := New("axis", Pair{K: "b", V: 2}, Pair{K: "a", V: 1})

	var keys []any
	for k, v := range d.All() {
		keys = append(keys, k)
		assert.Equal(t, d.MustGet(k), v)
	}
	assert.Equal(t, []any{"b", "a"}, keys)
}

func TestEqual(t *testing.T) {
	a := New("axis", Pair{K: "a", V: []float64{1, 2}}, Pair{K: "b", V: 2})
	b := New("axis", Pair{K: "a", V: []float64{1, 2}}, Pair{K: "b", V: 2})
	c := New("other", Pair{K: "a", V: []float64{1, 2}}, Pair{K: "b", V: 2})
	d := New("axis", Pair{K: "b", V: 2}, Pair{K: "a", V: []float64{1, 2}})

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, d), "key order is part of identity")
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(a, nil))
}

func TestYAMLRoundTrip(t *testing.T) {
	d := New("train_pert_std",
		Pair{K: 0.0, V: New("pert_amp",
			Pair{K: 0.5, V: "low"},
			Pair{K: 2.5, V: "high"},
		)},
		Pair{K: 1.0, V: []any{"x", "y"}},
	)

	out, err := yaml.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(out), "!ldict:train_pert_std")

	var got LDict
	require.NoError(t, yaml.Unmarshal(out, &got))

	assert.Equal(t, "train_pert_std", got.Label())
	assert.Equal(t, []any{0.0, 1.0}, got.Keys())

	inner, err := got.Get(0.0)
	require.NoError(t, err)
	innerD, ok := inner.(*LDict)
	require.True(t, ok, "nested mapping must come back as an LDict")
	assert.Equal(t, "pert_amp", innerD.Label())
	assert.Equal(t, []any{0.5, 2.5}, innerD.Keys())
	assert.Equal(t, "low", innerD.MustGet(0.5))

	seq, err := got.Get(1.0)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, seq)
}

func TestYAMLKeyTypesSurvive(t *testing.T) {
	d := New("mixed",
		Pair{K: "s", V: 1},
		Pair{K: int64(3), V: 2},
		Pair{K: 0.5, V: 3},
		Pair{K: true, V: 4},
	)

	out, err := yaml.Marshal(d)
	require.NoError(t, err)

	var got LDict
	require.NoError(t, yaml.Unmarshal(out, &got))
	assert.Equal(t, []any{"s", int64(3), 0.5, true}, got.Keys())
}

func TestGobRoundTrip(t *testing.T) {
	d := New("train_pert_std",
		Pair{K: 0.0, V: []float64{1, 2, 3}},
		Pair{K: 1.0, V: []float64{4, 5, 6}},
	)

	data, err := d.GobEncode()
	require.NoError(t, err)

	var got LDict
	require.NoError(t, got.GobDecode(data))
	assert.True(t, Equal(d, &got))
}
