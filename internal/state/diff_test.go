package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeNumbers(t *testing.T) {
	assert.Equal(t, int64(5), Normalize(5))
	assert.Equal(t, int64(5), Normalize(uint8(5)))
	assert.Equal(t, float64(2.5), Normalize(float32(2.5)))
	assert.True(t, Equal(int64(3), float64(3)))
	assert.False(t, Equal(int64(3), float64(3.5)))

	// Integral floats fold to int64 only inside the exact range.
	assert.Equal(t, int64(1<<53-1), Normalize(float64(1<<53-1)))
	assert.Equal(t, float64(1<<53), Normalize(float64(1<<53)))
	assert.Equal(t, int64(-(1<<53)+1), Normalize(float64(-(1<<53)+1)))
}

func TestSnapshotEqual(t *testing.T) {
	a := NewSnapshot(map[string]interface{}{"count": 1, "name": "a"})
	b := NewSnapshot(map[string]interface{}{"count": float64(1), "name": "a"})
	assert.True(t, a.Equal(b))

	c := NewSnapshot(map[string]interface{}{"count": 2, "name": "a"})
	assert.False(t, a.Equal(c))
}

func TestDiffScalarChange(t *testing.T) {
	old := NewSnapshot(map[string]interface{}{"count": 0})
	cur := NewSnapshot(map[string]interface{}{"count": 1})

	patches := Diff(old, cur)
	require.Len(t, patches, 1)
	assert.Equal(t, "/count", patches[0].Path)
	assert.Equal(t, OpSet, patches[0].Kind)
	assert.Equal(t, int64(1), patches[0].Value)
}

func TestDiffNested(t *testing.T) {
	old := NewSnapshot(map[string]interface{}{
		"players": map[string]interface{}{
			"p1": map[string]interface{}{"score": 10},
			"p2": map[string]interface{}{"score": 20},
		},
	})
	cur := NewSnapshot(map[string]interface{}{
		"players": map[string]interface{}{
			"p1": map[string]interface{}{"score": 15},
			"p3": map[string]interface{}{"score": 5},
		},
	})

	patches := Diff(old, cur)
	require.Len(t, patches, 3)
	// Path-sorted output.
	assert.Equal(t, "/players/p1/score", patches[0].Path)
	assert.Equal(t, OpSet, patches[0].Kind)
	assert.Equal(t, "/players/p2", patches[1].Path)
	assert.Equal(t, OpRemove, patches[1].Kind)
	assert.Equal(t, "/players/p3", patches[2].Path)
	assert.Equal(t, OpSet, patches[2].Kind)
}

func TestDiffArrayAppend(t *testing.T) {
	old := NewSnapshot(map[string]interface{}{"log": []interface{}{"a"}})
	cur := NewSnapshot(map[string]interface{}{"log": []interface{}{"a", "b", "c"}})

	patches := Diff(old, cur)
	require.Len(t, patches, 2)
	assert.Equal(t, OpInsert, patches[0].Kind)
	assert.Equal(t, "/log", patches[0].Path)
	assert.Equal(t, 1, patches[0].Index)
	assert.Equal(t, 2, patches[1].Index)
}

func TestDiffArrayShrinkReplacesWhole(t *testing.T) {
	old := NewSnapshot(map[string]interface{}{"log": []interface{}{"a", "b"}})
	cur := NewSnapshot(map[string]interface{}{"log": []interface{}{"a"}})

	patches := Diff(old, cur)
	require.Len(t, patches, 1)
	assert.Equal(t, OpSet, patches[0].Kind)
	assert.Equal(t, "/log", patches[0].Path)
}

func TestDiffNoChange(t *testing.T) {
	snap := NewSnapshot(map[string]interface{}{"count": 1, "tags": []interface{}{"x"}})
	assert.Empty(t, Diff(snap, snap.Clone()))
}

// Diff soundness: applying the diff to the old snapshot reproduces the new one.
func TestDiffApplyRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		old  map[string]interface{}
		cur  map[string]interface{}
	}{
		{
			name: "scalars and removal",
			old:  map[string]interface{}{"a": 1, "b": "x", "gone": true},
			cur:  map[string]interface{}{"a": 2, "b": "x", "new": "field"},
		},
		{
			name: "nested map churn",
			old: map[string]interface{}{
				"board": map[string]interface{}{"cells": []interface{}{int64(0), int64(0)}, "turn": "p1"},
			},
			cur: map[string]interface{}{
				"board": map[string]interface{}{"cells": []interface{}{int64(1), int64(0)}, "turn": "p2"},
			},
		},
		{
			name: "array append",
			old:  map[string]interface{}{"chat": []interface{}{"hi"}},
			cur:  map[string]interface{}{"chat": []interface{}{"hi", "there", "all"}},
		},
		{
			name: "array shrink",
			old:  map[string]interface{}{"chat": []interface{}{"a", "b", "c"}},
			cur:  map[string]interface{}{"chat": []interface{}{"c"}},
		},
		{
			name: "path characters needing escape",
			old:  map[string]interface{}{"a/b": 1, "c~d": 2},
			cur:  map[string]interface{}{"a/b": 3, "c~d": 2},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			old := NewSnapshot(tc.old)
			cur := NewSnapshot(tc.cur)
			patches := Diff(old, cur)
			got, err := Apply(old, patches)
			require.NoError(t, err)
			assert.True(t, got.Equal(cur), "applied snapshot diverged: %#v vs %#v", got, cur)
		})
	}
}

func TestPatchWireRoundTrip(t *testing.T) {
	patches := []Patch{
		{Path: "/count", Kind: OpSet, Value: int64(3)},
		{Path: "/gone", Kind: OpRemove},
		{Path: "/log", Kind: OpInsert, Index: 2, Value: "entry"},
	}
	for _, p := range patches {
		decoded, err := PatchFromWire(p.WireForm())
		require.NoError(t, err)
		assert.Equal(t, p, decoded)
	}
}

func TestPathEscaping(t *testing.T) {
	assert.Equal(t, "/a~1b/c~0d", JoinPath("a/b", "c~d"))
	assert.Equal(t, []string{"a/b", "c~d"}, SplitPath("/a~1b/c~0d"))
}

func TestSchemaFilterPrivate(t *testing.T) {
	schema := Schema{"hand": Private}
	raw := map[string]interface{}{
		"pot": 100,
		"hand": map[string]interface{}{
			"p1": []interface{}{"AS", "KD"},
			"p2": []interface{}{"2C", "7H"},
		},
	}

	p1 := schema.FilterForPlayer(raw, "p1")
	assert.Equal(t, int64(100), p1["pot"])
	assert.Equal(t, []interface{}{"AS", "KD"}, p1["hand"])

	p3 := schema.FilterForPlayer(raw, "p3")
	_, ok := p3["hand"]
	assert.False(t, ok)
}
