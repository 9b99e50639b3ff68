package diffengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hpkv-io/multiplayer-go/internal/diffengine"
)

func TestDiff_DetectsNewAndChangedLeaves(t *testing.T) {
	prev := map[string]any{"count": 1.0, "name": "a"}
	next := map[string]any{"count": 2.0, "name": "a"}

	result := diffengine.Diff(prev, next, 0)
	assert.Len(t, result.Writes, 1)
	assert.Equal(t, []string{"count"}, result.Writes[0].Path)
	assert.Equal(t, 2.0, result.Writes[0].Value)
	assert.Empty(t, result.Deletes)
}

func TestDiff_DetectsDeletes(t *testing.T) {
	prev := map[string]any{"count": 1.0, "todos": map[string]any{}}
	next := map[string]any{"todos": map[string]any{}}

	result := diffengine.Diff(prev, next, 0)
	assert.Empty(t, result.Writes)
	assert.Len(t, result.Deletes, 1)
	assert.Equal(t, []string{"count"}, result.Deletes[0].Path)
}

func TestDiff_KeyOrderInsensitive(t *testing.T) {
	prev := map[string]any{"x": map[string]any{"a": 1.0, "b": 2.0}}
	next := map[string]any{"x": map[string]any{"b": 2.0, "a": 1.0}}

	result := diffengine.Diff(prev, next, 0)
	assert.Empty(t, result.Writes)
	assert.Empty(t, result.Deletes)
}

func TestDiff_SkipsReservedSubtree(t *testing.T) {
	prev := map[string]any{}
	next := map[string]any{"multiplayer": map[string]any{"clientId": "abc"}}

	result := diffengine.Diff(prev, next, 2)
	assert.Empty(t, result.Writes)
	assert.Empty(t, result.Deletes)
}

func TestDiff_SkipsFunctionValues(t *testing.T) {
	prev := map[string]any{}
	next := map[string]any{"onClick": func() {}}

	result := diffengine.Diff(prev, next, 0)
	assert.Empty(t, result.Writes)
}

func TestDiff_SkipsFunctionValuesAlreadyPresentInPrev(t *testing.T) {
	fn := func() {}
	prev := map[string]any{"onClick": fn, "count": 1.0}
	next := map[string]any{"onClick": fn, "count": 1.0}

	result := diffengine.Diff(prev, next, 0)
	assert.Empty(t, result.Writes)
	assert.Empty(t, result.Deletes, "a function field carried in both prev and next must never be diffed as a delete")
}

func TestDiff_RespectsZFactorCoalescing(t *testing.T) {
	prev := map[string]any{
		"todos": map[string]any{
			"t1": map[string]any{"title": "old"},
		},
	}
	next := map[string]any{
		"todos": map[string]any{
			"t1": map[string]any{"title": "new"},
		},
	}

	result := diffengine.Diff(prev, next, 1)
	if assert.Len(t, result.Writes, 1) {
		assert.Equal(t, []string{"todos", "t1"}, result.Writes[0].Path)
		assert.Equal(t, map[string]any{"title": "new"}, result.Writes[0].Value)
	}
}

func TestDiff_NullValueIsAWriteNotADelete(t *testing.T) {
	prev := map[string]any{}
	next := map[string]any{"flag": nil}

	result := diffengine.Diff(prev, next, 0)
	if assert.Len(t, result.Writes, 1) {
		assert.Equal(t, []string{"flag"}, result.Writes[0].Path)
		assert.Nil(t, result.Writes[0].Value)
	}
}
