package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hpkv-io/multiplayer-go/internal/filter"
)

func TestAllowlist_EmptyAllowsEverythingExceptReserved(t *testing.T) {
	a := filter.New(nil)
	assert.True(t, a.Allows("todos"))
	assert.True(t, a.Allows("count"))
	assert.False(t, a.Allows("multiplayer"))
}

func TestAllowlist_ExactMatch(t *testing.T) {
	a := filter.New([]string{"todos", "count"})
	assert.True(t, a.Allows("todos"))
	assert.False(t, a.Allows("users"))
}

func TestAllowlist_WildcardSuffix(t *testing.T) {
	a := filter.New([]string{"todo-*"})
	assert.True(t, a.Allows("todo-archive"))
	assert.False(t, a.Allows("users"))
}

func TestAllowlist_ReservedFieldNeverAllowed(t *testing.T) {
	a := filter.New([]string{"*"})
	assert.False(t, a.Allows("multiplayer"))
}

func TestMerge(t *testing.T) {
	assert.Nil(t, filter.Merge(nil, nil))
	assert.ElementsMatch(t, []string{"todos", "count"}, filter.Merge([]string{"todos"}, []string{"count"}))
}
