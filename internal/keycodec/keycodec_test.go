package keycodec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpkv-io/multiplayer-go/internal/keycodec"
)

func TestBuildParseRoundTrip(t *testing.T) {
	c := keycodec.New("room-1", 2)
	path := []string{"todos", "t1", "title"}
	key := c.Build(path)

	parsed, err := c.Parse(key)
	require.NoError(t, err)
	assert.Equal(t, path, parsed.Path)
	assert.True(t, parsed.IsGranular)
}

func TestBuildParseRoundTrip_SingleSegmentNotGranular(t *testing.T) {
	c := keycodec.New("room-1", 0)
	key := c.Build([]string{"count"})

	parsed, err := c.Parse(key)
	require.NoError(t, err)
	assert.Equal(t, []string{"count"}, parsed.Path)
	assert.False(t, parsed.IsGranular)
}

func TestBuildEscapesReservedCharacters(t *testing.T) {
	c := keycodec.New("room-1", 1)
	path := []string{"weird:field", `back\slash`}
	key := c.Build(path)

	parsed, err := c.Parse(key)
	require.NoError(t, err)
	assert.Equal(t, path, parsed.Path)
}

func TestDifferentZFactorsDoNotShareKeys(t *testing.T) {
	a := keycodec.New("room-1", 0)
	b := keycodec.New("room-1", 2)
	assert.NotEqual(t, a.EffectiveNamespace(), b.EffectiveNamespace())

	key := a.Build([]string{"count"})
	_, err := b.Parse(key)
	assert.Error(t, err)
}

func TestParseRejectsForeignNamespace(t *testing.T) {
	a := keycodec.New("room-1", 0)
	other := keycodec.New("room-2", 0)
	key := other.Build([]string{"count"})

	_, err := a.Parse(key)
	assert.Error(t, err)
}

func TestParseRejectsDanglingEscape(t *testing.T) {
	c := keycodec.New("room-1", 0)
	_, err := c.Parse(c.EffectiveNamespace() + ":bad\\")
	assert.Error(t, err)
}

func TestRangeBounds(t *testing.T) {
	c := keycodec.New("room-1", 0)
	start, end := c.RangeBounds()
	assert.Equal(t, c.EffectiveNamespace()+":", start)
	assert.True(t, start < end)

	key := c.Build([]string{"count"})
	assert.True(t, key >= start && key < end)
}

func TestMatchesAllow(t *testing.T) {
	assert.True(t, keycodec.MatchesAllow("todos", nil))
	assert.True(t, keycodec.MatchesAllow("todos", []string{"todos"}))
	assert.False(t, keycodec.MatchesAllow("todos", []string{"users"}))
	assert.True(t, keycodec.MatchesAllow("todo-archive", []string{"todo-*"}))
	assert.False(t, keycodec.MatchesAllow("users", []string{"todo-*"}))
}
