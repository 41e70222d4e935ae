package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCounter(t *testing.T) {
	c, err := NewCounter("gpt-4")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestCountNonEmpty(t *testing.T) {
	c, err := NewCounter("claude-sonnet-4")
	require.NoError(t, err)

	n := c.Count("The quick brown fox jumps over the lazy dog.")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 20)
}

func TestCountScalesWithLength(t *testing.T) {
	c, err := NewCounter("gpt-4")
	require.NoError(t, err)

	short := c.Count("hello")
	long := c.Count(strings.Repeat("hello world ", 100))
	assert.Greater(t, long, short)
}

func TestNilCounterFallsBack(t *testing.T) {
	var c *Counter
	assert.Equal(t, len("abcdefgh")/4, c.Count("abcdefgh"))
}

func TestPackageLevelCount(t *testing.T) {
	assert.Greater(t, Count("some text to count"), 0)
}
