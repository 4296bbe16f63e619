package boundedcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndGet(t *testing.T) {
	c := New[string, int](2)
	c.Add("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestGetMissReportsFalse(t *testing.T) {
	c := New[string, int](2)
	_, ok := c.Get("missing")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsedPastCapacity(t *testing.T) {
	c := New[string, int](2)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3) // evicts "a", the least recently touched
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestGetRefreshesRecency(t *testing.T) {
	c := New[string, int](2)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Get("a") // touch "a" so "b" becomes the least recently used
	c.Add("c", 3)
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestRemove(t *testing.T) {
	c := New[string, int](2)
	c.Add("a", 1)
	c.Remove("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestPurgeClearsEverything(t *testing.T) {
	c := New[string, int](5)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Purge()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}
