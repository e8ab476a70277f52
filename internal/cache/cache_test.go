package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c, err := New(Config{NumCounters: 1000, MaxCost: 1 << 20})
	require.NoError(t, err)
	defer c.Close()

	c.Set("res:1", "hello", 5)
	c.Wait()
	v, ok := c.Get("res:1")
	require.True(t, ok)
	assert.Equal(t, "hello", v)

	c.Del("res:1")
	_, ok = c.Get("res:1")
	assert.False(t, ok)
}

func TestCache_ZeroConfigUsesDefaults(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	defer c.Close()
	c.Set("k", 1, 1)
	c.Wait()
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestCache_NilIsNoop(t *testing.T) {
	var c *Cache
	c.Set("k", 1, 1)
	c.Wait()
	_, ok := c.Get("k")
	assert.False(t, ok)
	c.Del("k")
	c.Close()
}
