package memory

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRemove(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", []byte("v1"))
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	c.Set("k", []byte("value-2"))
	got, ok = c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("value-2"), got)
	assert.Equal(t, int64(len("value-2")), c.SizeBytes())

	c.Remove("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(0), c.SizeBytes())

	c.Remove("k")
}

func TestRemoveAll(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)
	for i := range 5 {
		c.Set(strconv.Itoa(i), []byte("x"))
	}
	c.RemoveAll()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.SizeBytes())
}

func TestMaxEntriesEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c, err := New(WithMaxEntries(2))
	require.NoError(t, err)

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	_, _ = c.Get("a")
	c.Set("c", []byte("3"))

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestMaxBytes(t *testing.T) {
	t.Parallel()

	c, err := New(WithMaxBytes(10))
	require.NoError(t, err)

	c.Set("a", make([]byte, 4))
	c.Set("b", make([]byte, 4))
	c.Set("c", make([]byte, 4))
	assert.False(t, c.Contains("a"))
	assert.Equal(t, int64(8), c.SizeBytes())

	c.Set("huge", make([]byte, 11))
	assert.False(t, c.Contains("huge"))
	assert.Equal(t, int64(8), c.SizeBytes())
}

func TestPurge(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)
	c.Set("a", make([]byte, 7))
	c.Set("b", make([]byte, 3))

	assert.Equal(t, int64(10), c.Purge())
	assert.Equal(t, 0, c.Len())
}

func TestNewRejectsNegativeBounds(t *testing.T) {
	t.Parallel()

	_, err := New(WithMaxBytes(-1))
	require.Error(t, err)
	_, err = New(WithMaxEntries(-1))
	require.Error(t, err)
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	c, err := New(WithMaxEntries(64))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				key := strconv.Itoa((w * 31) + i%100)
				c.Set(key, []byte(key))
				if got, ok := c.Get(key); ok {
					assert.Equal(t, key, string(got))
				}
				if i%7 == 0 {
					c.Remove(key)
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func TestReserveReturnsCachedBlob(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)
	c.Set("k", []byte("v"))

	_, got, ok := c.Reserve("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestFill(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *Cache)
		stored bool
		want   string
	}{
		{name: "untouched", mutate: func(*Cache) {}, stored: true, want: "loaded"},
		{name: "other key set", mutate: func(c *Cache) { c.Set("other", []byte("x")) }, stored: true, want: "loaded"},
		{name: "set", mutate: func(c *Cache) { c.Set("k", []byte("newer")) }, stored: false, want: "newer"},
		{name: "removed", mutate: func(c *Cache) { c.Remove("k") }},
		{name: "remove all", mutate: func(c *Cache) { c.RemoveAll() }},
		{name: "purge", mutate: func(c *Cache) { c.Purge() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := New()
			require.NoError(t, err)

			ticket, _, ok := c.Reserve("k")
			require.False(t, ok)
			tt.mutate(c)

			assert.Equal(t, tt.stored, c.Fill(ticket, []byte("loaded")))
			got, ok := c.Get("k")
			assert.Equal(t, tt.want != "", ok)
			if tt.want != "" {
				assert.Equal(t, []byte(tt.want), got)
			}
		})
	}
}

func TestReleaseForgetsLoad(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)

	ticket, _, _ := c.Reserve("k")
	c.Set("k", []byte("v"))
	c.Release(ticket)
	c.Remove("k")

	// A fresh reservation is not affected by changes made before it.
	ticket, _, ok := c.Reserve("k")
	require.False(t, ok)
	assert.True(t, c.Fill(ticket, []byte("loaded")))
	assert.Empty(t, c.loads)
}

func TestMaxBytesTracksReplacement(t *testing.T) {
	t.Parallel()

	c, err := New(WithMaxBytes(10), WithMaxEntries(3))
	require.NoError(t, err)

	c.Set("a", make([]byte, 6))
	c.Set("a", make([]byte, 2))
	assert.Equal(t, int64(2), c.SizeBytes())

	c.Set("b", make([]byte, 2))
	c.Set("c", make([]byte, 2))
	c.Set("d", make([]byte, 2))
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(6), c.SizeBytes())
	assert.False(t, c.Contains("a"))
}
