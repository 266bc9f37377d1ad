package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmbeddingCache_PutGetRoundtrip(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("transfer station hours", []float32{1, 2, 3})
	v, ok := c.Get("  transfer station hours  ")
	require.True(t, ok)
	require.Equal(t, []float32{1, 2, 3}, v)
}

func TestEmbeddingCache_TTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := New(10, 5*time.Second).WithClock(clock)
	c.Put("k", []float32{1})
	now = now.Add(6 * time.Second)
	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestEmbeddingCache_FIFOEvictionAtCapacity(t *testing.T) {
	c := New(2, time.Hour)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Put("c", []float32{3})
	_, ok := c.Get("a")
	require.False(t, ok, "oldest-inserted key should be evicted")
	_, ok = c.Get("b")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
	require.LessOrEqual(t, c.Stats().Size, c.Stats().MaxSize)
}

func TestEmbeddingCache_SizeNeverExceedsCapacity(t *testing.T) {
	c := New(3, time.Hour)
	for i := 0; i < 50; i++ {
		c.Put(string(rune('a'+i%26))+string(rune(i)), []float32{float32(i)})
		require.LessOrEqual(t, c.Stats().Size, 3)
	}
}

func TestEmbeddingCache_Clear(t *testing.T) {
	c := New(10, time.Hour)
	c.Put("a", []float32{1})
	c.Clear()
	require.Equal(t, 0, c.Stats().Size)
	_, ok := c.Get("a")
	require.False(t, ok)
}
