package doccache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheEvictionOrdering(t *testing.T) {
	// Seed scenario 1 from spec §8.
	c := New(Config{MaxCacheBytes: 300, MaxEntries: 10, CompressThreshold: 1 << 30})

	putOK, err := c.Put("a", make([]byte, 100))
	require.NoError(t, err)
	require.True(t, putOK)
	time.Sleep(time.Millisecond)

	_, err = c.Put("b", make([]byte, 100))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, err = c.Put("c", make([]byte, 100))
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, ok := c.Get("a")
	require.True(t, ok)
	time.Sleep(time.Millisecond)

	_, err = c.Put("d", make([]byte, 100))
	require.NoError(t, err)

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")
	_, dOK := c.Get("d")
	assert.True(t, aOK)
	assert.False(t, bOK, "b should have been evicted as least-recently-used")
	assert.True(t, cOK)
	assert.True(t, dOK)
}

func TestCacheRejectsOversizeEntry(t *testing.T) {
	c := New(Config{MaxCacheBytes: 100, MaxEntries: 10, CompressThreshold: 1 << 30})
	ok, err := c.Put("big", make([]byte, 90)) // > 80% of 100
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheBoundaryAtExactMax(t *testing.T) {
	c := New(Config{MaxCacheBytes: 300, MaxEntries: 10, CompressThreshold: 1 << 30})
	ok, err := c.Put("a", make([]byte, 100))
	require.NoError(t, err)
	require.True(t, ok)
	_, err = c.Put("b", make([]byte, 100))
	require.NoError(t, err)
	_, err = c.Put("c", make([]byte, 100))
	require.NoError(t, err)
	stats := c.Stats()
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, int64(300), stats.Bytes)

	_, err = c.Put("d", make([]byte, 1))
	require.NoError(t, err)
	stats = c.Stats()
	assert.LessOrEqual(t, stats.Bytes, int64(300))
}

func TestCacheAlwaysWithinBounds(t *testing.T) {
	c := New(Config{MaxCacheBytes: 1000, MaxEntries: 5, CompressThreshold: 1 << 30})
	for i := 0; i < 50; i++ {
		_, _ = c.Put(string(rune('a'+i%26))+"-key", make([]byte, 50))
		stats := c.Stats()
		assert.LessOrEqual(t, stats.Bytes, int64(1000))
		assert.LessOrEqual(t, stats.Count, 5)
	}
}

func TestCacheCompressesLargeEntries(t *testing.T) {
	c := New(Config{MaxCacheBytes: 1 << 20, MaxEntries: 10, CompressThreshold: 10})
	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte('a' + i%5)
	}
	_, err := c.Put("doc", content)
	require.NoError(t, err)
	out, ok := c.Get("doc")
	require.True(t, ok)
	assert.Equal(t, content, out)
}

func TestSnapshotOrderedByKey(t *testing.T) {
	c := New(DefaultConfig())
	_, _ = c.Put("zebra", []byte("z"))
	_, _ = c.Put("apple", []byte("a"))
	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "apple", snap[0].Key)
	assert.Equal(t, "zebra", snap[1].Key)
}

func TestRedisTierRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tier := NewRedisTier(client, WithPrefix("test"))
	ctx := context.Background()

	require.NoError(t, tier.Put(ctx, "https://example.com/a", []byte("payload")))
	data, err := tier.Get(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, tier.Delete(ctx, "https://example.com/a"))
	_, err = tier.Get(ctx, "https://example.com/a")
	assert.ErrorIs(t, err, ErrRedisMiss)
}
