package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_BasicGetPut(t *testing.T) {
	c := NewLRU[string, uint32](10, 5*time.Minute)

	c.Put("a", 9110)
	c.Put("b", 9120)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, uint32(9110), v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU[string, int](3, 0)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Get("a")
	c.Put("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 3, c.Len())
}

func TestLRU_TTLExpiration(t *testing.T) {
	c := NewLRU[string, bool](10, 5*time.Minute)
	now := time.Now()
	c.nowFn = func() time.Time { return now }

	c.Put("a", true)
	_, ok := c.Get("a")
	assert.True(t, ok)

	c.nowFn = func() time.Time { return now.Add(6 * time.Minute) }
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should have expired")
	assert.Zero(t, c.Len())
}

func TestLRU_UnboundedNeverEvictsOrExpires(t *testing.T) {
	c := NewLRU[int, int](0, 0)
	now := time.Now()
	c.nowFn = func() time.Time { return now }

	for i := 0; i < 10_000; i++ {
		c.Put(i, i*2)
	}
	c.nowFn = func() time.Time { return now.Add(365 * 24 * time.Hour) }

	assert.Equal(t, 10_000, c.Len())
	v, ok := c.Get(0)
	require.True(t, ok)
	assert.Equal(t, 0, v)
	v, ok = c.Get(9_999)
	require.True(t, ok)
	assert.Equal(t, 19_998, v)
}

func TestLRU_UpdateExisting(t *testing.T) {
	c := NewLRU[string, int](10, 0)
	c.Put("a", 1)
	c.Put("a", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU[string, bool](0, 0)
	c.Put("a", true)

	c.Get("a")
	c.Get("a")
	c.Get("miss")

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRU_UnboundedConcurrentReadWrite(t *testing.T) {
	c := NewLRU[int, int](0, 0)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Put(i%50, id)
				c.Get(i % 50)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}

func TestLRU_UnboundedGetHitDoesNotAllocate(t *testing.T) {
	c := NewLRU[[32]byte, uint32](0, 0)
	key := [32]byte{1}
	c.Put(key, 7)

	allocs := testing.AllocsPerRun(100, func() { c.Get(key) })
	assert.Equal(t, float64(0), allocs)
}

func BenchmarkLRU_UnboundedGetHit(b *testing.B) {
	c := NewLRU[[32]byte, uint32](0, 0)
	var keys [][32]byte
	for i := 0; i < 1024; i++ {
		k := [32]byte{byte(i), byte(i >> 8)}
		keys = append(keys, k)
		c.Put(k, uint32(i))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(keys[i%len(keys)])
	}
}
