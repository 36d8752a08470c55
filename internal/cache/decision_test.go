package cache

import (
	"fmt"
	"sync"
	"testing"

	"promptgate/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUBasics(t *testing.T) {
	lru := NewLRU[string, int](2)

	lru.Put("a", 1)
	lru.Put("b", 2)

	v, ok := lru.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// "b" is now least recently used and gets evicted.
	lru.Put("c", 3)
	_, ok = lru.Get("b")
	assert.False(t, ok)
	_, ok = lru.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, lru.Len())
}

func TestLRUUpdateExisting(t *testing.T) {
	lru := NewLRU[string, int](2)
	lru.Put("a", 1)
	lru.Put("a", 9)

	v, ok := lru.Get("a")
	require.True(t, ok)
	assert.Equal(t, 9, v)
	assert.Equal(t, 1, lru.Len())
}

func TestLRUZeroCapacityStoresNothing(t *testing.T) {
	lru := NewLRU[string, int](0)
	lru.Put("a", 1)
	_, ok := lru.Get("a")
	assert.False(t, ok)
}

func TestKeyBindsPolicyAndIndex(t *testing.T) {
	base := Key("some text", "policy-v1", "index-h1")

	assert.NotEqual(t, base, Key("other text", "policy-v1", "index-h1"))
	assert.NotEqual(t, base, Key("some text", "policy-v2", "index-h1"))
	assert.NotEqual(t, base, Key("some text", "policy-v1", "index-h2"))
	assert.Equal(t, base, Key("some text", "policy-v1", "index-h1"))
}

func TestKeyFieldBoundaries(t *testing.T) {
	// Concatenation ambiguity across field boundaries must not collide.
	assert.NotEqual(t, Key("ab", "c", "d"), Key("a", "bc", "d"))
}

func TestDecisionCacheHitMarking(t *testing.T) {
	c := NewDecisionCache(10)
	key := Key("text", "v1", "h1")

	c.Put(key, types.Verdict{
		Action:           types.ActionBlock,
		TierUsed:         1,
		Method:           types.MethodPatternStrong,
		FailureClass:     types.FailurePromptInjection,
		Severity:         types.SeverityCritical,
		Confidence:       0.95,
		ProcessingTimeMS: 12.5,
	})

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.True(t, got.CacheHit)
	assert.Equal(t, 12.5, got.ProcessingTimeMS, "original processing time is preserved on hits")
	assert.Equal(t, types.ActionBlock, got.Action)
	assert.Equal(t, types.MethodPatternStrong, got.Method)
}

func TestDecisionCacheMiss(t *testing.T) {
	c := NewDecisionCache(10)
	_, ok := c.Get(Key("never stored", "v1", "h1"))
	assert.False(t, ok)
}

func TestDecisionCacheConcurrentAccess(t *testing.T) {
	c := NewDecisionCache(64)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := Key(fmt.Sprintf("text-%d", j%32), "v1", "h1")
				c.Put(key, types.Verdict{Action: types.ActionAllow, TierUsed: 1, FailureClass: types.FailureNone})
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}
