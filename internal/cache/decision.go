package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"promptgate/internal/logging"
	"promptgate/internal/types"
)

// =============================================================================
// DECISION CACHE
// =============================================================================

// DecisionCache memoizes pipeline verdicts for repeated inputs. The key
// binds the normalized text to the policy version and the exemplar index
// hash, so a policy edit or index rebuild silently invalidates every prior
// decision without an explicit flush.
type DecisionCache struct {
	lru *LRU[string, types.Verdict]
}

// NewDecisionCache creates a decision cache with the given capacity.
func NewDecisionCache(entries int) *DecisionCache {
	return &DecisionCache{lru: NewLRU[string, types.Verdict](entries)}
}

// Key derives the cache key for a normalized text under the current policy
// version and index hash.
func Key(normalizedText, policyVersion, indexHash string) string {
	h := sha256.New()
	h.Write([]byte(normalizedText))
	h.Write([]byte{0})
	h.Write([]byte(policyVersion))
	h.Write([]byte{0})
	h.Write([]byte(indexHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached verdict for key, marked as a cache hit. The
// original processing time is preserved so callers can see what the
// decision cost when it was first computed.
func (c *DecisionCache) Get(key string) (types.Verdict, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return types.Verdict{}, false
	}
	logging.CacheDebug("Decision cache hit: method=%s action=%s", v.Method, v.Action)
	v.CacheHit = true
	return v, true
}

// Put stores a verdict with cache_hit reset, so a stored hit re-inserted
// under a new key never reads as cached on first retrieval.
func (c *DecisionCache) Put(key string, v types.Verdict) {
	v.CacheHit = false
	c.lru.Put(key, v)
}

// Len returns the number of cached decisions.
func (c *DecisionCache) Len() int {
	return c.lru.Len()
}

// Purge drops all cached decisions.
func (c *DecisionCache) Purge() {
	c.lru.Purge()
}
