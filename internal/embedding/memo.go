package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"promptgate/internal/cache"
	"promptgate/internal/logging"
)

// =============================================================================
// EMBEDDING MEMO
// =============================================================================

// MemoEngine wraps an Engine with a bounded LRU keyed by the SHA-256 of the
// input text, so identical texts within a process are encoded once.
type MemoEngine struct {
	inner Engine
	memo  *cache.LRU[string, []float32]
}

// NewMemoEngine wraps inner with a memo of at most entries vectors.
func NewMemoEngine(inner Engine, entries int) *MemoEngine {
	return &MemoEngine{
		inner: inner,
		memo:  cache.NewLRU[string, []float32](entries),
	}
}

// Embed returns the memoized vector when available, otherwise encodes via
// the inner engine and stores the result.
func (e *MemoEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	key := memoKey(text)
	if vec, ok := e.memo.Get(key); ok {
		logging.EmbeddingDebug("Memo hit for text of %d bytes", len(text))
		return vec, nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.memo.Put(key, vec)
	return vec, nil
}

// EmbedBatch encodes texts, serving memoized entries and only sending the
// misses to the inner engine.
func (e *MemoEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := e.memo.Get(memoKey(text)); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vecs, err := e.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			out[missIdx[j]] = vec
			e.memo.Put(memoKey(missTexts[j]), vec)
		}
	}
	return out, nil
}

// Dimensions returns the inner engine's dimensionality.
func (e *MemoEngine) Dimensions() int {
	return e.inner.Dimensions()
}

// Name returns the inner engine's name.
func (e *MemoEngine) Name() string {
	return e.inner.Name()
}

// HealthCheck delegates to the inner engine when it supports health checks.
func (e *MemoEngine) HealthCheck(ctx context.Context) error {
	if hc, ok := e.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func memoKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
