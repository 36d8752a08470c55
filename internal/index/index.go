// Package index holds the exemplar vector index for the semantic stage.
// Exemplar texts come from policy; vectors are unit-normalized so inner
// product is cosine similarity, and per-class scores are max-pooled over
// the class's exemplars.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"promptgate/internal/embedding"
	"promptgate/internal/logging"
	"promptgate/internal/types"
)

// =============================================================================
// EXEMPLAR INDEX
// =============================================================================

// Index is an immutable flat vector index. It is built once per policy
// snapshot and shared read-only across requests.
type Index struct {
	dims    int
	entries []entry
	hash    string
}

type entry struct {
	class types.FailureClass
	vec   []float32
}

// Build encodes the exemplar corpus and assembles the index. The hash covers
// the exemplar texts and the encoder name, so a policy edit or a model swap
// yields a different hash and invalidates cached decisions.
func Build(ctx context.Context, engine embedding.Engine, exemplars map[types.FailureClass][]string) (*Index, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Build")
	defer timer.Stop()

	classes := make([]types.FailureClass, 0, len(exemplars))
	for class := range exemplars {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	hasher := sha256.New()
	fmt.Fprintf(hasher, "encoder:%s\n", engine.Name())

	var texts []string
	var labels []types.FailureClass
	for _, class := range classes {
		for _, text := range exemplars[class] {
			if text == "" {
				return nil, fmt.Errorf("empty exemplar for class %s", class)
			}
			texts = append(texts, text)
			labels = append(labels, class)
			fmt.Fprintf(hasher, "%s\x00%s\x00", class, text)
		}
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("exemplar corpus is empty")
	}

	vecs, err := engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode exemplar corpus: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("encoder returned %d vectors for %d exemplars", len(vecs), len(texts))
	}

	dims := engine.Dimensions()
	entries := make([]entry, len(vecs))
	for i, vec := range vecs {
		if len(vec) != dims {
			return nil, fmt.Errorf("exemplar %d has %d dimensions, expected %d", i, len(vec), dims)
		}
		if !embedding.IsUnit(vec) {
			embedding.Normalize(vec)
			if !embedding.IsUnit(vec) {
				// Zero vectors cannot be normalized; an encoder emitting one
				// is broken and must not slip into the index.
				return nil, fmt.Errorf("exemplar %d (%s) encoded to a zero vector", i, labels[i])
			}
		}
		entries[i] = entry{class: labels[i], vec: vec}
	}

	idx := &Index{
		dims:    dims,
		entries: entries,
		hash:    hex.EncodeToString(hasher.Sum(nil)),
	}
	logging.Index("Exemplar index built: %d vectors, %d classes, %d dims, hash=%s",
		len(entries), len(classes), dims, idx.hash[:12])
	return idx, nil
}

// Search computes the max-pooled similarity per class for a probe vector.
func (idx *Index) Search(probe []float32) (map[types.FailureClass]float64, error) {
	if len(probe) != idx.dims {
		return nil, fmt.Errorf("probe has %d dimensions, index has %d", len(probe), idx.dims)
	}

	scores := make(map[types.FailureClass]float64)
	for _, e := range idx.entries {
		var sum float64
		for i := range probe {
			sum += float64(probe[i]) * float64(e.vec[i])
		}
		if prev, ok := scores[e.class]; !ok || sum > prev {
			scores[e.class] = sum
		}
	}
	return scores, nil
}

// Size returns the number of exemplar vectors.
func (idx *Index) Size() int {
	return len(idx.entries)
}

// Dimensions returns the vector dimensionality.
func (idx *Index) Dimensions() int {
	return idx.dims
}

// Hash returns the content hash of the index. It participates in the
// decision cache key.
func (idx *Index) Hash() string {
	return idx.hash
}
