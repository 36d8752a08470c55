package embedding

import "context"

// NullEngine returns a fixed unit vector for every text. It stands in for a
// real encoder when the exemplar stage is disabled, so snapshot construction
// and cache keying still work without a backend. The vectors carry no
// signal; the stage that would search them is never routed to.
type NullEngine struct{}

// Embed returns the unit vector.
func (NullEngine) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1}, nil
}

// EmbedBatch returns one unit vector per text.
func (NullEngine) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

// Dimensions returns 1.
func (NullEngine) Dimensions() int { return 1 }

// Name returns the engine name.
func (NullEngine) Name() string { return "null" }
