// Package embedding provides vector encoding for the exemplar stage.
// Supports multiple backends: Ollama (local) and Google GenAI (cloud).
// All vectors handed to the index are unit-normalized so inner product
// equals cosine similarity.
package embedding

import (
	"context"
	"fmt"
	"math"

	"promptgate/internal/config"
	"promptgate/internal/logging"
)

// =============================================================================
// ENGINE INTERFACE
// =============================================================================

// Engine encodes text into embedding vectors. Implementations must be
// deterministic for a given model version and must honor the context
// deadline on every call.
type Engine interface {
	// Embed encodes a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch encodes multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name returns the engine name for logs and health output.
	Name() string
}

// HealthChecker is an optional interface for engines that can verify their
// backend is reachable before the pipeline starts serving.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine from configuration.
func NewEngine(cfg config.EmbeddingConfig) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine with provider=%s", cfg.Provider)

	var engine Engine
	var err error

	switch cfg.Provider {
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine created: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// =============================================================================
// VECTOR UTILITIES
// =============================================================================

// Normalize scales a vector to unit length in place and returns it. Zero
// vectors are returned unchanged; the index rejects them at load.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Dot computes the inner product of two equal-length vectors. For
// unit-normalized vectors this is cosine similarity.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// IsUnit reports whether v has length within tolerance of 1.
func IsUnit(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Abs(sum-1.0) < 1e-3
}
