// Package config holds all promptgate configuration: input bounds, per-stage
// budgets, tier toggles, backend endpoints, and the server surface. Every
// value has a documented default; a missing value yields the default.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// Guard bounds raw input before any stage runs.
	Guard GuardConfig `yaml:"guard"`

	// Stages configures per-tier behavior and budgets.
	Stages StagesConfig `yaml:"stages"`

	// Pipeline configures the orchestrator.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Cache configures the decision cache.
	Cache CacheConfig `yaml:"cache"`

	// Embedding configures the embedding backend for tier 2.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Reasoner configures the tier-3 backend.
	Reasoner ReasonerConfig `yaml:"reasoner"`

	// Policy locates the declarative policy document.
	Policy PolicyConfig `yaml:"policy"`

	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server"`

	// Store configures the optional verdict sink.
	Store StoreConfig `yaml:"store"`

	// Logging configures category logging.
	Logging LoggingConfig `yaml:"logging"`
}

// GuardConfig bounds and sanitizes raw input.
type GuardConfig struct {
	// MaxRawBytes is the hard input size cap (default: 10000).
	MaxRawBytes int `yaml:"max_raw_bytes"`

	// WindowBytes is how much of the input the cheap signals inspect (default: 500).
	WindowBytes int `yaml:"window_bytes"`

	// PatternCapBytes bounds the text handed to tier 1 (default: 500).
	PatternCapBytes int `yaml:"pattern_cap_bytes"`

	// VectorCapBytes bounds the text handed to tier 2 (default: 1000).
	VectorCapBytes int `yaml:"vector_cap_bytes"`

	// MaxCharRatio triggers the repetition block above this ratio (default: 0.80).
	MaxCharRatio float64 `yaml:"max_char_ratio"`

	// MinDistinctChars triggers the diversity block below this count (default: 5).
	MinDistinctChars int `yaml:"min_distinct_chars"`

	// MinLenForSignals is the shortest input the cheap signals apply to (default: 50).
	MinLenForSignals int `yaml:"min_len_for_signals"`
}

// StagesConfig holds per-tier settings.
type StagesConfig struct {
	// PatternTimeout bounds a single pattern evaluation (default: 500ms).
	PatternTimeout time.Duration `yaml:"pattern_timeout"`

	// EncodeTimeout bounds one embedding call (default: 3s).
	EncodeTimeout time.Duration `yaml:"encode_timeout"`

	// ReasonTimeout bounds one reasoner call (default: 15s).
	ReasonTimeout time.Duration `yaml:"reason_timeout"`

	// Tier2Enabled toggles the exemplar stage (default: true).
	Tier2Enabled bool `yaml:"tier2_enabled"`

	// Tier3Enabled toggles the reasoning stage (default: false; requires a
	// configured reasoner backend).
	Tier3Enabled bool `yaml:"tier3_enabled"`

	// Tier2Inflight caps concurrent embedding encodes (default: 2x CPU cores).
	Tier2Inflight int `yaml:"tier2_inflight"`

	// Tier3Inflight caps concurrent reasoner calls (default: 4).
	Tier3Inflight int `yaml:"tier3_inflight"`
}

// PipelineConfig holds orchestrator budgets and routing bands.
type PipelineConfig struct {
	// SoftBudget is the target total latency (default: 5s).
	SoftBudget time.Duration `yaml:"soft_budget"`

	// HardBudget is the absolute total latency cap (default: 15s).
	HardBudget time.Duration `yaml:"hard_budget"`

	// GrayBandLow/GrayBandHigh bound the tier-1 confidence band that
	// escalates to tier 2 (defaults: 0.30, 0.85).
	GrayBandLow  float64 `yaml:"gray_band_low"`
	GrayBandHigh float64 `yaml:"gray_band_high"`

	// Tier2Certain is the score at which tier 2 is terminal (default: 0.78).
	Tier2Certain float64 `yaml:"tier2_certain"`

	// EscalationLow is the bottom of the tier-2 escalation band (default: 0.60).
	EscalationLow float64 `yaml:"escalation_low"`

	// HealthWindow is the rolling verdict window for tier health (default: 1000).
	HealthWindow int `yaml:"health_window"`
}

// CacheConfig bounds the decision cache and the embedding memo.
type CacheConfig struct {
	// DecisionEntries is the decision cache capacity (default: 10000).
	DecisionEntries int `yaml:"decision_entries"`

	// EmbeddingEntries is the embedding memo capacity (default: 2048).
	EmbeddingEntries int `yaml:"embedding_entries"`
}

// EmbeddingConfig selects and configures the embedding backend.
type EmbeddingConfig struct {
	// Provider: "ollama" or "genai" (default: "ollama").
	Provider string `yaml:"provider"`

	OllamaEndpoint string `yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // Default: "all-minilm"

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"` // Default: "gemini-embedding-001"
}

// ReasonerConfig selects and configures the tier-3 backend.
type ReasonerConfig struct {
	// Provider: "ollama" or "genai" (default: "ollama").
	Provider string `yaml:"provider"`

	OllamaEndpoint string `yaml:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model"`    // Default: "llama3.2"

	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"` // Default: "gemini-2.0-flash"

	// BreakerThreshold is the consecutive-failure count that opens the
	// circuit breaker (default: 5).
	BreakerThreshold uint32 `yaml:"breaker_threshold"`

	// BreakerCooldown is how long the breaker stays open (default: 30s).
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// PolicyConfig locates the policy document.
type PolicyConfig struct {
	// Path to policy.yaml. Empty means builtin defaults only.
	Path string `yaml:"path"`

	// WatchReload enables fsnotify-driven hot reload (default: true when Path set).
	WatchReload bool `yaml:"watch_reload"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"` // Default: ":8080"

	// BatchLimit caps entries per batch request (default: 100).
	BatchLimit int `yaml:"batch_limit"`

	// ShutdownGrace bounds graceful shutdown (default: 10s).
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// StoreConfig configures the optional verdict sink.
type StoreConfig struct {
	// Enabled toggles persistence (default: false).
	Enabled bool `yaml:"enabled"`

	// Path to the sqlite database file (default: "promptgate.db").
	Path string `yaml:"path"`

	// QueueSize is the async recorder buffer; verdicts are dropped, never
	// blocked on, when it is full (default: 256).
	QueueSize int `yaml:"queue_size"`
}

// LoggingConfig configures category logging.
type LoggingConfig struct {
	Debug      bool     `yaml:"debug"`
	Categories []string `yaml:"categories"` // Empty = all categories
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Guard: GuardConfig{
			MaxRawBytes:      10000,
			WindowBytes:      500,
			PatternCapBytes:  500,
			VectorCapBytes:   1000,
			MaxCharRatio:     0.80,
			MinDistinctChars: 5,
			MinLenForSignals: 50,
		},
		Stages: StagesConfig{
			PatternTimeout: 500 * time.Millisecond,
			EncodeTimeout:  3 * time.Second,
			ReasonTimeout:  15 * time.Second,
			Tier2Enabled:   true,
			Tier3Enabled:   false,
			Tier2Inflight:  2 * runtime.NumCPU(),
			Tier3Inflight:  4,
		},
		Pipeline: PipelineConfig{
			SoftBudget:    5 * time.Second,
			HardBudget:    15 * time.Second,
			GrayBandLow:   0.30,
			GrayBandHigh:  0.85,
			Tier2Certain:  0.78,
			EscalationLow: 0.60,
			HealthWindow:  1000,
		},
		Cache: CacheConfig{
			DecisionEntries:  10000,
			EmbeddingEntries: 2048,
		},
		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "all-minilm",
			GenAIModel:     "gemini-embedding-001",
		},
		Reasoner: ReasonerConfig{
			Provider:         "ollama",
			OllamaEndpoint:   "http://localhost:11434",
			OllamaModel:      "llama3.2",
			GenAIModel:       "gemini-2.0-flash",
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Policy: PolicyConfig{
			WatchReload: true,
		},
		Server: ServerConfig{
			Addr:          ":8080",
			BatchLimit:    100,
			ShutdownGrace: 10 * time.Second,
		},
		Store: StoreConfig{
			Path:      "promptgate.db",
			QueueSize: 256,
		},
		Logging: LoggingConfig{},
	}
}

// Load reads configuration from a yaml file, layering it over defaults and
// then applying environment overrides. An empty path yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would violate pipeline invariants.
func (c *Config) Validate() error {
	if c.Guard.MaxRawBytes <= 0 {
		return fmt.Errorf("guard.max_raw_bytes must be positive, got %d", c.Guard.MaxRawBytes)
	}
	if c.Pipeline.HardBudget < c.Pipeline.SoftBudget {
		return fmt.Errorf("pipeline.hard_budget (%v) must be >= soft_budget (%v)",
			c.Pipeline.HardBudget, c.Pipeline.SoftBudget)
	}
	if c.Pipeline.GrayBandLow >= c.Pipeline.GrayBandHigh {
		return fmt.Errorf("pipeline gray band inverted: [%.2f, %.2f]",
			c.Pipeline.GrayBandLow, c.Pipeline.GrayBandHigh)
	}
	if c.Pipeline.EscalationLow >= c.Pipeline.Tier2Certain {
		return fmt.Errorf("pipeline escalation band inverted: [%.2f, %.2f)",
			c.Pipeline.EscalationLow, c.Pipeline.Tier2Certain)
	}
	if c.Cache.DecisionEntries <= 0 {
		return fmt.Errorf("cache.decision_entries must be positive, got %d", c.Cache.DecisionEntries)
	}
	if c.Server.BatchLimit <= 0 {
		return fmt.Errorf("server.batch_limit must be positive, got %d", c.Server.BatchLimit)
	}
	return nil
}
