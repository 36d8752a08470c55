package config

import (
	"os"
	"strconv"
	"time"
)

// Environment overrides. The PROMPTGATE_ variables win over file values so
// deployments can tune budgets without editing yaml; provider API keys fall
// back to the conventional names.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PROMPTGATE_MAX_RAW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Guard.MaxRawBytes = n
		}
	}
	if v := os.Getenv("PROMPTGATE_PATTERN_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Guard.PatternCapBytes = n
		}
	}
	if v := os.Getenv("PROMPTGATE_VECTOR_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Guard.VectorCapBytes = n
		}
	}
	if v := os.Getenv("PROMPTGATE_SOFT_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Pipeline.SoftBudget = d
		}
	}
	if v := os.Getenv("PROMPTGATE_HARD_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Pipeline.HardBudget = d
		}
	}
	if v := os.Getenv("PROMPTGATE_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.DecisionEntries = n
		}
	}
	if v := os.Getenv("PROMPTGATE_TIER2_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Stages.Tier2Enabled = b
		}
	}
	if v := os.Getenv("PROMPTGATE_TIER3_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Stages.Tier3Enabled = b
		}
	}
	if v := os.Getenv("PROMPTGATE_POLICY_PATH"); v != "" {
		c.Policy.Path = v
	}
	if v := os.Getenv("PROMPTGATE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Embedding.OllamaEndpoint = v
		c.Reasoner.OllamaEndpoint = v
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.Embedding.GenAIAPIKey == "" {
			c.Embedding.GenAIAPIKey = key
		}
		if c.Reasoner.GenAIAPIKey == "" {
			c.Reasoner.GenAIAPIKey = key
		}
	}
}
