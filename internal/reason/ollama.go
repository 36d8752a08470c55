package reason

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// =============================================================================
// OLLAMA REASONER
// =============================================================================

// OllamaReasoner runs tier-3 deliberation against a local Ollama server
// using JSON-constrained generation.
type OllamaReasoner struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllamaReasoner creates a new Ollama reasoner.
func NewOllamaReasoner(endpoint, model string) (*OllamaReasoner, error) {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaReasoner{
		endpoint: endpoint,
		model:    model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// Deliberate sends the classification prompt and parses the JSON judgment.
func (r *OllamaReasoner) Deliberate(ctx context.Context, text string, hints map[string]string) (*Judgment, error) {
	req := ollamaGenerateRequest{
		Model:  r.model,
		Prompt: buildPrompt(text, hints),
		Format: "json",
		Stream: false,
		Options: map[string]interface{}{
			"temperature": 0.0,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", r.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var judgment Judgment
	if err := json.Unmarshal([]byte(result.Response), &judgment); err != nil {
		return nil, fmt.Errorf("reasoner output is not valid JSON: %w", err)
	}
	if err := validateJudgment(&judgment); err != nil {
		return nil, err
	}
	return &judgment, nil
}

// Name returns the reasoner name.
func (r *OllamaReasoner) Name() string {
	return fmt.Sprintf("ollama:%s", r.model)
}

// =============================================================================
// OLLAMA API TYPES
// =============================================================================

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Format  string                 `json:"format,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}
