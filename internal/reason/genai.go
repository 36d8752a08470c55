package reason

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// =============================================================================
// GENAI REASONER
// =============================================================================

// GenAIReasoner runs tier-3 deliberation against the Google GenAI API with
// a JSON response constraint.
type GenAIReasoner struct {
	client *genai.Client
	model  string
}

// NewGenAIReasoner creates a new GenAI reasoner.
func NewGenAIReasoner(apiKey, model string) (*GenAIReasoner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the genai reasoner")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIReasoner{client: client, model: model}, nil
}

// Deliberate sends the classification prompt and parses the JSON judgment.
func (r *GenAIReasoner) Deliberate(ctx context.Context, text string, hints map[string]string) (*Judgment, error) {
	temperature := float32(0.0)
	result, err := r.client.Models.GenerateContent(ctx, r.model,
		genai.Text(buildPrompt(text, hints)),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			Temperature:      &temperature,
		})
	if err != nil {
		return nil, fmt.Errorf("genai generation failed: %w", err)
	}

	raw := result.Text()
	if raw == "" {
		return nil, fmt.Errorf("genai returned an empty response")
	}

	var judgment Judgment
	if err := json.Unmarshal([]byte(raw), &judgment); err != nil {
		return nil, fmt.Errorf("reasoner output is not valid JSON: %w", err)
	}
	if err := validateJudgment(&judgment); err != nil {
		return nil, err
	}
	return &judgment, nil
}

// Name returns the reasoner name.
func (r *GenAIReasoner) Name() string {
	return fmt.Sprintf("genai:%s", r.model)
}
