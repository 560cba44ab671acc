package classifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/agencyd/internal/genai"
)

const recallPrompt = `Extract the memory search query from a user message that
refers to earlier conversations. Strip the recall phrasing and keep only the
subject being asked about.

Examples:
"do you remember what budget we set for Globex?" -> "budget for Globex"
"what did I tell you about my reporting preferences?" -> "reporting preferences"

Respond with JSON only: {"query": "..."}`

// LLMRecallDetector derives a memory search query from a recall utterance
// using the generative model.
type LLMRecallDetector struct {
	generator genai.Generator
}

// NewLLMRecallDetector creates a model-backed recall detector.
func NewLLMRecallDetector(generator genai.Generator) *LLMRecallDetector {
	return &LLMRecallDetector{generator: generator}
}

// DetectRecallQuery returns the distilled search query. An empty query tells
// the caller to search with the raw utterance instead.
func (d *LLMRecallDetector) DetectRecallQuery(ctx context.Context, text string) (string, error) {
	resp, err := d.generator.Generate(ctx, &genai.Request{
		System:      recallPrompt,
		Turns:       []genai.Turn{{Role: genai.RoleUser, Content: text}},
		JSONOutput:  true,
		Temperature: 0.1,
		MaxTokens:   128,
	})
	if err != nil {
		return "", fmt.Errorf("detecting recall query: %w", err)
	}

	var parsed struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text)), &parsed); err != nil {
		return "", fmt.Errorf("parsing recall query: %w", err)
	}
	return parsed.Query, nil
}
