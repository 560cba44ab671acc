// Package classifier assigns a handling route to each incoming message.
//
// The production implementation asks the generative model for a JSON verdict;
// a keyword heuristic serves as a local fallback and for deployments without
// a model key. Classification failure is never fatal: the orchestrator
// degrades to the casual route.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/genai"
)

// Result is one classification verdict.
type Result struct {
	Route      chat.Route `json:"route"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// Classifier assigns a route to a message.
type Classifier interface {
	Classify(ctx context.Context, text string) (*Result, error)
}

const classifyPrompt = `You route user messages for a marketing agency assistant.
Routes:
- dashboard: operational questions about the user's own campaigns, clients, tasks or account data
- rag: questions answerable from the agency's trained documents and knowledge base
- memory: the user asks what you remember, or refers to earlier conversations
- web: questions needing current information from the public web
- casual: greetings, small talk, and anything else

Respond with JSON only: {"route": "...", "confidence": 0.0-1.0, "reasoning": "..."}`

// LLMClassifier classifies via the generative model with JSON output.
type LLMClassifier struct {
	generator genai.Generator
}

// NewLLMClassifier creates a model-backed classifier.
func NewLLMClassifier(generator genai.Generator) *LLMClassifier {
	return &LLMClassifier{generator: generator}
}

// Classify asks the model for a routing verdict.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (*Result, error) {
	resp, err := c.generator.Generate(ctx, &genai.Request{
		System:      classifyPrompt,
		Turns:       []genai.Turn{{Role: genai.RoleUser, Content: text}},
		JSONOutput:  true,
		Temperature: 0.1,
		MaxTokens:   256,
	})
	if err != nil {
		return nil, fmt.Errorf("classifying message: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text)), &result); err != nil {
		return nil, fmt.Errorf("parsing classification: %w", err)
	}
	if !result.Route.Valid() {
		return nil, fmt.Errorf("unknown route %q", result.Route)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		result.Confidence = 0.5
	}
	return &result, nil
}

// cleanJSON strips the markdown fences some models wrap around JSON output.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// KeywordClassifier is a heuristic fallback with no model dependency.
type KeywordClassifier struct{}

// NewKeywordClassifier creates the heuristic classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

var keywordRoutes = []struct {
	route    chat.Route
	keywords []string
}{
	{chat.RouteMemory, []string{"remember", "you told me", "we discussed", "last time", "do you recall"}},
	{chat.RouteDashboard, []string{"my campaign", "my client", "my task", "my account", "dashboard", "show me my"}},
	{chat.RouteWeb, []string{"latest", "current", "today", "news", "recent", "right now"}},
	{chat.RouteRAG, []string{"document", "knowledge base", "playbook", "guideline", "according to"}},
}

// Classify matches the message against per-route keyword lists. First match
// wins in priority order; no match is casual.
func (c *KeywordClassifier) Classify(ctx context.Context, text string) (*Result, error) {
	lower := strings.ToLower(text)
	for _, entry := range keywordRoutes {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return &Result{
					Route:      entry.route,
					Confidence: 0.6,
					Reasoning:  fmt.Sprintf("matched keyword %q", kw),
				}, nil
			}
		}
	}
	return &Result{Route: chat.RouteCasual, Confidence: 0.5, Reasoning: "no keyword match"}, nil
}

var (
	_ Classifier = (*LLMClassifier)(nil)
	_ Classifier = (*KeywordClassifier)(nil)
)
