// Package genai defines the generative-model collaborator and its Gemini
// REST implementation. The orchestrator and route handlers consume the
// Generator interface only; tests substitute mocks.
package genai

import (
	"context"
	"encoding/json"
)

// Role identifies the author of a conversation turn sent to the model.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one prior conversation turn in a generation request.
type Turn struct {
	Role    Role
	Content string
}

// ToolDecl declares a callable function to the model. Parameters is a JSON
// schema object.
type ToolDecl struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// FunctionCall is the model's request to invoke a declared tool.
type FunctionCall struct {
	Name string
	Args json.RawMessage
}

// GroundingSupport ties a span of the generated text to grounding sources.
// EndIndex is a byte offset into the text; SourceIndices are 0-based indices
// into the Sources list.
type GroundingSupport struct {
	EndIndex      int
	SourceIndices []int
}

// GroundingSource is one web source the model grounded on.
type GroundingSource struct {
	Title string
	URL   string
}

// Grounding carries the web-grounding metadata attached to a response.
type Grounding struct {
	Supports []GroundingSupport
	Sources  []GroundingSource
}

// Request is one generation request.
type Request struct {
	System      string
	Turns       []Turn
	Tools       []ToolDecl
	WebSearch   bool
	JSONOutput  bool
	Temperature float64
	MaxTokens   int
}

// Response is a completed generation.
type Response struct {
	Text         string
	FunctionCall *FunctionCall
	Grounding    *Grounding
}

// StreamEvent is one increment of a streamed generation: a text delta, a
// function call, or late-arriving grounding metadata.
type StreamEvent struct {
	Text         string
	FunctionCall *FunctionCall
	Grounding    *Grounding
}

// Generator produces model completions. Both methods honor ctx cancellation:
// an aborted request returns ctx.Err() promptly.
type Generator interface {
	// Generate returns the complete response in one call.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GenerateStream invokes yield for each increment as it arrives and
	// returns the assembled response. A yield error aborts the stream.
	GenerateStream(ctx context.Context, req *Request, yield func(StreamEvent) error) (*Response, error)
}
