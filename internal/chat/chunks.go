package chat

import "encoding/json"

// ChunkType tags one element of the response stream.
type ChunkType string

const (
	ChunkRoute          ChunkType = "route"
	ChunkContent        ChunkType = "content"
	ChunkCitation       ChunkType = "citation"
	ChunkFunctionCall   ChunkType = "function_call"
	ChunkFunctionResult ChunkType = "function_result"
	ChunkSuggestions    ChunkType = "suggestions"
	ChunkDone           ChunkType = "done"
	ChunkError          ChunkType = "error"
)

// Terminal reports whether t ends a stream. Every request stream carries
// exactly one terminal chunk, and it is the last chunk emitted.
func (t ChunkType) Terminal() bool {
	return t == ChunkDone || t == ChunkError
}

// Chunk is one element of the response stream, serialized as a single JSON
// object per SSE data: line. Fields are populated per type; everything else
// is omitted.
type Chunk struct {
	Type ChunkType `json:"type"`

	// route
	Route      Route   `json:"route,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// content / error (user-safe text only)
	Content string `json:"content,omitempty"`

	// citation
	Citation *Citation `json:"citation,omitempty"`

	// function_call / function_result
	FunctionName   string          `json:"function_name,omitempty"`
	FunctionArgs   json.RawMessage `json:"function_args,omitempty"`
	FunctionResult json.RawMessage `json:"function_result,omitempty"`
	FunctionError  bool            `json:"function_error,omitempty"`

	// suggestions
	Suggestions []string `json:"suggestions,omitempty"`

	// done
	MessageID string `json:"message_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}
