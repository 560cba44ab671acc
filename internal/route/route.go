// Package route implements the four message handling strategies: dashboard
// (tool calls against operational data), rag (trained-document retrieval),
// memory recall, and casual/web generation.
//
// Handlers share one failure policy: a collaborator failure becomes a short
// user-safe apology plus a logged technical detail. The raw error never
// reaches the user, and the handler still returns a well-formed result so
// the stream terminates normally.
package route

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/memory"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

// Request carries one message into a handler. Tenant scope travels in ctx.
type Request struct {
	Message   string
	SessionID string

	// History is the recent conversation window, oldest first.
	History []chat.Message
}

// EmitFunc streams one chunk to the caller. Emission errors abort the
// handler; the orchestrator owns the terminal chunk.
type EmitFunc func(chat.Chunk) error

// DetectedMemory is a memory a handler surfaced inline this turn. When set,
// the background scheduler skips its own conversation-memory write so each
// turn produces at most one memory.
type DetectedMemory struct {
	Type       memory.Type
	Importance memory.Importance
	Content    string
}

// Result is the assembled outcome of one handled message.
type Result struct {
	Content     string
	Citations   []chat.Citation
	Suggestions []string
	Memory      *DetectedMemory
}

// Handler handles one classified message, streaming partial chunks through
// emit while building the same final result.
type Handler interface {
	Handle(ctx context.Context, req *Request, emit EmitFunc) (*Result, error)
}

// ErrUnknownFunction is returned by a FunctionExecutor when the model names
// a tool that was never declared. A caller error, never retried.
var ErrUnknownFunction = errors.New("unknown function")

// FunctionExecutor runs one declared tool call scoped to the caller.
type FunctionExecutor interface {
	Execute(ctx context.Context, name string, scope *tenant.Scope, args json.RawMessage) (json.RawMessage, error)
}

// DocumentHit is one snippet returned by the document-search collaborator.
type DocumentHit struct {
	DocumentID string
	Title      string
	Snippet    string
	Score      float32
}

// DocumentSearcher searches the tenant's trained documents, restricted to
// the allow list.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, scope *tenant.Scope, allowList []string) ([]DocumentHit, error)
}

// TrainingResolver resolves which documents a search may touch.
type TrainingResolver interface {
	// AllowedDocuments returns the ids the tenant opted into training.
	AllowedDocuments(ctx context.Context, scope *tenant.Scope) ([]string, error)

	// ClientDocuments returns the ids belonging to the scoped client.
	// Empty when no client is in scope.
	ClientDocuments(ctx context.Context, scope *tenant.Scope) ([]string, error)
}

// RecallDetector derives a memory search query from a user utterance.
type RecallDetector interface {
	// DetectRecallQuery returns the search query to run. An empty query
	// means the utterance itself should be used.
	DetectRecallQuery(ctx context.Context, text string) (string, error)
}

// apologyText is what the user sees when a wrapped call fails. Short and
// safe; the technical detail goes to the log only.
const apologyText = "Sorry, I ran into a problem handling that. Please try again in a moment."

// apologize logs the failure and emits the user-safe apology as the
// handler's content.
func apologize(ctx context.Context, logger *logging.Logger, emit EmitFunc, detail string, err error) (*Result, error) {
	logger.Error(ctx, detail, zap.Error(err))
	if emitErr := emit(chat.Chunk{Type: chat.ChunkContent, Content: apologyText}); emitErr != nil {
		return nil, emitErr
	}
	return &Result{Content: apologyText}, nil
}

// emitContent streams one content chunk.
func emitContent(emit EmitFunc, text string) error {
	if text == "" {
		return nil
	}
	return emit(chat.Chunk{Type: chat.ChunkContent, Content: text})
}
