// Package orchestrator dispatches one chat message through classification,
// the matching route handler, and the response stream, then finalizes the
// turn and schedules its background work.
//
// Per-request states run Start through Finalized. The chunk order on the
// stream is fixed: one route chunk first, then the handler's chunks in
// emission order, an optional suggestions chunk, and exactly one terminal
// done or error chunk as the last element.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/classifier"
	"github.com/fyrsmithlabs/agencyd/internal/genai"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/memory"
	"github.com/fyrsmithlabs/agencyd/internal/route"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

// state names the per-request phases, for logs and spans.
type state string

const (
	stateStart      state = "start"
	stateClassified state = "classified"
	stateDispatched state = "dispatched"
	stateStreaming  state = "streaming"
	stateFinalized  state = "finalized"
)

const maxSuggestions = 3

var tracer = otel.Tracer("agencyd/orchestrator")

// cancelledMessage is the terminal error content for an aborted request.
const cancelledMessage = "The request was cancelled."

// failedMessage is the terminal error content for an unrecovered failure.
const failedMessage = "Something went wrong handling that request."

// SessionStore is the session repository slice the orchestrator uses.
type SessionStore interface {
	GetOrCreate(ctx context.Context, id, tenantID, userID string) (*chat.Session, error)
	AddMessage(ctx context.Context, sessionID string, msg *chat.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)
	MessageCount(ctx context.Context, sessionID string) (int, error)
}

// MemoryWriter is the memory service slice the background jobs use.
type MemoryWriter interface {
	Add(ctx context.Context, input memory.AddInput) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	// HistoryLimit is how many recent messages feed the handler.
	HistoryLimit int

	// SummarizeInterval triggers session summarization every N messages.
	SummarizeInterval int
}

// Request is one inbound chat message. Tenant scope travels in ctx.
type Request struct {
	SessionID string
	Message   string
}

// Result is the assembled outcome of a handled request, for non-streaming
// callers.
type Result struct {
	SessionID string
	Message   *chat.Message
}

// Orchestrator runs the per-request state machine.
type Orchestrator struct {
	classifier classifier.Classifier
	handlers   map[chat.Route]route.Handler
	sessions   SessionStore
	memories   MemoryWriter
	generator  genai.Generator
	scheduler  *Scheduler
	cfg        Config
	logger     *logging.Logger
}

// New creates an orchestrator. The handlers map must cover every route the
// classifier can emit; casual is the required fallback entry.
func New(
	cls classifier.Classifier,
	handlers map[chat.Route]route.Handler,
	sessions SessionStore,
	memories MemoryWriter,
	generator genai.Generator,
	scheduler *Scheduler,
	cfg Config,
	logger *logging.Logger,
) (*Orchestrator, error) {
	if handlers[chat.RouteCasual] == nil {
		return nil, fmt.Errorf("casual handler is required as the fallback route")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.SummarizeInterval < 2 {
		cfg.SummarizeInterval = 10
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		classifier: cls,
		handlers:   handlers,
		sessions:   sessions,
		memories:   memories,
		generator:  generator,
		scheduler:  scheduler,
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
	}, nil
}

// HandleMessage runs one request through the state machine, streaming
// chunks to sink. Every stream carries exactly one terminal chunk, emitted
// here and nowhere else.
func (o *Orchestrator) HandleMessage(ctx context.Context, req *Request, sink route.EmitFunc) (*Result, error) {
	ctx, span := tracer.Start(ctx, "chat.message")
	defer span.End()

	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return o.fail(ctx, sink, failedMessage, stateStart, err)
	}
	if strings.TrimSpace(req.Message) == "" {
		return o.fail(ctx, sink, "Please enter a message.", stateStart, fmt.Errorf("empty message"))
	}

	sess, err := o.sessions.GetOrCreate(ctx, req.SessionID, scope.TenantID, scope.UserID)
	if err != nil {
		return o.fail(ctx, sink, failedMessage, stateStart, fmt.Errorf("resolving session: %w", err))
	}

	history, err := o.sessions.GetMessages(ctx, sess.ID, o.cfg.HistoryLimit)
	if err != nil {
		// A missing window degrades quality, not correctness.
		o.logger.Warn(ctx, "loading history failed", zap.Error(err))
		history = nil
	}

	// Classified: a classifier failure is non-fatal and defaults to casual.
	verdict := o.classify(ctx, req.Message)
	span.SetAttributes(
		attribute.String("chat.route", string(verdict.Route)),
		attribute.String("chat.session_id", sess.ID),
	)
	if err := sink(chat.Chunk{
		Type:       chat.ChunkRoute,
		Route:      verdict.Route,
		Confidence: verdict.Confidence,
	}); err != nil {
		return nil, err
	}

	// Dispatched.
	handler := o.handlers[verdict.Route]
	if handler == nil {
		o.logger.Warn(ctx, "no handler for route, using casual",
			zap.String("route", string(verdict.Route)))
		handler = o.handlers[chat.RouteCasual]
	}
	o.logger.Debug(ctx, "dispatching",
		zap.String("state", string(stateDispatched)),
		zap.String("route", string(verdict.Route)),
		zap.String("session_id", sess.ID))

	// Streaming.
	result, err := handler.Handle(ctx, &route.Request{
		Message:   req.Message,
		SessionID: sess.ID,
		History:   history,
	}, sink)
	if err != nil {
		if ctx.Err() != nil {
			return o.fail(ctx, sink, cancelledMessage, stateStreaming, ctx.Err())
		}
		return o.fail(ctx, sink, failedMessage, stateStreaming, err)
	}

	suggestions := result.Suggestions
	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	if len(suggestions) > 0 {
		if err := sink(chat.Chunk{Type: chat.ChunkSuggestions, Suggestions: suggestions}); err != nil {
			return nil, err
		}
	}

	// Finalized: the session commit is synchronous so the caller's response
	// reflects durable state; the remaining jobs run after.
	userMsg := &chat.Message{
		ID:      uuid.New().String(),
		Role:    chat.RoleUser,
		Content: req.Message,
	}
	assistantMsg := &chat.Message{
		ID:          uuid.New().String(),
		Role:        chat.RoleAssistant,
		Content:     result.Content,
		Route:       verdict.Route,
		Citations:   result.Citations,
		Suggestions: suggestions,
	}
	o.scheduler.Run(ctx, "persist_pair", func(ctx context.Context) error {
		if err := o.sessions.AddMessage(ctx, sess.ID, userMsg); err != nil {
			return fmt.Errorf("persisting user message: %w", err)
		}
		if err := o.sessions.AddMessage(ctx, sess.ID, assistantMsg); err != nil {
			return fmt.Errorf("persisting assistant message: %w", err)
		}
		return nil
	})

	if err := sink(chat.Chunk{
		Type:      chat.ChunkDone,
		MessageID: assistantMsg.ID,
		SessionID: sess.ID,
	}); err != nil {
		return nil, err
	}
	o.logger.Debug(ctx, "turn finalized",
		zap.String("state", string(stateFinalized)),
		zap.String("session_id", sess.ID))

	o.scheduleTurnJobs(ctx, sess.ID, req.Message, result)

	return &Result{SessionID: sess.ID, Message: assistantMsg}, nil
}

// classify runs the classifier, degrading to casual on failure.
func (o *Orchestrator) classify(ctx context.Context, message string) *classifier.Result {
	verdict, err := o.classifier.Classify(ctx, message)
	if err != nil {
		o.logger.Warn(ctx, "classification failed, defaulting to casual", zap.Error(err))
		return &classifier.Result{Route: chat.RouteCasual, Confidence: 0}
	}
	return verdict
}

// fail emits the single terminal error chunk and returns the original error.
func (o *Orchestrator) fail(ctx context.Context, sink route.EmitFunc, userMsg string, st state, err error) (*Result, error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(st))
	o.logger.Error(ctx, "request failed",
		zap.String("state", string(st)), zap.Error(err))
	if emitErr := sink(chat.Chunk{Type: chat.ChunkError, Content: userMsg}); emitErr != nil {
		o.logger.Warn(ctx, "emitting terminal error chunk failed", zap.Error(emitErr))
	}
	return nil, err
}

// scheduleTurnJobs queues the post-response jobs: the turn's memory write
// (skipped when the handler already surfaced one inline, so each turn
// produces at most one memory) and interval summarization.
func (o *Orchestrator) scheduleTurnJobs(ctx context.Context, sessionID, userMessage string, result *route.Result) {
	if result.Memory == nil {
		o.scheduler.Go(ctx, "memory_write", func(ctx context.Context) error {
			_, err := o.memories.Add(ctx, memory.AddInput{
				UserMessage:      userMessage,
				AssistantMessage: result.Content,
				Type:             memory.TypeConversation,
				Importance:       memory.ImportanceMedium,
				SessionID:        sessionID,
			})
			return err
		})
	}

	o.scheduler.Go(ctx, "summarize", func(ctx context.Context) error {
		count, err := o.sessions.MessageCount(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("counting messages: %w", err)
		}
		if count == 0 || count%o.cfg.SummarizeInterval != 0 {
			return nil
		}
		return o.summarize(ctx, sessionID)
	})
}

const summarizeSessionPrompt = `Summarize the key facts, decisions and preferences from this
conversation window in at most three sentences. Write them as durable notes,
not as a transcript.`

// summarize condenses the recent window into one insight memory.
func (o *Orchestrator) summarize(ctx context.Context, sessionID string) error {
	window, err := o.sessions.GetMessages(ctx, sessionID, o.cfg.SummarizeInterval)
	if err != nil {
		return fmt.Errorf("loading window: %w", err)
	}
	if len(window) == 0 {
		return nil
	}

	var b strings.Builder
	for _, msg := range window {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}

	resp, err := o.generator.Generate(ctx, &genai.Request{
		System: summarizeSessionPrompt,
		Turns:  []genai.Turn{{Role: genai.RoleUser, Content: b.String()}},
	})
	if err != nil {
		return fmt.Errorf("summarizing session: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil
	}

	_, err = o.memories.Add(ctx, memory.AddInput{
		Content:    resp.Text,
		Type:       memory.TypeInsight,
		Importance: memory.ImportanceMedium,
		SessionID:  sessionID,
	})
	return err
}
