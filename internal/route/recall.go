package route

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agencyd/internal/genai"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/memory"
	"github.com/fyrsmithlabs/agencyd/internal/resilience"
)

const recallPrompt = `Answer the user's question using the remembered notes below.
Speak naturally about what you remember; do not mention "records" or "the database".`

// noMemoriesMessage is the fixed reply when recall finds nothing. No model
// call is made for it.
const noMemoriesMessage = "I don't have memories of that yet, but I'll remember our conversations as we go."

// MemorySearcher is the slice of the memory service recall needs.
type MemorySearcher interface {
	Search(ctx context.Context, query string, limit int, minScore float32) ([]memory.Record, error)
}

// Recall answers "what do you remember" questions from the memory store.
type Recall struct {
	generator genai.Generator
	detector  RecallDetector
	memories  MemorySearcher
	limit     int
	minScore  float32
	logger    *logging.Logger
}

// NewRecall creates the recall handler. limit and minScore come from chat
// config.
func NewRecall(generator genai.Generator, detector RecallDetector, memories MemorySearcher, limit int, minScore float32, logger *logging.Logger) *Recall {
	if limit <= 0 {
		limit = 5
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Recall{
		generator: generator,
		detector:  detector,
		memories:  memories,
		limit:     limit,
		minScore:  minScore,
		logger:    logger.Named("route.recall"),
	}
}

// Handle runs one recall turn.
func (r *Recall) Handle(ctx context.Context, req *Request, emit EmitFunc) (*Result, error) {
	query, err := r.detector.DetectRecallQuery(ctx, req.Message)
	if err != nil {
		r.logger.Warn(ctx, "recall detector failed, using raw message", zap.Error(err))
		query = ""
	}
	if query == "" {
		query = req.Message
	}

	records, err := r.memories.Search(ctx, query, r.limit, r.minScore)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return apologize(ctx, r.logger, emit, "memory search failed", err)
	}

	if len(records) == 0 {
		if err := emitContent(emit, noMemoriesMessage); err != nil {
			return nil, err
		}
		return &Result{Content: noMemoriesMessage}, nil
	}

	resp, err := resilience.Retry(ctx, resilience.DefaultRetryBackoff, func(ctx context.Context) (*genai.Response, error) {
		return r.generator.Generate(ctx, &genai.Request{
			System: recallPrompt,
			Turns:  buildTurns(req.History, recallQuestion(req.Message, records)),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return apologize(ctx, r.logger, emit, "recall model call failed", err)
	}

	if err := emitContent(emit, resp.Text); err != nil {
		return nil, err
	}
	return &Result{Content: resp.Text}, nil
}

func recallQuestion(message string, records []memory.Record) string {
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\nRemembered notes:\n")
	for i, rec := range records {
		fmt.Fprintf(&b, "%d. (%s) %s\n", i+1, rec.Type, rec.Content)
	}
	return b.String()
}

var _ Handler = (*Recall)(nil)
