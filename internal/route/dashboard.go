package route

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/genai"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/memory"
	"github.com/fyrsmithlabs/agencyd/internal/resilience"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

const dashboardPrompt = `You are an assistant for a marketing agency's operations dashboard.
Answer questions about the user's campaigns, clients, tasks and account data.
When the question requires live data, call exactly one of the declared tools.
When the user asks you to remember something, call remember_this.
Otherwise answer directly from the conversation.`

const summarizePrompt = `Summarize the following tool result for the user in plain language.
Answer their question directly. Do not show raw JSON.`

// rememberToolName is the tool the model calls when the user asks the
// assistant to remember something. It is handled in-process rather than by
// the executor.
const rememberToolName = "remember_this"

var rememberTool = genai.ToolDecl{
	Name:        rememberToolName,
	Description: "Store a fact, preference or decision the user asked you to remember.",
	Parameters: json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "The fact to remember, in one sentence."},
			"type": {"type": "string", "enum": ["decision", "preference", "project", "task", "insight"]},
			"importance": {"type": "string", "enum": ["high", "medium"]}
		},
		"required": ["content"]
	}`),
}

// MemoryWriter is the slice of the memory service the dashboard needs for
// inline "remember this" writes.
type MemoryWriter interface {
	Add(ctx context.Context, input memory.AddInput) (string, error)
}

// Dashboard answers operational questions. The model either answers
// directly or requests exactly one tool call; the tool result goes back to
// the model for a user-facing summary, with a structural formatter as the
// fallback so raw JSON never reaches the user.
type Dashboard struct {
	generator genai.Generator
	executor  FunctionExecutor
	memories  MemoryWriter
	tools     []genai.ToolDecl
	logger    *logging.Logger
}

// NewDashboard creates the dashboard handler with the given tool set.
func NewDashboard(generator genai.Generator, executor FunctionExecutor, memories MemoryWriter, tools []genai.ToolDecl, logger *logging.Logger) *Dashboard {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dashboard{
		generator: generator,
		executor:  executor,
		memories:  memories,
		tools:     append(tools, rememberTool),
		logger:    logger.Named("route.dashboard"),
	}
}

// Handle runs one dashboard turn.
func (d *Dashboard) Handle(ctx context.Context, req *Request, emit EmitFunc) (*Result, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := resilience.Retry(ctx, resilience.DefaultRetryBackoff, func(ctx context.Context) (*genai.Response, error) {
		return d.generator.Generate(ctx, &genai.Request{
			System: dashboardPrompt,
			Turns:  buildTurns(req.History, req.Message),
			Tools:  d.tools,
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return apologize(ctx, d.logger, emit, "dashboard model call failed", err)
	}

	if resp.FunctionCall == nil {
		if err := emitContent(emit, resp.Text); err != nil {
			return nil, err
		}
		return &Result{Content: resp.Text}, nil
	}

	call := resp.FunctionCall
	if err := emit(chat.Chunk{
		Type:         chat.ChunkFunctionCall,
		FunctionName: call.Name,
		FunctionArgs: call.Args,
	}); err != nil {
		return nil, err
	}

	if call.Name == rememberToolName {
		return d.remember(ctx, req, call, emit)
	}

	toolResult, toolErr := d.executor.Execute(ctx, call.Name, scope, call.Args)
	if err := emit(chat.Chunk{
		Type:           chat.ChunkFunctionResult,
		FunctionName:   call.Name,
		FunctionResult: toolResult,
		FunctionError:  toolErr != nil,
	}); err != nil {
		return nil, err
	}
	if toolErr != nil {
		d.logger.Error(ctx, "tool execution failed",
			zap.String("function", call.Name), zap.Error(toolErr))
		content := formatToolResult(call.Name, toolResult)
		if err := emitContent(emit, content); err != nil {
			return nil, err
		}
		return &Result{Content: content}, nil
	}

	content := d.summarize(ctx, req.Message, call.Name, toolResult)
	if err := emitContent(emit, content); err != nil {
		return nil, err
	}
	return &Result{Content: content}, nil
}

// remember stores the fact inline and surfaces it as this turn's memory so
// the background write is skipped.
func (d *Dashboard) remember(ctx context.Context, req *Request, call *genai.FunctionCall, emit EmitFunc) (*Result, error) {
	var args struct {
		Content    string `json:"content"`
		Type       string `json:"type"`
		Importance string `json:"importance"`
	}
	if err := json.Unmarshal(call.Args, &args); err != nil || args.Content == "" {
		return apologize(ctx, d.logger, emit, "malformed remember_this arguments", err)
	}

	memType := memory.Type(args.Type)
	if !memType.Valid() {
		memType = memory.TypeInsight
	}
	importance := memory.Importance(args.Importance)
	if !importance.Valid() {
		importance = memory.ImportanceHigh
	}

	if _, err := d.memories.Add(ctx, memory.AddInput{
		Content:    args.Content,
		Type:       memType,
		Importance: importance,
		SessionID:  req.SessionID,
	}); err != nil {
		return apologize(ctx, d.logger, emit, "inline memory write failed", err)
	}

	content := "Got it, I'll remember that."
	if err := emitContent(emit, content); err != nil {
		return nil, err
	}
	return &Result{
		Content: content,
		Memory: &DetectedMemory{
			Type:       memType,
			Importance: importance,
			Content:    args.Content,
		},
	}, nil
}

// summarize asks the model to render the tool result for the user; the
// structural formatter takes over when that pass fails or yields nothing.
func (d *Dashboard) summarize(ctx context.Context, question, toolName string, result json.RawMessage) string {
	resp, err := resilience.Retry(ctx, resilience.DefaultRetryBackoff, func(ctx context.Context) (*genai.Response, error) {
		return d.generator.Generate(ctx, &genai.Request{
			System: summarizePrompt,
			Turns: []genai.Turn{{
				Role: genai.RoleUser,
				Content: fmt.Sprintf("Question: %s\n\nResult of %s:\n%s",
					question, toolName, string(result)),
			}},
		})
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		if err != nil {
			d.logger.Warn(ctx, "summarization pass failed, using formatter",
				zap.String("function", toolName), zap.Error(err))
		}
		return formatToolResult(toolName, result)
	}
	return resp.Text
}

// formatToolResult renders structured tool output as readable text. Raw
// structured data never reaches the user: an empty list becomes a "no
// results" sentence, never "[]".
func formatToolResult(toolName string, raw json.RawMessage) string {
	if len(raw) == 0 {
		return "The " + humanizeName(toolName) + " request didn't return anything."
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "I couldn't read the result of " + humanizeName(toolName) + "."
	}

	switch v := value.(type) {
	case []any:
		if len(v) == 0 {
			return "No results found for " + humanizeName(toolName) + "."
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d result(s):\n", len(v))
		for i, item := range v {
			fmt.Fprintf(&b, "%d. %s\n", i+1, formatItem(item))
		}
		return strings.TrimRight(b.String(), "\n")
	case map[string]any:
		if items, ok := listField(v); ok {
			return formatToolResult(toolName, mustMarshal(items))
		}
		return formatItem(v)
	case string:
		return v
	case nil:
		return "No results found for " + humanizeName(toolName) + "."
	default:
		return fmt.Sprintf("%v", v)
	}
}

// listField finds a single embedded list in a result object, the common
// shape for paginated APIs ({"items": [...], "total": n}).
func listField(m map[string]any) ([]any, bool) {
	for _, key := range []string{"items", "results", "data", "records"} {
		if list, ok := m[key].([]any); ok {
			return list, true
		}
	}
	return nil, false
}

// preferredFields is the selection order when rendering one object.
var preferredFields = []string{"name", "title", "status", "client", "budget", "spend", "due_date", "owner"}

// formatItem renders one result object using its human-readable fields.
func formatItem(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", item)
	}

	var parts []string
	seen := map[string]bool{}
	for _, key := range preferredFields {
		if v, ok := m[key]; ok {
			parts = append(parts, fmt.Sprintf("%s: %v", key, v))
			seen[key] = true
		}
	}
	if len(parts) == 0 {
		// No preferred fields; fall back to everything except ids, sorted
		// for stable output.
		keys := make([]string, 0, len(m))
		for k := range m {
			if strings.HasSuffix(k, "id") || seen[k] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s: %v", k, m[k]))
		}
	}
	if len(parts) == 0 {
		return "(no displayable fields)"
	}
	return strings.Join(parts, ", ")
}

func humanizeName(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

var _ Handler = (*Dashboard)(nil)
