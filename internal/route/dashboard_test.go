package route

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/genai"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/memory"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

// scriptedGenerator returns queued responses in order.
type scriptedGenerator struct {
	responses []*genai.Response
	errs      []error
	calls     int
}

func (g *scriptedGenerator) next() (*genai.Response, error) {
	i := g.calls
	g.calls++
	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return &genai.Response{Text: "fallback"}, nil
}

func (g *scriptedGenerator) Generate(ctx context.Context, req *genai.Request) (*genai.Response, error) {
	return g.next()
}

func (g *scriptedGenerator) GenerateStream(ctx context.Context, req *genai.Request, yield func(genai.StreamEvent) error) (*genai.Response, error) {
	resp, err := g.next()
	if err != nil {
		return nil, err
	}
	if resp.Text != "" {
		if err := yield(genai.StreamEvent{Text: resp.Text}); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

type fakeExecutor struct {
	result json.RawMessage
	err    error
	called string
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, scope *tenant.Scope, args json.RawMessage) (json.RawMessage, error) {
	f.called = name
	return f.result, f.err
}

type fakeMemWriter struct {
	added []memory.AddInput
	err   error
}

func (f *fakeMemWriter) Add(ctx context.Context, input memory.AddInput) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.added = append(f.added, input)
	return "mem-1", nil
}

type chunkRecorder struct {
	chunks []chat.Chunk
}

func (r *chunkRecorder) emit(c chat.Chunk) error {
	r.chunks = append(r.chunks, c)
	return nil
}

func (r *chunkRecorder) ofType(t chat.ChunkType) []chat.Chunk {
	var out []chat.Chunk
	for _, c := range r.chunks {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

func dashboardCtx() context.Context {
	return tenant.ContextWithScope(context.Background(), &tenant.Scope{TenantID: "acme", UserID: "u1"})
}

func TestDashboardDirectAnswer(t *testing.T) {
	gen := &scriptedGenerator{responses: []*genai.Response{{Text: "You have 3 active campaigns."}}}
	d := NewDashboard(gen, &fakeExecutor{}, &fakeMemWriter{}, nil, logging.NewNop())
	rec := &chunkRecorder{}

	result, err := d.Handle(dashboardCtx(), &Request{Message: "how many campaigns?"}, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "You have 3 active campaigns.", result.Content)
	assert.Nil(t, result.Memory)
	require.Len(t, rec.ofType(chat.ChunkContent), 1)
}

func TestDashboardToolCallWithSummarization(t *testing.T) {
	gen := &scriptedGenerator{responses: []*genai.Response{
		{FunctionCall: &genai.FunctionCall{Name: "list_campaigns", Args: json.RawMessage(`{}`)}},
		{Text: "You have two campaigns: Spring Launch and Brand Refresh."},
	}}
	exec := &fakeExecutor{result: json.RawMessage(`[{"name":"Spring Launch"},{"name":"Brand Refresh"}]`)}
	d := NewDashboard(gen, exec, &fakeMemWriter{}, nil, logging.NewNop())
	rec := &chunkRecorder{}

	result, err := d.Handle(dashboardCtx(), &Request{Message: "list my campaigns"}, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, "list_campaigns", exec.called)
	assert.Equal(t, "You have two campaigns: Spring Launch and Brand Refresh.", result.Content)

	require.Len(t, rec.ofType(chat.ChunkFunctionCall), 1)
	require.Len(t, rec.ofType(chat.ChunkFunctionResult), 1)
	assert.False(t, rec.ofType(chat.ChunkFunctionResult)[0].FunctionError)
}

func TestDashboardToolErrorUsesFormatter(t *testing.T) {
	gen := &scriptedGenerator{responses: []*genai.Response{
		{FunctionCall: &genai.FunctionCall{Name: "list_campaigns", Args: json.RawMessage(`{}`)}},
	}}
	exec := &fakeExecutor{result: json.RawMessage(`[]`), err: fmt.Errorf("backend down")}
	d := NewDashboard(gen, exec, &fakeMemWriter{}, nil, logging.NewNop())
	rec := &chunkRecorder{}

	result, err := d.Handle(dashboardCtx(), &Request{Message: "list my campaigns"}, rec.emit)
	require.NoError(t, err)
	// The raw error and raw JSON never reach the user.
	assert.NotContains(t, result.Content, "backend down")
	assert.NotContains(t, result.Content, "[]")
	assert.True(t, rec.ofType(chat.ChunkFunctionResult)[0].FunctionError)
}

func TestDashboardSummarizationFailureFallsBackToFormatter(t *testing.T) {
	gen := &scriptedGenerator{
		responses: []*genai.Response{
			{FunctionCall: &genai.FunctionCall{Name: "list_tasks", Args: json.RawMessage(`{}`)}},
			nil, nil,
		},
		errs: []error{nil, fmt.Errorf("model down"), fmt.Errorf("model down")},
	}
	exec := &fakeExecutor{result: json.RawMessage(`[{"title":"Write brief","status":"open"}]`)}
	d := NewDashboard(gen, exec, &fakeMemWriter{}, nil, logging.NewNop())
	rec := &chunkRecorder{}

	result, err := d.Handle(dashboardCtx(), &Request{Message: "my tasks"}, rec.emit)
	require.NoError(t, err)
	assert.Contains(t, result.Content, "Write brief")
	assert.Contains(t, result.Content, "open")
}

func TestDashboardRememberThisWritesInlineMemory(t *testing.T) {
	gen := &scriptedGenerator{responses: []*genai.Response{
		{FunctionCall: &genai.FunctionCall{
			Name: rememberToolName,
			Args: json.RawMessage(`{"content":"Client prefers monthly reports","type":"preference","importance":"high"}`),
		}},
	}}
	mem := &fakeMemWriter{}
	d := NewDashboard(gen, &fakeExecutor{}, mem, nil, logging.NewNop())
	rec := &chunkRecorder{}

	result, err := d.Handle(dashboardCtx(), &Request{Message: "remember that", SessionID: "s1"}, rec.emit)
	require.NoError(t, err)
	require.NotNil(t, result.Memory)
	assert.Equal(t, memory.TypePreference, result.Memory.Type)
	assert.Equal(t, memory.ImportanceHigh, result.Memory.Importance)

	require.Len(t, mem.added, 1)
	assert.Equal(t, "Client prefers monthly reports", mem.added[0].Content)
	assert.Equal(t, "s1", mem.added[0].SessionID)
}

func TestDashboardModelFailureApologizes(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{fmt.Errorf("boom"), fmt.Errorf("boom")}}
	d := NewDashboard(gen, &fakeExecutor{}, &fakeMemWriter{}, nil, logging.NewNop())
	rec := &chunkRecorder{}

	result, err := d.Handle(dashboardCtx(), &Request{Message: "hi"}, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, apologyText, result.Content)
	assert.NotContains(t, result.Content, "boom")
}

func TestDashboardFailsWithoutScope(t *testing.T) {
	d := NewDashboard(&scriptedGenerator{}, &fakeExecutor{}, &fakeMemWriter{}, nil, logging.NewNop())
	_, err := d.Handle(context.Background(), &Request{Message: "hi"}, (&chunkRecorder{}).emit)
	assert.ErrorIs(t, err, tenant.ErrMissingScope)
}

func TestFormatToolResult(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty array", `[]`, "No results found for list campaigns."},
		{"null", `null`, "No results found for list campaigns."},
		{"plain string", `"all good"`, "all good"},
		{"wrapped list", `{"items":[],"total":0}`, "No results found for list campaigns."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatToolResult("list_campaigns", json.RawMessage(tc.raw)))
		})
	}

	out := formatToolResult("list_campaigns", json.RawMessage(`[{"name":"Spring","status":"active","id":"c1"}]`))
	assert.Contains(t, out, "Spring")
	assert.Contains(t, out, "active")
	assert.NotContains(t, out, "c1")
}
