package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/classifier"
	"github.com/fyrsmithlabs/agencyd/internal/genai"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/memory"
	"github.com/fyrsmithlabs/agencyd/internal/route"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

// memSessionStore is an in-memory SessionStore.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*chat.Session
	messages map[string][]chat.Message
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: map[string]*chat.Session{},
		messages: map[string][]chat.Message{},
	}
}

func (s *memSessionStore) GetOrCreate(ctx context.Context, id, tenantID, userID string) (*chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess := &chat.Session{ID: "sess-1", TenantID: tenantID, UserID: userID}
	if id != "" {
		sess.ID = id
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memSessionStore) AddMessage(ctx context.Context, sessionID string, msg *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], *msg)
	return nil
}

func (s *memSessionStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]chat.Message{}, msgs...), nil
}

func (s *memSessionStore) MessageCount(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[sessionID]), nil
}

func (s *memSessionStore) count(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[sessionID])
}

// recordingMemories counts Add calls.
type recordingMemories struct {
	mu    sync.Mutex
	added []memory.AddInput
}

func (m *recordingMemories) Add(ctx context.Context, input memory.AddInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.added = append(m.added, input)
	return fmt.Sprintf("mem-%d", len(m.added)), nil
}

func (m *recordingMemories) inputs() []memory.AddInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memory.AddInput{}, m.added...)
}

// stubClassifier returns a fixed verdict or error.
type stubClassifier struct {
	result *classifier.Result
	err    error
}

func (c *stubClassifier) Classify(ctx context.Context, text string) (*classifier.Result, error) {
	return c.result, c.err
}

// stubHandler emits scripted chunks and returns a scripted result.
type stubHandler struct {
	chunks []chat.Chunk
	result *route.Result
	err    error
}

func (h *stubHandler) Handle(ctx context.Context, req *route.Request, emit route.EmitFunc) (*route.Result, error) {
	for _, c := range h.chunks {
		if err := emit(c); err != nil {
			return nil, err
		}
	}
	if h.err != nil {
		return nil, h.err
	}
	return h.result, nil
}

// nilGenerator fails every call; tests that summarize use a scripted one.
type nilGenerator struct{ text string }

func (g *nilGenerator) Generate(ctx context.Context, req *genai.Request) (*genai.Response, error) {
	return &genai.Response{Text: g.text}, nil
}

func (g *nilGenerator) GenerateStream(ctx context.Context, req *genai.Request, yield func(genai.StreamEvent) error) (*genai.Response, error) {
	return g.Generate(ctx, req)
}

type fixture struct {
	orch      *Orchestrator
	sessions  *memSessionStore
	memories  *recordingMemories
	scheduler *Scheduler
}

func newFixture(t *testing.T, cls classifier.Classifier, handlers map[chat.Route]route.Handler) *fixture {
	t.Helper()
	sessions := newMemSessionStore()
	memories := &recordingMemories{}
	scheduler := NewScheduler(logging.NewNop())

	if handlers[chat.RouteCasual] == nil {
		handlers[chat.RouteCasual] = &stubHandler{result: &route.Result{Content: "fallback"}}
	}

	orch, err := New(cls, handlers, sessions, memories, &nilGenerator{text: "summary"}, scheduler, Config{
		HistoryLimit:      20,
		SummarizeInterval: 4,
	}, logging.NewNop())
	require.NoError(t, err)
	return &fixture{orch: orch, sessions: sessions, memories: memories, scheduler: scheduler}
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.scheduler.Drain(ctx))
}

func scopedCtx() context.Context {
	return tenant.ContextWithScope(context.Background(), &tenant.Scope{TenantID: "acme", UserID: "u1"})
}

func collectChunks() (route.EmitFunc, *[]chat.Chunk) {
	var chunks []chat.Chunk
	return func(c chat.Chunk) error {
		chunks = append(chunks, c)
		return nil
	}, &chunks
}

func terminalCount(chunks []chat.Chunk) int {
	n := 0
	for _, c := range chunks {
		if c.Type.Terminal() {
			n++
		}
	}
	return n
}

func TestHandleMessageChunkOrder(t *testing.T) {
	handler := &stubHandler{
		chunks: []chat.Chunk{{Type: chat.ChunkContent, Content: "partial"}},
		result: &route.Result{Content: "partial", Suggestions: []string{"follow up?"}},
	}
	f := newFixture(t, &stubClassifier{result: &classifier.Result{Route: chat.RouteCasual, Confidence: 0.9}},
		map[chat.Route]route.Handler{chat.RouteCasual: handler})

	sink, chunks := collectChunks()
	result, err := f.orch.HandleMessage(scopedCtx(), &Request{Message: "hello"}, sink)
	require.NoError(t, err)

	got := *chunks
	require.GreaterOrEqual(t, len(got), 4)
	assert.Equal(t, chat.ChunkRoute, got[0].Type)
	assert.Equal(t, chat.RouteCasual, got[0].Route)
	assert.InDelta(t, 0.9, got[0].Confidence, 0.001)
	assert.Equal(t, chat.ChunkContent, got[1].Type)
	assert.Equal(t, chat.ChunkSuggestions, got[2].Type)

	// Exactly one terminal chunk, and it is last.
	assert.Equal(t, 1, terminalCount(got))
	last := got[len(got)-1]
	assert.Equal(t, chat.ChunkDone, last.Type)
	assert.Equal(t, result.Message.ID, last.MessageID)
	assert.Equal(t, result.SessionID, last.SessionID)

	f.drain(t)
}

func TestHandleMessageCommitsPairSynchronously(t *testing.T) {
	handler := &stubHandler{result: &route.Result{Content: "answer"}}
	f := newFixture(t, &stubClassifier{result: &classifier.Result{Route: chat.RouteCasual}},
		map[chat.Route]route.Handler{chat.RouteCasual: handler})

	sink, _ := collectChunks()
	result, err := f.orch.HandleMessage(scopedCtx(), &Request{Message: "hello"}, sink)
	require.NoError(t, err)

	// Both messages are durable before control returned.
	msgs, err := f.sessions.GetMessages(context.Background(), result.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, chat.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "answer", msgs[1].Content)

	f.drain(t)
}

func TestClassifierFailureDefaultsToCasual(t *testing.T) {
	handler := &stubHandler{result: &route.Result{Content: "casual answer"}}
	f := newFixture(t, &stubClassifier{err: fmt.Errorf("classifier down")},
		map[chat.Route]route.Handler{chat.RouteCasual: handler})

	sink, chunks := collectChunks()
	_, err := f.orch.HandleMessage(scopedCtx(), &Request{Message: "hello"}, sink)
	require.NoError(t, err)

	got := *chunks
	assert.Equal(t, chat.ChunkRoute, got[0].Type)
	assert.Equal(t, chat.RouteCasual, got[0].Route)
	assert.Zero(t, got[0].Confidence)

	f.drain(t)
}

func TestHandlerErrorEmitsSingleTerminalError(t *testing.T) {
	handler := &stubHandler{err: fmt.Errorf("handler exploded")}
	f := newFixture(t, &stubClassifier{result: &classifier.Result{Route: chat.RouteCasual}},
		map[chat.Route]route.Handler{chat.RouteCasual: handler})

	sink, chunks := collectChunks()
	_, err := f.orch.HandleMessage(scopedCtx(), &Request{Message: "hello"}, sink)
	require.Error(t, err)

	got := *chunks
	assert.Equal(t, 1, terminalCount(got))
	last := got[len(got)-1]
	assert.Equal(t, chat.ChunkError, last.Type)
	// User-safe text only.
	assert.NotContains(t, last.Content, "exploded")

	f.drain(t)
}

func TestCancellationEmitsTerminalErrorChunk(t *testing.T) {
	ctx, cancel := context.WithCancel(scopedCtx())
	handler := &stubHandler{err: context.Canceled}
	f := newFixture(t, &stubClassifier{result: &classifier.Result{Route: chat.RouteCasual}},
		map[chat.Route]route.Handler{chat.RouteCasual: handler})
	cancel()

	sink, chunks := collectChunks()
	_, err := f.orch.HandleMessage(ctx, &Request{Message: "hello"}, sink)
	require.Error(t, err)

	got := *chunks
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, chat.ChunkError, last.Type)
	assert.Equal(t, cancelledMessage, last.Content)
	assert.Equal(t, 1, terminalCount(got))

	f.drain(t)
}

func TestBackgroundMemoryWritePerTurn(t *testing.T) {
	handler := &stubHandler{result: &route.Result{Content: "answer"}}
	f := newFixture(t, &stubClassifier{result: &classifier.Result{Route: chat.RouteCasual}},
		map[chat.Route]route.Handler{chat.RouteCasual: handler})

	sink, _ := collectChunks()
	_, err := f.orch.HandleMessage(scopedCtx(), &Request{Message: "hello"}, sink)
	require.NoError(t, err)
	f.drain(t)

	inputs := f.memories.inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, memory.TypeConversation, inputs[0].Type)
	assert.Equal(t, "hello", inputs[0].UserMessage)
	assert.Equal(t, "answer", inputs[0].AssistantMessage)
}

func TestInlineMemorySkipsBackgroundWrite(t *testing.T) {
	handler := &stubHandler{result: &route.Result{
		Content: "Got it, I'll remember that.",
		Memory: &route.DetectedMemory{
			Type:       memory.TypePreference,
			Importance: memory.ImportanceHigh,
			Content:    "prefers GBP",
		},
	}}
	f := newFixture(t, &stubClassifier{result: &classifier.Result{Route: chat.RouteCasual}},
		map[chat.Route]route.Handler{chat.RouteCasual: handler})

	sink, _ := collectChunks()
	_, err := f.orch.HandleMessage(scopedCtx(), &Request{Message: "remember I prefer GBP"}, sink)
	require.NoError(t, err)
	f.drain(t)

	// The handler wrote the memory inline; the scheduler must not add a
	// second one for the same turn.
	assert.Empty(t, f.memories.inputs())
}

func TestSummarizationAtInterval(t *testing.T) {
	handler := &stubHandler{result: &route.Result{Content: "answer", Memory: &route.DetectedMemory{}}}
	f := newFixture(t, &stubClassifier{result: &classifier.Result{Route: chat.RouteCasual}},
		map[chat.Route]route.Handler{chat.RouteCasual: handler})

	// Interval is 4: the second turn brings the count to 4 and triggers
	// one summarization.
	sink, _ := collectChunks()
	res, err := f.orch.HandleMessage(scopedCtx(), &Request{Message: "turn one"}, sink)
	require.NoError(t, err)

	_, err = f.orch.HandleMessage(scopedCtx(), &Request{SessionID: res.SessionID, Message: "turn two"}, sink)
	require.NoError(t, err)
	f.drain(t)

	inputs := f.memories.inputs()
	require.Len(t, inputs, 1)
	assert.Equal(t, memory.TypeInsight, inputs[0].Type)
	assert.Equal(t, "summary", inputs[0].Content)
	assert.Equal(t, 4, f.sessions.count(res.SessionID))
}

func TestEmptyMessageRejected(t *testing.T) {
	f := newFixture(t, &stubClassifier{result: &classifier.Result{Route: chat.RouteCasual}},
		map[chat.Route]route.Handler{})

	sink, chunks := collectChunks()
	_, err := f.orch.HandleMessage(scopedCtx(), &Request{Message: "   "}, sink)
	require.Error(t, err)
	got := *chunks
	require.Len(t, got, 1)
	assert.Equal(t, chat.ChunkError, got[0].Type)
}

func TestMissingScopeFails(t *testing.T) {
	f := newFixture(t, &stubClassifier{result: &classifier.Result{Route: chat.RouteCasual}},
		map[chat.Route]route.Handler{})

	sink, _ := collectChunks()
	_, err := f.orch.HandleMessage(context.Background(), &Request{Message: "hello"}, sink)
	assert.ErrorIs(t, err, tenant.ErrMissingScope)
}

func TestSchedulerDrainWaitsForJobs(t *testing.T) {
	s := NewScheduler(logging.NewNop())

	started := make(chan struct{})
	release := make(chan struct{})
	var done bool
	var mu sync.Mutex

	s.Go(context.Background(), "slow", func(ctx context.Context) error {
		close(started)
		<-release
		mu.Lock()
		done = true
		mu.Unlock()
		return nil
	})

	<-started
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, done, "drain must wait for in-flight jobs")

	// After drain, new jobs are rejected.
	ran := false
	s.Go(context.Background(), "late", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.False(t, ran)
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := NewScheduler(logging.NewNop())
	s.Go(context.Background(), "panicky", func(ctx context.Context) error {
		panic("boom")
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Drain(ctx))
}
