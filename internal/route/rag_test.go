package route

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/genai"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/resilience"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

type fakeResolver struct {
	trained    []string
	clientDocs []string
	err        error
}

func (f *fakeResolver) AllowedDocuments(ctx context.Context, scope *tenant.Scope) ([]string, error) {
	return f.trained, f.err
}

func (f *fakeResolver) ClientDocuments(ctx context.Context, scope *tenant.Scope) ([]string, error) {
	return f.clientDocs, nil
}

type fakeSearcher struct {
	hits      []DocumentHit
	err       error
	allowList []string
	calls     int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, scope *tenant.Scope, allowList []string) ([]DocumentHit, error) {
	f.calls++
	f.allowList = allowList
	return f.hits, f.err
}

func TestRAGEmptyAllowListShortCircuits(t *testing.T) {
	gen := &scriptedGenerator{}
	searcher := &fakeSearcher{}
	r := NewRAG(gen, &fakeResolver{}, searcher, nil, logging.NewNop())
	rec := &chunkRecorder{}

	result, err := r.Handle(dashboardCtx(), &Request{Message: "what does the playbook say?"}, rec.emit)
	require.NoError(t, err)
	assert.Equal(t, noTrainedDocsMessage, result.Content)
	assert.Zero(t, searcher.calls, "search must not run with an empty allow list")
	assert.Zero(t, gen.calls, "no model call for the short circuit")
}

func TestRAGMergesAllowLists(t *testing.T) {
	gen := &scriptedGenerator{responses: []*genai.Response{{Text: "Answer from docs."}}}
	searcher := &fakeSearcher{hits: []DocumentHit{
		{DocumentID: "d1", Title: "Playbook", Snippet: "snippet one"},
	}}
	r := NewRAG(gen, &fakeResolver{trained: []string{"d1", "d2"}, clientDocs: []string{"d2", "d3"}}, searcher, nil, logging.NewNop())

	_, err := r.Handle(dashboardCtx(), &Request{Message: "question"}, (&chunkRecorder{}).emit)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2", "d3"}, searcher.allowList)
}

func TestRAGDeduplicatesCitationsByDocumentID(t *testing.T) {
	gen := &scriptedGenerator{responses: []*genai.Response{{Text: "Answer."}}}
	searcher := &fakeSearcher{hits: []DocumentHit{
		{DocumentID: "d1", Title: "Playbook", Snippet: "part one"},
		{DocumentID: "d1", Title: "Playbook", Snippet: "part two"},
		{DocumentID: "d2", Title: "Brand Guide", Snippet: "colors"},
	}}
	r := NewRAG(gen, &fakeResolver{trained: []string{"d1", "d2"}}, searcher, nil, logging.NewNop())
	rec := &chunkRecorder{}

	result, err := r.Handle(dashboardCtx(), &Request{Message: "question"}, rec.emit)
	require.NoError(t, err)
	require.Len(t, result.Citations, 2)
	assert.Equal(t, 1, result.Citations[0].Index)
	assert.Equal(t, "d1", result.Citations[0].DocumentID)
	assert.Equal(t, 2, result.Citations[1].Index)
	assert.Equal(t, "d2", result.Citations[1].DocumentID)
	assert.Len(t, rec.ofType(chat.ChunkCitation), 2)
}

func TestRAGCircuitOpenMessage(t *testing.T) {
	breaker := resilience.NewBreaker(1, time.Minute)
	// Trip the breaker.
	_ = breaker.Do(context.Background(), func(ctx context.Context) error { return fmt.Errorf("down") })

	gen := &scriptedGenerator{}
	r := NewRAG(gen, &fakeResolver{trained: []string{"d1"}}, &fakeSearcher{}, breaker, logging.NewNop())

	result, err := r.Handle(dashboardCtx(), &Request{Message: "question"}, (&chunkRecorder{}).emit)
	require.NoError(t, err)
	assert.Equal(t, searchUnavailableMessage, result.Content)
	assert.Zero(t, gen.calls)
}

func TestRAGSearchFailureApologizes(t *testing.T) {
	r := NewRAG(&scriptedGenerator{}, &fakeResolver{trained: []string{"d1"}},
		&fakeSearcher{err: fmt.Errorf("search exploded")}, nil, logging.NewNop())

	result, err := r.Handle(dashboardCtx(), &Request{Message: "question"}, (&chunkRecorder{}).emit)
	require.NoError(t, err)
	assert.Equal(t, apologyText, result.Content)
	assert.NotContains(t, result.Content, "exploded")
}

func TestRAGResolverFailureApologizes(t *testing.T) {
	r := NewRAG(&scriptedGenerator{}, &fakeResolver{err: fmt.Errorf("rbac down")},
		&fakeSearcher{}, nil, logging.NewNop())

	result, err := r.Handle(dashboardCtx(), &Request{Message: "question"}, (&chunkRecorder{}).emit)
	require.NoError(t, err)
	assert.Equal(t, apologyText, result.Content)
}

func TestRAGNoHitsMessage(t *testing.T) {
	gen := &scriptedGenerator{}
	r := NewRAG(gen, &fakeResolver{trained: []string{"d1"}}, &fakeSearcher{}, nil, logging.NewNop())

	result, err := r.Handle(dashboardCtx(), &Request{Message: "question"}, (&chunkRecorder{}).emit)
	require.NoError(t, err)
	assert.Contains(t, result.Content, "couldn't find anything relevant")
	assert.Zero(t, gen.calls)
}
