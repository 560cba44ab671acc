package route

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/genai"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/resilience"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

const ragPrompt = `You answer questions using only the provided document excerpts.
Cite nothing the excerpts don't support. If the excerpts don't answer the
question, say so.`

// noTrainedDocsMessage is the short-circuit reply when the tenant has not
// opted any documents into training.
const noTrainedDocsMessage = "I don't have any trained documents for your workspace yet. " +
	"Once documents are added and opted into training, I can answer questions from them."

// searchUnavailableMessage is the reply while the search breaker is open.
const searchUnavailableMessage = "Document search is temporarily unavailable. Please try again in a minute."

// RAG answers from the tenant's trained documents. The allow list and the
// client document set resolve concurrently; search runs through the circuit
// breaker so a failing search backend degrades fast instead of timing out
// every request.
type RAG struct {
	generator genai.Generator
	resolver  TrainingResolver
	searcher  DocumentSearcher
	breaker   *resilience.Breaker
	logger    *logging.Logger
}

// NewRAG creates the rag handler.
func NewRAG(generator genai.Generator, resolver TrainingResolver, searcher DocumentSearcher, breaker *resilience.Breaker, logger *logging.Logger) *RAG {
	if breaker == nil {
		breaker = resilience.NewBreaker(0, 0)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RAG{
		generator: generator,
		resolver:  resolver,
		searcher:  searcher,
		breaker:   breaker,
		logger:    logger.Named("route.rag"),
	}
}

// Handle runs one rag turn.
func (r *RAG) Handle(ctx context.Context, req *Request, emit EmitFunc) (*Result, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var trained, clientDocs []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		trained, err = r.resolver.AllowedDocuments(gctx, scope)
		if err != nil {
			return fmt.Errorf("resolving training allow list: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		clientDocs, err = r.resolver.ClientDocuments(gctx, scope)
		if err != nil {
			return fmt.Errorf("resolving client documents: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return apologize(ctx, r.logger, emit, "allow list resolution failed", err)
	}

	allowList := mergeAllowList(trained, clientDocs)
	if len(allowList) == 0 {
		if err := emitContent(emit, noTrainedDocsMessage); err != nil {
			return nil, err
		}
		return &Result{Content: noTrainedDocsMessage}, nil
	}

	var hits []DocumentHit
	searchErr := r.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		hits, err = r.searcher.Search(ctx, req.Message, scope, allowList)
		return err
	})
	if searchErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(searchErr, resilience.ErrCircuitOpen) {
			r.logger.Warn(ctx, "document search circuit open", zap.Error(searchErr))
			if err := emitContent(emit, searchUnavailableMessage); err != nil {
				return nil, err
			}
			return &Result{Content: searchUnavailableMessage}, nil
		}
		return apologize(ctx, r.logger, emit, "document search failed", searchErr)
	}

	if len(hits) == 0 {
		content := "I couldn't find anything relevant in your trained documents."
		if err := emitContent(emit, content); err != nil {
			return nil, err
		}
		return &Result{Content: content}, nil
	}

	citations := citationsFromHits(hits)
	resp, err := resilience.Retry(ctx, resilience.DefaultRetryBackoff, func(ctx context.Context) (*genai.Response, error) {
		return r.generator.Generate(ctx, &genai.Request{
			System: ragPrompt,
			Turns:  buildTurns(req.History, ragQuestion(req.Message, hits, citations)),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return apologize(ctx, r.logger, emit, "rag model call failed", err)
	}

	if err := emitContent(emit, resp.Text); err != nil {
		return nil, err
	}
	for i := range citations {
		if err := emit(chat.Chunk{Type: chat.ChunkCitation, Citation: &citations[i]}); err != nil {
			return nil, err
		}
	}
	return &Result{Content: resp.Text, Citations: citations}, nil
}

// mergeAllowList unions the trained set with the client set, preserving
// order and dropping duplicates.
func mergeAllowList(trained, clientDocs []string) []string {
	seen := make(map[string]bool, len(trained)+len(clientDocs))
	var out []string
	for _, id := range append(append([]string{}, trained...), clientDocs...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// citationsFromHits maps snippets to citations deduplicated by document id.
// Indices are 1-based in hit order.
func citationsFromHits(hits []DocumentHit) []chat.Citation {
	seen := make(map[string]bool, len(hits))
	var citations []chat.Citation
	for _, hit := range hits {
		if hit.DocumentID == "" || seen[hit.DocumentID] {
			continue
		}
		seen[hit.DocumentID] = true
		citations = append(citations, chat.Citation{
			Index:      len(citations) + 1,
			Title:      hit.Title,
			DocumentID: hit.DocumentID,
			Source:     chat.CitationSourceRAG,
			Snippet:    hit.Snippet,
		})
	}
	return citations
}

// ragQuestion assembles the question plus numbered excerpts for the model.
func ragQuestion(message string, hits []DocumentHit, citations []chat.Citation) string {
	indexByDoc := make(map[string]int, len(citations))
	for _, c := range citations {
		indexByDoc[c.DocumentID] = c.Index
	}

	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\nExcerpts:\n")
	for _, hit := range hits {
		fmt.Fprintf(&b, "[%d] %s: %s\n", indexByDoc[hit.DocumentID], hit.Title, hit.Snippet)
	}
	return b.String()
}

var _ Handler = (*RAG)(nil)
