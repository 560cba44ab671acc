package route

import (
	"context"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/citation"
	"github.com/fyrsmithlabs/agencyd/internal/genai"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/resilience"
)

const casualPrompt = `You are a helpful assistant for a marketing agency team.
Be concise and friendly.`

// Casual handles plain generation, streaming deltas as they arrive. The
// same handler serves the web route: that variant enables the model's
// web-grounding tool and turns grounding metadata into citations.
type Casual struct {
	generator genai.Generator
	webSearch bool
	logger    *logging.Logger
}

// NewCasual creates the plain-generation handler.
func NewCasual(generator genai.Generator, logger *logging.Logger) *Casual {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Casual{generator: generator, logger: logger.Named("route.casual")}
}

// NewWeb creates the web variant with the grounding tool enabled.
func NewWeb(generator genai.Generator, logger *logging.Logger) *Casual {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Casual{generator: generator, webSearch: true, logger: logger.Named("route.web")}
}

// Handle runs one generation turn. The plain variant streams deltas as they
// arrive and stores exactly what it streamed. The web variant rewrites the
// text after generation (artifacts stripped, citation markers inserted), so
// it withholds deltas and emits the final text as one content chunk; a
// client concatenating content chunks always ends up with the stored
// message either way.
func (c *Casual) Handle(ctx context.Context, req *Request, emit EmitFunc) (*Result, error) {
	resp, err := resilience.Retry(ctx, resilience.DefaultRetryBackoff, func(ctx context.Context) (*genai.Response, error) {
		return c.generator.GenerateStream(ctx, &genai.Request{
			System:    casualPrompt,
			Turns:     buildTurns(req.History, req.Message),
			WebSearch: c.webSearch,
		}, func(ev genai.StreamEvent) error {
			if c.webSearch {
				return nil
			}
			return emitContent(emit, ev.Text)
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return apologize(ctx, c.logger, emit, "generation failed", err)
	}

	if !c.webSearch {
		return &Result{Content: resp.Text}, nil
	}

	content := citation.StripArtifacts(resp.Text)
	citations := groundingCitations(resp.Grounding)
	if resp.Grounding != nil && len(resp.Grounding.Supports) > 0 {
		content = citation.Insert(content, supportsFrom(resp.Grounding))
	}

	if err := emitContent(emit, content); err != nil {
		return nil, err
	}
	for i := range citations {
		if err := emit(chat.Chunk{Type: chat.ChunkCitation, Citation: &citations[i]}); err != nil {
			return nil, err
		}
	}
	return &Result{Content: content, Citations: citations}, nil
}

// supportsFrom converts grounding metadata into citation inserter spans.
func supportsFrom(g *genai.Grounding) []citation.Support {
	supports := make([]citation.Support, len(g.Supports))
	for i, s := range g.Supports {
		supports[i] = citation.Support{End: s.EndIndex, SourceIndices: s.SourceIndices}
	}
	return supports
}

// groundingCitations maps grounding sources to web citations, deduplicated
// by URL.
func groundingCitations(g *genai.Grounding) []chat.Citation {
	if g == nil {
		return nil
	}
	seen := make(map[string]bool, len(g.Sources))
	var citations []chat.Citation
	for i, src := range g.Sources {
		if src.URL == "" || seen[src.URL] {
			continue
		}
		seen[src.URL] = true
		citations = append(citations, chat.Citation{
			Index:  i + 1,
			Title:  src.Title,
			URL:    src.URL,
			Source: chat.CitationSourceWeb,
		})
	}
	return citations
}

var _ Handler = (*Casual)(nil)
