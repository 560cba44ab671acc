package genai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/agencyd/internal/config"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel     = "gemini-2.0-flash"
	defaultTimeout   = 60 * time.Second
	defaultRateLimit = 10 // requests per second
	defaultBurst     = 20

	// SSE lines can carry a full response chunk; the default scanner buffer
	// is too small for long generations.
	maxSSELineSize = 1 << 20
)

// GeminiClient implements Generator over the Gemini REST API.
type GeminiClient struct {
	baseURL string
	apiKey  string
	model   string

	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
}

// NewGeminiClient creates a Gemini client from config.
func NewGeminiClient(cfg config.GenAIConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai API key required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &GeminiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		// Streams outlive any fixed timeout; cancellation comes from ctx.
		streamClient: &http.Client{},
		limiter:      rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

// Wire types for the Gemini REST API.

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
	GoogleSearch         *struct{}            `json:"googleSearch,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiSegment struct {
	EndIndex int `json:"endIndex"`
}

type geminiGroundingSupport struct {
	Segment               geminiSegment `json:"segment"`
	GroundingChunkIndices []int         `json:"groundingChunkIndices"`
}

type geminiGroundingChunk struct {
	Web *struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"web,omitempty"`
}

type geminiGroundingMetadata struct {
	GroundingSupports []geminiGroundingSupport `json:"groundingSupports"`
	GroundingChunks   []geminiGroundingChunk   `json:"groundingChunks"`
}

type geminiCandidate struct {
	Content           geminiContent            `json:"content"`
	GroundingMetadata *geminiGroundingMetadata `json:"groundingMetadata,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *GeminiClient) buildRequest(req *Request) geminiRequest {
	out := geminiRequest{}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, turn := range req.Turns {
		out.Contents = append(out.Contents, geminiContent{
			Role:  string(turn.Role),
			Parts: []geminiPart{{Text: turn.Content}},
		})
	}
	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDecl, len(req.Tools))
		for i, tool := range req.Tools {
			decls[i] = geminiFunctionDecl{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			}
		}
		out.Tools = append(out.Tools, geminiTool{FunctionDeclarations: decls})
	}
	if req.WebSearch {
		out.Tools = append(out.Tools, geminiTool{GoogleSearch: &struct{}{}})
	}
	gen := &geminiGenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}
	if req.JSONOutput {
		gen.ResponseMimeType = "application/json"
	}
	out.GenerationConfig = gen
	return out
}

func convertGrounding(meta *geminiGroundingMetadata) *Grounding {
	if meta == nil || (len(meta.GroundingSupports) == 0 && len(meta.GroundingChunks) == 0) {
		return nil
	}
	g := &Grounding{}
	for _, s := range meta.GroundingSupports {
		g.Supports = append(g.Supports, GroundingSupport{
			EndIndex:      s.Segment.EndIndex,
			SourceIndices: s.GroundingChunkIndices,
		})
	}
	for _, chunk := range meta.GroundingChunks {
		src := GroundingSource{}
		if chunk.Web != nil {
			src.Title = chunk.Web.Title
			src.URL = chunk.Web.URI
		}
		g.Sources = append(g.Sources, src)
	}
	return g
}

// Generate returns the complete response in one call.
func (c *GeminiClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("genai request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, respBody)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return assembleResponse(&parsed)
}

func apiError(status int, body []byte) error {
	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return fmt.Errorf("genai API error (%d): %s", status, parsed.Error.Message)
	}
	return fmt.Errorf("genai API error (%d): %s", status, string(body))
}

func assembleResponse(parsed *geminiResponse) (*Response, error) {
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from model")
	}
	cand := parsed.Candidates[0]

	out := &Response{Grounding: convertGrounding(cand.GroundingMetadata)}
	for _, part := range cand.Content.Parts {
		out.Text += part.Text
		if part.FunctionCall != nil && out.FunctionCall == nil {
			out.FunctionCall = &FunctionCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			}
		}
	}
	return out, nil
}

// GenerateStream streams increments over SSE and returns the assembled
// response. Grounding metadata typically arrives on the final chunk.
func (c *GeminiClient) GenerateStream(ctx context.Context, req *Request, yield func(StreamEvent) error) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("genai stream failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, apiError(resp.StatusCode, respBody)
	}

	assembled := &Response{}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), maxSSELineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var parsed geminiResponse
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			return nil, fmt.Errorf("parsing stream chunk: %w", err)
		}
		if len(parsed.Candidates) == 0 {
			continue
		}
		cand := parsed.Candidates[0]

		event := StreamEvent{}
		for _, part := range cand.Content.Parts {
			event.Text += part.Text
			if part.FunctionCall != nil && event.FunctionCall == nil {
				event.FunctionCall = &FunctionCall{
					Name: part.FunctionCall.Name,
					Args: part.FunctionCall.Args,
				}
			}
		}
		if g := convertGrounding(cand.GroundingMetadata); g != nil {
			event.Grounding = g
			assembled.Grounding = g
		}
		assembled.Text += event.Text
		if event.FunctionCall != nil && assembled.FunctionCall == nil {
			assembled.FunctionCall = event.FunctionCall
		}

		if event.Text != "" || event.FunctionCall != nil || event.Grounding != nil {
			if err := yield(event); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		// A cancelled ctx surfaces as a read error on the body.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return assembled, nil
}

var _ Generator = (*GeminiClient)(nil)
