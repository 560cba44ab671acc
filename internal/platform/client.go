// Package platform is the HTTP client for the agency management backend. It
// serves the dashboard function calls, trained-document search, and the
// training allow lists that the route handlers consume through their
// collaborator interfaces.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/agencyd/internal/config"
	"github.com/fyrsmithlabs/agencyd/internal/route"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 20 // requests per second
	defaultBurst     = 40
)

// Client talks to the agency management backend. Every request carries the
// caller's tenant scope as headers; the backend enforces row-level isolation
// on its side too.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a backend client from config.
func NewClient(cfg config.PlatformConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("platform base URL required")
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

// Execute runs one declared dashboard function on the backend.
func (c *Client) Execute(ctx context.Context, name string, scope *tenant.Scope, args json.RawMessage) (json.RawMessage, error) {
	if args == nil {
		args = json.RawMessage(`{}`)
	}
	var result json.RawMessage
	status, err := c.do(ctx, http.MethodPost, "/api/v1/functions/"+url.PathEscape(name), scope, args, &result)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", route.ErrUnknownFunction, name)
		}
		return nil, err
	}
	return result, nil
}

type searchRequest struct {
	Query     string   `json:"query"`
	AllowList []string `json:"allow_list"`
}

type searchResponse struct {
	Hits []route.DocumentHit `json:"hits"`
}

// Search queries the trained-document index, restricted to allowList.
func (c *Client) Search(ctx context.Context, query string, scope *tenant.Scope, allowList []string) ([]route.DocumentHit, error) {
	var resp searchResponse
	_, err := c.do(ctx, http.MethodPost, "/api/v1/documents/search", scope, searchRequest{Query: query, AllowList: allowList}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

type documentsResponse struct {
	DocumentIDs []string `json:"document_ids"`
}

// AllowedDocuments returns the ids the tenant opted into training.
func (c *Client) AllowedDocuments(ctx context.Context, scope *tenant.Scope) ([]string, error) {
	var resp documentsResponse
	_, err := c.do(ctx, http.MethodGet, "/api/v1/training/allowed", scope, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.DocumentIDs, nil
}

// ClientDocuments returns the ids belonging to the scoped client. No client
// in scope means no client documents.
func (c *Client) ClientDocuments(ctx context.Context, scope *tenant.Scope) ([]string, error) {
	if scope.ClientID == "" {
		return nil, nil
	}
	var resp documentsResponse
	_, err := c.do(ctx, http.MethodGet, "/api/v1/clients/"+url.PathEscape(scope.ClientID)+"/documents", scope, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.DocumentIDs, nil
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// do performs one request and decodes the JSON response into out. It returns
// the HTTP status so callers can map specific codes to sentinel errors.
func (c *Client) do(ctx context.Context, method, path string, scope *tenant.Scope, body, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("X-Tenant-ID", scope.TenantID)
	req.Header.Set("X-User-ID", scope.UserID)
	if scope.ClientID != "" {
		req.Header.Set("X-Client-ID", scope.ClientID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
			return resp.StatusCode, fmt.Errorf("platform error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return resp.StatusCode, fmt.Errorf("platform error (%d): %s", resp.StatusCode, string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

var (
	_ route.FunctionExecutor = (*Client)(nil)
	_ route.DocumentSearcher = (*Client)(nil)
	_ route.TrainingResolver = (*Client)(nil)
)
