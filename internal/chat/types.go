// Package chat defines the conversation domain model shared by the session
// store, route handlers, orchestrator and HTTP API.
package chat

import (
	"time"
)

// Route is the classifier-assigned handling strategy for one message.
type Route string

const (
	// RouteDashboard answers operational questions via tool calls.
	RouteDashboard Route = "dashboard"

	// RouteRAG answers from the tenant's trained documents.
	RouteRAG Route = "rag"

	// RouteMemory recalls cross-session memories.
	RouteMemory Route = "memory"

	// RouteCasual is plain generation.
	RouteCasual Route = "casual"

	// RouteWeb is plain generation with the web-grounding tool enabled.
	RouteWeb Route = "web"
)

// Valid reports whether r is a known route.
func (r Route) Valid() bool {
	switch r {
	case RouteDashboard, RouteRAG, RouteMemory, RouteCasual, RouteWeb:
		return true
	}
	return false
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// CitationSource identifies where a citation's evidence came from.
type CitationSource string

const (
	CitationSourceWeb CitationSource = "web"
	CitationSourceRAG CitationSource = "rag"
)

// Citation is one reference backing part of a response.
//
// Index is 1-based in stream order and stable only for the lifetime of the
// response it belongs to. Within one response citations are deduplicated by
// URL or document ID.
type Citation struct {
	Index      int            `json:"index"`
	Title      string         `json:"title"`
	URL        string         `json:"url,omitempty"`
	DocumentID string         `json:"document_id,omitempty"`
	Source     CitationSource `json:"source"`
	Snippet    string         `json:"snippet,omitempty"`
}

// Key returns the deduplication key: URL for web sources, document ID for
// RAG sources.
func (c Citation) Key() string {
	if c.URL != "" {
		return c.URL
	}
	return c.DocumentID
}

// Message is one immutable turn in a session. Created once, appended to its
// owning session, never mutated.
type Message struct {
	ID          string            `json:"id"`
	Role        Role              `json:"role"`
	Content     string            `json:"content"`
	Route       Route             `json:"route,omitempty"`
	Citations   []Citation        `json:"citations,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Session is an append-only conversation log owned by exactly one
// (tenant, user) pair. The message list is the single source of truth for
// conversation replay; messages are indexed by insertion order.
type Session struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	UserID    string            `json:"user_id"`
	Context   map[string]string `json:"context,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
