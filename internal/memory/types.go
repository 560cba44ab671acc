// Package memory implements the tenant-scoped long-term memory store.
//
// Records live in two places: a SQLite index (authoritative rows, listing,
// expiry) and a vector store (semantic search). Writes go to both; deletes
// are mirrored so neither store serves a record the other has dropped.
package memory

import (
	"time"
)

// Type classifies a memory and determines its lifetime.
type Type string

const (
	TypeConversation Type = "conversation"
	TypeDecision     Type = "decision"
	TypePreference   Type = "preference"
	TypeProject      Type = "project"
	TypeTask         Type = "task"
	TypeInsight      Type = "insight"
)

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	switch t {
	case TypeConversation, TypeDecision, TypePreference, TypeProject, TypeTask, TypeInsight:
		return true
	}
	return false
}

// TTL returns how long a record of this type lives, or zero for types that
// never expire.
func (t Type) TTL() time.Duration {
	switch t {
	case TypeConversation:
		return 30 * 24 * time.Hour
	case TypeProject:
		return 90 * 24 * time.Hour
	case TypeTask:
		return 14 * 24 * time.Hour
	default:
		// decision, preference, insight persist until deleted
		return 0
	}
}

// Importance ranks how strongly a memory should influence later turns.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
)

// Valid reports whether i is a known importance level.
func (i Importance) Valid() bool {
	return i == ImportanceHigh || i == ImportanceMedium
}

// Record is one stored memory. SessionID is metadata only: it lets a session
// wipe find its records, but listing and search are always scoped by tenant
// and user, never by session.
type Record struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	ClientID   string     `json:"client_id,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
	Type       Type       `json:"type"`
	Importance Importance `json:"importance"`
	Score      float32    `json:"score,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the record's lifetime has passed at now.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// AddInput is the request to store a new memory. Either Content or the
// UserMessage/AssistantMessage pair must be set; when the pair is given both
// sides are stored and joined for embedding.
type AddInput struct {
	Content          string
	UserMessage      string
	AssistantMessage string
	Type             Type
	Importance       Importance
	SessionID        string
}
