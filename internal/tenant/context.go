// Package tenant defines the multi-tenant scoping model for agencyd.
//
// A Scope is the exact (tenant, user, optional client) tuple that governs
// memory visibility. Missing scope is an error, never an empty result set:
// every storage query fails closed when the scope is absent from context.
package tenant

import (
	"context"
	"errors"
)

// Fail-closed scoping errors.
var (
	// ErrMissingScope is returned when scope info is missing from context.
	ErrMissingScope = errors.New("tenant scope missing from context")

	// ErrInvalidScope is returned when a required scope field is empty.
	ErrInvalidScope = errors.New("invalid tenant scope")
)

// scopeContextKey is the context key for Scope.
type scopeContextKey struct{}

// Scope holds the isolation tuple for one request.
//
//   - TenantID (required): the agency, the top-level isolation boundary.
//   - UserID (required): the acting user within the tenant.
//   - ClientID (optional): narrows visibility to one of the agency's clients.
type Scope struct {
	TenantID string
	UserID   string
	ClientID string
}

// Validate checks that required fields are present.
func (s *Scope) Validate() error {
	if s.TenantID == "" || s.UserID == "" {
		return ErrInvalidScope
	}
	return nil
}

// ContextWithScope adds a Scope to a context.
func ContextWithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the Scope from a context.
// Returns ErrMissingScope if absent - fail closed.
func ScopeFromContext(ctx context.Context) (*Scope, error) {
	val := ctx.Value(scopeContextKey{})
	if val == nil {
		return nil, ErrMissingScope
	}
	scope, ok := val.(*Scope)
	if !ok || scope == nil {
		return nil, ErrMissingScope
	}
	return scope, nil
}

// Metadata returns the scope as a metadata map for document storage.
func (s *Scope) Metadata() map[string]string {
	meta := map[string]string{
		"tenant_id": s.TenantID,
		"user_id":   s.UserID,
	}
	if s.ClientID != "" {
		meta["client_id"] = s.ClientID
	}
	return meta
}

// Filter returns the query conditions matching this scope. ClientID is only
// added when set, so scoping stays at the tenant+user level otherwise.
func (s *Scope) Filter() map[string]string {
	filter := map[string]string{
		"tenant_id": s.TenantID,
		"user_id":   s.UserID,
	}
	if s.ClientID != "" {
		filter["client_id"] = s.ClientID
	}
	return filter
}
