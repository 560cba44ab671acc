package vectorstore

import (
	"context"

	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

// IsolationMode defines how tenant isolation is enforced.
//
// All implementations must fail closed: when the scope cannot be determined,
// the operation errors instead of running unfiltered.
type IsolationMode interface {
	// InjectFilter merges the request's scope filter into query filters.
	InjectFilter(ctx context.Context, filters map[string]string) (map[string]string, error)

	// InjectMetadata stamps scope metadata onto documents before storage.
	InjectMetadata(ctx context.Context, docs []Document) error

	// Mode returns the isolation mode name for logging.
	Mode() string
}

// PayloadIsolation implements IsolationMode using metadata filtering.
//
// One collection holds all tenants' documents; tenant_id, user_id and
// client_id live in document metadata and every query is filtered by the
// scope from context. Missing scope is an error, by construction no query
// can cross a tenant boundary.
type PayloadIsolation struct{}

// NewPayloadIsolation creates the default fail-closed isolation mode.
func NewPayloadIsolation() *PayloadIsolation {
	return &PayloadIsolation{}
}

// InjectFilter merges the scope filter into existing filters. Scope keys
// overwrite caller-supplied values so a caller can never widen its scope.
func (p *PayloadIsolation) InjectFilter(ctx context.Context, filters map[string]string) (map[string]string, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	merged := make(map[string]string, len(filters)+3)
	for k, v := range filters {
		merged[k] = v
	}
	for k, v := range scope.Filter() {
		merged[k] = v
	}
	return merged, nil
}

// InjectMetadata stamps scope metadata onto all documents, overwriting any
// scope keys already present.
func (p *PayloadIsolation) InjectMetadata(ctx context.Context, docs []Document) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if err := scope.Validate(); err != nil {
		return err
	}

	meta := scope.Metadata()
	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			docs[i].Metadata[k] = v
		}
	}
	return nil
}

// Mode returns "payload".
func (p *PayloadIsolation) Mode() string { return "payload" }

// NoIsolation performs no scope injection - for tests only.
type NoIsolation struct{}

// NewNoIsolation creates an isolation mode with no security guarantees.
// Use only in tests where scoping is not under test.
func NewNoIsolation() *NoIsolation { return &NoIsolation{} }

func (n *NoIsolation) InjectFilter(ctx context.Context, filters map[string]string) (map[string]string, error) {
	return filters, nil
}

func (n *NoIsolation) InjectMetadata(ctx context.Context, docs []Document) error { return nil }

func (n *NoIsolation) Mode() string { return "none" }

var (
	_ IsolationMode = (*PayloadIsolation)(nil)
	_ IsolationMode = (*NoIsolation)(nil)
)
