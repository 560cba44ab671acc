package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
	"github.com/fyrsmithlabs/agencyd/internal/vectorstore"
)

// ErrEmptyContent is returned when an AddInput carries nothing to store.
var ErrEmptyContent = errors.New("memory content empty")

// Service is the tenant-scoped memory store.
//
// Visibility is governed only by the tenant scope in ctx: the vector store
// injects the scope into every document and search filter, and the SQLite
// index repeats the tenant+user conditions on every row operation. Neither
// store can be queried wider than the caller's scope.
type Service struct {
	store      vectorstore.Store
	index      *Index
	collection string
	logger     *logging.Logger

	now func() time.Time
}

// NewService wires the vector store and the SQLite index into one memory
// service writing to the given collection.
func NewService(store vectorstore.Store, index *Index, collection string, logger *logging.Logger) (*Service, error) {
	if err := vectorstore.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:      store,
		index:      index,
		collection: collection,
		logger:     logger.Named("memory"),
		now:        time.Now,
	}, nil
}

func (s *Service) content(input AddInput) (string, error) {
	if input.Content != "" {
		return input.Content, nil
	}
	if input.UserMessage == "" && input.AssistantMessage == "" {
		return "", ErrEmptyContent
	}
	// Pair form: both sides joined so the embedding covers the exchange.
	var b strings.Builder
	if input.UserMessage != "" {
		b.WriteString("User: ")
		b.WriteString(input.UserMessage)
	}
	if input.AssistantMessage != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Assistant: ")
		b.WriteString(input.AssistantMessage)
	}
	return b.String(), nil
}

// Add stores a new memory in both stores and returns its id. The record's
// lifetime is derived from its type at creation.
func (s *Service) Add(ctx context.Context, input AddInput) (string, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	if err := scope.Validate(); err != nil {
		return "", err
	}

	content, err := s.content(input)
	if err != nil {
		return "", err
	}
	if !input.Type.Valid() {
		input.Type = TypeConversation
	}
	if !input.Importance.Valid() {
		input.Importance = ImportanceMedium
	}

	now := s.now().UTC()
	rec := &Record{
		ID:         uuid.New().String(),
		Content:    content,
		TenantID:   scope.TenantID,
		UserID:     scope.UserID,
		ClientID:   scope.ClientID,
		SessionID:  input.SessionID,
		Type:       input.Type,
		Importance: input.Importance,
		CreatedAt:  now,
	}
	if ttl := input.Type.TTL(); ttl > 0 {
		expires := now.Add(ttl)
		rec.ExpiresAt = &expires
	}

	if err := s.index.insert(ctx, rec); err != nil {
		return "", err
	}

	doc := vectorstore.Document{
		ID:       rec.ID,
		Content:  content,
		Metadata: s.docMetadata(rec),
	}
	if _, err := s.store.AddDocuments(ctx, s.collection, []vectorstore.Document{doc}); err != nil {
		// Keep the stores consistent: a row without a vector would be
		// listable but never searchable.
		if delErr := s.index.delete(ctx, rec.TenantID, rec.UserID, rec.ID); delErr != nil {
			s.logger.Error(ctx, "failed to roll back memory row",
				zap.String("memory_id", rec.ID), zap.Error(delErr))
		}
		return "", fmt.Errorf("storing memory vector: %w", err)
	}

	s.logger.Debug(ctx, "memory stored",
		zap.String("memory_id", rec.ID),
		zap.String("type", string(rec.Type)))
	return rec.ID, nil
}

// docMetadata builds the non-scope metadata for a memory document. Scope
// keys are injected by the vector store itself.
func (s *Service) docMetadata(rec *Record) map[string]string {
	meta := map[string]string{
		"type":       string(rec.Type),
		"importance": string(rec.Importance),
	}
	if rec.SessionID != "" {
		meta["session_id"] = rec.SessionID
	}
	return meta
}

// Search returns up to limit unexpired records relevant to query, most
// relevant first. Results below minScore are dropped.
func (s *Service) Search(ctx context.Context, query string, limit int, minScore float32) ([]Record, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}

	results, err := s.store.Search(ctx, s.collection, query, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if r.Score < minScore {
			continue
		}
		ids = append(ids, r.ID)
	}
	rows, err := s.index.getMany(ctx, scope.TenantID, scope.UserID, ids, s.now().UTC())
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(rows))
	for _, r := range results {
		rec, ok := rows[r.ID]
		if !ok {
			continue
		}
		rec.Score = r.Score
		records = append(records, *rec)
	}
	return records, nil
}

// List returns the caller's unexpired records, most recent first.
func (s *Service) List(ctx context.Context, limit int) ([]Record, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.index.list(ctx, scope.TenantID, scope.UserID, scope.ClientID, limit, s.now().UTC())
}

// Get returns one record by id within the caller's scope.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.index.get(ctx, scope.TenantID, scope.UserID, id)
	if err != nil {
		return nil, err
	}
	if rec.Expired(s.now().UTC()) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Update replaces a record's content. Type, importance and lifetime are
// fixed at creation.
func (s *Service) Update(ctx context.Context, id, content string) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if content == "" {
		return ErrEmptyContent
	}

	if err := s.index.updateContent(ctx, scope.TenantID, scope.UserID, id, content); err != nil {
		return err
	}
	rec, err := s.index.get(ctx, scope.TenantID, scope.UserID, id)
	if err != nil {
		return err
	}

	// Re-embed under the same id.
	if err := s.store.DeleteDocuments(ctx, s.collection, []string{id}); err != nil {
		return fmt.Errorf("removing stale vector: %w", err)
	}
	doc := vectorstore.Document{ID: id, Content: content, Metadata: s.docMetadata(rec)}
	if _, err := s.store.AddDocuments(ctx, s.collection, []vectorstore.Document{doc}); err != nil {
		return fmt.Errorf("re-embedding memory: %w", err)
	}
	return nil
}

// Delete removes one record from both stores.
func (s *Service) Delete(ctx context.Context, id string) error {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return err
	}
	if err := s.index.delete(ctx, scope.TenantID, scope.UserID, id); err != nil {
		return err
	}
	if err := s.store.DeleteDocuments(ctx, s.collection, []string{id}); err != nil {
		return fmt.Errorf("deleting memory vector: %w", err)
	}
	return nil
}

// ClearSession deletes only the records tagged with sessionID for the given
// user in the caller's tenant. Records from other sessions are untouched.
func (s *Service) ClearSession(ctx context.Context, userID, sessionID string) (int, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return 0, err
	}
	if userID == "" || sessionID == "" {
		return 0, fmt.Errorf("user id and session id required")
	}

	ids, err := s.index.deleteWhere(ctx, map[string]string{
		"tenant_id":  scope.TenantID,
		"user_id":    userID,
		"session_id": sessionID,
	})
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		if err := s.store.DeleteDocuments(ctx, s.collection, ids); err != nil {
			return 0, fmt.Errorf("deleting session vectors: %w", err)
		}
	}
	s.logger.Info(ctx, "session memories cleared",
		zap.String("session_id", sessionID), zap.Int("count", len(ids)))
	return len(ids), nil
}

// ClearTenant wipes every record belonging to tenantID. Offboarding path:
// it takes the tenant id explicitly and does not read the request scope, so
// an operator can run it without impersonating a user. Other tenants'
// records are untouched by the filter itself.
func (s *Service) ClearTenant(ctx context.Context, tenantID string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenant id required")
	}

	ids, err := s.index.deleteWhere(ctx, map[string]string{"tenant_id": tenantID})
	if err != nil {
		return 0, err
	}
	if err := s.store.DeleteWhere(ctx, s.collection, map[string]string{"tenant_id": tenantID}); err != nil {
		return 0, fmt.Errorf("deleting tenant vectors: %w", err)
	}
	s.logger.Info(ctx, "tenant memories cleared",
		zap.String("tenant_id", tenantID), zap.Int("count", len(ids)))
	return len(ids), nil
}

// PurgeExpired removes records whose lifetime has passed from both stores.
// Run periodically by the daemon.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	ids, err := s.index.expiredIDs(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.store.DeleteDocuments(ctx, s.collection, ids); err != nil {
		return 0, fmt.Errorf("purging expired vectors: %w", err)
	}
	if err := s.index.deleteIDs(ctx, ids); err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "expired memories purged", zap.Int("count", len(ids)))
	return len(ids), nil
}
