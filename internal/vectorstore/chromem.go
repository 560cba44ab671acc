package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agencyd/internal/logging"
)

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory
	// (tests and ephemeral deployments).
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Isolation is the tenant isolation mode. Defaults to PayloadIsolation.
	Isolation IsolationMode
}

// ChromemStore implements Store using chromem-go, an embeddable vector
// database with no external service dependency. Good enough for a single
// node; Qdrant takes over at scale behind the same interface.
type ChromemStore struct {
	db        *chromem.DB
	embedder  Embedder
	isolation IsolationMode
	logger    *logging.Logger
}

// NewChromemStore creates a ChromemStore.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *logging.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Isolation == nil {
		cfg.Isolation = NewPayloadIsolation()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	store := &ChromemStore{
		db:        db,
		embedder:  embedder,
		isolation: cfg.Isolation,
		logger:    logger.Named("chromem"),
	}

	logger.Info(context.Background(), "chromem store initialized",
		zap.String("path", cfg.Path),
		zap.Bool("persistent", cfg.Path != ""),
		zap.String("isolation", cfg.Isolation.Mode()),
	)
	return store, nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder interface to chromem.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", name, err)
	}
	return col, nil
}

// AddDocuments embeds and stores documents with injected scope metadata.
func (s *ChromemStore) AddDocuments(ctx context.Context, collection string, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	if err := s.isolation.InjectMetadata(ctx, docs); err != nil {
		return nil, fmt.Errorf("injecting scope metadata: %w", err)
	}

	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: embeddings[i],
		}
	}

	if err := col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug(ctx, "documents added",
		zap.String("collection", collection),
		zap.Int("count", len(docs)),
	)
	return ids, nil
}

// Search performs scoped similarity search.
func (s *ChromemStore) Search(ctx context.Context, collection, query string, k int, filters map[string]string) ([]SearchResult, error) {
	scoped, err := s.isolation.InjectFilter(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("injecting scope filter: %w", err)
	}

	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the collection size.
	if count := col.Count(); k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.Query(ctx, query, k, scoped, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		}
	}
	return out, nil
}

// DeleteWhere deletes all documents matching the filter exactly.
func (s *ChromemStore) DeleteWhere(ctx context.Context, collection string, filters map[string]string) error {
	if len(filters) == 0 {
		return fmt.Errorf("refusing unfiltered delete on collection %s", collection)
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, filters, nil); err != nil {
		return fmt.Errorf("deleting from collection %s: %w", collection, err)
	}
	return nil
}

// DeleteDocuments deletes documents by ID.
func (s *ChromemStore) DeleteDocuments(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// DeleteCollection drops a collection and all its documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	return nil
}

// Close is a no-op for the embedded store.
func (s *ChromemStore) Close() error { return nil }

var _ Store = (*ChromemStore)(nil)
