// Package vectorstore defines the vector storage interface backing the
// tenant-scoped memory store.
//
// Two implementations exist behind NewStore: chromem-go (embedded, default)
// and Qdrant (external, gRPC). Both enforce payload isolation: scope metadata
// (tenant_id, user_id, client_id) is injected into every stored document and
// every search filter from the request context, and a missing scope is an
// error rather than an unfiltered query - fail closed.
package vectorstore

import (
	"context"
	"errors"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern: lowercase letters, numbers, underscores, 1-64 chars.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names unsafe for storage backends.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return ErrInvalidCollectionName
	}
	return nil
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the interface for vector storage operations.
//
// AddDocuments and Search run through the store's isolation mode: scope
// metadata and filters come from the tenant scope in ctx. The delete
// operations take explicit filters because they also serve admin paths
// (tenant offboarding) that act outside a request scope; callers own the
// filter they pass.
type Store interface {
	// AddDocuments embeds and stores documents in the given collection.
	// Scope metadata is injected into each document before storage.
	AddDocuments(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Search returns up to k results ranked by similarity to query,
	// restricted to documents matching the injected scope filter plus any
	// caller-supplied filters.
	Search(ctx context.Context, collection, query string, k int, filters map[string]string) ([]SearchResult, error)

	// DeleteWhere deletes all documents matching the filter exactly.
	DeleteWhere(ctx context.Context, collection string, filters map[string]string) error

	// DeleteDocuments deletes documents by ID.
	DeleteDocuments(ctx context.Context, collection string, ids []string) error

	// DeleteCollection drops a collection and all its documents.
	DeleteCollection(ctx context.Context, collection string) error

	// Close releases backend resources.
	Close() error
}
