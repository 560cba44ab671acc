package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/fyrsmithlabs/agencyd/internal/logging"
)

// QdrantStoreConfig holds configuration for the Qdrant gRPC client.
type QdrantStoreConfig struct {
	// Host is the Qdrant server hostname. Default "localhost".
	Host string

	// Port is the gRPC port (6334), not the REST port (6333).
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// VectorSize is the embedding dimensionality; must match the embedder.
	VectorSize uint64

	// Isolation is the tenant isolation mode. Defaults to PayloadIsolation.
	Isolation IsolationMode
}

// Validate validates the configuration.
func (c QdrantStoreConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore implements Store using the Qdrant gRPC client.
type QdrantStore struct {
	client    *qdrant.Client
	embedder  Embedder
	config    QdrantStoreConfig
	isolation IsolationMode
	logger    *logging.Logger

	// ensured tracks collections already verified to exist.
	ensured sync.Map
}

// NewQdrantStore creates a QdrantStore and connects to the server.
func NewQdrantStore(cfg QdrantStoreConfig, embedder Embedder, logger *logging.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Isolation == nil {
		cfg.Isolation = NewPayloadIsolation()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			// Long-lived connection; keepalives detect half-open sockets
			// through load balancers.
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                30 * time.Second,
				Timeout:             10 * time.Second,
				PermitWithoutStream: true,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	logger.Info(context.Background(), "qdrant store initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Uint64("vector_size", cfg.VectorSize),
	)

	return &QdrantStore{
		client:    client,
		embedder:  embedder,
		config:    cfg,
		isolation: cfg.Isolation,
		logger:    logger.Named("qdrant"),
	}, nil
}

// ensureCollection creates the collection if it does not exist. Idempotent.
func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if _, ok := s.ensured.Load(name); ok {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.config.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating collection %s: %w", name, err)
		}
	}
	s.ensured.Store(name, true)
	return nil
}

// AddDocuments embeds and upserts documents with injected scope metadata.
func (s *QdrantStore) AddDocuments(ctx context.Context, collection string, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}
	if err := s.isolation.InjectMetadata(ctx, docs); err != nil {
		return nil, fmt.Errorf("injecting scope metadata: %w", err)
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
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

	points := make([]*qdrant.PointStruct, len(docs))
	ids := make([]string, len(docs))
	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = uuid.New().String()
		}
		ids[i] = id

		payload := make(map[string]*qdrant.Value, len(doc.Metadata)+1)
		payload["content"] = qdrant.NewValueString(doc.Content)
		for k, v := range doc.Metadata {
			payload[k] = qdrant.NewValueString(v)
		}

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: payload,
		}
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
	}); err != nil {
		return nil, fmt.Errorf("upserting points: %w", err)
	}
	return ids, nil
}

// Search performs scoped similarity search.
func (s *QdrantStore) Search(ctx context.Context, collection, query string, k int, filters map[string]string) ([]SearchResult, error) {
	scoped, err := s.isolation.InjectFilter(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("injecting scope filter: %w", err)
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	scored, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         matchFilter(scoped),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	results := make([]SearchResult, 0, len(scored))
	for _, point := range scored {
		result := SearchResult{
			ID:       point.GetId().GetUuid(),
			Score:    point.GetScore(),
			Metadata: make(map[string]string, len(point.GetPayload())),
		}
		for k, v := range point.GetPayload() {
			if k == "content" {
				result.Content = v.GetStringValue()
				continue
			}
			result.Metadata[k] = v.GetStringValue()
		}
		results = append(results, result)
	}
	return results, nil
}

// DeleteWhere deletes all points matching the filter exactly.
func (s *QdrantStore) DeleteWhere(ctx context.Context, collection string, filters map[string]string) error {
	if len(filters) == 0 {
		return fmt.Errorf("refusing unfiltered delete on collection %s", collection)
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(matchFilter(filters)),
	})
	if err != nil {
		return fmt.Errorf("deleting from collection %s: %w", collection, err)
	}
	return nil
}

// DeleteDocuments deletes points by ID.
func (s *QdrantStore) DeleteDocuments(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// DeleteCollection drops a collection and all its points.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", collection, err)
	}
	s.ensured.Delete(collection)
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// matchFilter builds a must-match-all keyword filter.
func matchFilter(filters map[string]string) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filters))
	for k, v := range filters {
		conditions = append(conditions, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: conditions}
}

var _ Store = (*QdrantStore)(nil)
