package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/agencyd/internal/config"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
)

// NewStore creates the configured vector store backend.
//
// "chromem" (default) runs embedded with optional persistence; "qdrant"
// connects to an external server over gRPC. Both enforce payload isolation.
func NewStore(cfg config.VectorStoreConfig, embedder Embedder, logger *logging.Logger) (Store, error) {
	switch cfg.Provider {
	case "", "chromem":
		return NewChromemStore(ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, embedder, logger)
	case "qdrant":
		return NewQdrantStore(QdrantStoreConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			UseTLS:     cfg.Qdrant.UseTLS,
			APIKey:     cfg.Qdrant.APIKey,
			VectorSize: uint64(cfg.Qdrant.VectorSize),
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
