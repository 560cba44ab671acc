package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agencyd/internal/logging"
)

// Config is the root configuration for agencyd.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     logging.Config    `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Storage     StorageConfig     `koanf:"storage"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	GenAI       GenAIConfig       `koanf:"genai"`
	Platform    PlatformConfig    `koanf:"platform"`
	Chat        ChatConfig        `koanf:"chat"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	// Exporter selects the span exporter: "none", "stdout" or "otlp-grpc".
	Exporter    string `koanf:"exporter"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

// StorageConfig holds the SQLite session/memory index settings.
type StorageConfig struct {
	// Path is the SQLite database file. ":memory:" is allowed for tests.
	Path string `koanf:"path"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
}

// QdrantConfig configures the external Qdrant store (gRPC).
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     string `koanf:"api_key"`
	Collection string `koanf:"collection"`
	VectorSize int    `koanf:"vector_size"`
}

// EmbeddingsConfig configures the embedding HTTP client.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
}

// GenAIConfig configures the generative model provider.
type GenAIConfig struct {
	BaseURL        string  `koanf:"base_url"`
	APIKey         string  `koanf:"api_key"`
	Model          string  `koanf:"model"`
	Temperature    float64 `koanf:"temperature"`
	TimeoutSeconds int     `koanf:"timeout_seconds"`
}

// PlatformConfig configures the client for the agency management backend,
// which serves dashboard functions, trained-document search, and training
// allow lists.
type PlatformConfig struct {
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	TimeoutSeconds int    `koanf:"timeout_seconds"`
}

// ChatConfig tunes the orchestrator.
type ChatConfig struct {
	// HistoryLimit is how many recent messages feed the context prompt.
	HistoryLimit int `koanf:"history_limit"`

	// SummarizeInterval is the session message count interval that triggers
	// background summarization into an insight memory.
	SummarizeInterval int `koanf:"summarize_interval"`

	// MemoryMinScore is the relevance threshold for memory recall.
	MemoryMinScore float32 `koanf:"memory_min_score"`

	// MemorySearchLimit caps recalled memories per query.
	MemorySearchLimit int `koanf:"memory_search_limit"`
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vectorstore provider: %q", c.VectorStore.Provider)
	}
	switch c.Telemetry.Exporter {
	case "none", "stdout", "otlp-grpc":
	default:
		return fmt.Errorf("unknown telemetry exporter: %q", c.Telemetry.Exporter)
	}
	if c.Chat.SummarizeInterval < 2 {
		return fmt.Errorf("chat summarize_interval must be >= 2, got %d", c.Chat.SummarizeInterval)
	}
	return nil
}
