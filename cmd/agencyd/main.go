// Agencyd is the chat orchestration daemon for the agency management
// platform. It classifies incoming messages, dispatches them to route
// handlers, streams the reply over SSE, and maintains tenant-isolated
// long-term memory.
//
// Configuration is loaded from an optional YAML file and environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	agencyd
//
//	# Configure via file and environment
//	GENAI_API_KEY=... agencyd -config /etc/agencyd/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/classifier"
	"github.com/fyrsmithlabs/agencyd/internal/config"
	"github.com/fyrsmithlabs/agencyd/internal/embeddings"
	"github.com/fyrsmithlabs/agencyd/internal/genai"
	"github.com/fyrsmithlabs/agencyd/internal/httpapi"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/memory"
	"github.com/fyrsmithlabs/agencyd/internal/orchestrator"
	"github.com/fyrsmithlabs/agencyd/internal/platform"
	"github.com/fyrsmithlabs/agencyd/internal/resilience"
	"github.com/fyrsmithlabs/agencyd/internal/route"
	"github.com/fyrsmithlabs/agencyd/internal/session"
	"github.com/fyrsmithlabs/agencyd/internal/telemetry"
	"github.com/fyrsmithlabs/agencyd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("agencyd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down gracefully", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("agencyd: %v", err)
	}
	log.Println("shutdown complete")
}

// run initializes every dependency, starts the HTTP server, and blocks
// until ctx is cancelled. Shutdown order: stop accepting requests, drain
// the background scheduler, close stores, sync logs.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best effort on shutdown

	logger.Info(ctx, "starting agencyd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider))

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		_ = shutdownTelemetry(flushCtx)
	}()

	sessions, err := session.NewStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer sessions.Close()

	memories, err := initMemory(cfg, sessions, logger)
	if err != nil {
		return err
	}

	generator, err := genai.NewGeminiClient(cfg.GenAI)
	if err != nil {
		return fmt.Errorf("initializing generator: %w", err)
	}

	backend, err := platform.NewClient(cfg.Platform)
	if err != nil {
		return fmt.Errorf("initializing platform client: %w", err)
	}

	handlers := buildHandlers(cfg, generator, backend, memories, logger)

	scheduler := orchestrator.NewScheduler(logger)
	orch, err := orchestrator.New(
		classifier.NewLLMClassifier(generator),
		handlers,
		sessions,
		memories,
		generator,
		scheduler,
		orchestrator.Config{
			HistoryLimit:      cfg.Chat.HistoryLimit,
			SummarizeInterval: cfg.Chat.SummarizeInterval,
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}

	srv, err := httpapi.NewServer(orch, memories, sessions, httpapi.NewMetrics(nil), logger, cfg.Server, cfg.Chat)
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "http shutdown failed", zap.Error(err))
	}
	// In-flight chat requests schedule memory writes and summarization;
	// those must land before the process exits.
	if err := scheduler.Drain(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "background drain incomplete", zap.Error(err))
	}
	return nil
}

// initMemory wires the dual memory store: the SQLite index shares the
// session database, the vector store serves semantic search.
func initMemory(cfg *config.Config, sessions *session.Store, logger *logging.Logger) (*memory.Service, error) {
	index, err := memory.NewIndex(sessions.DB())
	if err != nil {
		return nil, fmt.Errorf("initializing memory index: %w", err)
	}

	embedder, err := embeddings.NewService(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("initializing embeddings: %w", err)
	}

	store, err := vectorstore.NewStore(cfg.VectorStore, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}

	collection := cfg.VectorStore.Chromem.Collection
	if cfg.VectorStore.Provider == "qdrant" {
		collection = cfg.VectorStore.Qdrant.Collection
	}

	memories, err := memory.NewService(store, index, collection, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing memory service: %w", err)
	}
	return memories, nil
}

// buildHandlers constructs the per-route handler map. Casual is the
// orchestrator's required fallback.
func buildHandlers(
	cfg *config.Config,
	generator genai.Generator,
	backend *platform.Client,
	memories *memory.Service,
	logger *logging.Logger,
) map[chat.Route]route.Handler {
	searchBreaker := resilience.NewBreaker(0, 0) // defaults: 3 failures, 60s cooldown

	return map[chat.Route]route.Handler{
		chat.RouteCasual:    route.NewCasual(generator, logger),
		chat.RouteWeb:       route.NewWeb(generator, logger),
		chat.RouteDashboard: route.NewDashboard(generator, backend, memories, platform.DashboardTools(), logger),
		chat.RouteRAG:       route.NewRAG(generator, backend, backend, searchBreaker, logger),
		chat.RouteMemory: route.NewRecall(
			generator,
			classifier.NewLLMRecallDetector(generator),
			memories,
			cfg.Chat.MemorySearchLimit,
			cfg.Chat.MemoryMinScore,
			logger,
		),
	}
}
