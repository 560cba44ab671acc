// Package httpapi exposes the chat orchestration API over HTTP.
//
// POST /api/v1/chat streams server-sent events when the caller accepts
// text/event-stream, one JSON chunk per data: line; otherwise it returns the
// fully assembled message as one JSON object. Tenant scope comes from the
// X-Tenant-ID, X-User-ID and optional X-Client-ID headers; upstream auth
// owns verifying them.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/config"
	"github.com/fyrsmithlabs/agencyd/internal/logging"
	"github.com/fyrsmithlabs/agencyd/internal/memory"
	"github.com/fyrsmithlabs/agencyd/internal/orchestrator"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

// Scope headers.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	HeaderClientID = "X-Client-ID"
)

// MemoryAPI is the memory service surface the HTTP layer exposes.
type MemoryAPI interface {
	Search(ctx context.Context, query string, limit int, minScore float32) ([]memory.Record, error)
	List(ctx context.Context, limit int) ([]memory.Record, error)
	Update(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
	ClearSession(ctx context.Context, userID, sessionID string) (int, error)
	ClearTenant(ctx context.Context, tenantID string) (int, error)
}

// SessionAPI is the session store surface the HTTP layer exposes. Reads are
// owner-checked: a session id belonging to another (tenant, user) pair must
// behave exactly like an unknown id.
type SessionAPI interface {
	GetOwned(ctx context.Context, id, tenantID, userID string) (*chat.Session, error)
	GetMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)
}

// Server serves the agencyd HTTP API.
type Server struct {
	echo     *echo.Echo
	orch     *orchestrator.Orchestrator
	memories MemoryAPI
	sessions SessionAPI
	metrics  *Metrics
	logger   *logging.Logger
	cfg      config.ServerConfig
	chatCfg  config.ChatConfig
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(
	orch *orchestrator.Orchestrator,
	memories MemoryAPI,
	sessions SessionAPI,
	metrics *Metrics,
	logger *logging.Logger,
	cfg config.ServerConfig,
	chatCfg config.ChatConfig,
) (*Server, error) {
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:     e,
		orch:     orch,
		memories: memories,
		sessions: sessions,
		metrics:  metrics,
		logger:   logger.Named("http"),
		cfg:      cfg,
		chatCfg:  chatCfg,
	}
	s.registerRoutes()
	return s, nil
}

// requestLogger logs one line per request with the request id.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

// scopeMiddleware builds the tenant scope from headers and rejects requests
// without the required pair. Missing scope fails here, not as an empty
// result deeper down.
func scopeMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		scope := &tenant.Scope{
			TenantID: c.Request().Header.Get(HeaderTenantID),
			UserID:   c.Request().Header.Get(HeaderUserID),
			ClientID: c.Request().Header.Get(HeaderClientID),
		}
		if err := scope.Validate(); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("%s and %s headers are required", HeaderTenantID, HeaderUserID))
		}
		ctx := tenant.ContextWithScope(c.Request().Context(), scope)
		ctx = logging.WithFields(ctx,
			zap.String("tenant_id", scope.TenantID),
			zap.String("user_id", scope.UserID))
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", scopeMiddleware)
	v1.POST("/chat", s.handleChat)
	v1.GET("/sessions/:id/messages", s.handleSessionMessages)
	v1.DELETE("/sessions/:id/memories", s.handleClearSession)

	v1.GET("/memories", s.handleListMemories)
	v1.POST("/memories/search", s.handleSearchMemories)
	v1.PATCH("/memories/:id", s.handleUpdateMemory)
	v1.DELETE("/memories/:id", s.handleDeleteMemory)

	v1.DELETE("/tenants/:id/memories", s.handleClearTenant)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }
