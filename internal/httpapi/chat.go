package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agencyd/internal/chat"
	"github.com/fyrsmithlabs/agencyd/internal/orchestrator"
	"github.com/fyrsmithlabs/agencyd/internal/session"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the non-streaming reply: the assembled message plus the
// session it belongs to.
type ChatResponse struct {
	SessionID string        `json:"session_id"`
	Message   *chat.Message `json:"message"`
}

// handleChat dispatches one message. SSE when accepted, JSON otherwise.
func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}

	route := "unknown"
	start := time.Now()
	defer func() {
		s.metrics.ObserveChat(route, time.Since(start))
	}()

	orchReq := &orchestrator.Request{SessionID: req.SessionID, Message: req.Message}

	if wantsSSE(c.Request()) {
		return s.handleChatStream(c, orchReq, &route)
	}

	result, err := s.orch.HandleMessage(c.Request().Context(), orchReq, func(chunk chat.Chunk) error {
		if chunk.Type == chat.ChunkRoute {
			route = string(chunk.Route)
		}
		return nil
	})
	if err != nil {
		s.metrics.IncChatError()
		// The orchestrator already logged the detail.
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to handle message")
	}
	return c.JSON(http.StatusOK, ChatResponse{SessionID: result.SessionID, Message: result.Message})
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), "text/event-stream")
}

// handleChatStream streams chunks as server-sent events, one JSON object per
// data: line, flushed per chunk so the client sees tokens as they arrive.
func (s *Server) handleChatStream(c echo.Context, req *orchestrator.Request, route *string) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	_, err := s.orch.HandleMessage(c.Request().Context(), req, func(chunk chat.Chunk) error {
		if chunk.Type == chat.ChunkRoute {
			*route = string(chunk.Route)
		}
		if _, err := fmt.Fprint(w, "data: "); err != nil {
			return err
		}
		// Encode writes the JSON object plus one newline.
		if err := enc.Encode(chunk); err != nil {
			return err
		}
		if _, err := fmt.Fprint(w, "\n"); err != nil {
			return err
		}
		w.Flush()
		return nil
	})
	if err != nil {
		s.metrics.IncChatError()
		// The terminal error chunk already went out; nothing more to send.
		s.logger.Debug(c.Request().Context(), "stream ended with error", zap.Error(err))
	}
	return nil
}

// handleSessionMessages returns a session's message log, oldest first. The
// session must belong to the caller's scope; anyone else's session id gets
// 404 so the response does not reveal whether the id exists.
func (s *Server) handleSessionMessages(c echo.Context) error {
	ctx := c.Request().Context()
	sessionID := c.Param("id")

	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant scope is required")
	}
	if _, err := s.sessions.GetOwned(ctx, sessionID, scope.TenantID, scope.UserID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrWrongOwner) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load session")
	}

	msgs, err := s.sessions.GetMessages(ctx, sessionID, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages")
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   msgs,
	})
}
