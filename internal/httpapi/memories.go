package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/agencyd/internal/memory"
	"github.com/fyrsmithlabs/agencyd/internal/tenant"
)

// SearchMemoriesRequest is the body of POST /api/v1/memories/search.
type SearchMemoriesRequest struct {
	Query    string  `json:"query"`
	Limit    int     `json:"limit,omitempty"`
	MinScore float32 `json:"min_score,omitempty"`
}

// UpdateMemoryRequest is the body of PATCH /api/v1/memories/:id. Content
// correction only; type and lifetime are fixed at creation.
type UpdateMemoryRequest struct {
	Content string `json:"content"`
}

// MemoriesResponse wraps a record list.
type MemoriesResponse struct {
	Memories []memory.Record `json:"memories"`
}

// ClearedResponse reports how many records a wipe removed.
type ClearedResponse struct {
	Cleared int `json:"cleared"`
}

func (s *Server) handleListMemories(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = parsed
	}

	records, err := s.memories.List(c.Request().Context(), limit)
	if err != nil {
		return memoryError(err)
	}
	if records == nil {
		records = []memory.Record{}
	}
	return c.JSON(http.StatusOK, MemoriesResponse{Memories: records})
}

func (s *Server) handleSearchMemories(c echo.Context) error {
	var req SearchMemoriesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if req.Limit <= 0 {
		req.Limit = s.chatCfg.MemorySearchLimit
	}
	if req.MinScore == 0 {
		req.MinScore = s.chatCfg.MemoryMinScore
	}

	records, err := s.memories.Search(c.Request().Context(), req.Query, req.Limit, req.MinScore)
	if err != nil {
		return memoryError(err)
	}
	if records == nil {
		records = []memory.Record{}
	}
	return c.JSON(http.StatusOK, MemoriesResponse{Memories: records})
}

func (s *Server) handleUpdateMemory(c echo.Context) error {
	var req UpdateMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	if err := s.memories.Update(c.Request().Context(), c.Param("id"), req.Content); err != nil {
		return memoryError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteMemory(c echo.Context) error {
	if err := s.memories.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return memoryError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleClearSession wipes only the records tagged with this session.
func (s *Server) handleClearSession(c echo.Context) error {
	scope, err := tenant.ScopeFromContext(c.Request().Context())
	if err != nil {
		return memoryError(err)
	}
	cleared, err := s.memories.ClearSession(c.Request().Context(), scope.UserID, c.Param("id"))
	if err != nil {
		return memoryError(err)
	}
	return c.JSON(http.StatusOK, ClearedResponse{Cleared: cleared})
}

// handleClearTenant is the offboarding wipe. The path's tenant id must match
// the caller's own scope: offboarding another tenant over this API is not a
// thing.
func (s *Server) handleClearTenant(c echo.Context) error {
	scope, err := tenant.ScopeFromContext(c.Request().Context())
	if err != nil {
		return memoryError(err)
	}
	tenantID := c.Param("id")
	if tenantID != scope.TenantID {
		return echo.NewHTTPError(http.StatusForbidden, "tenant id does not match caller scope")
	}

	cleared, err := s.memories.ClearTenant(c.Request().Context(), tenantID)
	if err != nil {
		return memoryError(err)
	}
	return c.JSON(http.StatusOK, ClearedResponse{Cleared: cleared})
}

// memoryError maps service errors to HTTP status codes.
func memoryError(err error) error {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "memory not found")
	case errors.Is(err, memory.ErrEmptyContent):
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	case errors.Is(err, tenant.ErrMissingScope), errors.Is(err, tenant.ErrInvalidScope):
		return echo.NewHTTPError(http.StatusBadRequest, "tenant scope is required")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "memory operation failed")
	}
}
