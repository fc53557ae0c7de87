// Package api contains the HTTP handlers for session inspection and
// runtime statistics.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agenticnav/navigator/internal/a2a"
	apperrors "github.com/agenticnav/navigator/internal/common/errors"
	"github.com/agenticnav/navigator/internal/common/logger"
	"github.com/agenticnav/navigator/internal/identity"
	"github.com/agenticnav/navigator/internal/session/store"
	"github.com/agenticnav/navigator/internal/stream"
)

// Handler contains the HTTP handlers for the session API.
type Handler struct {
	store  store.Store
	bus    *a2a.Bus
	hub    *stream.Hub
	audit  *identity.AuditLog
	logger *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(st store.Store, bus *a2a.Bus, hub *stream.Hub, audit *identity.AuditLog, log *logger.Logger) *Handler {
	return &Handler{
		store:  st,
		bus:    bus,
		hub:    hub,
		audit:  audit,
		logger: log,
	}
}

// httpStatus maps an error kind to an HTTP status code.
func httpStatus(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindUnauthorised:
		return http.StatusForbidden
	case apperrors.KindMalformed:
		return http.StatusBadRequest
	case apperrors.KindBusy:
		return http.StatusTooManyRequests
	case apperrors.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) renderError(c *gin.Context, err error) {
	c.JSON(httpStatus(err), gin.H{
		"kind":    string(apperrors.KindOf(err)),
		"message": err.Error(),
	})
}

// ListSessions returns session ids newest first.
// GET /api/v1/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	ids, next, err := h.store.ListContexts(c.Request.Context(), limit, c.Query("cursor"))
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions":    ids,
		"next_cursor": next,
	})
}

// GetSession returns the latest context snapshot for a session.
// GET /api/v1/sessions/:sessionId
func (h *Handler) GetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	sc, err := h.store.LoadContext(c.Request.Context(), sessionID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}

// DeleteSession removes a session snapshot and its history.
// DELETE /api/v1/sessions/:sessionId
func (h *Handler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	if err := h.store.DeleteContext(c.Request.Context(), sessionID); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": sessionID})
}

// GetSessionHistory returns the archived A2A messages for a session.
// GET /api/v1/sessions/:sessionId/history
func (h *Handler) GetSessionHistory(c *gin.Context) {
	sessionID := c.Param("sessionId")

	filter := store.HistoryFilter{
		Agent: c.Query("agent"),
		Type:  a2a.MessageType(c.Query("type")),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.renderError(c, apperrors.Malformed("since must be RFC 3339"))
			return
		}
		filter.Since = since
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.store.ReadHistory(c.Request.Context(), sessionID, filter, limit)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// GetBusStats returns bus counters and stream state.
// GET /api/v1/bus/stats
func (h *Handler) GetBusStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"bus":                  h.bus.Stats(),
		"stream_subscriptions": h.hub.ActiveSubscriptions(),
		"stream_dropped":       h.hub.Dropped(),
		"audit_records":        h.audit.Len(),
	})
}

// HealthCheck reports service liveness.
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
