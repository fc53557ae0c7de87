package api

import (
	"github.com/gin-gonic/gin"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/common/logger"
	"github.com/agenticnav/navigator/internal/identity"
	"github.com/agenticnav/navigator/internal/session/store"
	"github.com/agenticnav/navigator/internal/stream"
)

// SetupRoutes configures the session API routes.
func SetupRoutes(router *gin.RouterGroup, st store.Store, bus *a2a.Bus, hub *stream.Hub, audit *identity.AuditLog, log *logger.Logger) {
	handler := NewHandler(st, bus, hub, audit, log)

	sessions := router.Group("/sessions")
	{
		sessions.GET("", handler.ListSessions)
		sessions.GET("/:sessionId", handler.GetSession)
		sessions.DELETE("/:sessionId", handler.DeleteSession)
		sessions.GET("/:sessionId/history", handler.GetSessionHistory)
	}

	router.GET("/bus/stats", handler.GetBusStats)
}
