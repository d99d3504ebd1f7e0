// Package v1 provides the HTTP handlers for the chat admin and history API.
package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
	"github.com/xiaot623/gogo/chatroom/internal/export"
	"github.com/xiaot623/gogo/chatroom/internal/service"
)

// HeaderAdminToken carries an admin token as an alternative to a bearer header.
const HeaderAdminToken = "X-Admin-Token"

// Handler handles HTTP requests.
type Handler struct {
	service  *service.Service
	exporter *export.Exporter
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service, exporter *export.Exporter) *Handler {
	return &Handler{
		service:  service,
		exporter: exporter,
	}
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	// Admin authentication
	e.POST("/api/admin/login", h.Login)
	e.POST("/api/admin/logout", h.Logout)
	e.POST("/api/admin/password", h.ChangePassword, h.adminOnly)

	// Session history (read-only)
	e.GET("/api/sessions", h.ListSessions)
	e.GET("/api/sessions/active", h.ListActiveSessions)
	e.GET("/api/sessions/current", h.GetCurrentSession)
	e.GET("/api/sessions/:session_id", h.GetSession)
	e.GET("/api/sessions/:session_id/messages", h.GetSessionMessages)
	e.GET("/api/sessions/:session_id/statistics", h.GetSessionStatistics)
	e.GET("/api/messages", h.ListMessages, h.adminOnly)

	// Session administration
	e.POST("/api/sessions", h.CreateSession, h.adminOnly)
	e.POST("/api/sessions/:session_id/end", h.EndSession, h.adminOnly)
	e.DELETE("/api/sessions/:session_id", h.DeleteSession, h.adminOnly)
	e.PUT("/api/sessions/:session_id/metadata", h.UpdateMetadata, h.adminOnly)
	e.PUT("/api/sessions/:session_id/users/:client_id/password", h.SetUserPassword, h.adminOnly)
	e.DELETE("/api/sessions/:session_id/participants/:client_id", h.KickParticipant, h.adminOnly)

	// Exports
	e.GET("/api/sessions/:session_id/export", h.ExportSession, h.adminOnly)
	e.GET("/api/export/sessions", h.ExportSessions, h.adminOnly)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	hub := h.service.Hub()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": hub.ConnectionCount(),
		"sessions":    hub.SessionCount(),
	})
}

// adminOnly rejects requests without a live admin token.
func (h *Handler) adminOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.service.Access.VerifyAdminToken(adminToken(c)) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "admin token required"})
		}
		return next(c)
	}
}

func adminToken(c echo.Context) string {
	if token := c.Request().Header.Get(HeaderAdminToken); token != "" {
		return token
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// errorResponse maps service errors onto HTTP status codes.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrSessionEnded):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMalformed):
		status = http.StatusBadRequest
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func sessionNotFound(c echo.Context) error {
	return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
}
