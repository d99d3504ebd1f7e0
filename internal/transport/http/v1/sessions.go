package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
	"github.com/xiaot623/gogo/chatroom/internal/service"
)

// ListSessions returns every session, newest first.
// GET /api/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.service.Sessions.GetAllSessions(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": summaries(sessions),
	})
}

// ListActiveSessions returns the active sessions.
// GET /api/sessions/active
func (h *Handler) ListActiveSessions(c echo.Context) error {
	sessions, err := h.service.Sessions.GetActiveSessions(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": summaries(sessions),
	})
}

// GetCurrentSession returns the session new clients join by default.
// GET /api/sessions/current
func (h *Handler) GetCurrentSession(c echo.Context) error {
	current := h.service.Sessions.CurrentSession()
	if current == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active session"})
	}
	return c.JSON(http.StatusOK, current.Summary())
}

// GetSession returns a session summary.
// GET /api/sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	summary, err := h.service.Sessions.GetSessionSummary(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if summary == nil {
		return sessionNotFound(c)
	}
	return c.JSON(http.StatusOK, summary)
}

// GetSessionMessages returns a session's history, optionally filtered by
// client_id, type or a q keyword.
// GET /api/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	ctx := c.Request().Context()

	session, err := h.service.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return errorResponse(c, err)
	}
	if session == nil {
		return sessionNotFound(c)
	}

	var messages []domain.Message
	switch {
	case c.QueryParam("client_id") != "":
		messages, err = h.service.Messages.GetMessagesByClient(ctx, sessionID, c.QueryParam("client_id"))
	case c.QueryParam("type") != "":
		messageType := domain.MessageType(c.QueryParam("type"))
		if !messageType.IsValid() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "type must be message or system"})
		}
		messages, err = h.service.Messages.GetMessagesByType(ctx, sessionID, messageType)
	case c.QueryParam("q") != "":
		messages, err = h.service.Messages.Search(ctx, sessionID, c.QueryParam("q"))
	default:
		messages, err = h.service.Messages.GetMessagesBySession(ctx, sessionID)
	}
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"messages":   messages,
		"count":      len(messages),
	})
}

// ListMessages returns the history of every session ordered by timestamp.
// GET /api/messages
func (h *Handler) ListMessages(c echo.Context) error {
	messages, err := h.service.Messages.GetAllMessages(c.Request().Context())
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

// GetSessionStatistics returns per-client chat statistics.
// GET /api/sessions/:session_id/statistics
func (h *Handler) GetSessionStatistics(c echo.Context) error {
	stats, err := h.service.Messages.GetSessionStatistics(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// CreateSession starts a new session and makes it current.
// POST /api/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req service.CreateSessionInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	session, err := h.service.StartSession(c.Request().Context(), req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, session.Summary())
}

// EndSession ends a session and disconnects its clients.
// POST /api/sessions/:session_id/end
func (h *Handler) EndSession(c echo.Context) error {
	session, notified, err := h.service.EndSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if session == nil {
		return sessionNotFound(c)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session":  session.Summary(),
		"notified": notified,
	})
}

// DeleteSession removes a session and its history.
// DELETE /api/sessions/:session_id
func (h *Handler) DeleteSession(c echo.Context) error {
	deleted, err := h.service.DeleteSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if !deleted {
		return sessionNotFound(c)
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdateMetadata replaces a session's purpose and notes.
// PUT /api/sessions/:session_id/metadata
func (h *Handler) UpdateMetadata(c echo.Context) error {
	var req domain.SessionMetadata
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	session, err := h.service.Sessions.UpdateMetadata(c.Request().Context(), c.Param("session_id"), req)
	if err != nil {
		return errorResponse(c, err)
	}
	if session == nil {
		return sessionNotFound(c)
	}
	return c.JSON(http.StatusOK, session.Summary())
}

// SetUserPassword stores a per-user password for a client.
// PUT /api/sessions/:session_id/users/:client_id/password
func (h *Handler) SetUserPassword(c echo.Context) error {
	var req PasswordRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	sessionID := c.Param("session_id")
	ctx := c.Request().Context()

	session, err := h.service.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return errorResponse(c, err)
	}
	if session == nil {
		return sessionNotFound(c)
	}
	if session.DisableUserPassword {
		return c.JSON(http.StatusConflict, map[string]string{"error": "user passwords are disabled for this session"})
	}

	session, err = h.service.Sessions.SetUserPassword(ctx, sessionID, c.Param("client_id"), req.Password)
	if err != nil {
		return errorResponse(c, err)
	}
	if session == nil {
		return sessionNotFound(c)
	}
	return c.JSON(http.StatusOK, session.Summary())
}

// KickParticipant removes a client from a session and closes its connection.
// DELETE /api/sessions/:session_id/participants/:client_id
func (h *Handler) KickParticipant(c echo.Context) error {
	disconnected, err := h.service.KickParticipant(c.Request().Context(), c.Param("session_id"), c.Param("client_id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"disconnected": disconnected})
}

func summaries(sessions []*domain.Session) []*domain.SessionSummary {
	out := make([]*domain.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	return out
}
