package v1

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
)

// ExportSession renders a session as csv, json, summary or contributions.
// GET /api/sessions/:session_id/export?format=csv
func (h *Handler) ExportSession(c echo.Context) error {
	sessionID := c.Param("session_id")
	ctx := c.Request().Context()
	if !domain.ValidID(sessionID) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session id"})
	}

	session, err := h.service.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return errorResponse(c, err)
	}
	if session == nil {
		return sessionNotFound(c)
	}

	format := c.QueryParam("format")
	if format == "" {
		format = "json"
	}

	var (
		buf         bytes.Buffer
		contentType string
		filename    string
	)
	switch format {
	case "csv":
		err = h.exporter.WriteMessagesCSV(ctx, &buf, sessionID)
		contentType, filename = "text/csv", "messages_"+sessionID+".csv"
	case "json":
		err = h.exporter.WriteMessagesJSON(ctx, &buf, sessionID)
		contentType, filename = echo.MIMEApplicationJSON, "messages_"+sessionID+".json"
	case "summary":
		err = h.exporter.WriteSessionSummaryJSON(ctx, &buf, sessionID)
		contentType, filename = echo.MIMEApplicationJSON, "session_summary_"+sessionID+".json"
	case "contributions":
		err = h.exporter.WriteUserContributionsCSV(ctx, &buf, sessionID)
		contentType, filename = "text/csv", "user_contributions_"+sessionID+".csv"
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "format must be csv, json, summary or contributions"})
	}
	if err != nil {
		return errorResponse(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, contentType, buf.Bytes())
}

// ExportSessions renders every session summary as JSON.
// GET /api/export/sessions
func (h *Handler) ExportSessions(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.exporter.WriteAllSessionsJSON(c.Request().Context(), &buf); err != nil {
		return errorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="all_sessions.json"`)
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, buf.Bytes())
}
