// Package http provides the HTTP server for the chat service.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/chatroom/internal/export"
	"github.com/xiaot623/gogo/chatroom/internal/service"
	v1 "github.com/xiaot623/gogo/chatroom/internal/transport/http/v1"
	"github.com/xiaot623/gogo/chatroom/internal/ws"
)

// NewServer creates and configures the HTTP server.
// It serves the admin and history API alongside the realtime endpoints.
func NewServer(svc *service.Service, wsServer *ws.Server, exporter *export.Exporter, allowedOrigins []string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(allowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: allowedOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	// Handlers
	v1Handler := v1.NewHandler(svc, exporter)

	// Register Routes
	v1Handler.RegisterRoutes(e)
	e.GET("/ws", wsServer.HandleWebSocket)
	e.GET("/ws/viewer", wsServer.HandleViewer)

	return e
}
