// Package ws provides WebSocket server functionality for chat clients and viewers.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/chatroom/internal/config"
	"github.com/xiaot623/gogo/chatroom/internal/hub"
	"github.com/xiaot623/gogo/chatroom/internal/observability"
	"github.com/xiaot623/gogo/chatroom/internal/protocol"
	"github.com/xiaot623/gogo/chatroom/internal/service"
)

const closeReasonInternal = "Internal error"

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	svc      *service.Service
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, svc *service.Service) *Server {
	origins := newOriginPolicy(cfg.AllowedOrigins)
	s := &Server{
		cfg: cfg,
		svc: svc,
		log: observability.WithComponent("ws"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if origins.check(r) {
				return true
			}
			s.log.Warn("blocked websocket from disallowed origin", "origin", r.Header.Get("Origin"))
			return false
		},
	}
	return s
}

// HandleWebSocket upgrades a chat client. The first frame must identify the client;
// session_id, password, user_password and client_id query values fill in missing fields.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("failed to upgrade websocket", "error", err)
		return err
	}

	conn := hub.NewConnection(ws, s.cfg.SendBuffer)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.serveClient(conn, c.QueryParams())
	return nil
}

// HandleViewer upgrades a read-only admin viewer. The admin token comes from
// the token query value or an Authorization bearer header.
func (s *Server) HandleViewer(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token = strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
	}
	sessionID := c.QueryParam("session_id")

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("failed to upgrade websocket", "error", err)
		return err
	}

	conn := hub.NewConnection(ws, s.cfg.SendBuffer)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.serveViewer(conn, token, sessionID)
	return nil
}

func (s *Server) serveClient(conn *hub.Connection, query url.Values) {
	ctx := context.Background()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	_, data, err := conn.Conn.ReadMessage()
	if err != nil {
		s.log.Debug("connection closed before identifying", "error", err)
		conn.Close()
		return
	}

	identity, err := protocol.DecodeIdentity(data)
	if err != nil {
		s.reject(conn, protocol.ReasonClientIDRequired, err)
		return
	}
	if identity.ClientID == "" {
		identity.ClientID = strings.TrimSpace(query.Get("client_id"))
	}
	if identity.SessionID == "" {
		identity.SessionID = query.Get("session_id")
	}
	if identity.Password == "" {
		identity.Password = query.Get("password")
	}
	if identity.UserPassword == "" {
		identity.UserPassword = query.Get("user_password")
	}

	_, err = s.svc.Join(ctx, service.JoinRequest{
		ClientID:     identity.ClientID,
		SessionID:    identity.SessionID,
		Password:     identity.Password,
		UserPassword: identity.UserPassword,
		Conn:         conn,
	})
	if err != nil {
		s.reject(conn, "", err)
		return
	}

	go s.writePump(conn)
	if identity.Type == protocol.TypeMessage {
		s.handleMessage(ctx, conn, data)
	}
	s.readPump(ctx, conn)
}

func (s *Server) serveViewer(conn *hub.Connection, token, sessionID string) {
	ctx := context.Background()

	if _, err := s.svc.AttachViewer(ctx, token, sessionID, conn); err != nil {
		s.reject(conn, "", err)
		return
	}

	go s.writePump(conn)
	s.readPump(ctx, conn)
}

// reject closes an unadmitted connection with a policy-violation close frame.
// An empty reason is taken from err.
func (s *Server) reject(conn *hub.Connection, reason string, err error) {
	code := websocket.ClosePolicyViolation
	if reason == "" {
		var ok bool
		if reason, ok = service.RejectReason(err); !ok {
			s.log.Error("failed to admit connection", "error", err)
			code, reason = websocket.CloseInternalServerErr, closeReasonInternal
		}
	}
	s.log.Info("connection rejected", "reason", reason)
	if werr := conn.WriteClose(code, reason, s.cfg.WriteTimeout); werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		s.log.Debug("failed to send close frame", "error", werr)
	}
	conn.Close()
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(ctx context.Context, conn *hub.Connection) {
	defer func() {
		s.svc.Leave(ctx, conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Warn("websocket error", "client_id", conn.ID, "error", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		if conn.Viewer {
			s.log.Debug("discarding viewer frame", "client_id", conn.ID)
			continue
		}
		s.handleMessage(ctx, conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	interval := s.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Warn("failed to write message", "client_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches an inbound frame. Malformed frames are logged and dropped.
func (s *Server) handleMessage(ctx context.Context, conn *hub.Connection, data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		s.log.Warn("dropping malformed frame", "client_id", conn.ID, "error", err)
		return
	}

	switch msg := frame.(type) {
	case *protocol.JoinMessage:
		// already joined
	case *protocol.ChatMessage:
		if _, err := s.svc.HandleChat(ctx, conn, msg.Message, msg.Timestamp); err != nil {
			s.log.Warn("failed to handle message", "client_id", conn.ID, "error", err)
		}
	}
}
