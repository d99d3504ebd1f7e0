// Package hub provides connection management for WebSocket clients.
package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
	"github.com/xiaot623/gogo/chatroom/internal/observability"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID        string
	SessionID string
	Viewer    bool
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex

	// guarded by Hub.mu
	registered bool
	closed     bool
}

// NewConnection wraps ws with a send queue of bufferSize frames.
// ws may be nil for connections driven directly through Send.
func NewConnection(ws *websocket.Conn, bufferSize int) *Connection {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Connection{
		Conn: ws,
		Send: make(chan []byte, bufferSize),
	}
}

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by client ID
	connections map[string]*Connection

	// Sessions maps session_id to the connections scoped to it
	sessions map[string]map[string]*Connection

	mu  sync.RWMutex
	log *slog.Logger
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]*Connection),
		log:         observability.WithComponent("hub"),
	}
}

// Register binds clientID to conn within sessionID.
// It fails with domain.ErrConflict while clientID is live and leaves the existing registration untouched.
func (h *Hub) Register(clientID string, conn *Connection, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[clientID]; exists {
		return fmt.Errorf("client %s: %w", clientID, domain.ErrConflict)
	}
	if conn.registered || conn.closed {
		return fmt.Errorf("connection already used by %s: %w", conn.ID, domain.ErrConflict)
	}
	conn.ID = clientID
	conn.SessionID = sessionID
	h.add(conn)
	h.log.Info("connection registered", "client_id", clientID, "session_id", sessionID)
	return nil
}

// RegisterViewer registers a read-only connection under a synthetic id and returns it.
func (h *Hub) RegisterViewer(conn *Connection, sessionID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := newViewerID()
	for _, exists := h.connections[id]; exists; _, exists = h.connections[id] {
		id = newViewerID()
	}
	conn.ID = id
	conn.SessionID = sessionID
	conn.Viewer = true
	h.add(conn)
	h.log.Info("viewer registered", "client_id", id, "session_id", sessionID)
	return id
}

func newViewerID() string {
	return "viewer_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

func (h *Hub) add(conn *Connection) {
	conn.registered = true
	h.connections[conn.ID] = conn
	if h.sessions[conn.SessionID] == nil {
		h.sessions[conn.SessionID] = make(map[string]*Connection)
	}
	h.sessions[conn.SessionID][conn.ID] = conn
}

// remove drops conn if it is still the live registration for its id. Caller holds h.mu.
func (h *Hub) remove(conn *Connection) bool {
	current, ok := h.connections[conn.ID]
	if !ok || current != conn {
		return false
	}
	delete(h.connections, conn.ID)
	if members := h.sessions[conn.SessionID]; members != nil {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(h.sessions, conn.SessionID)
		}
	}
	conn.registered = false
	if !conn.closed {
		conn.closed = true
		close(conn.Send)
	}
	return true
}

// Unregister removes clientID and closes its send queue. Unknown ids are ignored.
func (h *Hub) Unregister(clientID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[clientID]
	if !ok {
		return false
	}
	h.remove(conn)
	h.log.Info("connection unregistered", "client_id", clientID)
	return true
}

// UnregisterFromSession removes clientID only if it is scoped to sessionID.
func (h *Hub) UnregisterFromSession(clientID, sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[clientID]
	if !ok || conn.SessionID != sessionID {
		return false
	}
	h.remove(conn)
	h.log.Info("connection unregistered", "client_id", clientID, "session_id", sessionID)
	return true
}

// Remove unregisters conn only if it is still the registration for its id,
// so a stale connection cannot evict a newer one that reused the id.
func (h *Hub) Remove(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.remove(conn) {
		return false
	}
	h.log.Info("connection unregistered", "client_id", conn.ID)
	return true
}

// Owns reports whether conn is currently registered.
func (h *Hub) Owns(conn *Connection) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connections[conn.ID] == conn && conn.registered
}

// UnregisterSession removes every connection scoped to sessionID and returns how many were removed.
func (h *Hub) UnregisterSession(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.sessions[sessionID]
	conns := make([]*Connection, 0, len(members))
	for _, conn := range members {
		conns = append(conns, conn)
	}
	for _, conn := range conns {
		h.remove(conn)
	}
	if len(conns) > 0 {
		h.log.Info("session connections unregistered", "session_id", sessionID, "count", len(conns))
	}
	return len(conns)
}

// CloseAll unregisters every connection.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, conn := range h.snapshotLocked() {
		if h.remove(conn) {
			n++
		}
	}
	return n
}

func (h *Hub) snapshotLocked() []*Connection {
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	return conns
}

// BroadcastToSession enqueues data to every connection scoped to sessionID, viewers included.
// A recipient whose queue is full is dropped; the others still receive the frame.
// It returns the number of delivery attempts.
func (h *Hub) BroadcastToSession(sessionID string, data []byte) int {
	h.mu.RLock()
	members := h.sessions[sessionID]
	conns := make([]*Connection, 0, len(members))
	for _, conn := range members {
		conns = append(conns, conn)
	}
	attempts, failed := h.deliverLocked(conns, data)
	h.mu.RUnlock()

	h.dropFailed(failed)
	return attempts
}

// BroadcastAll enqueues data to every connection in every session.
func (h *Hub) BroadcastAll(data []byte) int {
	h.mu.RLock()
	attempts, failed := h.deliverLocked(h.snapshotLocked(), data)
	h.mu.RUnlock()

	h.dropFailed(failed)
	return attempts
}

// deliverLocked performs non-blocking sends. Caller holds h.mu for reading.
func (h *Hub) deliverLocked(conns []*Connection, data []byte) (int, []*Connection) {
	var failed []*Connection
	for _, conn := range conns {
		if conn.closed {
			failed = append(failed, conn)
			continue
		}
		select {
		case conn.Send <- data:
		default:
			h.log.Warn("send buffer full, dropping connection", "client_id", conn.ID, "session_id", conn.SessionID)
			failed = append(failed, conn)
		}
	}
	return len(conns), failed
}

func (h *Hub) dropFailed(failed []*Connection) {
	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range failed {
		h.remove(conn)
	}
}

// BroadcastJSON marshals v and sends it to all connections of a session.
func (h *Hub) BroadcastJSON(sessionID string, v interface{}) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return h.BroadcastToSession(sessionID, data), nil
}

// BroadcastAllJSON marshals v and sends it to every connection.
func (h *Hub) BroadcastAllJSON(v interface{}) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return h.BroadcastAll(data), nil
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// SessionCount returns the number of sessions with at least one connection.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HasActiveConnections checks if a session has any active connections.
func (h *Hub) HasActiveConnections(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

// ClientsInSession returns the sorted ids of the chat participants connected to sessionID.
func (h *Hub) ClientsInSession(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.sessions[sessionID]))
	for id, conn := range h.sessions[sessionID] {
		if !conn.Viewer {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// WriteClose sends a close frame carrying code and reason.
func (c *Connection) WriteClose(code int, reason string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(timeout))
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}
