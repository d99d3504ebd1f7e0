// Package protocol defines the WebSocket message protocol between chat clients and the server.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
)

// Message types from client to server
const (
	TypeJoin    = "join"
	TypeMessage = "message"
)

// Message types from server to client
const (
	TypeSystem     = "system"
	TypeSessionEnd = "session_end"
)

// Close reasons sent with a policy-violation close frame when a connection is rejected.
const (
	ReasonClientIDRequired     = "Client ID is required"
	ReasonClientIDInUse        = "Client ID already in use"
	ReasonSessionNotFound      = "Session not found"
	ReasonSessionEnded         = "Session has ended"
	ReasonNoActiveSession      = "No active session"
	ReasonInvalidPassword      = "Invalid session password"
	ReasonInvalidUserPassword  = "Invalid user password"
	ReasonUserPasswordRequired = "User password required"
	ReasonUnauthorized         = "Unauthorized"
)

// BaseMessage contains common fields for all inbound messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Frame is a decoded inbound message.
type Frame interface {
	FrameType() string
}

// JoinMessage identifies the client. It must be the first frame on a connection.
type JoinMessage struct {
	BaseMessage
	ClientID     string `json:"client_id"`
	SessionID    string `json:"session_id,omitempty"`
	Password     string `json:"password,omitempty"`
	UserPassword string `json:"user_password,omitempty"`
}

// FrameType implements Frame.
func (m *JoinMessage) FrameType() string { return TypeJoin }

// ChatMessage carries one line of chat text.
type ChatMessage struct {
	BaseMessage
	Message string `json:"message"`
}

// FrameType implements Frame.
func (m *ChatMessage) FrameType() string { return TypeMessage }

// Decode parses an inbound frame and validates its required fields.
// Every failure wraps domain.ErrMalformed.
func Decode(data []byte) (Frame, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON frame: %w", domain.ErrMalformed)
	}

	switch base.Type {
	case TypeJoin:
		var msg JoinMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("invalid join frame: %w", domain.ErrMalformed)
		}
		return &msg, nil
	case TypeMessage:
		var raw struct {
			BaseMessage
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid message frame: %w", domain.ErrMalformed)
		}
		if raw.Message == nil || strings.TrimSpace(*raw.Message) == "" {
			return nil, fmt.Errorf("message is required: %w", domain.ErrMalformed)
		}
		return &ChatMessage{BaseMessage: raw.BaseMessage, Message: *raw.Message}, nil
	case "":
		return nil, fmt.Errorf("type is required: %w", domain.ErrMalformed)
	default:
		return nil, fmt.Errorf("unknown message type %q: %w", base.Type, domain.ErrMalformed)
	}
}

// DecodeIdentity parses the first frame of a connection. Any frame type may
// carry the identity; only client_id and the credential fields are read.
func DecodeIdentity(data []byte) (*JoinMessage, error) {
	var msg JoinMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("invalid identity frame: %w", domain.ErrMalformed)
	}
	msg.ClientID = strings.TrimSpace(msg.ClientID)
	return &msg, nil
}

// ServerMessage is every frame the server sends.
type ServerMessage struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NewSystemMessage builds a system notice.
func NewSystemMessage(text, timestamp string) ServerMessage {
	return ServerMessage{Type: TypeSystem, Message: text, Timestamp: timestamp}
}

// NewChatMessage builds a chat fan-out frame.
func NewChatMessage(clientID, text, timestamp string) ServerMessage {
	return ServerMessage{Type: TypeMessage, ClientID: clientID, Message: text, Timestamp: timestamp}
}

// NewSessionEndMessage builds the frame sent when an administrator ends a session.
func NewSessionEndMessage(text, timestamp string) ServerMessage {
	return ServerMessage{Type: TypeSessionEnd, Message: text, Timestamp: timestamp}
}

// Now returns the current time in the persisted timestamp layout.
func Now() string {
	return time.Now().UTC().Format(domain.TimeLayout)
}
