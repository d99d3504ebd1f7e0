// Package domain defines the core domain models for the chat service.
package domain

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// MessageType distinguishes user chat messages from server notices.
type MessageType string

const (
	MessageTypeMessage MessageType = "message"
	MessageTypeSystem  MessageType = "system"
)

// SystemClientID is the client id stamped on server-generated messages.
const SystemClientID = "system"

// IsValid reports whether t is a known message type.
func (t MessageType) IsValid() bool {
	return t == MessageTypeMessage || t == MessageTypeSystem
}
