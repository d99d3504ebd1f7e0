package domain

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MessageMetadata holds values derived from the content at construction.
type MessageMetadata struct {
	CharCount   int    `json:"char_count"`
	WordCount   int    `json:"word_count"`
	ClientColor string `json:"client_color,omitempty"`
}

// Message is a single persisted chat or system message.
type Message struct {
	MessageID   string          `json:"message_id"`
	SessionID   string          `json:"session_id"`
	ClientID    string          `json:"client_id"`
	MessageType MessageType     `json:"message_type"`
	Content     string          `json:"content"`
	Timestamp   string          `json:"timestamp"`
	Metadata    MessageMetadata `json:"metadata"`
}

// NewMessage builds a message and computes its metadata.
// Counts and colour are only filled for MessageTypeMessage.
func NewMessage(sessionID, clientID string, messageType MessageType, content, timestamp string) *Message {
	msg := &Message{
		MessageID:   NewMessageID(),
		SessionID:   sessionID,
		ClientID:    clientID,
		MessageType: messageType,
		Content:     content,
		Timestamp:   timestamp,
	}
	if messageType == MessageTypeMessage {
		msg.Metadata = MessageMetadata{
			CharCount:   utf8.RuneCountInString(content),
			WordCount:   len(strings.Fields(content)),
			ClientColor: ClientColor(clientID),
		}
	}
	return msg
}

// NewSystemMessage builds a server notice for a session.
func NewSystemMessage(sessionID, content, timestamp string) *Message {
	return NewMessage(sessionID, SystemClientID, MessageTypeSystem, content, timestamp)
}

// NewMessageID returns a fresh "msg_" id with 12 hex characters.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

var presetColors = map[string]string{
	"admin":     "hsl(0, 70%, 50%)",
	"moderator": "hsl(270, 60%, 55%)",
	"system":    "hsl(0, 0%, 45%)",
}

// ClientColor returns a stable HSL colour for clientID.
func ClientColor(clientID string) string {
	if c, ok := presetColors[strings.ToLower(clientID)]; ok {
		return c
	}
	h := fnv.New32a()
	h.Write([]byte(clientID))
	sum := h.Sum32()
	hue := sum % 360
	saturation := 55 + (sum>>9)%30
	lightness := 40 + (sum>>17)%20
	return fmt.Sprintf("hsl(%d, %d%%, %d%%)", hue, saturation, lightness)
}
