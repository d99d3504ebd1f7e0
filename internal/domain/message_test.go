package domain

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageCounts(t *testing.T) {
	msg := NewMessage("room", "alice", MessageTypeMessage, "hello world", "2024-03-01T09:00:00Z")
	assert.Equal(t, 11, msg.Metadata.CharCount)
	assert.Equal(t, 2, msg.Metadata.WordCount)
	assert.NotEmpty(t, msg.Metadata.ClientColor)
}

func TestNewMessageCountsUnicodeAndWhitespace(t *testing.T) {
	msg := NewMessage("room", "alice", MessageTypeMessage, "  héllo\t\twörld \n", "ts")
	assert.Equal(t, 16, msg.Metadata.CharCount)
	assert.Equal(t, 2, msg.Metadata.WordCount)

	empty := NewMessage("room", "alice", MessageTypeMessage, "", "ts")
	assert.Equal(t, 0, empty.Metadata.CharCount)
	assert.Equal(t, 0, empty.Metadata.WordCount)
}

func TestSystemMessageHasNoCounts(t *testing.T) {
	msg := NewSystemMessage("room", "Client alice has joined the room", "ts")
	assert.Equal(t, MessageTypeSystem, msg.MessageType)
	assert.Equal(t, SystemClientID, msg.ClientID)
	assert.Equal(t, MessageMetadata{}, msg.Metadata)
}

func TestMessageIDFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^msg_[0-9a-f]{12}$`)
	a := NewMessageID()
	b := NewMessageID()
	assert.Regexp(t, pattern, a)
	assert.NotEqual(t, a, b)
}

func TestMessageJSONRoundTrip(t *testing.T) {
	msg := NewMessage("room", "alice", MessageTypeMessage, "round trip", "2024-03-01T09:00:00.123Z")

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg, &decoded)
}

func TestClientColor(t *testing.T) {
	assert.Equal(t, ClientColor("alice"), ClientColor("alice"))
	assert.Equal(t, presetColors["admin"], ClientColor("Admin"))
	assert.Regexp(t, `^hsl\(\d+, \d+%, \d+%\)$`, ClientColor("bob"))
}
