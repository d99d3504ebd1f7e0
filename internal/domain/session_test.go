package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionEndTransitions(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewSession("room", created)
	require.True(t, s.IsActive())
	assert.Nil(t, s.EndedAt)

	assert.True(t, s.End(created.Add(90*time.Minute)))
	assert.Equal(t, SessionStatusEnded, s.Status)
	require.NotNil(t, s.EndedAt)
	first := *s.EndedAt

	assert.False(t, s.End(created.Add(3*time.Hour)))
	assert.Equal(t, first, *s.EndedAt)
}

func TestSessionParticipantsAreASet(t *testing.T) {
	s := NewSession("room", time.Now())
	assert.True(t, s.AddParticipant("alice"))
	assert.True(t, s.AddParticipant("bob"))
	assert.False(t, s.AddParticipant("alice"))
	assert.Equal(t, []string{"alice", "bob"}, s.Participants)

	assert.True(t, s.RemoveParticipant("alice"))
	assert.False(t, s.RemoveParticipant("alice"))
	assert.Equal(t, []string{"bob"}, s.Participants)
}

func TestSessionJSONRoundTrip(t *testing.T) {
	s := NewSession("session_20240301_090000", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	s.AddParticipant("alice")
	s.TotalMessages = 7
	s.Metadata = SessionMetadata{Purpose: "standup", Notes: "weekly"}
	s.SetPasswordHash("abc")
	s.SetUserPasswordHash("alice", "def")
	s.RequireUserPassword = true
	s.End(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Session
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, s, &decoded)
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := NewSession("room", time.Now())
	s.AddParticipant("alice")
	s.SetUserPasswordHash("alice", "h")

	c := s.Clone()
	c.AddParticipant("bob")
	c.SetUserPasswordHash("bob", "h2")

	assert.Equal(t, []string{"alice"}, s.Participants)
	assert.Len(t, s.UserPasswords, 1)
}

func TestSessionSummaryDuration(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewSession("room", created)
	s.AddParticipant("alice")
	s.AddParticipant("bob")

	summary := s.Summary()
	assert.Nil(t, summary.Duration)
	assert.Equal(t, 2, summary.ParticipantCount)

	s.End(created.Add(26*time.Hour + 3*time.Minute + 4*time.Second))
	summary = s.Summary()
	require.NotNil(t, summary.Duration)
	assert.Equal(t, "26:03:04", *summary.Duration)
}

func TestSessionSummaryMalformedTimestamp(t *testing.T) {
	s := NewSession("room", time.Now())
	s.End(time.Now())
	s.CreatedAt = "yesterday"

	assert.Nil(t, s.Summary().Duration)
}

func TestSessionSummaryZonelessTimestamps(t *testing.T) {
	endedAt := "2024-01-01T11:30:05.123456"
	s := &Session{SessionID: "room", CreatedAt: "2024-01-01T10:00:00.123456", EndedAt: &endedAt, Status: SessionStatusEnded}

	summary := s.Summary()
	require.NotNil(t, summary.Duration)
	assert.Equal(t, "01:30:05", *summary.Duration)

	endedAt = "2024-01-01T10:00:09"
	s.CreatedAt = "2024-01-01T10:00:00"
	require.NotNil(t, s.Summary().Duration)
	assert.Equal(t, "00:00:09", *s.Summary().Duration)
}

func TestParseTime(t *testing.T) {
	utc, err := ParseTime("2024-03-01T09:00:00.5Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 500000000, time.UTC), utc)

	local, err := ParseTime("2024-03-01T09:00:00.123456")
	require.NoError(t, err)
	assert.Equal(t, time.Local, local.Location())
	assert.Equal(t, 123456000, local.Nanosecond())

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
}

func TestUserPasswordHashEmptyEntryIsUnclaimed(t *testing.T) {
	s := NewSession("room", time.Now())
	s.UserPasswords = map[string]string{"bob": ""}

	_, ok := s.UserPasswordHash("bob")
	assert.False(t, ok)
	assert.Empty(t, s.ProtectedUsers())
}

func TestSessionProtectedUsersOmitsHashes(t *testing.T) {
	s := NewSession("room", time.Now())
	s.SetUserPasswordHash("zoe", "h1")
	s.SetUserPasswordHash("amy", "h2")

	summary := s.Summary()
	assert.Equal(t, []string{"amy", "zoe"}, summary.ProtectedUsers)

	data, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "h1")
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("session_20240301_090000"))
	assert.True(t, ValidID("alice.smith-2"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID(".."))
	assert.False(t, ValidID("../etc"))
	assert.False(t, ValidID("a b"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatDuration(0))
	assert.Equal(t, "01:01:01", FormatDuration(time.Hour+time.Minute+time.Second))
	assert.Equal(t, "100:00:00", FormatDuration(100*time.Hour))
}
