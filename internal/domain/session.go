package domain

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// TimeLayout is the layout of every persisted timestamp.
const TimeLayout = time.RFC3339Nano

// legacyTimeLayouts read zone-less timestamps found in older session files.
var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTime reads a persisted timestamp. Values without a zone are taken as local time.
func ParseTime(value string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, value)
	if err == nil {
		return t, nil
	}
	for _, layout := range legacyTimeLayouts {
		if legacy, legacyErr := time.ParseInLocation(layout, value, time.Local); legacyErr == nil {
			return legacy, nil
		}
	}
	return time.Time{}, err
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// ValidID reports whether id is usable as a session or client identifier.
func ValidID(id string) bool {
	return id != "." && id != ".." && idPattern.MatchString(id)
}

// SessionMetadata holds free-form descriptive fields of a session.
type SessionMetadata struct {
	Purpose string `json:"purpose,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// Session is a named chat room with its lifecycle and access settings.
type Session struct {
	SessionID           string            `json:"session_id"`
	CreatedAt           string            `json:"created_at"`
	EndedAt             *string           `json:"ended_at"`
	Status              SessionStatus     `json:"status"`
	Participants        []string          `json:"participants"`
	TotalMessages       int               `json:"total_messages"`
	Metadata            SessionMetadata   `json:"metadata"`
	PasswordProtected   bool              `json:"password_protected"`
	PasswordHash        string            `json:"password_hash,omitempty"`
	UserPasswords       map[string]string `json:"user_passwords"`
	RequireUserPassword bool              `json:"require_user_password"`
	DisableUserPassword bool              `json:"disable_user_password"`
}

// NewSession creates an active session with no participants.
func NewSession(id string, createdAt time.Time) *Session {
	return &Session{
		SessionID:     id,
		CreatedAt:     createdAt.UTC().Format(TimeLayout),
		Status:        SessionStatusActive,
		Participants:  []string{},
		UserPasswords: map[string]string{},
	}
}

// IsActive reports whether the session still accepts joins and messages.
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// AddParticipant records clientID once. It reports whether the set changed.
func (s *Session) AddParticipant(clientID string) bool {
	for _, p := range s.Participants {
		if p == clientID {
			return false
		}
	}
	s.Participants = append(s.Participants, clientID)
	return true
}

// RemoveParticipant drops clientID. It reports whether the set changed.
func (s *Session) RemoveParticipant(clientID string) bool {
	for i, p := range s.Participants {
		if p == clientID {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// HasParticipant reports whether clientID has ever joined.
func (s *Session) HasParticipant(clientID string) bool {
	for _, p := range s.Participants {
		if p == clientID {
			return true
		}
	}
	return false
}

// End moves the session to ended. Ending an ended session is a no-op that returns false.
func (s *Session) End(at time.Time) bool {
	if s.Status == SessionStatusEnded {
		return false
	}
	endedAt := at.UTC().Format(TimeLayout)
	s.Status = SessionStatusEnded
	s.EndedAt = &endedAt
	return true
}

// SetPasswordHash protects the session with hash. An empty hash removes protection.
func (s *Session) SetPasswordHash(hash string) {
	s.PasswordHash = hash
	s.PasswordProtected = hash != ""
}

// UserPasswordHash returns the stored hash for clientID, if any.
// An entry with an empty hash counts as unclaimed, so a legacy {"bob": ""}
// record lets the next join with a user password claim the name.
func (s *Session) UserPasswordHash(clientID string) (string, bool) {
	hash, ok := s.UserPasswords[clientID]
	return hash, ok && hash != ""
}

// SetUserPasswordHash stores the per-user hash for clientID.
func (s *Session) SetUserPasswordHash(clientID, hash string) {
	if s.UserPasswords == nil {
		s.UserPasswords = map[string]string{}
	}
	s.UserPasswords[clientID] = hash
}

// ProtectedUsers returns the sorted client ids that own a user password.
func (s *Session) ProtectedUsers() []string {
	users := make([]string, 0, len(s.UserPasswords))
	for id, hash := range s.UserPasswords {
		if hash != "" {
			users = append(users, id)
		}
	}
	sort.Strings(users)
	return users
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		endedAt := *s.EndedAt
		c.EndedAt = &endedAt
	}
	c.Participants = append([]string{}, s.Participants...)
	c.UserPasswords = make(map[string]string, len(s.UserPasswords))
	for k, v := range s.UserPasswords {
		c.UserPasswords[k] = v
	}
	return &c
}

// Duration returns the elapsed time between creation and end.
// ok is false while the session is active or when a timestamp does not parse.
func (s *Session) Duration() (time.Duration, bool) {
	if s.EndedAt == nil {
		return 0, false
	}
	start, err := ParseTime(s.CreatedAt)
	if err != nil {
		return 0, false
	}
	end, err := ParseTime(*s.EndedAt)
	if err != nil || end.Before(start) {
		return 0, false
	}
	return end.Sub(start), true
}

// FormatDuration renders d as HH:MM:SS. Hours are not wrapped at 24.
func FormatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
