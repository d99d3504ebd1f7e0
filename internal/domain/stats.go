package domain

// ClientStats aggregates one client's chat messages in a session.
type ClientStats struct {
	Count int `json:"count"`
	Chars int `json:"chars"`
	Words int `json:"words"`
}

// SessionStatistics aggregates the chat messages of a session.
// System messages are excluded.
type SessionStatistics struct {
	TotalMessages int                    `json:"total_messages"`
	TotalChars    int                    `json:"total_chars"`
	TotalWords    int                    `json:"total_words"`
	Participants  []string               `json:"participants"`
	MessageByUser map[string]ClientStats `json:"message_by_user"`
}

// EmptyStatistics returns zeroed statistics with non-nil collections.
func EmptyStatistics() SessionStatistics {
	return SessionStatistics{
		Participants:  []string{},
		MessageByUser: map[string]ClientStats{},
	}
}

// SessionSummary is the read model returned for a single session.
type SessionSummary struct {
	SessionID           string          `json:"session_id"`
	CreatedAt           string          `json:"created_at"`
	EndedAt             *string         `json:"ended_at"`
	Status              SessionStatus   `json:"status"`
	ParticipantCount    int             `json:"participant_count"`
	Participants        []string        `json:"participants"`
	TotalMessages       int             `json:"total_messages"`
	Duration            *string         `json:"duration"`
	Metadata            SessionMetadata `json:"metadata"`
	PasswordProtected   bool            `json:"password_protected"`
	RequireUserPassword bool            `json:"require_user_password"`
	DisableUserPassword bool            `json:"disable_user_password"`
	ProtectedUsers      []string        `json:"protected_users"`
}

// Summary builds the summary view of s. Hashes are never included.
func (s *Session) Summary() *SessionSummary {
	summary := &SessionSummary{
		SessionID:           s.SessionID,
		CreatedAt:           s.CreatedAt,
		EndedAt:             s.EndedAt,
		Status:              s.Status,
		ParticipantCount:    len(s.Participants),
		Participants:        append([]string{}, s.Participants...),
		TotalMessages:       s.TotalMessages,
		Metadata:            s.Metadata,
		PasswordProtected:   s.PasswordProtected,
		RequireUserPassword: s.RequireUserPassword,
		DisableUserPassword: s.DisableUserPassword,
		ProtectedUsers:      s.ProtectedUsers(),
	}
	if d, ok := s.Duration(); ok {
		formatted := FormatDuration(d)
		summary.Duration = &formatted
	}
	return summary
}
