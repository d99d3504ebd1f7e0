// Package export writes session data as CSV and JSON snapshots.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
)

// Source is the read-only view the exporter needs.
type Source interface {
	GetMessagesBySession(ctx context.Context, sessionID string) ([]domain.Message, error)
	GetSessionStatistics(ctx context.Context, sessionID string) (domain.SessionStatistics, error)
	GetSessionSummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error)
	GetAllSessions(ctx context.Context) ([]*domain.Session, error)
}

var messageHeader = []string{
	"message_id", "session_id", "client_id", "message_type", "content",
	"timestamp", "char_count", "word_count", "client_color",
}

var contributionHeader = []string{
	"client_id", "message_count", "total_chars", "total_words",
	"avg_chars_per_message", "avg_words_per_message",
}

// Exporter renders snapshots from a Source.
type Exporter struct {
	source Source
	dir    string
	now    func() time.Time
}

// NewExporter creates an Exporter writing files under dir.
func NewExporter(source Source, dir string) *Exporter {
	return &Exporter{source: source, dir: dir, now: time.Now}
}

// WriteMessagesCSV writes a session's messages as CSV.
func (e *Exporter) WriteMessagesCSV(ctx context.Context, w io.Writer, sessionID string) error {
	messages, err := e.source.GetMessagesBySession(ctx, sessionID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(messageHeader); err != nil {
		return err
	}
	for _, m := range messages {
		row := []string{
			m.MessageID,
			m.SessionID,
			m.ClientID,
			string(m.MessageType),
			m.Content,
			m.Timestamp,
			strconv.Itoa(m.Metadata.CharCount),
			strconv.Itoa(m.Metadata.WordCount),
			m.Metadata.ClientColor,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// MessagesDocument is the JSON export of one session's messages.
type MessagesDocument struct {
	SessionID     string           `json:"session_id"`
	ExportedAt    string           `json:"exported_at"`
	TotalMessages int              `json:"total_messages"`
	Messages      []domain.Message `json:"messages"`
}

// WriteMessagesJSON writes a session's messages as a JSON document.
func (e *Exporter) WriteMessagesJSON(ctx context.Context, w io.Writer, sessionID string) error {
	messages, err := e.source.GetMessagesBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	return writeJSON(w, MessagesDocument{
		SessionID:     sessionID,
		ExportedAt:    e.stamp(),
		TotalMessages: len(messages),
		Messages:      messages,
	})
}

// SummaryDocument is the JSON export of a session summary with its statistics.
type SummaryDocument struct {
	Session    *domain.SessionSummary   `json:"session"`
	Statistics domain.SessionStatistics `json:"statistics"`
	ExportedAt string                   `json:"exported_at"`
}

// WriteSessionSummaryJSON writes a session's summary and statistics.
// It fails with domain.ErrNotFound for unknown sessions.
func (e *Exporter) WriteSessionSummaryJSON(ctx context.Context, w io.Writer, sessionID string) error {
	summary, err := e.source.GetSessionSummary(ctx, sessionID)
	if err != nil {
		return err
	}
	if summary == nil {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	stats, err := e.source.GetSessionStatistics(ctx, sessionID)
	if err != nil {
		return err
	}
	return writeJSON(w, SummaryDocument{Session: summary, Statistics: stats, ExportedAt: e.stamp()})
}

// SessionsDocument is the JSON export of every session.
type SessionsDocument struct {
	TotalSessions int                      `json:"total_sessions"`
	ExportedAt    string                   `json:"exported_at"`
	Sessions      []*domain.SessionSummary `json:"sessions"`
}

// WriteAllSessionsJSON writes the summary of every session. Password hashes are never exported.
func (e *Exporter) WriteAllSessionsJSON(ctx context.Context, w io.Writer) error {
	sessions, err := e.source.GetAllSessions(ctx)
	if err != nil {
		return err
	}
	summaries := make([]*domain.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summary())
	}
	return writeJSON(w, SessionsDocument{
		TotalSessions: len(summaries),
		ExportedAt:    e.stamp(),
		Sessions:      summaries,
	})
}

// WriteUserContributionsCSV writes per-client totals and averages, ordered by client id.
func (e *Exporter) WriteUserContributionsCSV(ctx context.Context, w io.Writer, sessionID string) error {
	stats, err := e.source.GetSessionStatistics(ctx, sessionID)
	if err != nil {
		return err
	}

	clients := make([]string, 0, len(stats.MessageByUser))
	for id := range stats.MessageByUser {
		clients = append(clients, id)
	}
	sort.Strings(clients)

	cw := csv.NewWriter(w)
	if err := cw.Write(contributionHeader); err != nil {
		return err
	}
	for _, id := range clients {
		c := stats.MessageByUser[id]
		var avgChars, avgWords float64
		if c.Count > 0 {
			avgChars = float64(c.Chars) / float64(c.Count)
			avgWords = float64(c.Words) / float64(c.Count)
		}
		row := []string{
			id,
			strconv.Itoa(c.Count),
			strconv.Itoa(c.Chars),
			strconv.Itoa(c.Words),
			strconv.FormatFloat(avgChars, 'f', 2, 64),
			strconv.FormatFloat(avgWords, 'f', 2, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportCompleteDataset writes the messages CSV, messages JSON and summary JSON
// of a session under the export directory and returns their paths by kind.
func (e *Exporter) ExportCompleteDataset(ctx context.Context, sessionID string) (map[string]string, error) {
	if !domain.ValidID(sessionID) {
		return nil, fmt.Errorf("session id %q: %w", sessionID, domain.ErrMalformed)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	suffix := e.now().Format("20060102_150405")
	files := []struct {
		kind  string
		name  string
		write func(io.Writer) error
	}{
		{"messages_csv", fmt.Sprintf("messages_%s_%s.csv", sessionID, suffix), func(w io.Writer) error {
			return e.WriteMessagesCSV(ctx, w, sessionID)
		}},
		{"messages_json", fmt.Sprintf("messages_%s_%s.json", sessionID, suffix), func(w io.Writer) error {
			return e.WriteMessagesJSON(ctx, w, sessionID)
		}},
		{"session_summary", fmt.Sprintf("session_summary_%s_%s.json", sessionID, suffix), func(w io.Writer) error {
			return e.WriteSessionSummaryJSON(ctx, w, sessionID)
		}},
	}

	paths := make(map[string]string, len(files))
	for _, f := range files {
		path := filepath.Join(e.dir, f.name)
		if err := writeFile(path, f.write); err != nil {
			return nil, err
		}
		paths[f.kind] = path
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

func (e *Exporter) stamp() string {
	return e.now().UTC().Format(domain.TimeLayout)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
