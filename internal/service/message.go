package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
	"github.com/xiaot623/gogo/chatroom/internal/observability"
	"github.com/xiaot623/gogo/chatroom/internal/repository"
)

// MessageStore keeps one append-only message array per session.
type MessageStore struct {
	store repository.Store
	locks *repository.KeyLocker
	log   *slog.Logger
}

// NewMessageStore creates a MessageStore over store.
func NewMessageStore(store repository.Store) *MessageStore {
	return &MessageStore{
		store: store,
		locks: repository.NewKeyLocker(),
		log:   observability.WithComponent("messages"),
	}
}

// SaveMessage appends msg to its session's history.
func (s *MessageStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	unlock := s.locks.Lock(msg.SessionID)
	defer unlock()

	messages, err := s.load(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	messages = append(messages, *msg)

	body, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	if err := s.store.PutDocument(ctx, repository.CollectionMessages, msg.SessionID, body); err != nil {
		return fmt.Errorf("failed to save message %s: %w", msg.MessageID, err)
	}
	return nil
}

// load reads a session's messages. Missing or undecodable documents read as empty.
func (s *MessageStore) load(ctx context.Context, sessionID string) ([]domain.Message, error) {
	body, err := s.store.GetDocument(ctx, repository.CollectionMessages, sessionID)
	if err != nil {
		return nil, err
	}
	return s.decode(sessionID, body), nil
}

func (s *MessageStore) decode(sessionID string, body []byte) []domain.Message {
	if body == nil {
		return []domain.Message{}
	}
	var messages []domain.Message
	if err := json.Unmarshal(body, &messages); err != nil {
		s.log.Warn("ignoring malformed message document", "session_id", sessionID, "error", err)
		return []domain.Message{}
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages
}

// GetMessagesBySession returns a session's messages in append order.
func (s *MessageStore) GetMessagesBySession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return s.load(ctx, sessionID)
}

// GetMessagesByClient returns the messages sent by clientID in a session.
func (s *MessageStore) GetMessagesByClient(ctx context.Context, sessionID, clientID string) ([]domain.Message, error) {
	return s.filter(ctx, sessionID, func(m domain.Message) bool { return m.ClientID == clientID })
}

// GetMessagesByType returns the messages of one type in a session.
func (s *MessageStore) GetMessagesByType(ctx context.Context, sessionID string, messageType domain.MessageType) ([]domain.Message, error) {
	return s.filter(ctx, sessionID, func(m domain.Message) bool { return m.MessageType == messageType })
}

// Search returns the messages whose content contains keyword, ignoring case.
func (s *MessageStore) Search(ctx context.Context, sessionID, keyword string) ([]domain.Message, error) {
	needle := strings.ToLower(keyword)
	return s.filter(ctx, sessionID, func(m domain.Message) bool {
		return strings.Contains(strings.ToLower(m.Content), needle)
	})
}

func (s *MessageStore) filter(ctx context.Context, sessionID string, keep func(domain.Message) bool) ([]domain.Message, error) {
	messages, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// CountMessages returns the number of stored messages of a session.
func (s *MessageStore) CountMessages(ctx context.Context, sessionID string) (int, error) {
	messages, err := s.load(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return len(messages), nil
}

// GetAllMessages returns the messages of every session ordered by timestamp.
func (s *MessageStore) GetAllMessages(ctx context.Context) ([]domain.Message, error) {
	docs, err := s.store.ListDocuments(ctx, repository.CollectionMessages)
	if err != nil {
		return nil, err
	}
	all := []domain.Message{}
	for _, doc := range docs {
		all = append(all, s.decode(doc.Key, doc.Body)...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	return all, nil
}

// GetSessionStatistics aggregates the chat messages of a session.
// System messages are excluded; an empty session yields zeroed statistics.
func (s *MessageStore) GetSessionStatistics(ctx context.Context, sessionID string) (domain.SessionStatistics, error) {
	messages, err := s.load(ctx, sessionID)
	if err != nil {
		return domain.EmptyStatistics(), err
	}

	stats := domain.EmptyStatistics()
	for _, m := range messages {
		if m.MessageType != domain.MessageTypeMessage {
			continue
		}
		stats.TotalMessages++
		stats.TotalChars += m.Metadata.CharCount
		stats.TotalWords += m.Metadata.WordCount

		user, seen := stats.MessageByUser[m.ClientID]
		if !seen {
			stats.Participants = append(stats.Participants, m.ClientID)
		}
		user.Count++
		user.Chars += m.Metadata.CharCount
		user.Words += m.Metadata.WordCount
		stats.MessageByUser[m.ClientID] = user
	}
	sort.Strings(stats.Participants)
	return stats, nil
}

// DeleteSessionMessages removes a session's history and reports whether it existed.
func (s *MessageStore) DeleteSessionMessages(ctx context.Context, sessionID string) (bool, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	return s.store.DeleteDocument(ctx, repository.CollectionMessages, sessionID)
}
