package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
	"github.com/xiaot623/gogo/chatroom/internal/observability"
	"github.com/xiaot623/gogo/chatroom/internal/repository"
)

// PasswordHasher turns a plaintext password into a stored hash.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
}

// CreateSessionInput describes a new session. Empty ID picks a timestamped id.
type CreateSessionInput struct {
	ID                  string `json:"session_id,omitempty"`
	Password            string `json:"password,omitempty"`
	RequireUserPassword bool   `json:"require_user_password,omitempty"`
	DisableUserPassword bool   `json:"disable_user_password,omitempty"`
	Purpose             string `json:"purpose,omitempty"`
	Notes               string `json:"notes,omitempty"`
}

// SessionManager owns session documents and the current-session cache.
type SessionManager struct {
	store  repository.Store
	hasher PasswordHasher
	locks  *repository.KeyLocker
	now    func() time.Time
	log    *slog.Logger

	createMu sync.Mutex

	mu      sync.RWMutex
	current *domain.Session
}

// NewSessionManager creates a SessionManager over store.
func NewSessionManager(store repository.Store, hasher PasswordHasher) *SessionManager {
	return &SessionManager{
		store:  store,
		hasher: hasher,
		locks:  repository.NewKeyLocker(),
		now:    time.Now,
		log:    observability.WithComponent("sessions"),
	}
}

// CreateSession persists a new active session and makes it current.
func (m *SessionManager) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.Session, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	now := m.now()
	id := in.ID
	if id == "" {
		var err error
		if id, err = m.nextSessionID(ctx, now); err != nil {
			return nil, err
		}
	} else {
		if !domain.ValidID(id) {
			return nil, fmt.Errorf("session id %q: %w", id, domain.ErrMalformed)
		}
		existing, err := m.LoadSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("session %s: %w", id, domain.ErrConflict)
		}
	}

	session := domain.NewSession(id, now)
	session.RequireUserPassword = in.RequireUserPassword
	session.DisableUserPassword = in.DisableUserPassword
	session.Metadata = domain.SessionMetadata{Purpose: in.Purpose, Notes: in.Notes}
	if in.Password != "" {
		hash, err := m.hasher.HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		session.SetPasswordHash(hash)
	}

	if err := m.save(ctx, session); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = session.Clone()
	m.mu.Unlock()

	m.log.Info("session created", "session_id", id, "password_protected", session.PasswordProtected)
	return session, nil
}

func (m *SessionManager) nextSessionID(ctx context.Context, now time.Time) (string, error) {
	base := "session_" + now.Format("20060102_150405")
	id := base
	for i := 2; ; i++ {
		existing, err := m.LoadSession(ctx, id)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return id, nil
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}
}

// LoadSession reads a session. It returns nil, nil when the session is absent or undecodable.
func (m *SessionManager) LoadSession(ctx context.Context, id string) (*domain.Session, error) {
	body, err := m.store.GetDocument(ctx, repository.CollectionSessions, id)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}
	return m.decode(id, body), nil
}

func (m *SessionManager) decode(key string, body []byte) *domain.Session {
	var session domain.Session
	if err := json.Unmarshal(body, &session); err != nil {
		m.log.Warn("ignoring malformed session document", "session_id", key, "error", err)
		return nil
	}
	if session.Participants == nil {
		session.Participants = []string{}
	}
	if session.UserPasswords == nil {
		session.UserPasswords = map[string]string{}
	}
	return &session
}

func (m *SessionManager) save(ctx context.Context, session *domain.Session) error {
	body, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.PutDocument(ctx, repository.CollectionSessions, session.SessionID, body); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.SessionID, err)
	}
	return nil
}

// CurrentSession returns a copy of the current session, or nil.
func (m *SessionManager) CurrentSession() *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// update runs a locked read-modify-write on one session.
// fn reports whether it changed the session; unchanged sessions are not rewritten.
func (m *SessionManager) update(ctx context.Context, id string, fn func(*domain.Session) bool) (*domain.Session, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	session, err := m.LoadSession(ctx, id)
	if err != nil || session == nil {
		return nil, err
	}
	if !fn(session) {
		return session, nil
	}
	if err := m.save(ctx, session); err != nil {
		return nil, err
	}
	m.refreshCurrent(session)
	return session, nil
}

func (m *SessionManager) refreshCurrent(session *domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.SessionID != session.SessionID {
		return
	}
	if !session.IsActive() {
		m.current = nil
		return
	}
	m.current = session.Clone()
}

// Admission is re-checked against the locked session before a participant is recorded.
type Admission struct {
	// Verify checks the joiner's user password against the stored hash.
	Verify func(hash string) bool
	// ClaimHash becomes the client's user password when none is stored yet.
	ClaimHash string
}

// AddParticipant records clientID in an active session. Unknown sessions return nil, nil.
// Ended sessions are left untouched and return ErrSessionEnded. A non-nil admission
// rejects a stored user password that does not verify with ErrUnauthorized.
func (m *SessionManager) AddParticipant(ctx context.Context, id, clientID string, admission *Admission) (*domain.Session, error) {
	var admitErr error
	session, err := m.update(ctx, id, func(s *domain.Session) bool {
		if !s.IsActive() {
			admitErr = fmt.Errorf("session %s: %w", id, domain.ErrSessionEnded)
			return false
		}
		claimed := false
		if admission != nil && !s.DisableUserPassword {
			if hash, ok := s.UserPasswordHash(clientID); ok {
				if admission.Verify == nil || !admission.Verify(hash) {
					admitErr = fmt.Errorf("user password for %s: %w", clientID, domain.ErrUnauthorized)
					return false
				}
			} else if admission.ClaimHash != "" {
				s.SetUserPasswordHash(clientID, admission.ClaimHash)
				claimed = true
			}
		}
		added := s.AddParticipant(clientID)
		return added || claimed
	})
	if err != nil {
		return nil, err
	}
	return session, admitErr
}

// RemoveParticipant removes clientID from the session.
func (m *SessionManager) RemoveParticipant(ctx context.Context, id, clientID string) (*domain.Session, error) {
	return m.update(ctx, id, func(s *domain.Session) bool {
		return s.RemoveParticipant(clientID)
	})
}

// IncrementMessageCount adds one to the counter of an active session.
// record, when set, runs under the session lock first and a failure leaves the
// counter unchanged. Ended sessions return ErrSessionEnded without calling record.
func (m *SessionManager) IncrementMessageCount(ctx context.Context, id string, record func() error) (*domain.Session, error) {
	var countErr error
	session, err := m.update(ctx, id, func(s *domain.Session) bool {
		if !s.IsActive() {
			countErr = fmt.Errorf("session %s: %w", id, domain.ErrSessionEnded)
			return false
		}
		if record != nil {
			if countErr = record(); countErr != nil {
				return false
			}
		}
		s.TotalMessages++
		return true
	})
	if err != nil {
		return nil, err
	}
	return session, countErr
}

// SetUserPassword stores a per-user password for clientID.
func (m *SessionManager) SetUserPassword(ctx context.Context, id, clientID, password string) (*domain.Session, error) {
	if password == "" {
		return nil, fmt.Errorf("user password is required: %w", domain.ErrMalformed)
	}
	hash, err := m.hasher.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return m.update(ctx, id, func(s *domain.Session) bool {
		s.SetUserPasswordHash(clientID, hash)
		return true
	})
}

// UpdateMetadata replaces the session's descriptive fields.
func (m *SessionManager) UpdateMetadata(ctx context.Context, id string, metadata domain.SessionMetadata) (*domain.Session, error) {
	return m.update(ctx, id, func(s *domain.Session) bool {
		s.Metadata = metadata
		return true
	})
}

// EndSession moves the session to ended. Ending an ended session changes nothing;
// changed reports whether this call performed the transition.
func (m *SessionManager) EndSession(ctx context.Context, id string) (session *domain.Session, changed bool, err error) {
	session, err = m.update(ctx, id, func(s *domain.Session) bool {
		changed = s.End(m.now())
		return changed
	})
	if err != nil || session == nil {
		return session, false, err
	}
	if changed {
		m.log.Info("session ended", "session_id", id)
	}
	return session, changed, nil
}

// DeleteSession removes the session record and reports whether it existed.
func (m *SessionManager) DeleteSession(ctx context.Context, id string) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	deleted, err := m.store.DeleteDocument(ctx, repository.CollectionSessions, id)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	if m.current != nil && m.current.SessionID == id {
		m.current = nil
	}
	m.mu.Unlock()

	if deleted {
		m.log.Info("session deleted", "session_id", id)
	}
	return deleted, nil
}

// GetAllSessions returns every decodable session, newest first.
func (m *SessionManager) GetAllSessions(ctx context.Context) ([]*domain.Session, error) {
	docs, err := m.store.ListDocuments(ctx, repository.CollectionSessions)
	if err != nil {
		return nil, err
	}
	sessions := make([]*domain.Session, 0, len(docs))
	for _, doc := range docs {
		if s := m.decode(doc.Key, doc.Body); s != nil {
			sessions = append(sessions, s)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return createdAt(sessions[i]).After(createdAt(sessions[j]))
	})
	return sessions, nil
}

// GetActiveSessions returns the active sessions, newest first.
func (m *SessionManager) GetActiveSessions(ctx context.Context) ([]*domain.Session, error) {
	all, err := m.GetAllSessions(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]*domain.Session, 0, len(all))
	for _, s := range all {
		if s.IsActive() {
			active = append(active, s)
		}
	}
	return active, nil
}

// GetSessionSummary returns the summary view of a session, or nil when absent.
func (m *SessionManager) GetSessionSummary(ctx context.Context, id string) (*domain.SessionSummary, error) {
	session, err := m.LoadSession(ctx, id)
	if err != nil || session == nil {
		return nil, err
	}
	return session.Summary(), nil
}

// createdAt parses the creation time; unparseable values sort last.
func createdAt(s *domain.Session) time.Time {
	t, err := domain.ParseTime(s.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
