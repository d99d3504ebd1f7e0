package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
	"github.com/xiaot623/gogo/chatroom/internal/hub"
	"github.com/xiaot623/gogo/chatroom/internal/protocol"
	"github.com/xiaot623/gogo/chatroom/policy"
)

// RejectError is a refused join or viewer attach. Reason is the text sent to the client.
type RejectError struct {
	Reason string
	Err    error
}

func (e *RejectError) Error() string { return e.Reason }

func (e *RejectError) Unwrap() error { return e.Err }

func reject(reason string, err error) error {
	return &RejectError{Reason: reason, Err: err}
}

// RejectReason returns the client-facing reason of a rejection, if err is one.
func RejectReason(err error) (string, bool) {
	var rejectErr *RejectError
	if errors.As(err, &rejectErr) {
		return rejectErr.Reason, true
	}
	return "", false
}

// JoinRequest carries the identity frame of a new connection.
type JoinRequest struct {
	ClientID     string
	SessionID    string // empty joins the current session
	Password     string
	UserPassword string
	Conn         *hub.Connection
}

// Join admits a connection into a session. On success the connection is
// registered, the client is a participant and the room has been told.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*domain.Session, error) {
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		return nil, reject(protocol.ReasonClientIDRequired, domain.ErrMalformed)
	}

	session, err := s.resolveSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	userHash, hasUserPassword := session.UserPasswordHash(clientID)
	userPasswordOK := hasUserPassword && s.Access.VerifyPassword(userHash, req.UserPassword)
	decision, err := s.policyEngine.EvaluateJoin(ctx, policy.JoinInput{
		SessionStatus:        string(session.Status),
		PasswordProtected:    session.PasswordProtected,
		RequireUserPassword:  session.RequireUserPassword,
		DisableUserPassword:  session.DisableUserPassword,
		SessionPasswordOK:    s.Access.VerifyPassword(session.PasswordHash, req.Password),
		UserPasswordSet:      hasUserPassword,
		UserPasswordOK:       userPasswordOK,
		UserPasswordProvided: req.UserPassword != "",
	})
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		s.log.Info("join rejected", "client_id", clientID, "session_id", session.SessionID, "reason", decision.Reason)
		if decision.Reason == protocol.ReasonSessionEnded {
			return nil, reject(decision.Reason, domain.ErrSessionEnded)
		}
		return nil, reject(decision.Reason, domain.ErrUnauthorized)
	}

	admission := &Admission{
		Verify: func(hash string) bool {
			if hash == userHash && userPasswordOK {
				return true
			}
			return s.Access.VerifyPassword(hash, req.UserPassword)
		},
	}
	if !session.DisableUserPassword && !hasUserPassword && req.UserPassword != "" {
		if admission.ClaimHash, err = s.Access.HashPassword(req.UserPassword); err != nil {
			return nil, err
		}
	}

	if err := s.hub.Register(clientID, req.Conn, session.SessionID); err != nil {
		return nil, reject(protocol.ReasonClientIDInUse, err)
	}

	// The snapshot above may be stale; the stored session decides.
	updated, err := s.Sessions.AddParticipant(ctx, session.SessionID, clientID, admission)
	if err != nil || updated == nil {
		s.hub.Remove(req.Conn)
		rejection := admissionRejection(err)
		if reason, ok := RejectReason(rejection); ok {
			s.log.Info("join rejected", "client_id", clientID, "session_id", session.SessionID, "reason", reason)
		}
		return nil, rejection
	}

	s.log.Info("client joined", "client_id", clientID, "session_id", session.SessionID)
	if _, err := s.announce(ctx, session.SessionID, fmt.Sprintf("Client %s has joined the room", clientID)); err != nil {
		s.log.Warn("failed to announce join", "client_id", clientID, "error", err)
	}
	return updated, nil
}

// admissionRejection maps a failed locked admission to the client-facing rejection.
func admissionRejection(err error) error {
	switch {
	case err == nil:
		return reject(protocol.ReasonSessionNotFound, domain.ErrNotFound)
	case errors.Is(err, domain.ErrSessionEnded):
		return reject(protocol.ReasonSessionEnded, err)
	case errors.Is(err, domain.ErrUnauthorized):
		return reject(protocol.ReasonInvalidUserPassword, err)
	default:
		return err
	}
}

func (s *Service) resolveSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		current := s.Sessions.CurrentSession()
		if current == nil {
			return nil, reject(protocol.ReasonNoActiveSession, domain.ErrNotFound)
		}
		sessionID = current.SessionID
	}
	session, err := s.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, reject(protocol.ReasonSessionNotFound, domain.ErrNotFound)
	}
	return session, nil
}

// HandleChat persists a chat line from conn and fans it out to the session.
// An empty timestamp is replaced with the server time. Lines sent after the
// session ended are dropped with ErrSessionEnded.
func (s *Service) HandleChat(ctx context.Context, conn *hub.Connection, text, timestamp string) (*domain.Message, error) {
	if conn.Viewer {
		return nil, fmt.Errorf("viewer %s cannot send: %w", conn.ID, domain.ErrUnauthorized)
	}
	if !s.hub.Owns(conn) {
		return nil, fmt.Errorf("client %s is not connected: %w", conn.ID, domain.ErrNotFound)
	}
	if timestamp == "" {
		timestamp = protocol.Now()
	}

	msg := domain.NewMessage(conn.SessionID, conn.ID, domain.MessageTypeMessage, text, timestamp)
	record := func() error { return s.Messages.SaveMessage(ctx, msg) }
	session, err := s.Sessions.IncrementMessageCount(ctx, conn.SessionID, record)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", conn.SessionID, domain.ErrNotFound)
	}
	if _, err := s.hub.BroadcastJSON(conn.SessionID, protocol.NewChatMessage(conn.ID, text, timestamp)); err != nil {
		return nil, err
	}
	return msg, nil
}

// Leave unregisters conn and tells the room. Participants keep the client in their history.
// Connections already removed by an end or kick leave silently.
func (s *Service) Leave(ctx context.Context, conn *hub.Connection) {
	if !s.hub.Remove(conn) || conn.Viewer {
		return
	}
	s.log.Info("client left", "client_id", conn.ID, "session_id", conn.SessionID)
	if _, err := s.announce(ctx, conn.SessionID, fmt.Sprintf("Client %s has left the room", conn.ID)); err != nil {
		s.log.Warn("failed to announce leave", "client_id", conn.ID, "error", err)
	}
}

// AttachViewer registers a read-only connection for an administrator.
func (s *Service) AttachViewer(ctx context.Context, token, sessionID string, conn *hub.Connection) (string, error) {
	if !s.Access.VerifyAdminToken(token) {
		return "", reject(protocol.ReasonUnauthorized, domain.ErrUnauthorized)
	}
	session, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return s.hub.RegisterViewer(conn, session.SessionID), nil
}

// StartSession creates a session and announces it to every connected client.
func (s *Service) StartSession(ctx context.Context, in CreateSessionInput) (*domain.Session, error) {
	session, err := s.Sessions.CreateSession(ctx, in)
	if err != nil {
		return nil, err
	}
	notice := protocol.NewSystemMessage("New session starting: "+session.SessionID, protocol.Now())
	if _, err := s.hub.BroadcastAllJSON(notice); err != nil {
		s.log.Warn("failed to announce session", "session_id", session.SessionID, "error", err)
	}
	return session, nil
}

// EndSession ends a session, sends session_end to every connection scoped to it
// and then disconnects them. It returns the number of notification attempts.
func (s *Service) EndSession(ctx context.Context, id string) (*domain.Session, int, error) {
	session, changed, err := s.Sessions.EndSession(ctx, id)
	if err != nil || session == nil || !changed {
		return session, 0, err
	}

	ts := protocol.Now()
	text := "Session has been ended"
	if err := s.Messages.SaveMessage(ctx, domain.NewSystemMessage(id, text, ts)); err != nil {
		s.log.Warn("failed to record session end", "session_id", id, "error", err)
	}
	if !s.hub.HasActiveConnections(id) {
		return session, 0, nil
	}
	attempts, err := s.hub.BroadcastJSON(id, protocol.NewSessionEndMessage(text, ts))
	if err != nil {
		return session, 0, err
	}
	s.hub.UnregisterSession(id)
	return session, attempts, nil
}

// DeleteSession disconnects a session's clients and removes its record and history.
func (s *Service) DeleteSession(ctx context.Context, id string) (bool, error) {
	s.hub.UnregisterSession(id)
	deleted, err := s.Sessions.DeleteSession(ctx, id)
	if err != nil {
		return false, err
	}
	if _, err := s.Messages.DeleteSessionMessages(ctx, id); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// KickParticipant removes clientID from a session and closes its connection.
// It reports whether a live connection was closed.
// Clients that never joined the session return ErrNotFound.
func (s *Service) KickParticipant(ctx context.Context, id, clientID string) (bool, error) {
	session, err := s.Sessions.LoadSession(ctx, id)
	if err != nil {
		return false, err
	}
	if session == nil {
		return false, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if !session.HasParticipant(clientID) {
		return false, fmt.Errorf("client %s in session %s: %w", clientID, id, domain.ErrNotFound)
	}
	if _, err := s.Sessions.RemoveParticipant(ctx, id, clientID); err != nil {
		return false, err
	}
	disconnected := s.hub.UnregisterFromSession(clientID, id)
	if _, err := s.announce(ctx, id, fmt.Sprintf("Client %s was removed from the room", clientID)); err != nil {
		s.log.Warn("failed to announce removal", "client_id", clientID, "error", err)
	}
	return disconnected, nil
}

// Notify sends a system notice. With an empty sessionID it reaches every
// connection and is not persisted; otherwise it is recorded in the session.
func (s *Service) Notify(ctx context.Context, sessionID, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("message is required: %w", domain.ErrMalformed)
	}
	if sessionID == "" {
		return s.hub.BroadcastAllJSON(protocol.NewSystemMessage(text, protocol.Now()))
	}
	session, err := s.Sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if session == nil {
		return 0, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return s.announce(ctx, sessionID, text)
}

// announce records a system message and broadcasts it to the session.
func (s *Service) announce(ctx context.Context, sessionID, text string) (int, error) {
	ts := protocol.Now()
	if err := s.Messages.SaveMessage(ctx, domain.NewSystemMessage(sessionID, text, ts)); err != nil {
		return 0, err
	}
	return s.hub.BroadcastJSON(sessionID, protocol.NewSystemMessage(text, ts))
}

// GetMessagesBySession returns a session's history.
func (s *Service) GetMessagesBySession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return s.Messages.GetMessagesBySession(ctx, sessionID)
}

// GetSessionStatistics returns a session's chat statistics.
func (s *Service) GetSessionStatistics(ctx context.Context, sessionID string) (domain.SessionStatistics, error) {
	return s.Messages.GetSessionStatistics(ctx, sessionID)
}

// GetSessionSummary returns a session's summary, or nil when absent.
func (s *Service) GetSessionSummary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	return s.Sessions.GetSessionSummary(ctx, sessionID)
}

// GetAllSessions returns every session, newest first.
func (s *Service) GetAllSessions(ctx context.Context) ([]*domain.Session, error) {
	return s.Sessions.GetAllSessions(ctx)
}
