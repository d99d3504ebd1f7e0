package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
	"github.com/xiaot623/gogo/chatroom/internal/hub"
	"github.com/xiaot623/gogo/chatroom/internal/protocol"
	"github.com/xiaot623/gogo/chatroom/internal/service"
	"github.com/xiaot623/gogo/chatroom/tests/helpers"
)

func newChatService(t *testing.T) *service.Service {
	t.Helper()
	return helpers.NewTestService(t, helpers.NewTestFileStore(t))
}

func frames(t *testing.T, conn *hub.Connection) []protocol.ServerMessage {
	t.Helper()
	var out []protocol.ServerMessage
	for {
		select {
		case data, ok := <-conn.Send:
			if !ok {
				return out
			}
			var msg protocol.ServerMessage
			require.NoError(t, json.Unmarshal(data, &msg))
			out = append(out, msg)
		default:
			return out
		}
	}
}

func join(t *testing.T, svc *service.Service, clientID, sessionID string) *hub.Connection {
	t.Helper()
	conn := hub.NewConnection(nil, 32)
	_, err := svc.Join(context.Background(), service.JoinRequest{ClientID: clientID, SessionID: sessionID, Conn: conn})
	require.NoError(t, err)
	return conn
}

func requireReason(t *testing.T, err error, reason string) {
	t.Helper()
	got, ok := service.RejectReason(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, reason, got)
}

func TestJoinAnnouncesAndRecordsParticipant(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)

	alice := join(t, svc, "alice", "room")
	bob := join(t, svc, "bob", "")

	aliceFrames := frames(t, alice)
	require.Len(t, aliceFrames, 2)
	assert.Equal(t, protocol.TypeSystem, aliceFrames[1].Type)
	assert.Equal(t, "Client bob has joined the room", aliceFrames[1].Message)
	assert.Len(t, frames(t, bob), 1)

	s, err := svc.Sessions.LoadSession(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, s.Participants)

	system, err := svc.Messages.GetMessagesByType(ctx, "room", domain.MessageTypeSystem)
	require.NoError(t, err)
	assert.Len(t, system, 2)
}

func TestJoinRejections(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)

	_, err := svc.Join(ctx, service.JoinRequest{ClientID: "alice", Conn: hub.NewConnection(nil, 1)})
	requireReason(t, err, protocol.ReasonNoActiveSession)

	_, err = svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)

	_, err = svc.Join(ctx, service.JoinRequest{ClientID: "  ", Conn: hub.NewConnection(nil, 1)})
	requireReason(t, err, protocol.ReasonClientIDRequired)
	assert.ErrorIs(t, err, domain.ErrMalformed)

	_, err = svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: "ghost", Conn: hub.NewConnection(nil, 1)})
	requireReason(t, err, protocol.ReasonSessionNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = svc.EndSession(ctx, "room")
	require.NoError(t, err)
	_, err = svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: "room", Conn: hub.NewConnection(nil, 1)})
	requireReason(t, err, protocol.ReasonSessionEnded)
	assert.ErrorIs(t, err, domain.ErrSessionEnded)
	assert.Equal(t, 0, svc.Hub().ConnectionCount())
}

func TestWrongSessionPasswordLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "S", Password: "p"})
	require.NoError(t, err)

	_, err = svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: "S", Password: "q", Conn: hub.NewConnection(nil, 4)})
	requireReason(t, err, protocol.ReasonInvalidPassword)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	s, err := svc.Sessions.LoadSession(ctx, "S")
	require.NoError(t, err)
	assert.Empty(t, s.Participants)
	assert.Equal(t, 0, svc.Hub().ConnectionCount())

	_, err = svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: "S", Password: "p", Conn: hub.NewConnection(nil, 4)})
	require.NoError(t, err)
}

func TestUserPasswordClaimAndVerify(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room", RequireUserPassword: true})
	require.NoError(t, err)

	_, err = svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: "room", Conn: hub.NewConnection(nil, 4)})
	requireReason(t, err, protocol.ReasonUserPasswordRequired)

	first := hub.NewConnection(nil, 4)
	_, err = svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: "room", UserPassword: "mine", Conn: first})
	require.NoError(t, err)
	svc.Leave(ctx, first)

	_, err = svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: "room", UserPassword: "guess", Conn: hub.NewConnection(nil, 4)})
	requireReason(t, err, protocol.ReasonInvalidUserPassword)

	_, err = svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: "room", UserPassword: "mine", Conn: hub.NewConnection(nil, 4)})
	require.NoError(t, err)
}

func TestDisabledUserPasswordsNeverStored(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room", DisableUserPassword: true})
	require.NoError(t, err)

	_, err = svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: "room", UserPassword: "x", Conn: hub.NewConnection(nil, 4)})
	require.NoError(t, err)

	s, err := svc.Sessions.LoadSession(ctx, "room")
	require.NoError(t, err)
	assert.Empty(t, s.UserPasswords)
}

func TestConcurrentDuplicateClientID(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "S"})
	require.NoError(t, err)

	var admitted, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: "S", Conn: hub.NewConnection(nil, 8)})
			if err == nil {
				admitted.Add(1)
				return
			}
			if reason, ok := service.RejectReason(err); ok && reason == protocol.ReasonClientIDInUse {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
	assert.Equal(t, int32(1), conflicts.Load())
	assert.Equal(t, 1, svc.Hub().ConnectionCount())

	s, err := svc.Sessions.LoadSession(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, s.Participants)
}

func TestHandleChatPersistsAndBroadcasts(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)
	alice := join(t, svc, "alice", "room")
	bob := join(t, svc, "bob", "room")
	frames(t, alice)
	frames(t, bob)

	msg, err := svc.HandleChat(ctx, alice, "hello world", "2024-03-01T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 11, msg.Metadata.CharCount)
	assert.Equal(t, 2, msg.Metadata.WordCount)

	for _, conn := range []*hub.Connection{alice, bob} {
		got := frames(t, conn)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.NewChatMessage("alice", "hello world", "2024-03-01T09:00:00Z"), got[0])
	}

	s, err := svc.Sessions.LoadSession(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalMessages)
}

func TestConcurrentChatCountsEveryMessage(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)

	const clients, perClient = 4, 10
	conns := make([]*hub.Connection, clients)
	for i := range conns {
		conns[i] = hub.NewConnection(nil, 512)
		_, err := svc.Join(ctx, service.JoinRequest{ClientID: fmt.Sprintf("c%d", i), SessionID: "room", Conn: conns[i]})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn *hub.Connection) {
			defer wg.Done()
			for j := 0; j < perClient; j++ {
				_, err := svc.HandleChat(ctx, conn, fmt.Sprintf("line %d", j), "")
				assert.NoError(t, err)
			}
		}(conn)
	}
	wg.Wait()

	s, err := svc.Sessions.LoadSession(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, clients*perClient, s.TotalMessages)

	stats, err := svc.Messages.GetSessionStatistics(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, clients*perClient, stats.TotalMessages)

	var lines []string
	for _, f := range frames(t, conns[0]) {
		if f.Type == protocol.TypeMessage && f.ClientID == "c1" {
			lines = append(lines, f.Message)
		}
	}
	require.Len(t, lines, perClient)
	for j, line := range lines {
		assert.Equal(t, fmt.Sprintf("line %d", j), line, "a sender's frames arrive in order")
	}
}

func TestJoinRacingEndSessionNeverTouchesEndedSession(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("race%02d", i)
		_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: id})
		require.NoError(t, err)

		var joinErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, joinErr = svc.Join(ctx, service.JoinRequest{ClientID: "alice", SessionID: id, Conn: hub.NewConnection(nil, 8)})
		}()
		go func() {
			defer wg.Done()
			_, _, err := svc.EndSession(ctx, id)
			assert.NoError(t, err)
		}()
		wg.Wait()

		s, err := svc.Sessions.LoadSession(ctx, id)
		require.NoError(t, err)
		assert.False(t, s.IsActive())
		if joinErr != nil {
			requireReason(t, joinErr, protocol.ReasonSessionEnded)
			assert.Empty(t, s.Participants, "session %s", id)
		} else {
			assert.Equal(t, []string{"alice"}, s.Participants, "session %s", id)
		}
		assert.Equal(t, 0, svc.Hub().ConnectionCount(), "session %s", id)
	}
}

func TestHandleChatAfterEndIsDropped(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)
	alice := join(t, svc, "alice", "room")
	frames(t, alice)

	// The record is ended while alice's connection is still registered.
	_, _, err = svc.Sessions.EndSession(ctx, "room")
	require.NoError(t, err)

	_, err = svc.HandleChat(ctx, alice, "too late", "")
	assert.ErrorIs(t, err, domain.ErrSessionEnded)
	assert.Empty(t, frames(t, alice))

	s, err := svc.Sessions.LoadSession(ctx, "room")
	require.NoError(t, err)
	assert.Zero(t, s.TotalMessages)

	chat, err := svc.Messages.GetMessagesByType(ctx, "room", domain.MessageTypeMessage)
	require.NoError(t, err)
	assert.Empty(t, chat)
}

func TestEndSessionNotifiesEveryConnection(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)

	const n = 4
	conns := make([]*hub.Connection, n)
	for i := range conns {
		conns[i] = join(t, svc, fmt.Sprintf("c%d", i), "room")
	}
	for _, conn := range conns {
		frames(t, conn)
	}
	// Fill one queue so its delivery fails.
	for len(conns[1].Send) < cap(conns[1].Send) {
		conns[1].Send <- []byte(`{}`)
	}

	ended, attempts, err := svc.EndSession(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusEnded, ended.Status)
	assert.Equal(t, n, attempts)
	assert.Equal(t, 0, svc.Hub().ConnectionCount())

	for i, conn := range conns {
		if i == 1 {
			continue
		}
		got := frames(t, conn)
		require.Len(t, got, 1)
		assert.Equal(t, protocol.TypeSessionEnd, got[0].Type)
	}

	_, attempts, err = svc.EndSession(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, 0, attempts)
}

func TestEndSessionWithoutConnectionsStillRecordsEnd(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "empty"})
	require.NoError(t, err)

	session, attempts, err := svc.EndSession(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, 0, attempts)
	assert.False(t, session.IsActive())

	system, err := svc.Messages.GetMessagesByType(ctx, "empty", domain.MessageTypeSystem)
	require.NoError(t, err)
	require.Len(t, system, 1)
	assert.Equal(t, "Session has been ended", system[0].Content)
}

func TestLeaveAnnouncesButKeepsParticipant(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)
	alice := join(t, svc, "alice", "room")
	bob := join(t, svc, "bob", "room")
	frames(t, bob)

	svc.Leave(ctx, alice)
	svc.Leave(ctx, alice)

	got := frames(t, bob)
	require.Len(t, got, 1)
	assert.Equal(t, "Client alice has left the room", got[0].Message)

	s, err := svc.Sessions.LoadSession(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, s.Participants)

	_, err = svc.HandleChat(ctx, alice, "ghost", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestKickParticipant(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)
	alice := join(t, svc, "alice", "room")
	join(t, svc, "bob", "room")

	disconnected, err := svc.KickParticipant(ctx, "room", "alice")
	require.NoError(t, err)
	assert.True(t, disconnected)
	assert.False(t, svc.Hub().Owns(alice))

	s, err := svc.Sessions.LoadSession(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, s.Participants)

	_, err = svc.KickParticipant(ctx, "room", "carol")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.KickParticipant(ctx, "ghost", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteSessionRemovesHistory(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)
	alice := join(t, svc, "alice", "room")
	_, err = svc.HandleChat(ctx, alice, "hi", "")
	require.NoError(t, err)

	deleted, err := svc.DeleteSession(ctx, "room")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, svc.Hub().Owns(alice))

	count, err := svc.Messages.CountMessages(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestViewerAttach(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)

	_, err = svc.AttachViewer(ctx, "bogus", "room", hub.NewConnection(nil, 4))
	requireReason(t, err, protocol.ReasonUnauthorized)

	token, err := svc.Access.GenerateAdminToken()
	require.NoError(t, err)
	viewer := hub.NewConnection(nil, 4)
	id, err := svc.AttachViewer(ctx, token, "room", viewer)
	require.NoError(t, err)
	assert.Regexp(t, `^viewer_[0-9a-f]{8}$`, id)

	_, err = svc.HandleChat(ctx, viewer, "hi", "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	join(t, svc, "alice", "room")
	got := frames(t, viewer)
	require.Len(t, got, 1)
	assert.Equal(t, "Client alice has joined the room", got[0].Message)

	s, err := svc.Sessions.LoadSession(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, s.Participants)
}

func TestStartSessionNotifiesEveryone(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "old"})
	require.NoError(t, err)
	alice := join(t, svc, "alice", "old")
	frames(t, alice)

	_, err = svc.StartSession(ctx, service.CreateSessionInput{ID: "new"})
	require.NoError(t, err)

	got := frames(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, "New session starting: new", got[0].Message)
	assert.Equal(t, "new", svc.Sessions.CurrentSession().SessionID)
}

func TestNotify(t *testing.T) {
	ctx := context.Background()
	svc := newChatService(t)
	_, err := svc.StartSession(ctx, service.CreateSessionInput{ID: "room"})
	require.NoError(t, err)
	alice := join(t, svc, "alice", "room")
	frames(t, alice)

	n, err := svc.Notify(ctx, "room", "Maintenance at noon")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "Maintenance at noon", frames(t, alice)[0].Message)

	n, err = svc.Notify(ctx, "", "Global notice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.Notify(ctx, "ghost", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.Notify(ctx, "room", " ")
	assert.ErrorIs(t, err, domain.ErrMalformed)
}

func TestNewSeedsAdminPassword(t *testing.T) {
	svc := newChatService(t)
	ok, err := svc.Access.VerifyAdminPassword(context.Background(), helpers.TestAdminPassword)
	require.NoError(t, err)
	assert.True(t, ok)
}
