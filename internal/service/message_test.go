package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
	"github.com/xiaot623/gogo/chatroom/internal/repository"
)

func newTestMessageStore(t *testing.T) (*MessageStore, repository.Store) {
	t.Helper()
	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewMessageStore(store), store
}

func chat(sessionID, clientID, content, ts string) *domain.Message {
	return domain.NewMessage(sessionID, clientID, domain.MessageTypeMessage, content, ts)
}

func TestSaveAndQueryMessages(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMessageStore(t)

	require.NoError(t, s.SaveMessage(ctx, chat("room", "alice", "Hello there", "t1")))
	require.NoError(t, s.SaveMessage(ctx, domain.NewSystemMessage("room", "Client bob has joined the room", "t2")))
	require.NoError(t, s.SaveMessage(ctx, chat("room", "bob", "hello alice", "t3")))
	require.NoError(t, s.SaveMessage(ctx, chat("other", "carol", "hi", "t0")))

	all, err := s.GetMessagesBySession(ctx, "room")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t1", all[0].Timestamp)
	assert.Equal(t, "t3", all[2].Timestamp)

	byBob, err := s.GetMessagesByClient(ctx, "room", "bob")
	require.NoError(t, err)
	require.Len(t, byBob, 1)

	system, err := s.GetMessagesByType(ctx, "room", domain.MessageTypeSystem)
	require.NoError(t, err)
	require.Len(t, system, 1)

	found, err := s.Search(ctx, "room", "HELLO")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	count, err := s.CountMessages(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	everything, err := s.GetAllMessages(ctx)
	require.NoError(t, err)
	require.Len(t, everything, 4)
	assert.Equal(t, "t0", everything[0].Timestamp)
}

func TestStatisticsZeroedForUnknownSession(t *testing.T) {
	s, _ := newTestMessageStore(t)

	stats, err := s.GetSessionStatistics(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalMessages)
	assert.Equal(t, 0, stats.TotalChars)
	assert.Equal(t, 0, stats.TotalWords)
	assert.NotNil(t, stats.Participants)
	assert.Empty(t, stats.Participants)
	assert.NotNil(t, stats.MessageByUser)
	assert.Empty(t, stats.MessageByUser)
}

func TestStatisticsCountChatMessagesOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMessageStore(t)

	require.NoError(t, s.SaveMessage(ctx, chat("room", "zed", "hello world", "t1")))
	require.NoError(t, s.SaveMessage(ctx, chat("room", "amy", "one two three", "t2")))
	require.NoError(t, s.SaveMessage(ctx, chat("room", "zed", "ok", "t3")))
	require.NoError(t, s.SaveMessage(ctx, domain.NewSystemMessage("room", "Client amy has joined the room", "t4")))

	stats, err := s.GetSessionStatistics(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMessages)
	assert.Equal(t, 11+13+2, stats.TotalChars)
	assert.Equal(t, 2+3+1, stats.TotalWords)
	assert.Equal(t, []string{"amy", "zed"}, stats.Participants)
	assert.Equal(t, domain.ClientStats{Count: 2, Chars: 13, Words: 3}, stats.MessageByUser["zed"])
}

func TestMalformedMessageDocumentReadsEmpty(t *testing.T) {
	ctx := context.Background()
	s, store := newTestMessageStore(t)

	require.NoError(t, store.PutDocument(ctx, repository.CollectionMessages, "room", []byte(`{"oops":`)))

	msgs, err := s.GetMessagesBySession(ctx, "room")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, s.SaveMessage(ctx, chat("room", "alice", "fresh start", "t1")))
	msgs, err = s.GetMessagesBySession(ctx, "room")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestConcurrentSavesKeepEveryMessage(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMessageStore(t)

	const n = 60
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.SaveMessage(ctx, chat("room", fmt.Sprintf("c%d", i%5), "msg", fmt.Sprintf("t%03d", i))))
		}(i)
	}
	wg.Wait()

	count, err := s.CountMessages(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

func TestDeleteSessionMessages(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMessageStore(t)
	require.NoError(t, s.SaveMessage(ctx, chat("room", "alice", "bye", "t1")))

	deleted, err := s.DeleteSessionMessages(ctx, "room")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteSessionMessages(ctx, "room")
	require.NoError(t, err)
	assert.False(t, deleted)
}
