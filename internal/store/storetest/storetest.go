// Package storetest is a behaviour suite shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AlinhoWhat/SHousBackend/internal/apperr"
	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/AlinhoWhat/SHousBackend/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run exercises the full store contract against fresh stores from open.
func Run(t *testing.T, open Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("CreateAndFindChat", func(t *testing.T) { testCreateAndFindChat(t, open(t)) })
	t.Run("DuplicatePair", func(t *testing.T) { testDuplicatePair(t, open(t)) })
	t.Run("ChatForParticipant", func(t *testing.T) { testChatForParticipant(t, open(t)) })
	t.Run("ListChatsForUser", func(t *testing.T) { testListChatsForUser(t, open(t)) })
	t.Run("ChatMetadata", func(t *testing.T) { testChatMetadata(t, open(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, open(t)) })
	t.Run("MessageOrder", func(t *testing.T) { testMessageOrder(t, open(t)) })
	t.Run("SeparatorInIDs", func(t *testing.T) { testSeparatorInIDs(t, open(t)) })
	t.Run("ConcurrentMetadata", func(t *testing.T) { testConcurrentMetadata(t, open(t)) })
}

// NewChat builds an unsaved chat between a and b created at the given time.
func NewChat(a, b string, createdAt time.Time) *models.Chat {
	return &models.Chat{
		ID:             uuid.NewString(),
		ParticipantIDs: []string{a, b},
		CreatedAt:      createdAt,
		SeenBy:         []string{},
	}
}

// NewMessage builds an unsaved message.
func NewMessage(chatID, senderID, text string, createdAt time.Time) *models.Message {
	return &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: createdAt,
	}
}

func testUsers(t *testing.T, s store.Store) {
	defer s.Close()
	req := require.New(t)
	ctx := context.Background()

	req.NoError(s.CreateUser(ctx, &models.User{ID: "u1", Username: "alice", Avatar: "a.png"}))

	user, err := s.GetUserByID(ctx, "u1")
	req.NoError(err)
	req.Equal("alice", user.Username)
	req.Equal("a.png", user.Avatar)

	_, err = s.GetUserByID(ctx, "missing")
	req.ErrorIs(err, apperr.ErrNotFound)
}

func testCreateAndFindChat(t *testing.T, s store.Store) {
	defer s.Close()
	req := require.New(t)
	ctx := context.Background()

	chat := NewChat("a", "b", time.Now())
	req.NoError(s.CreateChat(ctx, chat))

	found, err := s.GetChatByParticipants(ctx, "a", "b")
	req.NoError(err)
	req.Equal(chat.ID, found.ID)
	req.ElementsMatch([]string{"a", "b"}, found.ParticipantIDs)
	req.Nil(found.LastMessage)
	req.Empty(found.SeenBy)

	reversed, err := s.GetChatByParticipants(ctx, "b", "a")
	req.NoError(err)
	req.Equal(chat.ID, reversed.ID)

	_, err = s.GetChatByParticipants(ctx, "a", "c")
	req.ErrorIs(err, apperr.ErrNotFound)
}

func testDuplicatePair(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateChat(ctx, NewChat("a", "b", time.Now())))
	require.Error(t, s.CreateChat(ctx, NewChat("b", "a", time.Now())))
}

func testChatForParticipant(t *testing.T, s store.Store) {
	defer s.Close()
	req := require.New(t)
	ctx := context.Background()

	chat := NewChat("a", "b", time.Now())
	req.NoError(s.CreateChat(ctx, chat))

	got, err := s.GetChatForParticipant(ctx, chat.ID, "b")
	req.NoError(err)
	req.Equal(chat.ID, got.ID)

	_, err = s.GetChatForParticipant(ctx, chat.ID, "intruder")
	req.ErrorIs(err, apperr.ErrNotFound)

	_, err = s.GetChatForParticipant(ctx, "missing", "a")
	req.ErrorIs(err, apperr.ErrNotFound)
}

func testListChatsForUser(t *testing.T, s store.Store) {
	defer s.Close()
	req := require.New(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	older := NewChat("a", "b", base)
	newer := NewChat("c", "a", base.Add(time.Minute))
	unrelated := NewChat("b", "c", base.Add(2*time.Minute))
	for _, c := range []*models.Chat{older, newer, unrelated} {
		req.NoError(s.CreateChat(ctx, c))
	}

	chats, err := s.ListChatsForUser(ctx, "a")
	req.NoError(err)
	req.Len(chats, 2)
	req.Equal(newer.ID, chats[0].ID)
	req.Equal(older.ID, chats[1].ID)
	req.ElementsMatch([]string{"a", "c"}, chats[0].ParticipantIDs)

	none, err := s.ListChatsForUser(ctx, "nobody")
	req.NoError(err)
	req.Empty(none)
}

func testChatMetadata(t *testing.T, s store.Store) {
	defer s.Close()
	req := require.New(t)
	ctx := context.Background()

	chat := NewChat("a", "b", time.Now())
	req.NoError(s.CreateChat(ctx, chat))

	req.NoError(s.SetChatSeenBy(ctx, chat.ID, []string{"b"}))
	got, err := s.GetChatForParticipant(ctx, chat.ID, "a")
	req.NoError(err)
	req.Equal([]string{"b"}, got.SeenBy)

	req.NoError(s.SetChatLastMessage(ctx, chat.ID, "cipher", []string{"a"}))
	got, err = s.GetChatForParticipant(ctx, chat.ID, "a")
	req.NoError(err)
	req.NotNil(got.LastMessage)
	req.Equal("cipher", *got.LastMessage)
	req.Equal([]string{"a"}, got.SeenBy)

	req.ErrorIs(s.SetChatSeenBy(ctx, "missing", []string{"a"}), apperr.ErrNotFound)
	req.ErrorIs(s.SetChatLastMessage(ctx, "missing", "x", []string{"a"}), apperr.ErrNotFound)
}

func testMessages(t *testing.T, s store.Store) {
	defer s.Close()
	req := require.New(t)
	ctx := context.Background()

	chat := NewChat("a", "b", time.Now())
	req.NoError(s.CreateChat(ctx, chat))

	msg := NewMessage(chat.ID, "a", "cipher-1", time.Now())
	req.NoError(s.CreateMessage(ctx, msg))

	got, err := s.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.Equal("cipher-1", got.Text)
	req.Equal("a", got.SenderID)
	req.Equal(chat.ID, got.ChatID)

	req.NoError(s.UpdateMessageText(ctx, msg.ID, "cipher-2"))
	got, err = s.GetMessage(ctx, msg.ID)
	req.NoError(err)
	req.Equal("cipher-2", got.Text)

	listed, err := s.ListMessagesByChat(ctx, chat.ID)
	req.NoError(err)
	req.Len(listed, 1)
	req.Equal("cipher-2", listed[0].Text)

	req.NoError(s.DeleteMessage(ctx, msg.ID))
	_, err = s.GetMessage(ctx, msg.ID)
	req.ErrorIs(err, apperr.ErrNotFound)

	listed, err = s.ListMessagesByChat(ctx, chat.ID)
	req.NoError(err)
	req.Empty(listed)

	req.ErrorIs(s.UpdateMessageText(ctx, msg.ID, "x"), apperr.ErrNotFound)
	req.ErrorIs(s.DeleteMessage(ctx, msg.ID), apperr.ErrNotFound)
}

func testMessageOrder(t *testing.T, s store.Store) {
	defer s.Close()
	req := require.New(t)
	ctx := context.Background()

	chat := NewChat("a", "b", time.Now())
	other := NewChat("a", "c", time.Now())
	req.NoError(s.CreateChat(ctx, chat))
	req.NoError(s.CreateChat(ctx, other))

	base := time.Now().Add(-time.Hour)
	for i, text := range []string{"first", "second", "third"} {
		req.NoError(s.CreateMessage(ctx, NewMessage(chat.ID, "a", text, base.Add(time.Duration(i)*time.Second))))
	}
	req.NoError(s.CreateMessage(ctx, NewMessage(other.ID, "a", "elsewhere", base)))

	listed, err := s.ListMessagesByChat(ctx, chat.ID)
	req.NoError(err)
	req.Len(listed, 3)
	req.Equal("third", listed[0].Text)
	req.Equal("second", listed[1].Text)
	req.Equal("first", listed[2].Text)
}

func testSeparatorInIDs(t *testing.T, s store.Store) {
	defer s.Close()
	req := require.New(t)
	ctx := context.Background()

	first := NewChat("a:b", "c", time.Now())
	second := NewChat("a", "b:c", time.Now())
	req.NoError(s.CreateChat(ctx, first))
	req.NoError(s.CreateChat(ctx, second))

	got, err := s.GetChatByParticipants(ctx, "b:c", "a")
	req.NoError(err)
	req.Equal(second.ID, got.ID)

	chats, err := s.ListChatsForUser(ctx, "a")
	req.NoError(err)
	req.Len(chats, 1)
	req.Equal(second.ID, chats[0].ID)

	_, err = s.GetChatForParticipant(ctx, first.ID, "a")
	req.ErrorIs(err, apperr.ErrNotFound)
}

func testConcurrentMetadata(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	chat := NewChat("a", "b", time.Now())
	require.NoError(t, s.CreateChat(ctx, chat))

	const writers = 8
	errs := make(chan error, writers*2)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			errs <- s.SetChatSeenBy(ctx, chat.ID, []string{user})
			errs <- s.SetChatLastMessage(ctx, chat.ID, "cipher-"+user, []string{user})
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetChatForParticipant(ctx, chat.ID, "a")
	require.NoError(t, err)
	require.Len(t, got.SeenBy, 1)
	require.NotNil(t, got.LastMessage)
}
