package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/AlinhoWhat/SHousBackend/internal/apperr"
	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreate_SymmetricAndIdempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.chats.FindOrCreate(ctx, "alice", "bob")
	req.NoError(err)
	req.True(created)
	req.ElementsMatch([]string{"alice", "bob"}, first.ParticipantIDs)
	req.Empty(first.SeenBy)
	req.Nil(first.LastMessage)

	second, created, err := f.chats.FindOrCreate(ctx, "bob", "alice")
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, second.ID)

	third, created, err := f.chats.FindOrCreate(ctx, "alice", "bob")
	req.NoError(err)
	req.False(created)
	req.Equal(first.ID, third.ID)
}

func TestFindOrCreate_UnknownRecipient(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.chats.FindOrCreate(context.Background(), "alice", "ghost")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFindOrCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.chats.FindOrCreate(ctx, "alice", "")
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, _, err = f.chats.FindOrCreate(ctx, "alice", "alice")
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestFindOrCreate_IDsWithSeparator(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"a", "a:b", "c", "b:c"} {
		req.NoError(f.store.CreateUser(ctx, &models.User{ID: id, Username: id}))
	}

	first, created, err := f.chats.FindOrCreate(ctx, "a:b", "c")
	req.NoError(err)
	req.True(created)

	second, created, err := f.chats.FindOrCreate(ctx, "a", "b:c")
	req.NoError(err)
	req.True(created)
	req.NotEqual(first.ID, second.ID)
	req.ElementsMatch([]string{"a", "b:c"}, second.ParticipantIDs)
}

// foreignPairStore answers every pair lookup with a chat of other users.
type foreignPairStore struct {
	*faultyStore
}

func (s foreignPairStore) GetChatByParticipants(ctx context.Context, userA, userB string) (*models.Chat, error) {
	return &models.Chat{ID: "other", ParticipantIDs: []string{"x", "y"}}, nil
}

func TestFindOrCreate_RejectsChatOfOtherPair(t *testing.T) {
	f := newFixture(t)
	chats := NewChats(foreignPairStore{f.store}, f.views, f.chats.log)

	chat, _, err := chats.FindOrCreate(context.Background(), "alice", "bob")
	require.Error(t, err)
	require.Nil(t, chat)
}

func TestFindOrCreate_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			chat, _, err := f.chats.FindOrCreate(ctx, a, b)
			errs[i] = err
			if err == nil {
				ids[i] = chat.ID
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, lo.Uniq(ids), 1)
}

func TestGetOne_MarksSeen(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	_, err := f.sender.Send(ctx, chat.ID, "alice", "hi bob")
	req.NoError(err)

	view, err := f.chats.GetOne(ctx, chat.ID, "bob")
	req.NoError(err)
	req.Equal([]string{"bob"}, view.SeenBy)
	req.NotNil(view.Receiver)
	req.Equal("alice", view.Receiver.Username)
	req.Len(view.Messages, 1)
	req.Equal("hi bob", view.Messages[0].Text)
	req.NotNil(view.LastMessage)
	req.Equal("hi bob", *view.LastMessage)

	stored, err := f.store.GetChatForParticipant(ctx, chat.ID, "alice")
	req.NoError(err)
	req.Equal([]string{"bob"}, stored.SeenBy)

	// Whatever the prior value, reading collapses seenBy to the reader.
	_, err = f.chats.GetOne(ctx, chat.ID, "alice")
	req.NoError(err)
	stored, err = f.store.GetChatForParticipant(ctx, chat.ID, "alice")
	req.NoError(err)
	req.Equal([]string{"alice"}, stored.SeenBy)
}

func TestGetOne_NonParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	_, err := f.chats.GetOne(ctx, chat.ID, "carol")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.chats.GetOne(ctx, "missing", "alice")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMarkSeen(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	got, err := f.chats.MarkSeen(ctx, chat.ID, "alice")
	req.NoError(err)
	req.Equal([]string{"alice"}, got.SeenBy)

	got, err = f.chats.MarkSeen(ctx, chat.ID, "bob")
	req.NoError(err)
	req.Equal([]string{"bob"}, got.SeenBy)

	_, err = f.chats.MarkSeen(ctx, chat.ID, "carol")
	req.ErrorIs(err, apperr.ErrNotFound)
}

func TestMarkSeen_ConcurrentLastWriteWins(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := f.chats.MarkSeen(ctx, chat.ID, user)
			errs <- err
		}(user)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	stored, err := f.store.GetChatForParticipant(ctx, chat.ID, "alice")
	req.NoError(err)
	req.Len(stored.SeenBy, 1)
	req.Contains([]string{"alice", "bob"}, stored.SeenBy[0])
}

func TestUpdateLastMessage_CollapsesSeen(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	_, err := f.chats.MarkSeen(ctx, chat.ID, "bob")
	req.NoError(err)

	ct, err := f.cipher.Encrypt("update")
	req.NoError(err)
	req.NoError(f.chats.UpdateLastMessage(ctx, chat.ID, ct, "alice"))

	stored, err := f.store.GetChatForParticipant(ctx, chat.ID, "bob")
	req.NoError(err)
	req.Equal([]string{"alice"}, stored.SeenBy)
	req.Equal(ct, *stored.LastMessage)
}

func TestListForUser(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	withBob := f.chat(t, "alice", "bob")
	withCarol := f.chat(t, "carol", "alice")
	f.chat(t, "bob", "carol")

	_, err := f.sender.Send(ctx, withBob.ID, "alice", "first")
	req.NoError(err)
	_, err = f.sender.Send(ctx, withBob.ID, "bob", "second")
	req.NoError(err)

	views, err := f.chats.ListForUser(ctx, "alice")
	req.NoError(err)
	req.Len(views, 2)

	// Newest chat first.
	req.Equal(withCarol.ID, views[0].ID)
	req.Equal(withBob.ID, views[1].ID)

	req.Equal("carol", views[0].Receiver.Username)
	req.Nil(views[0].LastMessage)
	req.Empty(views[0].Messages)

	req.Equal("bob", views[1].Receiver.Username)
	req.Equal("second", *views[1].LastMessage)
	req.Equal([]string{"second", "first"}, lo.Map(views[1].Messages, func(m models.MessageView, _ int) string {
		return m.Text
	}))
}

func TestListForUser_ToleratesCorruptMessage(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "alice", "bob")

	for i := 0; i < 3; i++ {
		_, err := f.sender.Send(ctx, chat.ID, "alice", "readable")
		req.NoError(err)
	}
	_, err := f.messages.CreateEncrypted(ctx, chat.ID, "bob", "corrupted-bytes")
	req.NoError(err)

	views, err := f.chats.ListForUser(ctx, "alice")
	req.NoError(err)
	req.Len(views, 1)
	req.Len(views[0].Messages, 4)

	texts := lo.Map(views[0].Messages, func(m models.MessageView, _ int) string { return m.Text })
	req.Equal(3, lo.Count(texts, "readable"))
	req.Equal(1, lo.Count(texts, Placeholder))
}

func TestListForUser_MissingCounterpart(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	// dave never resolves as a user, as if the account was removed.
	chat := &models.Chat{ID: "orphan", ParticipantIDs: []string{"alice", "dave"}, SeenBy: []string{}}
	req.NoError(f.store.CreateChat(ctx, chat))

	views, err := f.chats.ListForUser(ctx, "alice")
	req.NoError(err)
	req.Len(views, 1)
	req.Nil(views[0].Receiver)
}
