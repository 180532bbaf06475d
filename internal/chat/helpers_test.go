package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/AlinhoWhat/SHousBackend/internal/crypt"
	"github.com/AlinhoWhat/SHousBackend/internal/database"
	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/AlinhoWhat/SHousBackend/internal/store"
	"github.com/AlinhoWhat/SHousBackend/internal/store/sqlstore"
	"github.com/stretchr/testify/require"
)

var errOutage = errors.New("storage outage")

// faultyStore fails selected writes on top of a working store.
type faultyStore struct {
	store.Store
	failCreateMessage  bool
	failSetLastMessage bool
}

func (f *faultyStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if f.failCreateMessage {
		return errOutage
	}
	return f.Store.CreateMessage(ctx, msg)
}

func (f *faultyStore) SetChatLastMessage(ctx context.Context, chatID, lastMessage string, seenBy []string) error {
	if f.failSetLastMessage {
		return errOutage
	}
	return f.Store.SetChatLastMessage(ctx, chatID, lastMessage, seenBy)
}

// stepClock advances one second per reading so creation order is strict.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	store    *faultyStore
	cipher   *crypt.Cipher
	views    *Decryptor
	chats    *Chats
	messages *Messages
	sender   *Sender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	sql, err := sqlstore.New(context.Background(), database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sql.Close() })

	for _, u := range []models.User{
		{ID: "alice", Username: "alice", Avatar: "alice.png"},
		{ID: "bob", Username: "bob", Avatar: "bob.png"},
		{ID: "carol", Username: "carol"},
	} {
		require.NoError(t, sql.CreateUser(context.Background(), &u))
	}

	cipher, err := crypt.New("test-secret")
	require.NoError(t, err)

	st := &faultyStore{Store: sql}
	views := NewDecryptor(cipher, log)
	clock := &stepClock{now: time.Now().Add(-time.Hour)}
	chats := NewChats(st, views, log)
	chats.now = clock.Now
	messages := NewMessages(st, cipher, log)
	messages.now = clock.Now
	return &fixture{
		store:    st,
		cipher:   cipher,
		views:    views,
		chats:    chats,
		messages: messages,
		sender:   NewSender(chats, messages, log),
	}
}

func (f *fixture) chat(t *testing.T, a, b string) *models.Chat {
	t.Helper()
	chat, _, err := f.chats.FindOrCreate(context.Background(), a, b)
	require.NoError(t, err)
	return chat
}
