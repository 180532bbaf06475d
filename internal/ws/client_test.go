package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AlinhoWhat/SHousBackend/internal/chat"
	"github.com/AlinhoWhat/SHousBackend/internal/crypt"
	"github.com/AlinhoWhat/SHousBackend/internal/database"
	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/AlinhoWhat/SHousBackend/internal/store/sqlstore"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type liveServer struct {
	url    string
	hub    *Hub
	chats  *chat.Chats
	msgs   *chat.Messages
	chatID string
}

func newLiveServer(t *testing.T) *liveServer {
	t.Helper()
	ctx := context.Background()
	log := discardLogger()

	st, err := sqlstore.New(ctx, database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, st.CreateUser(ctx, &models.User{ID: id, Username: id}))
	}

	cipher, err := crypt.New("ws-test-secret")
	require.NoError(t, err)
	views := chat.NewDecryptor(cipher, log)
	chats := chat.NewChats(st, views, log)
	msgs := chat.NewMessages(st, cipher, log)
	c, _, err := chats.FindOrCreate(ctx, "u1", "u2")
	require.NoError(t, err)

	hub := startHub(t, Options{
		Cipher:         cipher,
		Persister:      chat.NewSender(chats, msgs, log),
		Members:        chats,
		PersistTimeout: time.Second,
		Log:            log,
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWs(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(server.Close)

	return &liveServer{
		url:    "ws" + strings.TrimPrefix(server.URL, "http"),
		hub:    hub,
		chats:  chats,
		msgs:   msgs,
		chatID: c.ID,
	}
}

func (s *liveServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url+"?user="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *liveServer) join(t *testing.T, conn *websocket.Conn, chatID string, want int) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Inbound{Event: EventJoinChat, ChatID: chatID}))
	require.Eventually(t, func() bool { return s.hub.Subscribers(chatID) == want },
		time.Second, 10*time.Millisecond)
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestLive_SendConfirmsAndPersists(t *testing.T) {
	s := newLiveServer(t)
	alice := s.dial(t, "u1")
	bob := s.dial(t, "u2")
	s.join(t, alice, s.chatID, 1)
	s.join(t, bob, s.chatID, 2)

	require.NoError(t, alice.WriteJSON(Inbound{
		Event:      EventSendMessage,
		ChatID:     s.chatID,
		Text:       "hey",
		SenderID:   "u1",
		ReceiverID: "u2",
	}))

	optimistic := decode[LiveMessage](t, readFrame(t, bob))
	assert.True(t, strings.HasPrefix(optimistic.ID, "temp-"))
	assert.Equal(t, "hey", optimistic.Text)

	confirmedFrame := readFrame(t, bob)
	require.Equal(t, EventMessageConfirmed, confirmedFrame.Event)
	confirmed := decode[Confirmation](t, confirmedFrame)
	assert.Equal(t, optimistic.ID, confirmed.TempID)

	s.hub.Drain()
	stored, err := s.msgs.ListByChat(context.Background(), s.chatID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, confirmed.ConfirmedMessage.ID, stored[0].ID)
	assert.NotEqual(t, "hey", stored[0].Text)

	view, err := s.chats.GetOne(context.Background(), s.chatID, "u2")
	require.NoError(t, err)
	require.NotNil(t, view.LastMessage)
	assert.Equal(t, "hey", *view.LastMessage)
}

func TestLive_JoinRefusedForOutsider(t *testing.T) {
	s := newLiveServer(t)
	outsider := s.dial(t, "u3")

	require.NoError(t, outsider.WriteJSON(Inbound{Event: EventJoinChat, ChatID: s.chatID}))
	assert.Equal(t, EventMessageError, readFrame(t, outsider).Event)
	assert.Zero(t, s.hub.Subscribers(s.chatID))
}

func TestLive_MalformedFrame(t *testing.T) {
	s := newLiveServer(t)
	conn := s.dial(t, "u1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, EventMessageError, readFrame(t, conn).Event)
}

func TestLive_DisconnectLeavesTopics(t *testing.T) {
	s := newLiveServer(t)
	alice := s.dial(t, "u1")
	s.join(t, alice, s.chatID, 1)

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return s.hub.Subscribers(s.chatID) == 0 },
		2*time.Second, 10*time.Millisecond)
}
