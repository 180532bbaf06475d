package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AlinhoWhat/SHousBackend/internal/apperr"
	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Persister stores an already encrypted message and updates its chat.
type Persister interface {
	PersistEncrypted(ctx context.Context, chatID, senderID, ciphertext string) (*models.Message, error)
}

// MembershipChecker proves a user belongs to a chat.
type MembershipChecker interface {
	RequireParticipant(ctx context.Context, chatID, userID string) (*models.Chat, error)
}

type Options struct {
	Cipher    Encrypter
	Persister Persister
	// Members gates joinChat. Nil lets any connection join any topic.
	Members        MembershipChecker
	PersistTimeout time.Duration
	Log            *slog.Logger
}

type membership struct {
	client *Client
	chatID string
	done   chan struct{}
}

type topicEvent struct {
	chatID  string
	payload []byte
}

type directEvent struct {
	client  *Client
	payload []byte
}

// Hub owns the topic membership table. Run is its only reader and writer;
// everything else talks to it through channels, so fan-out never races
// with joins and each topic is delivered in publish order.
type Hub struct {
	// Connected clients and the topics each one joined.
	clients map[*Client]map[string]bool

	// Subscribers per chat id.
	topics map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	broadcast  chan topicEvent
	direct     chan directEvent
	query      chan func()
	stopped    chan struct{}

	cipher         Encrypter
	persister      Persister
	members        MembershipChecker
	persistTimeout time.Duration
	log            *slog.Logger

	// In-flight persistence goroutines. closing is set by Drain under
	// gate so no Add races with the final Wait.
	gate     sync.RWMutex
	closing  bool
	inflight sync.WaitGroup
	now      func() time.Time
}

func NewHub(opts Options) *Hub {
	timeout := opts.PersistTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Hub{
		clients:        make(map[*Client]map[string]bool),
		topics:         make(map[string]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		join:           make(chan membership),
		leave:          make(chan membership),
		broadcast:      make(chan topicEvent),
		direct:         make(chan directEvent),
		query:          make(chan func()),
		stopped:        make(chan struct{}),
		cipher:         opts.Cipher,
		persister:      opts.Persister,
		members:        opts.Members,
		persistTimeout: timeout,
		log:            opts.Log,
		now:            time.Now,
	}
}

// Run serves hub requests until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = make(map[string]bool)
		case client := <-h.unregister:
			h.drop(client)
		case m := <-h.join:
			if topics, ok := h.clients[m.client]; ok {
				topics[m.chatID] = true
				if h.topics[m.chatID] == nil {
					h.topics[m.chatID] = make(map[*Client]bool)
				}
				h.topics[m.chatID][m.client] = true
			}
			close(m.done)
		case m := <-h.leave:
			h.removeFromTopic(m.client, m.chatID)
			close(m.done)
		case ev := <-h.broadcast:
			for client := range h.topics[ev.chatID] {
				h.deliver(client, ev.payload)
			}
		case ev := <-h.direct:
			if _, ok := h.clients[ev.client]; ok {
				h.deliver(ev.client, ev.payload)
			}
		case fn := <-h.query:
			fn()
		}
	}
}

// deliver must only be called from Run. A client whose buffer is full is
// considered dead.
func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.log.Warn("Dropping slow websocket client", "user_id", client.userID)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	topics, ok := h.clients[client]
	if !ok {
		return
	}
	for chatID := range topics {
		h.removeFromTopic(client, chatID)
	}
	delete(h.clients, client)
	close(client.send)
}

func (h *Hub) removeFromTopic(client *Client, chatID string) {
	if topics, ok := h.clients[client]; ok {
		delete(topics, chatID)
	}
	if subscribers, ok := h.topics[chatID]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.topics, chatID)
		}
	}
}

// Register adds a connected client.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stopped:
	}
}

// Unregister removes the client from every topic and closes its send queue.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopped:
	}
}

// Join subscribes client to chatID. Joining twice is a no-op.
func (h *Hub) Join(client *Client, chatID string) {
	h.membershipRequest(h.join, client, chatID)
}

// Leave unsubscribes client from chatID. Leaving a topic never joined is
// a no-op.
func (h *Hub) Leave(client *Client, chatID string) {
	h.membershipRequest(h.leave, client, chatID)
}

func (h *Hub) membershipRequest(ch chan membership, client *Client, chatID string) {
	m := membership{client: client, chatID: chatID, done: make(chan struct{})}
	select {
	case ch <- m:
		<-m.done
	case <-h.stopped:
	}
}

// Subscribers reports how many clients currently follow chatID.
func (h *Hub) Subscribers(chatID string) int {
	result := make(chan int, 1)
	select {
	case h.query <- func() { result <- len(h.topics[chatID]) }:
		return <-result
	case <-h.stopped:
		return 0
	}
}

// Publish sends an event to every subscriber of chatID.
func (h *Hub) Publish(chatID, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		h.log.Error("Encoding websocket event", "event", event, "error", err)
		return
	}
	select {
	case h.broadcast <- topicEvent{chatID: chatID, payload: payload}:
	case <-h.stopped:
	}
}

// SendTo sends an event to a single client.
func (h *Hub) SendTo(client *Client, event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		h.log.Error("Encoding websocket event", "event", event, "error", err)
		return
	}
	select {
	case h.direct <- directEvent{client: client, payload: payload}:
	case <-h.stopped:
	}
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(Outbound{Event: event, Data: data})
}

// JoinChat handles a joinChat request, checking membership first when the
// hub has a checker.
func (h *Hub) JoinChat(ctx context.Context, client *Client, chatID string) {
	if chatID == "" {
		h.SendTo(client, EventMessageError, ErrorPayload{Error: "chatId is required"})
		return
	}
	if h.members != nil {
		if _, err := h.members.RequireParticipant(ctx, chatID, client.userID); err != nil {
			h.log.Info("Refused topic join", "user_id", client.userID, "chat_id", chatID, "error", err)
			h.SendTo(client, EventMessageError, ErrorPayload{Error: "chat not found"})
			return
		}
	}
	h.Join(client, chatID)
	h.log.Debug("Joined chat", "user_id", client.userID, "chat_id", chatID)
}

// Send runs the real-time send protocol for one message: validate, encrypt,
// broadcast an optimistic copy, then persist in the background and follow
// up with messageConfirmed or messageFailed. It returns once the
// optimistic copy is published and does not wait for storage.
func (h *Hub) Send(client *Client, req SendRequest) {
	if err := h.validateSend(client, req); err != nil {
		h.SendTo(client, EventMessageError, ErrorPayload{Error: err.Error()})
		return
	}

	ciphertext, err := h.cipher.Encrypt(req.Text)
	if err != nil {
		h.log.Error("Encrypting message", "chat_id", req.ChatID, "error", err)
		h.SendTo(client, EventMessageError, ErrorPayload{Error: "server error while sending message"})
		return
	}

	optimistic := LiveMessage{
		ID:         "temp-" + uuid.NewString(),
		ChatID:     req.ChatID,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		CreatedAt:  h.now().UTC(),
		User:       UserRef{ID: req.SenderID},
	}

	h.gate.RLock()
	defer h.gate.RUnlock()
	if h.closing {
		h.SendTo(client, EventMessageError, ErrorPayload{Error: "server is shutting down"})
		return
	}

	h.Publish(req.ChatID, EventNewMessage, optimistic)

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		h.persist(client, optimistic, ciphertext)
	}()
}

func (h *Hub) validateSend(client *Client, req SendRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: chatId, text and senderId are required", apperr.ErrValidation)
	}
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: text is required", apperr.ErrValidation)
	}
	if client.userID != "" && req.SenderID != client.userID {
		return fmt.Errorf("%w: senderId does not match the connection", apperr.ErrValidation)
	}
	return nil
}

type persistResult struct {
	msg *models.Message
	err error
}

func (h *Hub) persist(client *Client, optimistic LiveMessage, ciphertext string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.persistTimeout)
	defer cancel()

	// The storage call runs apart so a call that ignores ctx still yields
	// a failure event once the timeout passes.
	done := make(chan persistResult, 1)
	go func() {
		msg, err := h.persister.PersistEncrypted(ctx, optimistic.ChatID, optimistic.SenderID, ciphertext)
		done <- persistResult{msg: msg, err: err}
	}()

	var res persistResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			h.log.Error("Message persistence timed out", "chat_id", optimistic.ChatID, "temp_id", optimistic.ID)
		} else {
			h.log.Error("Message persistence failed", "chat_id", optimistic.ChatID, "temp_id", optimistic.ID, "error", res.err)
		}
		h.Publish(optimistic.ChatID, EventMessageFailed, Failure{TempID: optimistic.ID})
		h.SendTo(client, EventMessageError, ErrorPayload{Error: "failed to save message"})
		return
	}

	confirmed := optimistic
	confirmed.ID = res.msg.ID
	confirmed.CreatedAt = res.msg.CreatedAt
	h.Publish(optimistic.ChatID, EventMessageConfirmed, Confirmation{
		TempID:           optimistic.ID,
		ConfirmedMessage: confirmed,
	})
}

// Drain stops accepting sends and waits for every in-flight persistence
// to publish its outcome. Sends after Drain get a private messageError.
func (h *Hub) Drain() {
	h.gate.Lock()
	h.closing = true
	h.gate.Unlock()
	h.inflight.Wait()
}
