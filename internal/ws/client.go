package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
	joinTimeout    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection of an authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: userID,
	}
}

// ServeWs upgrades the request and attaches the connection to the hub on
// behalf of userID.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := newClient(h, conn, userID)
	h.Register(client)
	h.log.Info("Websocket connected", "user_id", userID)

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.hub.log.Info("Websocket disconnected", "user_id", c.userID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("Websocket read failed", "user_id", c.userID, "error", err)
			}
			return
		}
		c.handle(raw)
	}
}

func (c *Client) handle(raw []byte) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.hub.SendTo(c, EventMessageError, ErrorPayload{Error: "malformed event"})
		return
	}

	switch in.Event {
	case EventJoinChat:
		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		c.hub.JoinChat(ctx, c, in.ChatID)
		cancel()
	case EventLeaveChat:
		c.hub.Leave(c, in.ChatID)
	case EventSendMessage:
		c.hub.Send(c, SendRequest{
			ChatID:     in.ChatID,
			Text:       in.Text,
			SenderID:   in.SenderID,
			ReceiverID: in.ReceiverID,
		})
	default:
		c.hub.log.Debug("Ignoring unknown websocket event", "user_id", c.userID, "event", in.Event)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the queue.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
