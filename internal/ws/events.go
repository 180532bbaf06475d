package ws

import "time"

// Inbound event names.
const (
	EventJoinChat    = "joinChat"
	EventLeaveChat   = "leaveChat"
	EventSendMessage = "sendMessage"
)

// Outbound event names.
const (
	EventNewMessage       = "newMessageReceived"
	EventMessageConfirmed = "messageConfirmed"
	EventMessageFailed    = "messageFailed"
	EventMessageError     = "messageError"
)

// Inbound is one frame sent by a client. ChatID is used by every event; the
// remaining fields only by sendMessage.
type Inbound struct {
	Event      string `json:"event"`
	ChatID     string `json:"chatId"`
	Text       string `json:"text"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// SendRequest is the validated body of a sendMessage event. ReceiverID is
// accepted for client compatibility but not checked.
type SendRequest struct {
	ChatID     string `validate:"required"`
	Text       string `validate:"required"`
	SenderID   string `validate:"required"`
	ReceiverID string
}

// Outbound is the envelope of every frame sent to a client.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type UserRef struct {
	ID string `json:"id"`
}

// LiveMessage is a plaintext message as pushed to subscribers. For an
// optimistic copy ID is a temporary "temp-" identifier.
type LiveMessage struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chatId"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
	User       UserRef   `json:"user"`
}

type Confirmation struct {
	TempID           string      `json:"tempId"`
	ConfirmedMessage LiveMessage `json:"confirmedMessage"`
}

type Failure struct {
	TempID string `json:"tempId"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
