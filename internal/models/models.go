package models

import (
	"time"

	"github.com/samber/lo"
)

// User is owned by the account service; this core only reads it.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Chat is a two-party conversation. LastMessage holds ciphertext.
type Chat struct {
	ID             string    `json:"id"`
	ParticipantIDs []string  `json:"participantIds"`
	CreatedAt      time.Time `json:"createdAt"`
	LastMessage    *string   `json:"lastMessage"`
	SeenBy         []string  `json:"seenBy"`
}

// HasParticipant reports whether userID is one of the chat's members.
func (c *Chat) HasParticipant(userID string) bool {
	return lo.Contains(c.ParticipantIDs, userID)
}

// Counterpart returns the participant that is not userID. ok is false when
// the chat does not hold exactly two distinct participants.
func (c *Chat) Counterpart(userID string) (string, bool) {
	if len(c.ParticipantIDs) != 2 || c.ParticipantIDs[0] == c.ParticipantIDs[1] {
		return "", false
	}
	switch userID {
	case c.ParticipantIDs[0]:
		return c.ParticipantIDs[1], true
	case c.ParticipantIDs[1]:
		return c.ParticipantIDs[0], true
	}
	return "", false
}

// Message is stored with Text encrypted.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageView is a Message with Text decrypted for display.
type MessageView struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatView is what a participant sees: the counterpart's profile, the
// decrypted history (newest first) and a decrypted preview.
type ChatView struct {
	ID             string        `json:"id"`
	ParticipantIDs []string      `json:"participantIds"`
	CreatedAt      time.Time     `json:"createdAt"`
	SeenBy         []string      `json:"seenBy"`
	LastMessage    *string       `json:"lastMessage"`
	Receiver       *User         `json:"receiver"`
	Messages       []MessageView `json:"messages"`
}
