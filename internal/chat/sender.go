package chat

import (
	"context"
	"log/slog"

	"github.com/AlinhoWhat/SHousBackend/internal/models"
)

// Sender is the send-message flow shared by the REST and real-time paths:
// participancy check, message insert, then chat metadata update. The last
// two writes are sequential, not atomic. If the metadata update fails the
// message stays stored and is still returned.
type Sender struct {
	chats    *Chats
	messages *Messages
	log      *slog.Logger
}

func NewSender(chats *Chats, messages *Messages, log *slog.Logger) *Sender {
	return &Sender{chats: chats, messages: messages, log: log}
}

// Send encrypts plaintext and stores it in chatID on behalf of senderID.
func (s *Sender) Send(ctx context.Context, chatID, senderID, plaintext string) (*models.Message, error) {
	if _, err := s.chats.RequireParticipant(ctx, chatID, senderID); err != nil {
		return nil, err
	}
	msg, err := s.messages.Create(ctx, chatID, senderID, plaintext)
	if err != nil {
		return nil, err
	}
	s.touchChat(ctx, msg)
	return msg, nil
}

// PersistEncrypted stores an already encrypted text. The real-time path
// encrypts before its optimistic broadcast and persists afterwards.
func (s *Sender) PersistEncrypted(ctx context.Context, chatID, senderID, ciphertext string) (*models.Message, error) {
	if _, err := s.chats.RequireParticipant(ctx, chatID, senderID); err != nil {
		return nil, err
	}
	msg, err := s.messages.CreateEncrypted(ctx, chatID, senderID, ciphertext)
	if err != nil {
		return nil, err
	}
	s.touchChat(ctx, msg)
	return msg, nil
}

func (s *Sender) touchChat(ctx context.Context, msg *models.Message) {
	if err := s.chats.UpdateLastMessage(ctx, msg.ChatID, msg.Text, msg.SenderID); err != nil {
		s.log.Error("Message stored but chat metadata not updated",
			"chat_id", msg.ChatID, "message_id", msg.ID, "error", err)
	}
}
