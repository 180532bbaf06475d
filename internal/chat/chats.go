package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AlinhoWhat/SHousBackend/internal/apperr"
	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/AlinhoWhat/SHousBackend/internal/store"
	"github.com/google/uuid"
)

// Chats is the two-party chat aggregate. Every seen-marking action sets
// seenBy to exactly the acting user; seen state is not merged.
type Chats struct {
	store store.Store
	views *Decryptor
	log   *slog.Logger
	now   func() time.Time
}

func NewChats(st store.Store, views *Decryptor, log *slog.Logger) *Chats {
	return &Chats{store: st, views: views, log: log, now: time.Now}
}

// FindOrCreate returns the chat between the two users, creating it when
// none exists. created reports whether a new chat was stored.
func (c *Chats) FindOrCreate(ctx context.Context, requesterID, recipientID string) (chat *models.Chat, created bool, err error) {
	if requesterID == "" || recipientID == "" {
		return nil, false, fmt.Errorf("%w: recipient is required", apperr.ErrValidation)
	}
	if requesterID == recipientID {
		return nil, false, fmt.Errorf("%w: cannot open a chat with yourself", apperr.ErrValidation)
	}

	existing, err := c.store.GetChatByParticipants(ctx, requesterID, recipientID)
	if err == nil {
		if !holdsPair(existing, requesterID, recipientID) {
			return nil, false, fmt.Errorf("%w: chat %s does not belong to this pair", apperr.ErrPersistence, existing.ID)
		}
		return existing, false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}

	if _, err := c.store.GetUserByID(ctx, recipientID); err != nil {
		return nil, false, fmt.Errorf("recipient %s: %w", recipientID, err)
	}

	chat = &models.Chat{
		ID:             uuid.NewString(),
		ParticipantIDs: []string{requesterID, recipientID},
		CreatedAt:      c.now().UTC(),
		SeenBy:         []string{},
	}
	if err := c.store.CreateChat(ctx, chat); err != nil {
		// A concurrent request for the same pair may have won the insert.
		if existing, findErr := c.store.GetChatByParticipants(ctx, requesterID, recipientID); findErr == nil && holdsPair(existing, requesterID, recipientID) {
			return existing, false, nil
		}
		return nil, false, err
	}

	c.log.Debug("Chat created", "chat_id", chat.ID, "requester_id", requesterID, "recipient_id", recipientID)
	return chat, true, nil
}

func holdsPair(chat *models.Chat, a, b string) bool {
	return chat.HasParticipant(a) && chat.HasParticipant(b)
}

// RequireParticipant loads the chat if userID belongs to it.
func (c *Chats) RequireParticipant(ctx context.Context, chatID, userID string) (*models.Chat, error) {
	if chatID == "" || userID == "" {
		return nil, fmt.Errorf("%w: chat id is required", apperr.ErrValidation)
	}
	return c.store.GetChatForParticipant(ctx, chatID, userID)
}

// ListForUser returns every chat of userID, newest first, with the
// counterpart's profile and the decrypted history. A chat whose counterpart
// cannot be resolved is listed with a nil receiver.
func (c *Chats) ListForUser(ctx context.Context, userID string) ([]models.ChatView, error) {
	chats, err := c.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]models.ChatView, 0, len(chats))
	for i := range chats {
		view, err := c.view(ctx, &chats[i], userID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// GetOne returns the chat for a participant and marks it seen by them.
func (c *Chats) GetOne(ctx context.Context, chatID, requesterID string) (*models.ChatView, error) {
	chat, err := c.RequireParticipant(ctx, chatID, requesterID)
	if err != nil {
		return nil, err
	}

	seenBy := []string{requesterID}
	if err := c.store.SetChatSeenBy(ctx, chatID, seenBy); err != nil {
		return nil, err
	}
	chat.SeenBy = seenBy

	view, err := c.view(ctx, chat, requesterID)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// MarkSeen collapses seenBy to the requester without reading messages.
func (c *Chats) MarkSeen(ctx context.Context, chatID, requesterID string) (*models.Chat, error) {
	chat, err := c.RequireParticipant(ctx, chatID, requesterID)
	if err != nil {
		return nil, err
	}

	seenBy := []string{requesterID}
	if err := c.store.SetChatSeenBy(ctx, chatID, seenBy); err != nil {
		return nil, err
	}
	chat.SeenBy = seenBy
	return chat, nil
}

// UpdateLastMessage records the newest ciphertext and collapses seenBy to
// the sender. Concurrent updates are last-write-wins.
func (c *Chats) UpdateLastMessage(ctx context.Context, chatID, ciphertext, actingSenderID string) error {
	return c.store.SetChatLastMessage(ctx, chatID, ciphertext, []string{actingSenderID})
}

func (c *Chats) view(ctx context.Context, chat *models.Chat, viewerID string) (models.ChatView, error) {
	history, err := c.store.ListMessagesByChat(ctx, chat.ID)
	if err != nil {
		return models.ChatView{}, err
	}
	return c.views.Chat(chat, c.receiver(ctx, chat, viewerID), history), nil
}

func (c *Chats) receiver(ctx context.Context, chat *models.Chat, viewerID string) *models.User {
	counterpartID, ok := chat.Counterpart(viewerID)
	if !ok {
		c.log.Warn("Chat without two participants", "chat_id", chat.ID, "participants", chat.ParticipantIDs)
		return nil
	}
	user, err := c.store.GetUserByID(ctx, counterpartID)
	if err != nil {
		c.log.Warn("Counterpart lookup failed", "chat_id", chat.ID, "user_id", counterpartID, "error", err)
		return nil
	}
	return user
}
