package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/AlinhoWhat/SHousBackend/internal/models"
)

// Store is the persistence collaborator of the chat core. Implementations
// return errors wrapping apperr.ErrNotFound for absent records and
// apperr.ErrPersistence for storage failures.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Chat operations
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChatByParticipants(ctx context.Context, userA, userB string) (*models.Chat, error)
	GetChatForParticipant(ctx context.Context, chatID, userID string) (*models.Chat, error)
	ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)
	SetChatSeenBy(ctx context.Context, chatID string, seenBy []string) error
	SetChatLastMessage(ctx context.Context, chatID, lastMessage string, seenBy []string) error

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	UpdateMessageText(ctx context.Context, id, text string) error
	DeleteMessage(ctx context.Context, id string) error
	ListMessagesByChat(ctx context.Context, chatID string) ([]models.Message, error)

	Close() error
}

// PairKey identifies a two-party chat independently of participant order.
// The first id is length prefixed so ids containing the separator cannot
// collide with another pair.
func PairKey(userA, userB string) string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return fmt.Sprintf("%d:%s|%s", len(ids[0]), ids[0], ids[1])
}
