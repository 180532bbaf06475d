package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AlinhoWhat/SHousBackend/internal/apperr"
	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/AlinhoWhat/SHousBackend/internal/store"
	"github.com/google/uuid"
)

type Cipher interface {
	Decrypter
	Encrypt(plaintext string) (string, error)
}

// Messages is the message store. Participancy is not checked here; callers
// must hold proof that the sender belongs to the chat (see Sender).
type Messages struct {
	store  store.Store
	cipher Cipher
	log    *slog.Logger
	now    func() time.Time
}

func NewMessages(st store.Store, cipher Cipher, log *slog.Logger) *Messages {
	return &Messages{store: st, cipher: cipher, log: log, now: time.Now}
}

// Create encrypts plaintext and stores a new message.
func (m *Messages) Create(ctx context.Context, chatID, senderID, plaintext string) (*models.Message, error) {
	if strings.TrimSpace(plaintext) == "" {
		return nil, fmt.Errorf("%w: text is required", apperr.ErrValidation)
	}
	ciphertext, err := m.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	return m.CreateEncrypted(ctx, chatID, senderID, ciphertext)
}

// CreateEncrypted stores a message whose text is already ciphertext.
func (m *Messages) CreateEncrypted(ctx context.Context, chatID, senderID, ciphertext string) (*models.Message, error) {
	if chatID == "" || senderID == "" || ciphertext == "" {
		return nil, fmt.Errorf("%w: chat, sender and text are required", apperr.ErrValidation)
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      ciphertext,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ownedBy loads message id and checks that requesterID sent it.
func (m *Messages) ownedBy(ctx context.Context, id, requesterID string) (*models.Message, error) {
	msg, err := m.store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != requesterID {
		return nil, fmt.Errorf("%w: not the sender of message %s", apperr.ErrForbidden, id)
	}
	return msg, nil
}

// Update re-encrypts the message text under a fresh nonce.
func (m *Messages) Update(ctx context.Context, id, newPlaintext, requesterID string) (*models.Message, error) {
	msg, err := m.ownedBy(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(newPlaintext) == "" {
		return nil, fmt.Errorf("%w: text is required", apperr.ErrValidation)
	}

	ciphertext, err := m.cipher.Encrypt(newPlaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt message: %w", err)
	}
	if err := m.store.UpdateMessageText(ctx, id, ciphertext); err != nil {
		return nil, err
	}
	msg.Text = ciphertext
	return msg, nil
}

// Delete removes the message row for good.
func (m *Messages) Delete(ctx context.Context, id, requesterID string) error {
	if _, err := m.ownedBy(ctx, id, requesterID); err != nil {
		return err
	}
	return m.store.DeleteMessage(ctx, id)
}

// ListByChat reads the chat's messages, newest first.
func (m *Messages) ListByChat(ctx context.Context, chatID string) ([]models.Message, error) {
	return m.store.ListMessagesByChat(ctx, chatID)
}
