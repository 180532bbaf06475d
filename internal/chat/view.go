package chat

import (
	"log/slog"

	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/samber/lo"
)

// Placeholder replaces any text that cannot be decrypted.
const Placeholder = "[unreadable message]"

type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Decryptor turns stored ciphertext into display text. It never returns an
// error: one corrupt message must not hide the rest of a conversation.
type Decryptor struct {
	cipher Decrypter
	log    *slog.Logger
}

func NewDecryptor(cipher Decrypter, log *slog.Logger) *Decryptor {
	return &Decryptor{cipher: cipher, log: log}
}

func (d *Decryptor) Text(ciphertext string) string {
	plaintext, err := d.cipher.Decrypt(ciphertext)
	if err != nil {
		d.log.Warn("Substituting unreadable message", "error", err)
		return Placeholder
	}
	return plaintext
}

func (d *Decryptor) Message(m models.Message) models.MessageView {
	return models.MessageView{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Text:      d.Text(m.Text),
		CreatedAt: m.CreatedAt,
	}
}

func (d *Decryptor) Messages(messages []models.Message) []models.MessageView {
	return lo.Map(messages, func(m models.Message, _ int) models.MessageView {
		return d.Message(m)
	})
}

// Chat builds the participant facing view. history must be newest first.
// Without a stored preview the newest message stands in for it, which
// covers a message saved before its chat metadata was.
func (d *Decryptor) Chat(chat *models.Chat, receiver *models.User, history []models.Message) models.ChatView {
	var preview *string
	switch {
	case chat.LastMessage != nil:
		preview = lo.ToPtr(d.Text(*chat.LastMessage))
	case len(history) > 0:
		preview = lo.ToPtr(d.Text(history[0].Text))
	}

	return models.ChatView{
		ID:             chat.ID,
		ParticipantIDs: chat.ParticipantIDs,
		CreatedAt:      chat.CreatedAt,
		SeenBy:         chat.SeenBy,
		LastMessage:    preview,
		Receiver:       receiver,
		Messages:       d.Messages(history),
	}
}
