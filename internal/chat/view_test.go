package chat

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/AlinhoWhat/SHousBackend/internal/crypt"
	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestDecryptor_CorruptMessageUsesPlaceholder(t *testing.T) {
	req := require.New(t)
	cipher, err := crypt.New("test-secret")
	req.NoError(err)
	d := NewDecryptor(cipher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	good, err := cipher.Encrypt("still readable")
	req.NoError(err)

	views := d.Messages([]models.Message{
		{ID: "1", Text: good},
		{ID: "2", Text: "not-a-ciphertext"},
		{ID: "3", Text: good},
	})

	req.Len(views, 3)
	req.Equal("still readable", views[0].Text)
	req.Equal(Placeholder, views[1].Text)
	req.Equal("still readable", views[2].Text)
}

func TestDecryptor_WrongKeyUsesPlaceholder(t *testing.T) {
	cipher, err := crypt.New("test-secret")
	require.NoError(t, err)
	other, err := crypt.New("rotated-secret")
	require.NoError(t, err)

	ct, err := other.Encrypt("hello")
	require.NoError(t, err)

	d := NewDecryptor(cipher, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Equal(t, Placeholder, d.Text(ct))
}

func TestDecryptor_ChatPreview(t *testing.T) {
	req := require.New(t)
	cipher, err := crypt.New("test-secret")
	req.NoError(err)
	d := NewDecryptor(cipher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	newest, _ := cipher.Encrypt("newest")
	older, _ := cipher.Encrypt("older")
	history := []models.Message{
		{ID: "2", Text: newest, CreatedAt: time.Now()},
		{ID: "1", Text: older, CreatedAt: time.Now().Add(-time.Minute)},
	}

	t.Run("stored preview", func(t *testing.T) {
		view := d.Chat(&models.Chat{ID: "c", LastMessage: lo.ToPtr(older)}, nil, history)
		require.NotNil(t, view.LastMessage)
		require.Equal(t, "older", *view.LastMessage)
		require.Len(t, view.Messages, 2)
	})

	t.Run("falls back to newest message", func(t *testing.T) {
		view := d.Chat(&models.Chat{ID: "c"}, nil, history)
		require.NotNil(t, view.LastMessage)
		require.Equal(t, "newest", *view.LastMessage)
	})

	t.Run("empty chat", func(t *testing.T) {
		view := d.Chat(&models.Chat{ID: "c"}, nil, nil)
		require.Nil(t, view.LastMessage)
		require.Empty(t, view.Messages)
	})

	t.Run("corrupt preview", func(t *testing.T) {
		view := d.Chat(&models.Chat{ID: "c", LastMessage: lo.ToPtr("garbage")}, nil, nil)
		require.NotNil(t, view.LastMessage)
		require.Equal(t, Placeholder, *view.LastMessage)
	})
}
