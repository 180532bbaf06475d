package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AlinhoWhat/SHousBackend/internal/apperr"
	"github.com/AlinhoWhat/SHousBackend/internal/database"
	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/AlinhoWhat/SHousBackend/internal/store"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
}

var _ store.Store = (*SQLStore)(nil)

func New(ctx context.Context, driverName, dataSourceName string) (*SQLStore, error) {
	db, err := database.Open(ctx, driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, driverName: driverName}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) rebind(query string) string {
	return database.Rebind(s.driverName, query)
}

func persistence(err error) error {
	return fmt.Errorf("%w: %w", apperr.ErrPersistence, err)
}

func notFoundOr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return persistence(err)
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistence(err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	}
	return nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	query := s.rebind("INSERT INTO users (id, username, avatar) VALUES (?, ?, ?)")
	if _, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.Avatar); err != nil {
		return persistence(err)
	}
	return nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	query := s.rebind("SELECT id, username, avatar FROM users WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.Avatar)
	if err != nil {
		return nil, notFoundOr(err, "user "+id)
	}
	return &user, nil
}

// CreateChat inserts the chat and its two participant rows in one
// transaction. A second chat for the same pair violates pair_key.
func (s *SQLStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	if len(chat.ParticipantIDs) != 2 {
		return fmt.Errorf("%w: chat needs two participants", apperr.ErrValidation)
	}
	seenBy, err := json.Marshal(nonNil(chat.SeenBy))
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence(err)
	}
	defer tx.Rollback()

	query := s.rebind("INSERT INTO chats (id, pair_key, last_message, seen_by, created_at) VALUES (?, ?, ?, ?, ?)")
	pairKey := store.PairKey(chat.ParticipantIDs[0], chat.ParticipantIDs[1])
	if _, err := tx.ExecContext(ctx, query, chat.ID, pairKey, chat.LastMessage, string(seenBy), chat.CreatedAt.UTC()); err != nil {
		return persistence(err)
	}

	query = s.rebind("INSERT INTO participants (chat_id, user_id) VALUES (?, ?)")
	for _, userID := range chat.ParticipantIDs {
		if _, err := tx.ExecContext(ctx, query, chat.ID, userID); err != nil {
			return persistence(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistence(err)
	}
	return nil
}

func (s *SQLStore) GetChatByParticipants(ctx context.Context, userA, userB string) (*models.Chat, error) {
	query := s.rebind("SELECT id, last_message, seen_by, created_at FROM chats WHERE pair_key = ?")
	chat, err := s.scanChat(s.db.QueryRowContext(ctx, query, store.PairKey(userA, userB)))
	if err != nil {
		return nil, notFoundOr(err, "chat")
	}
	if err := s.loadParticipants(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *SQLStore) GetChatForParticipant(ctx context.Context, chatID, userID string) (*models.Chat, error) {
	query := s.rebind(`
		SELECT c.id, c.last_message, c.seen_by, c.created_at
		FROM chats c
		JOIN participants p ON c.id = p.chat_id
		WHERE c.id = ? AND p.user_id = ?
	`)
	chat, err := s.scanChat(s.db.QueryRowContext(ctx, query, chatID, userID))
	if err != nil {
		return nil, notFoundOr(err, "chat "+chatID)
	}
	if err := s.loadParticipants(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// ListChatsForUser returns the user's chats, newest first. Participants are
// fetched after the chat rows are closed so a single-connection pool
// never waits on itself.
func (s *SQLStore) ListChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	query := s.rebind(`
		SELECT c.id, c.last_message, c.seen_by, c.created_at
		FROM chats c
		JOIN participants p ON c.id = p.chat_id
		WHERE p.user_id = ?
		ORDER BY c.created_at DESC, c.id DESC
	`)
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, persistence(err)
	}

	var chats []models.Chat
	for rows.Next() {
		chat, err := s.scanChat(rows)
		if err != nil {
			rows.Close()
			return nil, persistence(err)
		}
		chats = append(chats, *chat)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, persistence(err)
	}
	rows.Close()

	for i := range chats {
		if err := s.loadParticipants(ctx, &chats[i]); err != nil {
			return nil, err
		}
	}
	return chats, nil
}

func (s *SQLStore) SetChatSeenBy(ctx context.Context, chatID string, seenBy []string) error {
	encoded, err := json.Marshal(nonNil(seenBy))
	if err != nil {
		return err
	}
	query := s.rebind("UPDATE chats SET seen_by = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, string(encoded), chatID)
	if err != nil {
		return persistence(err)
	}
	return expectOneRow(res, "chat "+chatID)
}

func (s *SQLStore) SetChatLastMessage(ctx context.Context, chatID, lastMessage string, seenBy []string) error {
	encoded, err := json.Marshal(nonNil(seenBy))
	if err != nil {
		return err
	}
	query := s.rebind("UPDATE chats SET last_message = ?, seen_by = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, lastMessage, string(encoded), chatID)
	if err != nil {
		return persistence(err)
	}
	return expectOneRow(res, "chat "+chatID)
}

func (s *SQLStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := s.rebind("INSERT INTO messages (id, chat_id, sender_id, text, created_at) VALUES (?, ?, ?, ?, ?)")
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.ChatID, msg.SenderID, msg.Text, msg.CreatedAt.UTC()); err != nil {
		return persistence(err)
	}
	return nil
}

func (s *SQLStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	query := s.rebind("SELECT id, chat_id, sender_id, text, created_at FROM messages WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, id).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "message "+id)
	}
	return &m, nil
}

func (s *SQLStore) UpdateMessageText(ctx context.Context, id, text string) error {
	query := s.rebind("UPDATE messages SET text = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, text, id)
	if err != nil {
		return persistence(err)
	}
	return expectOneRow(res, "message "+id)
}

func (s *SQLStore) DeleteMessage(ctx context.Context, id string) error {
	query := s.rebind("DELETE FROM messages WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return persistence(err)
	}
	return expectOneRow(res, "message "+id)
}

func (s *SQLStore) ListMessagesByChat(ctx context.Context, chatID string) ([]models.Message, error) {
	query := s.rebind(`
		SELECT id, chat_id, sender_id, text, created_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY created_at DESC, id DESC
	`)
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, persistence(err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.CreatedAt); err != nil {
			return nil, persistence(err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence(err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanChat(row rowScanner) (*models.Chat, error) {
	var (
		chat        models.Chat
		lastMessage sql.NullString
		seenBy      string
		createdAt   time.Time
	)
	if err := row.Scan(&chat.ID, &lastMessage, &seenBy, &createdAt); err != nil {
		return nil, err
	}
	if lastMessage.Valid {
		chat.LastMessage = &lastMessage.String
	}
	if err := json.Unmarshal([]byte(seenBy), &chat.SeenBy); err != nil {
		return nil, fmt.Errorf("decode seen_by: %w", err)
	}
	chat.SeenBy = nonNil(chat.SeenBy)
	chat.CreatedAt = createdAt
	return &chat, nil
}

func (s *SQLStore) loadParticipants(ctx context.Context, chat *models.Chat) error {
	query := s.rebind("SELECT user_id FROM participants WHERE chat_id = ? ORDER BY user_id")
	rows, err := s.db.QueryContext(ctx, query, chat.ID)
	if err != nil {
		return persistence(err)
	}
	defer rows.Close()

	chat.ParticipantIDs = nil
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return persistence(err)
		}
		chat.ParticipantIDs = append(chat.ParticipantIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return persistence(err)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
