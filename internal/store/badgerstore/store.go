// Package badgerstore is an embedded store.Store on BadgerDB, for single
// node deployments without a SQL server.
//
// Key layout:
//
//	user:{id}                          -> user JSON
//	chat:{id}                          -> chat JSON
//	pair:{pairKey}                     -> chat id
//	member:{len}:{userID}:{chatID}     -> empty
//	msg:{chatID}:{unixNano019}:{msgID} -> message JSON
//	msgid:{msgID}                      -> msg key
//
// The zero padded timestamp keeps a chat's messages sorted by creation time,
// so a reverse prefix scan yields newest first.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AlinhoWhat/SHousBackend/internal/apperr"
	"github.com/AlinhoWhat/SHousBackend/internal/models"
	"github.com/AlinhoWhat/SHousBackend/internal/store"
	"github.com/dgraph-io/badger/v4"
)

type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

var _ store.Store = (*BadgerStore)(nil)

// Open opens the database at path. An empty path keeps everything in memory.
func Open(path string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db, log: log}, nil
}

func (s *BadgerStore) Close() error {
	s.log.Info("Closing BadgerDB...")
	return s.db.Close()
}

// chatRecord is the stored form of a chat; PairKey backs the pair index.
type chatRecord struct {
	ID             string    `json:"id"`
	PairKey        string    `json:"pairKey"`
	ParticipantIDs []string  `json:"participantIds"`
	CreatedAt      time.Time `json:"createdAt"`
	LastMessage    *string   `json:"lastMessage"`
	SeenBy         []string  `json:"seenBy"`
}

func (r chatRecord) toChat() *models.Chat {
	seenBy := r.SeenBy
	if seenBy == nil {
		seenBy = []string{}
	}
	return &models.Chat{
		ID:             r.ID,
		ParticipantIDs: append([]string(nil), r.ParticipantIDs...),
		CreatedAt:      r.CreatedAt,
		LastMessage:    r.LastMessage,
		SeenBy:         seenBy,
	}
}

func userKey(id string) []byte               { return []byte("user:" + id) }
func chatKey(id string) []byte               { return []byte("chat:" + id) }
func pairKey(key string) []byte              { return []byte("pair:" + key) }
func memberKey(userID, chatID string) []byte { return append(memberPrefix(userID), chatID...) }
func memberPrefix(userID string) []byte      { return []byte(fmt.Sprintf("member:%d:%s:", len(userID), userID)) }
func msgPrefix(chatID string) []byte         { return []byte("msg:" + chatID + ":") }
func msgIDKey(id string) []byte              { return []byte("msgid:" + id) }

func msgKey(m *models.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s", m.ChatID, m.CreatedAt.UnixNano(), m.ID))
}

// wrap maps badger errors onto the apperr kinds.
func wrap(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("%s: %w", what, apperr.ErrNotFound)
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation), errors.Is(err, apperr.ErrPersistence):
		return err
	default:
		return fmt.Errorf("%w: %w", apperr.ErrPersistence, err)
	}
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func (s *BadgerStore) CreateUser(_ context.Context, user *models.User) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey(user.ID)); err == nil {
			return fmt.Errorf("%w: user %s already exists", apperr.ErrPersistence, user.ID)
		}
		return setJSON(txn, userKey(user.ID), user)
	})
	return wrap(err, "user "+user.ID)
}

func (s *BadgerStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &user)
	})
	if err != nil {
		return nil, wrap(err, "user "+id)
	}
	return &user, nil
}

func (s *BadgerStore) CreateChat(_ context.Context, chat *models.Chat) error {
	if len(chat.ParticipantIDs) != 2 {
		return fmt.Errorf("%w: chat needs two participants", apperr.ErrValidation)
	}
	rec := chatRecord{
		ID:             chat.ID,
		PairKey:        store.PairKey(chat.ParticipantIDs[0], chat.ParticipantIDs[1]),
		ParticipantIDs: chat.ParticipantIDs,
		CreatedAt:      chat.CreatedAt.UTC(),
		LastMessage:    chat.LastMessage,
		SeenBy:         chat.SeenBy,
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(pairKey(rec.PairKey)); err == nil {
			return fmt.Errorf("%w: chat for %s already exists", apperr.ErrPersistence, rec.PairKey)
		}
		if err := setJSON(txn, chatKey(rec.ID), rec); err != nil {
			return err
		}
		if err := txn.Set(pairKey(rec.PairKey), []byte(rec.ID)); err != nil {
			return err
		}
		for _, userID := range rec.ParticipantIDs {
			if err := txn.Set(memberKey(userID, rec.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap(err, "chat "+chat.ID)
}

func (s *BadgerStore) GetChatByParticipants(_ context.Context, userA, userB string) (*models.Chat, error) {
	var rec chatRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(store.PairKey(userA, userB)))
		if err != nil {
			return err
		}
		chatID, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, chatKey(string(chatID)), &rec)
	})
	if err != nil {
		return nil, wrap(err, "chat")
	}
	return rec.toChat(), nil
}

func (s *BadgerStore) GetChatForParticipant(_ context.Context, chatID, userID string) (*models.Chat, error) {
	var rec chatRecord
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(memberKey(userID, chatID)); err != nil {
			return err
		}
		return getJSON(txn, chatKey(chatID), &rec)
	})
	if err != nil {
		return nil, wrap(err, "chat "+chatID)
	}
	return rec.toChat(), nil
}

func (s *BadgerStore) ListChatsForUser(_ context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := memberPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}

		for _, id := range ids {
			var rec chatRecord
			if err := getJSON(txn, chatKey(id), &rec); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					s.log.Warn("Dangling chat membership", "user_id", userID, "chat_id", id)
					continue
				}
				return err
			}
			chats = append(chats, *rec.toChat())
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "chats for "+userID)
	}

	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].ID > chats[j].ID
		}
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})
	return chats, nil
}

// updateChat is a read-modify-write of the chat record. Concurrent writers
// conflict in badger; the loser is replayed so the last writer wins.
func (s *BadgerStore) updateChat(chatID string, mutate func(*chatRecord)) error {
	for {
		err := s.db.Update(func(txn *badger.Txn) error {
			var rec chatRecord
			if err := getJSON(txn, chatKey(chatID), &rec); err != nil {
				return err
			}
			mutate(&rec)
			return setJSON(txn, chatKey(chatID), rec)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return wrap(err, "chat "+chatID)
	}
}

func (s *BadgerStore) SetChatSeenBy(_ context.Context, chatID string, seenBy []string) error {
	return s.updateChat(chatID, func(rec *chatRecord) {
		rec.SeenBy = seenBy
	})
}

func (s *BadgerStore) SetChatLastMessage(_ context.Context, chatID, lastMessage string, seenBy []string) error {
	return s.updateChat(chatID, func(rec *chatRecord) {
		rec.LastMessage = &lastMessage
		rec.SeenBy = seenBy
	})
}

func (s *BadgerStore) CreateMessage(_ context.Context, msg *models.Message) error {
	stored := *msg
	stored.CreatedAt = msg.CreatedAt.UTC()
	key := msgKey(&stored)

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, key, stored); err != nil {
			return err
		}
		return txn.Set(msgIDKey(stored.ID), key)
	})
	return wrap(err, "message "+msg.ID)
}

// messageKey resolves the primary key of a message through its id index.
func messageKey(txn *badger.Txn, id string) ([]byte, error) {
	item, err := txn.Get(msgIDKey(id))
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *BadgerStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := s.db.View(func(txn *badger.Txn) error {
		key, err := messageKey(txn, id)
		if err != nil {
			return err
		}
		return getJSON(txn, key, &msg)
	})
	if err != nil {
		return nil, wrap(err, "message "+id)
	}
	return &msg, nil
}

func (s *BadgerStore) UpdateMessageText(_ context.Context, id, text string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key, err := messageKey(txn, id)
		if err != nil {
			return err
		}
		var msg models.Message
		if err := getJSON(txn, key, &msg); err != nil {
			return err
		}
		msg.Text = text
		return setJSON(txn, key, msg)
	})
	return wrap(err, "message "+id)
}

func (s *BadgerStore) DeleteMessage(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key, err := messageKey(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		return txn.Delete(msgIDKey(id))
	})
	return wrap(err, "message "+id)
}

func (s *BadgerStore) ListMessagesByChat(_ context.Context, chatID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := msgPrefix(chatID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the last key sharing the prefix.
		seek := append(append([]byte(nil), prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var m models.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "messages for "+chatID)
	}
	return messages, nil
}
