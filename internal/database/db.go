package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Open connects and pings. SQLite is limited to one connection so that an
// in-memory database is shared by every caller.
func Open(ctx context.Context, driverName, dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	avatar TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	pair_key TEXT UNIQUE NOT NULL,
	last_message TEXT,
	seen_by TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	chat_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (chat_id, user_id),
	FOREIGN KEY (chat_id) REFERENCES chats(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	FOREIGN KEY (chat_id) REFERENCES chats(id)
);

CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
`

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func Rebind(driverName, query string) string {
	if driverName != DriverPostgres {
		return query
	}
	n := strings.Count(query, "?")
	for i := 1; i <= n; i++ {
		query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
	}
	return query
}
