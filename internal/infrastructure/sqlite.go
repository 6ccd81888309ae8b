package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// NewSQLiteDB opens (creating if needed) the session database at path.
func NewSQLiteDB(ctx context.Context, path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single connection for SQLite
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := &Database{DB: sqlDB, Dialect: DialectSQLite}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	log.Info().Str("path", path).Msg("Session database ready")
	return db, nil
}

func sqliteSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT NOT NULL UNIQUE,
			sender_id    TEXT PRIMARY KEY,
			provider     TEXT NOT NULL,
			created_at   TIMESTAMP NOT NULL,
			last_seen_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			image_url  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, id)`,
		`CREATE TABLE IF NOT EXISTS message_usage (
			sender_id         TEXT NOT NULL,
			day               TEXT NOT NULL,
			messages_received INTEGER NOT NULL DEFAULT 0,
			messages_sent     INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (sender_id, day)
		)`,
	}
}
