package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// NewPostgresDB opens a pgx pool for connString and exposes it through
// database/sql so the repositories stay driver-agnostic.
func NewPostgresDB(ctx context.Context, connString string) (*Database, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	// Pool configuration
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &Database{
		DB:      stdlib.OpenDBFromPool(pool),
		Dialect: DialectPostgres,
		closers: []func(){pool.Close},
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	log.Info().Str("host", config.ConnConfig.Host).Msg("Connected to PostgreSQL")
	return db, nil
}

func postgresSchema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id           VARCHAR(36) NOT NULL UNIQUE,
			sender_id    VARCHAR(255) PRIMARY KEY,
			provider     VARCHAR(32) NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
			id         BIGSERIAL PRIMARY KEY,
			session_id VARCHAR(36) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			role       VARCHAR(16) NOT NULL,
			content    TEXT NOT NULL,
			image_url  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id, id)`,
		`CREATE TABLE IF NOT EXISTS message_usage (
			sender_id         VARCHAR(255) NOT NULL,
			day               VARCHAR(10) NOT NULL,
			messages_received INT NOT NULL DEFAULT 0,
			messages_sent     INT NOT NULL DEFAULT 0,
			PRIMARY KEY (sender_id, day)
		)`,
	}
}
