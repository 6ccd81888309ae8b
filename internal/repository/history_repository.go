package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dermabot/internal/entities"
	"dermabot/internal/infrastructure"

	"github.com/google/uuid"
)

// HistoryRepository stores sessions and their transcripts.
type HistoryRepository struct {
	db *infrastructure.Database
}

// SessionSummary is a session row with its transcript size, for the admin API.
type SessionSummary struct {
	entities.Session
	Messages int `json:"messages"`
}

func NewHistoryRepository(db *infrastructure.Database) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// EnsureSession returns the sender's session, creating it on first contact,
// and bumps last_seen_at.
func (r *HistoryRepository) EnsureSession(ctx context.Context, senderID string, provider entities.Provider) (entities.Session, error) {
	now := time.Now().UTC()
	_, err := r.db.DB.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sessions (id, sender_id, provider, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (sender_id)
		DO UPDATE SET last_seen_at = excluded.last_seen_at, provider = excluded.provider
	`), uuid.NewString(), senderID, string(provider), now, now)
	if err != nil {
		return entities.Session{}, fmt.Errorf("upsert session: %w", err)
	}

	s, err := r.GetSession(ctx, senderID)
	if err != nil {
		return entities.Session{}, err
	}
	if s == nil {
		return entities.Session{}, fmt.Errorf("session for %s vanished after upsert", senderID)
	}
	return *s, nil
}

// GetSession returns nil, nil when the sender has no session.
func (r *HistoryRepository) GetSession(ctx context.Context, senderID string) (*entities.Session, error) {
	var s entities.Session
	var provider string
	err := r.db.DB.QueryRowContext(ctx, r.db.Rebind(
		"SELECT id, sender_id, provider, created_at, last_seen_at FROM sessions WHERE sender_id = ?"),
		senderID).Scan(&s.ID, &s.SenderID, &provider, &s.CreatedAt, &s.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.Provider = entities.Provider(provider)
	return &s, nil
}

// Append writes entries in order within one transaction.
func (r *HistoryRepository) Append(ctx context.Context, entries ...entities.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(
		"INSERT INTO session_messages (session_id, role, content, image_url, created_at) VALUES (?, ?, ?, ?, ?)"))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, e.SessionID, string(e.Role), e.Content, e.ImageURL, created.UTC()); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit of the newest entries, oldest first.
func (r *HistoryRepository) Recent(ctx context.Context, sessionID string, limit int) ([]entities.HistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.DB.QueryContext(ctx, r.db.Rebind(`
		SELECT session_id, role, content, image_url, created_at
		FROM session_messages
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?
	`), sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []entities.HistoryEntry
	for rows.Next() {
		var e entities.HistoryEntry
		var role string
		if err := rows.Scan(&e.SessionID, &role, &e.Content, &e.ImageURL, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Role = entities.Role(role)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListSessions returns sessions by most recent activity.
func (r *HistoryRepository) ListSessions(ctx context.Context, limit, offset int) ([]SessionSummary, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.DB.QueryContext(ctx, r.db.Rebind(`
		SELECT s.id, s.sender_id, s.provider, s.created_at, s.last_seen_at,
		       (SELECT COUNT(*) FROM session_messages m WHERE m.session_id = s.id)
		FROM sessions s
		ORDER BY s.last_seen_at DESC
		LIMIT ? OFFSET ?
	`), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionSummary{}
	for rows.Next() {
		var s SessionSummary
		var provider string
		if err := rows.Scan(&s.ID, &s.SenderID, &provider, &s.CreatedAt, &s.LastSeenAt, &s.Messages); err != nil {
			return nil, err
		}
		s.Provider = entities.Provider(provider)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// CountSessions returns the number of known senders.
func (r *HistoryRepository) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := r.db.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n)
	return n, err
}
