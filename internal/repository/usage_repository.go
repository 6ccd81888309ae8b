package repository

import (
	"context"
	"fmt"
	"time"

	"dermabot/internal/infrastructure"
)

const dayFormat = "2006-01-02"

type UsageRepository struct {
	db *infrastructure.Database
}

type DailyUsage struct {
	Day              string `json:"day"`
	MessagesReceived int    `json:"messages_received"`
	MessagesSent     int    `json:"messages_sent"`
}

func NewUsageRepository(db *infrastructure.Database) *UsageRepository {
	return &UsageRepository{db: db}
}

// IncrementReceived counts one inbound turn for today
func (r *UsageRepository) IncrementReceived(ctx context.Context, senderID string) error {
	return r.increment(ctx, senderID, 1, 0)
}

// IncrementSent counts one delivered reply for today
func (r *UsageRepository) IncrementSent(ctx context.Context, senderID string) error {
	return r.increment(ctx, senderID, 0, 1)
}

func (r *UsageRepository) increment(ctx context.Context, senderID string, received, sent int) error {
	today := time.Now().UTC().Format(dayFormat)
	_, err := r.db.DB.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO message_usage (sender_id, day, messages_received, messages_sent)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (sender_id, day)
		DO UPDATE SET messages_received = message_usage.messages_received + excluded.messages_received,
		              messages_sent = message_usage.messages_sent + excluded.messages_sent
	`), senderID, today, received, sent)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// TodayTotals sums today's counters across all senders.
func (r *UsageRepository) TodayTotals(ctx context.Context) (DailyUsage, error) {
	u := DailyUsage{Day: time.Now().UTC().Format(dayFormat)}
	err := r.db.DB.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COALESCE(SUM(messages_received), 0), COALESCE(SUM(messages_sent), 0)
		FROM message_usage WHERE day = ?
	`), u.Day).Scan(&u.MessagesReceived, &u.MessagesSent)
	return u, err
}

// History returns the sender's usage for the last N days, oldest first.
func (r *UsageRepository) History(ctx context.Context, senderID string, days int) ([]DailyUsage, error) {
	start := time.Now().UTC().AddDate(0, 0, -days).Format(dayFormat)
	rows, err := r.db.DB.QueryContext(ctx, r.db.Rebind(`
		SELECT day, messages_received, messages_sent
		FROM message_usage
		WHERE sender_id = ? AND day >= ?
		ORDER BY day ASC
	`), senderID, start)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := []DailyUsage{}
	for rows.Next() {
		var u DailyUsage
		if err := rows.Scan(&u.Day, &u.MessagesReceived, &u.MessagesSent); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
