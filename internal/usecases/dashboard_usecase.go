package usecases

import (
	"context"
	"errors"

	"dermabot/internal/entities"
	"dermabot/internal/repository"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionReader is the read side of the session store used by the admin API.
type SessionReader interface {
	ListSessions(ctx context.Context, limit, offset int) ([]repository.SessionSummary, error)
	GetSession(ctx context.Context, senderID string) (*entities.Session, error)
	Recent(ctx context.Context, sessionID string, limit int) ([]entities.HistoryEntry, error)
	CountSessions(ctx context.Context) (int, error)
}

// UsageReader reads the daily counters.
type UsageReader interface {
	TodayTotals(ctx context.Context) (repository.DailyUsage, error)
}

// StatsSource reports live runtime statistics.
type StatsSource interface {
	Stats() map[string]interface{}
}

type DashboardUsecase struct {
	sessions SessionReader
	usage    UsageReader
	router   StatsSource
	limiter  StatsSource
}

func NewDashboardUsecase(sessions SessionReader, usage UsageReader, router, limiter StatsSource) *DashboardUsecase {
	return &DashboardUsecase{sessions: sessions, usage: usage, router: router, limiter: limiter}
}

func (u *DashboardUsecase) ListSessions(ctx context.Context, limit, offset int) ([]repository.SessionSummary, error) {
	return u.sessions.ListSessions(ctx, limit, offset)
}

// SessionHistory returns the sender's session and up to limit recent entries.
func (u *DashboardUsecase) SessionHistory(ctx context.Context, senderID string, limit int) (*entities.Session, []entities.HistoryEntry, error) {
	session, err := u.sessions.GetSession(ctx, senderID)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, ErrSessionNotFound
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := u.sessions.Recent(ctx, session.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	if entries == nil {
		entries = []entities.HistoryEntry{}
	}
	return session, entries, nil
}

func (u *DashboardUsecase) Stats(ctx context.Context) (map[string]interface{}, error) {
	total, err := u.sessions.CountSessions(ctx)
	if err != nil {
		return nil, err
	}
	today, err := u.usage.TodayTotals(ctx)
	if err != nil {
		return nil, err
	}
	stats := map[string]interface{}{
		"sessions": total,
		"today":    today,
	}
	if u.router != nil {
		stats["router"] = u.router.Stats()
	}
	if u.limiter != nil {
		stats["rate_limiter"] = u.limiter.Stats()
	}
	return stats, nil
}
