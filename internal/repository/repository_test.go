package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"dermabot/internal/entities"
	"dermabot/internal/infrastructure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *infrastructure.Database {
	t.Helper()
	db, err := infrastructure.NewSQLiteDB(context.Background(), filepath.Join(t.TempDir(), "test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnsureSessionIsStablePerSender(t *testing.T) {
	repo := NewHistoryRepository(newTestDB(t))
	ctx := context.Background()

	first, err := repo.EnsureSession(ctx, "whatsapp:+15550001", entities.ProviderTwilio)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, entities.ProviderTwilio, first.Provider)

	again, err := repo.EnsureSession(ctx, "whatsapp:+15550001", entities.ProviderTwilio)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.False(t, again.LastSeenAt.Before(first.LastSeenAt))

	other, err := repo.EnsureSession(ctx, "15550002", entities.ProviderWhatsAppCloud)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	n, err := repo.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	missing, err := repo.GetSession(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHistoryAppendAndRecent(t *testing.T) {
	repo := NewHistoryRepository(newTestDB(t))
	ctx := context.Background()
	s, err := repo.EnsureSession(ctx, "alice", entities.ProviderWhatsAppCloud)
	require.NoError(t, err)

	for i, text := range []string{"one", "two", "three", "four"} {
		role := entities.RoleUser
		if i%2 == 1 {
			role = entities.RoleAssistant
		}
		require.NoError(t, repo.Append(ctx, entities.HistoryEntry{SessionID: s.ID, Role: role, Content: text}))
	}

	recent, err := repo.Recent(ctx, s.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "two", recent[0].Content)
	assert.Equal(t, entities.RoleAssistant, recent[0].Role)
	assert.Equal(t, "four", recent[2].Content)

	none, err := repo.Recent(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListSessionsCountsMessages(t *testing.T) {
	repo := NewHistoryRepository(newTestDB(t))
	ctx := context.Background()

	a, _ := repo.EnsureSession(ctx, "a", entities.ProviderTwilio)
	time.Sleep(5 * time.Millisecond)
	_, _ = repo.EnsureSession(ctx, "b", entities.ProviderTwilio)
	require.NoError(t, repo.Append(ctx,
		entities.HistoryEntry{SessionID: a.ID, Role: entities.RoleUser, Content: "hi", ImageURL: "https://img/x.jpg"},
		entities.HistoryEntry{SessionID: a.ID, Role: entities.RoleAssistant, Content: "hello"},
	))

	list, err := repo.ListSessions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].SenderID)
	assert.Equal(t, 2, list[1].Messages)
}

func TestUsageCounters(t *testing.T) {
	repo := NewUsageRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.IncrementReceived(ctx, "alice"))
	require.NoError(t, repo.IncrementReceived(ctx, "alice"))
	require.NoError(t, repo.IncrementSent(ctx, "alice"))
	require.NoError(t, repo.IncrementReceived(ctx, "bob"))

	totals, err := repo.TodayTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, totals.MessagesReceived)
	assert.Equal(t, 1, totals.MessagesSent)

	hist, err := repo.History(ctx, "alice", 7)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 2, hist[0].MessagesReceived)
}
