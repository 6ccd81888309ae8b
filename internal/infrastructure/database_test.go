package infrastructure

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := &Database{Dialect: DialectPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &Database{Dialect: DialectSQLite}
	assert.Equal(t, "SELECT ?", lite.Rebind("SELECT ?"))
}

func TestNewSQLiteDBMigratesIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.sqlite")
	ctx := context.Background()

	db, err := NewSQLiteDB(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(ctx))
	var n int
	require.NoError(t, db.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('sessions', 'session_messages', 'message_usage')").Scan(&n))
	assert.Equal(t, 3, n)
}
