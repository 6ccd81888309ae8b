package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Database is a *sql.DB plus the dialect its queries must be written for.
type Database struct {
	DB      *sql.DB
	Dialect Dialect
	closers []func()
}

// OpenDatabase prefers Postgres when databaseURL is set and falls back to the
// SQLite file at sqlitePath.
func OpenDatabase(ctx context.Context, databaseURL, sqlitePath string) (*Database, error) {
	if databaseURL != "" {
		return NewPostgresDB(ctx, databaseURL)
	}
	return NewSQLiteDB(ctx, sqlitePath)
}

// Rebind rewrites '?' placeholders to '$n' for Postgres.
func (d *Database) Rebind(query string) string {
	if d.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d *Database) Migrate(ctx context.Context) error {
	stmts := sqliteSchema()
	if d.Dialect == DialectPostgres {
		stmts = postgresSchema()
	}
	for _, stmt := range stmts {
		if _, err := d.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (d *Database) Ping(ctx context.Context) error {
	return d.DB.PingContext(ctx)
}

func (d *Database) Close() error {
	err := d.DB.Close()
	for _, c := range d.closers {
		c()
	}
	return err
}
