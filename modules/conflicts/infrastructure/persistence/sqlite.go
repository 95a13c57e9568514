package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// sqliteTimeLayout is fixed-width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(raw string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		return time.Parse(time.RFC3339Nano, raw)
	}
	return t, nil
}

// OpenSQLite opens (creating if needed) a local conflict database and applies
// migrations. ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("persistence: sqlite path is required")
	}
	base := "file:" + path
	if path == ":memory:" {
		base = "file::memory:"
	}
	dsn := base + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer to avoid SQLITE_BUSY; also keeps an in-memory database on
	// one connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := Migrate(ctx, db, DialectSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteConflict(row sqlScanner) (types.Conflict, error) {
	var r conflictRecord
	var detectedAt, resolvedAt string
	if err := row.Scan(
		&r.ID,
		&r.TenantID,
		&r.EntityType,
		&r.EntityID,
		&r.Type,
		&r.Severity,
		&r.Status,
		&r.LocalSnapshot,
		&r.RemoteSnapshot,
		&detectedAt,
		&resolvedAt,
		&r.Resolution,
		&r.IgnoredReason,
		&r.Version,
	); err != nil {
		return types.Conflict{}, err
	}
	t, err := parseSQLiteTime(detectedAt)
	if err != nil {
		return types.Conflict{}, err
	}
	r.DetectedAt = t
	if resolvedAt != "" {
		rt, err := parseSQLiteTime(resolvedAt)
		if err != nil {
			return types.Conflict{}, err
		}
		r.ResolvedAt = &rt
	}
	return r.toConflict()
}
