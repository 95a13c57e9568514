package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func newMigrationProvider(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	var (
		fsys    fs.FS
		gdial   goose.Dialect
		subPath string
	)
	switch dialect {
	case DialectPostgres:
		fsys, gdial, subPath = postgresMigrations, goose.DialectPostgres, "migrations/postgres"
	case DialectSQLite:
		fsys, gdial, subPath = sqliteMigrations, goose.DialectSQLite3, "migrations/sqlite"
	default:
		return nil, fmt.Errorf("persistence: unknown dialect %q", dialect)
	}
	sub, err := fs.Sub(fsys, subPath)
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(gdial, db, sub)
}

// Migrate applies every pending migration and returns the versions applied.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) ([]int64, error) {
	p, err := newMigrationProvider(db, dialect)
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, err
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// MigrationVersion reports the highest applied migration version.
func MigrationVersion(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	p, err := newMigrationProvider(db, dialect)
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}
