package cli

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/infrastructure/persistence"
)

const appName = "conflictctl"

// storeTarget names the database the CLI opens: a SQLite path or a Postgres
// connection string.
type storeTarget struct {
	dialect persistence.Dialect
	dsn     string
}

// resolveStoreTarget applies the storage precedence: --sqlite (or
// CONFLICTS_SQLITE_PATH), then a sqlite: or file: DATABASE_URL, then a
// Postgres DATABASE_URL, then DB_* parts.
func resolveStoreTarget(sqlitePath string) (storeTarget, error) {
	if p := strings.TrimSpace(sqlitePath); p != "" {
		return storeTarget{dialect: persistence.DialectSQLite, dsn: p}, nil
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return targetFromURL(v)
	}
	dsn, err := pgDSNFromParts()
	if err != nil {
		return storeTarget{}, err
	}
	return storeTarget{dialect: persistence.DialectPostgres, dsn: dsn}, nil
}

func targetFromURL(raw string) (storeTarget, error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return storeTarget{}, types.NewValidationError("DATABASE_URL has no scheme")
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3", "file":
		path := strings.TrimPrefix(rest, "//")
		if path == "" {
			return storeTarget{}, types.NewValidationError("DATABASE_URL names no sqlite path")
		}
		return storeTarget{dialect: persistence.DialectSQLite, dsn: path}, nil
	case "postgres", "postgresql":
		return storeTarget{dialect: persistence.DialectPostgres, dsn: raw}, nil
	default:
		return storeTarget{}, types.NewValidationError(fmt.Sprintf("unsupported DATABASE_URL scheme %q", scheme))
	}
}

func pgDSNFromParts() (string, error) {
	host := getenvDefault("DB_HOST", "127.0.0.1")
	port := getenvDefault("DB_PORT", "5432")
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", types.NewValidationError(fmt.Sprintf("invalid DB_PORT %q", port))
	}
	user := getenvDefault("DB_USER", "app")
	pass := getenvDefault("DB_PASSWORD", "app")
	name := getenvDefault("DB_NAME", "catalog_conflicts")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	q := u.Query()
	q.Set("sslmode", getenvDefault("DB_SSLMODE", "disable"))
	q.Set("application_name", appName)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
