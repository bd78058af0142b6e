// Package postgres registers the PostgreSQL backend variant on pgx's
// database/sql driver.
package postgres

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
)

const DefaultPort = 5432

// Tables outside public are reported schema-qualified.
const introspectQuery = `
SELECT
    CASE WHEN c.table_schema = 'public' THEN c.table_name ELSE c.table_schema || '.' || c.table_name END AS table_name,
    c.column_name,
    c.data_type
FROM information_schema.columns c
INNER JOIN information_schema.tables t
    ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema NOT IN ('pg_catalog', 'information_schema')
  AND c.table_schema NOT LIKE 'pg_toast%'
  AND t.table_type IN ('BASE TABLE', 'VIEW')
ORDER BY c.table_schema, c.table_name, c.ordinal_position`

func init() {
	backend.Register(Variant())
}

func Variant() backend.Variant {
	return backend.Variant{
		Type:            catalog.PostgreSQL,
		DriverName:      "pgx",
		DefaultPort:     DefaultPort,
		BuildDSN:        BuildDSN,
		IntrospectQuery: introspectQuery,
	}
}

// BuildDSN renders a postgres:// URL and checks it with pgx's parser.
func BuildDSN(target backend.Target) (string, error) {
	if target.Host == "" {
		return "", fmt.Errorf("%w: host is required", backend.ErrIncompleteTarget)
	}
	port := target.Port
	if port == 0 {
		port = DefaultPort
	}

	query := url.Values{}
	for key, value := range target.Params {
		query.Set(key, value)
	}
	if query.Get("sslmode") == "" {
		query.Set("sslmode", "prefer")
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     target.Host + ":" + strconv.Itoa(port),
		Path:     "/" + target.Database,
		RawQuery: query.Encode(),
	}
	if target.User != "" {
		u.User = url.UserPassword(target.User, target.Password)
	}

	dsn := u.String()
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("invalid postgres connection settings: %w", err)
	}
	return dsn, nil
}
