// Package duckdb registers the DuckDB backend variant.
package duckdb

import (
	"net/url"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
)

// Tables outside main are reported schema-qualified.
const introspectQuery = `
SELECT
    CASE WHEN table_schema = 'main' THEN table_name ELSE table_schema || '.' || table_name END AS table_name,
    column_name,
    data_type
FROM information_schema.columns
WHERE table_catalog = current_database()
  AND table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_schema, table_name, ordinal_position`

func init() {
	backend.Register(Variant())
}

func Variant() backend.Variant {
	return backend.Variant{
		Type:            catalog.DuckDB,
		DriverName:      "duckdb",
		BuildDSN:        BuildDSN,
		IntrospectQuery: introspectQuery,
	}
}

// BuildDSN returns the database file path with driver settings as query
// parameters. An empty path opens an in-memory database.
func BuildDSN(target backend.Target) (string, error) {
	path := strings.TrimSpace(target.Path)
	if path == "" {
		path = strings.TrimSpace(target.Database)
	}
	if len(target.Params) == 0 {
		return path, nil
	}
	query := url.Values{}
	for key, value := range target.Params {
		query.Set(key, value)
	}
	return path + "?" + query.Encode(), nil
}
