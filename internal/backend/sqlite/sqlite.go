// Package sqlite registers the SQLite backend variant on mattn/go-sqlite3.
package sqlite

import (
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
)

const introspectQuery = `
SELECT m.name AS table_name, p.name AS column_name, p.type AS data_type
FROM sqlite_master m
JOIN pragma_table_info(m.name) p
WHERE m.type IN ('table', 'view')
  AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

func init() {
	backend.Register(Variant())
}

func Variant() backend.Variant {
	return backend.Variant{
		Type:            catalog.SQLite,
		DriverName:      "sqlite3",
		BuildDSN:        BuildDSN,
		IntrospectQuery: introspectQuery,
	}
}

// BuildDSN renders a file: URI for the database path. Database is accepted as
// an alias for Path.
func BuildDSN(target backend.Target) (string, error) {
	path := strings.TrimSpace(target.Path)
	if path == "" {
		path = strings.TrimSpace(target.Database)
	}
	if path == "" {
		return "", fmt.Errorf("%w: path is required", backend.ErrIncompleteTarget)
	}

	query := url.Values{}
	query.Set("_busy_timeout", "5000")
	query.Set("_foreign_keys", "on")
	for key, value := range target.Params {
		query.Set(key, value)
	}
	return "file:" + path + "?" + query.Encode(), nil
}
