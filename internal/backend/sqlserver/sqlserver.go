// Package sqlserver registers the Microsoft SQL Server backend variant.
package sqlserver

import (
	"fmt"
	"net/url"
	"strconv"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
)

const DefaultPort = 1433

// Tables outside dbo are reported schema-qualified.
const introspectQuery = `
SELECT
    CASE WHEN s.name = 'dbo' THEN t.name ELSE s.name + '.' + t.name END AS table_name,
    c.name AS column_name,
    tp.name AS data_type
FROM sys.tables t
INNER JOIN sys.schemas s ON t.schema_id = s.schema_id
INNER JOIN sys.columns c ON c.object_id = t.object_id
INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
WHERE t.is_ms_shipped = 0
ORDER BY s.name, t.name, c.column_id`

func init() {
	backend.Register(Variant())
}

func Variant() backend.Variant {
	return backend.Variant{
		Type:            catalog.SQLServer,
		DriverName:      "sqlserver",
		DefaultPort:     DefaultPort,
		BuildDSN:        BuildDSN,
		IntrospectQuery: introspectQuery,
	}
}

// BuildDSN renders a sqlserver:// URL and checks it with the driver's parser.
func BuildDSN(target backend.Target) (string, error) {
	if target.Host == "" {
		return "", fmt.Errorf("%w: host is required", backend.ErrIncompleteTarget)
	}
	port := target.Port
	if port == 0 {
		port = DefaultPort
	}

	query := url.Values{}
	if target.Database != "" {
		query.Set("database", target.Database)
	}
	for key, value := range target.Params {
		query.Set(key, value)
	}

	u := url.URL{
		Scheme:   "sqlserver",
		Host:     target.Host + ":" + strconv.Itoa(port),
		RawQuery: query.Encode(),
	}
	if target.User != "" {
		u.User = url.UserPassword(target.User, target.Password)
	}

	dsn := u.String()
	if _, err := msdsn.Parse(dsn); err != nil {
		return "", fmt.Errorf("invalid sql server connection settings: %w", err)
	}
	return dsn, nil
}
