// Package mysql registers the MySQL backend variant.
package mysql

import (
	"fmt"
	"net"
	"strconv"

	driver "github.com/go-sql-driver/mysql"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
)

const DefaultPort = 3306

const introspectQuery = `
SELECT table_name, column_name, column_type
FROM information_schema.columns
WHERE table_schema = DATABASE()
ORDER BY table_name, ordinal_position`

func init() {
	backend.Register(Variant())
}

func Variant() backend.Variant {
	return backend.Variant{
		Type:            catalog.MySQL,
		DriverName:      "mysql",
		DefaultPort:     DefaultPort,
		BuildDSN:        BuildDSN,
		IntrospectQuery: introspectQuery,
	}
}

// BuildDSN renders a go-sql-driver DSN. The database is required because
// introspection is scoped to DATABASE().
func BuildDSN(target backend.Target) (string, error) {
	if target.Host == "" {
		return "", fmt.Errorf("%w: host is required", backend.ErrIncompleteTarget)
	}
	if target.Database == "" {
		return "", fmt.Errorf("%w: database is required", backend.ErrIncompleteTarget)
	}
	port := target.Port
	if port == 0 {
		port = DefaultPort
	}

	cfg := driver.NewConfig()
	cfg.User = target.User
	cfg.Passwd = target.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(target.Host, strconv.Itoa(port))
	cfg.DBName = target.Database
	cfg.ParseTime = true
	if len(target.Params) > 0 {
		cfg.Params = make(map[string]string, len(target.Params))
		for key, value := range target.Params {
			cfg.Params[key] = value
		}
	}
	return cfg.FormatDSN(), nil
}
