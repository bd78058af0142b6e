package mysql

import (
	"errors"
	"testing"

	driver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
)

func TestRegistered(t *testing.T) {
	variant, ok := backend.Lookup(catalog.MySQL)
	require.True(t, ok)
	assert.Equal(t, "mysql", variant.DriverName)
	assert.Contains(t, variant.IntrospectQuery, "DATABASE()")
}

func TestBuildDSNRoundTrips(t *testing.T) {
	dsn, err := BuildDSN(backend.Target{
		Host:     "mysql.internal",
		Port:     3307,
		Database: "shop",
		User:     "reader",
		Password: "secret",
		Params:   map[string]string{"sql_select_limit": "1000"},
	})
	require.NoError(t, err)

	cfg, err := driver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Net)
	assert.Equal(t, "mysql.internal:3307", cfg.Addr)
	assert.Equal(t, "shop", cfg.DBName)
	assert.Equal(t, "reader", cfg.User)
	assert.Equal(t, "secret", cfg.Passwd)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "1000", cfg.Params["sql_select_limit"])
}

func TestBuildDSNDefaultsPort(t *testing.T) {
	dsn, err := BuildDSN(backend.Target{Host: "h", Database: "d"})
	require.NoError(t, err)
	cfg, err := driver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "h:3306", cfg.Addr)
}

func TestBuildDSNRequiresDatabase(t *testing.T) {
	_, err := BuildDSN(backend.Target{Host: "h"})
	assert.True(t, errors.Is(err, backend.ErrIncompleteTarget))
}
