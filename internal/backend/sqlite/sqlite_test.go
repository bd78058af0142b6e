package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
)

func TestBuildDSN(t *testing.T) {
	dsn, err := BuildDSN(backend.Target{Path: "/data/app.db", Params: map[string]string{"mode": "ro"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "file:/data/app.db?"))
	assert.Contains(t, dsn, "mode=ro")
	assert.Contains(t, dsn, "_foreign_keys=on")

	_, err = BuildDSN(backend.Target{})
	assert.True(t, errors.Is(err, backend.ErrIncompleteTarget))
}

func TestConnectIntrospectAndExecute(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shop.db")

	b, err := backend.Open(catalog.SQLite, backend.Options{MaxRows: 10})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	cat, err := b.Connect(ctx, backend.Target{Type: catalog.SQLite, Path: path})
	require.NoError(t, err)
	assert.Empty(t, cat.Tables())

	_, err = b.Execute(ctx, "CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL)")
	require.NoError(t, err)
	res, err := b.Execute(ctx, "INSERT INTO customers (name) VALUES ('alice'), ('bob');")
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowsAffected)

	cat, err = b.Introspect(ctx)
	require.NoError(t, err)
	require.Len(t, cat.Tables(), 1)
	table := cat.Tables()[0]
	assert.Equal(t, "customers", table.Name)
	assert.Equal(t, []string{"id", "name"}, table.ColumnNames())
	assert.Equal(t, "INTEGER", table.Columns[0].DeclaredType)

	res, err = b.Execute(ctx, "SELECT name FROM customers ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "alice", res.Rows[0][0])

	_, err = b.Execute(ctx, "SELECT * FROM missing")
	var execErr *backend.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Error(), "no such table")
}
