//go:build integration

package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolatedSchema opens ASKDB_TEST_HISTORY_DSN with search_path pinned to a
// throwaway schema, which is dropped when the test ends.
func isolatedSchema(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("ASKDB_TEST_HISTORY_DSN"))
	if dsn == "" {
		t.Skip("ASKDB_TEST_HISTORY_DSN is not set")
	}
	admin, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	schema := fmt.Sprintf("askdb_it_%d", time.Now().UnixNano())
	_, err = admin.Exec(`CREATE SCHEMA ` + schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		if _, err := admin.Exec(`DROP SCHEMA ` + schema + ` CASCADE`); err != nil {
			t.Errorf("drop schema %s: %v", schema, err)
		}
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	query := u.Query()
	query.Set("search_path", schema)
	u.RawQuery = query.Encode()

	db, err := sql.Open("pgx", u.String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, schema
}

func tablesIn(t *testing.T, db *sql.DB, schema string) []string {
	t.Helper()
	rows, err := db.Query(`SELECT table_name FROM information_schema.tables WHERE table_schema = $1 ORDER BY table_name`, schema)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestRunnerMigratesHistorySchemaUpAndDown(t *testing.T) {
	db, schema := isolatedSchema(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	runner := NewRunner()

	applied, err := runner.Up(ctx, db, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	status, err := runner.Status(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, status.Applied)
	assert.Equal(t, []int64{2, 3}, status.Pending)

	applied, err = runner.Up(ctx, db, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, []string{"askdb_schema_migrations", "history_archive", "query_history"}, tablesIn(t, db, schema))

	_, err = db.ExecContext(ctx, `INSERT INTO query_history (session_id, owner, target_fingerprint, database_type, input_text, sql_text, source, row_count, duration_ms, executed_at)
VALUES ('s-1', 'alice', 'fp-1', 'sqlite', 'SELECT 1', 'SELECT 1', 'direct', 1, 3, now())`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO query_history (session_id, database_type, input_text, sql_text, source, row_count, duration_ms, executed_at)
VALUES ('s-1', 'sqlite', 'x', 'SELECT 1', 'guessed', 1, 3, now())`)
	assert.Error(t, err, "source check constraint")

	applied, err = runner.Up(ctx, db, 0)
	require.NoError(t, err)
	assert.Zero(t, applied)

	rolledBack, err := runner.Down(ctx, db, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, rolledBack)
	assert.Equal(t, []string{"askdb_schema_migrations", "query_history"}, tablesIn(t, db, schema))

	rolledBack, err = runner.Down(ctx, db, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, rolledBack)
	assert.Equal(t, []string{"askdb_schema_migrations"}, tablesIn(t, db, schema))
}
