package backend

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/askdb/askdb/internal/catalog"
)

const testIntrospectQuery = `SELECT table_name, column_name, data_type FROM schema_rows ORDER BY 1`

func testVariant(dsn string) Variant {
	return Variant{
		Type:       catalog.SQLite,
		DriverName: "sqlmock",
		BuildDSN: func(Target) (string, error) {
			return dsn, nil
		},
		IntrospectQuery: testIntrospectQuery,
	}
}

func TestConnectIntrospectsSchema(t *testing.T) {
	db, mock, err := sqlmock.NewWithDSN("askdb_connect_ok")
	if err != nil {
		t.Fatalf("sqlmock.NewWithDSN() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery(regexp.QuoteMeta(testIntrospectQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "data_type"}).
			AddRow("customers", "id", "INTEGER").
			AddRow("customers", "name", nil).
			AddRow("orders", "id", "INTEGER"))

	b := New(testVariant("askdb_connect_ok"), Options{ConnectTimeout: time.Second})
	t.Cleanup(func() { _ = b.Close() })
	cat, err := b.Connect(context.Background(), Target{Type: catalog.SQLite, Path: "ignored.db"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if cat.DatabaseType() != catalog.SQLite {
		t.Fatalf("DatabaseType() = %q", cat.DatabaseType())
	}
	tables := cat.Tables()
	if len(tables) != 2 {
		t.Fatalf("len(Tables()) = %d, want 2", len(tables))
	}
	if tables[0].Name != "customers" || len(tables[0].Columns) != 2 {
		t.Fatalf("tables[0] = %+v", tables[0])
	}
	if tables[0].Columns[1].DeclaredType != "" {
		t.Fatalf("nil declared type = %q, want empty", tables[0].Columns[1].DeclaredType)
	}
	if len(cat.SelectedTables()) != 2 {
		t.Fatalf("SelectedTables() = %v", cat.SelectedTableNames())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestConnectWrapsIntrospectionFailure(t *testing.T) {
	db, mock, err := sqlmock.NewWithDSN("askdb_connect_fail")
	if err != nil {
		t.Fatalf("sqlmock.NewWithDSN() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectQuery(regexp.QuoteMeta(testIntrospectQuery)).WillReturnError(errors.New("permission denied"))

	b := New(testVariant("askdb_connect_fail"), Options{})
	_, err = b.Connect(context.Background(), Target{})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want ConnectionError", err)
	}
	if _, err := b.Execute(context.Background(), "SELECT 1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Execute() after failed connect error = %v, want ErrNotConnected", err)
	}
}

func TestConnectRejectsMismatchedType(t *testing.T) {
	b := New(testVariant("unused"), Options{})
	_, err := b.Connect(context.Background(), Target{Type: catalog.MySQL})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Connect() error = %v, want ConnectionError", err)
	}
}

func TestExecuteQueryReturnsNormalizedRows(t *testing.T) {
	db, mock := newSQLMock(t)
	b := NewWithDB(testVariant(""), db, Options{})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM customers")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow(int64(1), []byte("alice")).
			AddRow(int64(2), []byte("bob")))

	result, err := b.Execute(context.Background(), "SELECT id, name FROM customers")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[1] != "name" {
		t.Fatalf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("len(Rows) = %d", len(result.Rows))
	}
	if result.Rows[0][1] != "alice" {
		t.Fatalf("Rows[0][1] = %#v, want string", result.Rows[0][1])
	}
	if result.Truncated {
		t.Fatal("Truncated = true")
	}
	assertSQLMock(t, mock)
}

func TestExecuteTruncatesAtMaxRows(t *testing.T) {
	db, mock := newSQLMock(t)
	b := NewWithDB(testVariant(""), db, Options{MaxRows: 2})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT n FROM numbers")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1).AddRow(2).AddRow(3))

	result, err := b.Execute(context.Background(), "SELECT n FROM numbers")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("rows = %d truncated = %v", len(result.Rows), result.Truncated)
	}
}

func TestExecuteNonQueryReportsRowsAffected(t *testing.T) {
	db, mock := newSQLMock(t)
	b := NewWithDB(testVariant(""), db, Options{})

	mock.ExpectExec(regexp.QuoteMeta("UPDATE t SET a = 1 WHERE id > 2")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	result, err := b.Execute(context.Background(), "UPDATE t SET a = 1 WHERE id > 2")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.RowsAffected != 3 {
		t.Fatalf("RowsAffected = %d, want 3", result.RowsAffected)
	}
	if len(result.Columns) != 0 || len(result.Rows) != 0 {
		t.Fatalf("result = %+v, want no tabular data", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReturningClauseUsesQuery(t *testing.T) {
	db, mock := newSQLMock(t)
	b := NewWithDB(testVariant(""), db, Options{})

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO t (a) VALUES (1) RETURNING id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	result, err := b.Execute(context.Background(), "INSERT INTO t (a) VALUES (1) RETURNING id")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != int64(9) {
		t.Fatalf("Rows = %v", result.Rows)
	}
	assertSQLMock(t, mock)
}

func TestExecuteStripsTrailingSemicolons(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	b := NewWithDB(testVariant(""), db, Options{})

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	if _, err := b.Execute(context.Background(), "SELECT 1 ;;"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestExecuteWrapsDriverErrors(t *testing.T) {
	db, mock := newSQLMock(t)
	b := NewWithDB(testVariant(""), db, Options{})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM missing")).
		WillReturnError(errors.New(`no such table: missing`))

	_, err := b.Execute(context.Background(), "SELECT * FROM missing")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
	if execErr.SQL != "SELECT * FROM missing" {
		t.Fatalf("ExecutionError.SQL = %q", execErr.SQL)
	}
	if execErr.Error() != "no such table: missing" {
		t.Fatalf("ExecutionError.Error() = %q", execErr.Error())
	}
}

func TestExecuteHonorsTimeout(t *testing.T) {
	db, mock := newSQLMock(t)
	b := NewWithDB(testVariant(""), db, Options{ExecuteTimeout: 20 * time.Millisecond})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_sleep(10)")).
		WillDelayFor(time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))

	start := time.Now()
	_, err := b.Execute(context.Background(), "SELECT pg_sleep(10)")
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("Execute() took %s, timeout not applied", time.Since(start))
	}
}

func TestExecuteRejectsEmptyStatement(t *testing.T) {
	db, _ := newSQLMock(t)
	b := NewWithDB(testVariant(""), db, Options{})
	_, err := b.Execute(context.Background(), "  ;  ")
	if !errors.Is(err, ErrEmptyStatement) {
		t.Fatalf("Execute() error = %v, want ErrEmptyStatement", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectClose()
	b := NewWithDB(testVariant(""), db, Options{})
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, err := b.Execute(context.Background(), "SELECT 1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Execute() after Close error = %v", err)
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
