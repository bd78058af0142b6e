package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/sqltext"
)

type Options struct {
	ConnectTimeout time.Duration
	ExecuteTimeout time.Duration
	MaxRows        int
	MaxOpenConns   int
}

// SQLBackend implements Backend over database/sql for any registered Variant.
type SQLBackend struct {
	variant Variant
	opts    Options

	mu sync.RWMutex
	db *sql.DB
}

func New(variant Variant, opts Options) *SQLBackend {
	return &SQLBackend{variant: variant, opts: opts}
}

// NewWithDB wraps an already open handle, skipping Connect's open and ping.
func NewWithDB(variant Variant, db *sql.DB, opts Options) *SQLBackend {
	return &SQLBackend{variant: variant, opts: opts, db: db}
}

func (b *SQLBackend) Type() catalog.DatabaseType {
	return b.variant.Type
}

func (b *SQLBackend) Connect(ctx context.Context, target Target) (*catalog.Catalog, error) {
	if target.Type != "" && target.Type != b.variant.Type {
		return nil, b.connErr(fmt.Errorf("target type %q does not match backend %q", target.Type, b.variant.Type))
	}
	dsn := strings.TrimSpace(target.DSN)
	if dsn == "" {
		built, err := b.variant.BuildDSN(target)
		if err != nil {
			return nil, b.connErr(err)
		}
		dsn = built
	}

	b.mu.Lock()
	if b.db != nil {
		b.mu.Unlock()
		return nil, b.connErr(ErrAlreadyConnected)
	}
	db, err := sql.Open(b.variant.DriverName, dsn)
	if err != nil {
		b.mu.Unlock()
		return nil, b.connErr(fmt.Errorf("open: %w", err))
	}
	if b.opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(b.opts.MaxOpenConns)
	}

	pingCtx, cancel := b.withTimeout(ctx, b.opts.ConnectTimeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		_ = db.Close()
		b.mu.Unlock()
		return nil, b.connErr(fmt.Errorf("ping: %w", err))
	}
	b.db = db
	b.mu.Unlock()

	introspectCtx, cancel := b.withTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()
	cat, err := b.Introspect(introspectCtx)
	if err != nil {
		_ = b.Close()
		return nil, b.connErr(err)
	}
	return cat, nil
}

func (b *SQLBackend) Introspect(ctx context.Context) (*catalog.Catalog, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, b.variant.IntrospectQuery)
	if err != nil {
		return nil, fmt.Errorf("introspect schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []catalog.Table
	index := map[string]int{}
	for rows.Next() {
		var tableName, columnName string
		var declaredType sql.NullString
		if err := rows.Scan(&tableName, &columnName, &declaredType); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		pos, ok := index[tableName]
		if !ok {
			pos = len(tables)
			index[tableName] = pos
			tables = append(tables, catalog.Table{Name: tableName})
		}
		tables[pos].Columns = append(tables[pos].Columns, catalog.Column{
			Name:         columnName,
			DeclaredType: declaredType.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}
	return catalog.New(b.variant.Type, tables), nil
}

// Execute runs sqlText without inspecting it for safety; callers gate it.
func (b *SQLBackend) Execute(ctx context.Context, sqlText string) (result Result, err error) {
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		observability.ObserveExecution(string(b.variant.Type), result.Duration, err)
		if err != nil {
			result = Result{}
			err = &ExecutionError{SQL: sqlText, Err: err}
		}
	}()

	statement := sqltext.TrimTrailingSemicolons(sqlText)
	if statement == "" {
		return Result{}, ErrEmptyStatement
	}
	db, err := b.handle()
	if err != nil {
		return Result{}, err
	}

	execCtx, cancel := b.withTimeout(ctx, b.opts.ExecuteTimeout)
	defer cancel()

	if returnsRows(statement) {
		return b.query(execCtx, db, statement)
	}
	res, err := db.ExecContext(execCtx, statement)
	if err != nil {
		return Result{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = -1
	}
	return Result{Columns: []string{}, Rows: [][]any{}, RowsAffected: affected}, nil
}

func (b *SQLBackend) query(ctx context.Context, db *sql.DB, statement string) (Result, error) {
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if b.opts.MaxRows > 0 && len(result.Rows) >= b.opts.MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	result.RowsAffected = int64(len(result.Rows))
	return result, nil
}

func (b *SQLBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *SQLBackend) handle() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrNotConnected
	}
	return b.db, nil
}

func (b *SQLBackend) connErr(err error) error {
	return &ConnectionError{Type: b.variant.Type, Err: err}
}

func (b *SQLBackend) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// returnsRows decides between query and exec semantics from the first
// statement's leading keyword and any RETURNING/OUTPUT clause.
func returnsRows(statement string) bool {
	statements, err := sqltext.Statements(statement, sqltext.Standard)
	if err != nil || len(statements) == 0 {
		return true
	}
	first := statements[0]
	keyword, _ := first.Leading()
	if sqltext.ReturnsRows(keyword) {
		return true
	}
	return first.HasKeyword("RETURNING") || first.HasKeyword("OUTPUT")
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case time.Time:
			normalized[i] = typed.UTC().Format(time.RFC3339Nano)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
