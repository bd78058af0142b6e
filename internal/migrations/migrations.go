// Package migrations owns the PostgreSQL schema of the query history store.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const migrationTable = "askdb_schema_migrations"

var migrationNamePattern = regexp.MustCompile(`^([0-9]+)_.+\.(up|down)\.sql$`)

// Runner applies the history store schema.
type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// Status lists applied and pending versions.
type Status struct {
	Applied []int64
	Pending []int64
}

type migration struct {
	Version int64
	UpSQL   string
	DownSQL string
}

// plan is the embedded migrations next to the versions recorded in db.
type plan struct {
	known   []migration
	applied []int64
}

func (p plan) isApplied(version int64) bool {
	return slices.Contains(p.applied, version)
}

func (p plan) pending() []migration {
	var out []migration
	for _, item := range p.known {
		if !p.isApplied(item.Version) {
			out = append(out, item)
		}
	}
	return out
}

func (r *Runner) plan(ctx context.Context, db *sql.DB, order string) (plan, error) {
	known, err := loadMigrations(r.fsys)
	if err != nil {
		return plan{}, err
	}
	if err := ensureMigrationTable(ctx, db); err != nil {
		return plan{}, err
	}
	applied, err := queryVersions(ctx, db, order)
	if err != nil {
		return plan{}, err
	}
	return plan{known: known, applied: applied}, nil
}

// Up applies pending migrations oldest first; steps <= 0 applies all of them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	p, err := r.plan(ctx, db, "ASC")
	if err != nil {
		return 0, err
	}
	pending := p.pending()
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}
	for i, item := range pending {
		if err := runStep(ctx, db, item.Version, item.UpSQL, true); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// Down rolls back the newest applied migrations; steps <= 0 means one.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	p, err := r.plan(ctx, db, "DESC")
	if err != nil {
		return 0, err
	}

	done := 0
	for _, version := range p.applied {
		if done >= steps {
			break
		}
		idx := slices.IndexFunc(p.known, func(m migration) bool { return m.Version == version })
		if idx < 0 {
			return done, fmt.Errorf("applied migration %d is missing from source", version)
		}
		if err := runStep(ctx, db, version, p.known[idx].DownSQL, false); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) (Status, error) {
	p, err := r.plan(ctx, db, "ASC")
	if err != nil {
		return Status{}, err
	}
	status := Status{Applied: p.applied}
	for _, item := range p.pending() {
		status.Pending = append(status.Pending, item.Version)
	}
	return status, nil
}

func ensureMigrationTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+migrationTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

// runStep executes script and records (up) or forgets (down) version in one
// transaction.
func runStep(ctx context.Context, db *sql.DB, version int64, script string, up bool) error {
	verb, bookkeeping := "apply", `INSERT INTO `+migrationTable+` (version) VALUES ($1)`
	if !up {
		verb, bookkeeping = "rollback", `DELETE FROM `+migrationTable+` WHERE version = $1`
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s of migration %d: %w", verb, version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("%s migration %d: %w", verb, version, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record %s of migration %d: %w", verb, version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s of migration %d: %w", verb, version, err)
	}
	return nil
}

func queryVersions(ctx context.Context, db *sql.DB, order string) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+migrationTable+` ORDER BY version `+order)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read applied versions: %w", err)
	}
	return versions, nil
}

// loadMigrations pairs NNN_name.up.sql with NNN_name.down.sql and sorts by
// version. A version without both halves is an error.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*migration{}
	for _, entry := range entries {
		matches := migrationNamePattern.FindStringSubmatch(entry.Name())
		if entry.IsDir() || matches == nil {
			continue
		}
		version, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &migration{Version: version}
			byVersion[version] = item
		}
		if matches[2] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, item := range byVersion {
		switch {
		case strings.TrimSpace(item.UpSQL) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", item.Version)
		case strings.TrimSpace(item.DownSQL) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", item.Version)
		}
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b migration) int {
		switch {
		case a.Version < b.Version:
			return -1
		case a.Version > b.Version:
			return 1
		}
		return 0
	})
	return out, nil
}
