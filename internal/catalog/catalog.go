// Package catalog holds the schema metadata of a connected database and the
// user's current table selection.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownTable = errors.New("catalog: unknown table")

type DatabaseType string

const (
	SQLServer  DatabaseType = "sqlserver"
	MySQL      DatabaseType = "mysql"
	PostgreSQL DatabaseType = "postgresql"
	SQLite     DatabaseType = "sqlite"
	DuckDB     DatabaseType = "duckdb"
)

var databaseTypes = []DatabaseType{SQLServer, MySQL, PostgreSQL, SQLite, DuckDB}

// DatabaseTypes returns every supported engine in declaration order.
func DatabaseTypes() []DatabaseType {
	out := make([]DatabaseType, len(databaseTypes))
	copy(out, databaseTypes)
	return out
}

// ParseDatabaseType accepts canonical names and the common driver aliases.
func ParseDatabaseType(raw string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqlserver", "mssql", "sql server":
		return SQLServer, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgresql", "postgres", "pg", "pgsql":
		return PostgreSQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "duckdb":
		return DuckDB, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", raw)
	}
}

func (t DatabaseType) Valid() bool {
	for _, known := range databaseTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t DatabaseType) DisplayName() string {
	switch t {
	case SQLServer:
		return "SQL Server"
	case MySQL:
		return "MySQL"
	case PostgreSQL:
		return "PostgreSQL"
	case SQLite:
		return "SQLite"
	case DuckDB:
		return "DuckDB"
	default:
		return string(t)
	}
}

type Column struct {
	Name         string `json:"name"`
	DeclaredType string `json:"declared_type"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// ColumnNames returns the table's column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

// Catalog is created on connect and discarded on disconnect. Tables are
// immutable; the selection is mutated by the user while resolutions read it.
type Catalog struct {
	databaseType DatabaseType
	tables       []Table
	index        map[string]int

	mu       sync.RWMutex
	selected map[string]struct{}
}

// New builds a catalog with every table selected. Duplicate table names keep
// the first definition.
func New(databaseType DatabaseType, tables []Table) *Catalog {
	c := &Catalog{
		databaseType: databaseType,
		tables:       make([]Table, 0, len(tables)),
		index:        make(map[string]int, len(tables)),
		selected:     make(map[string]struct{}, len(tables)),
	}
	for _, table := range tables {
		if table.Name == "" {
			continue
		}
		if _, exists := c.index[table.Name]; exists {
			continue
		}
		columns := make([]Column, len(table.Columns))
		copy(columns, table.Columns)
		c.index[table.Name] = len(c.tables)
		c.tables = append(c.tables, Table{Name: table.Name, Columns: columns})
		c.selected[table.Name] = struct{}{}
	}
	return c
}

func (c *Catalog) DatabaseType() DatabaseType {
	return c.databaseType
}

func (c *Catalog) Tables() []Table {
	out := make([]Table, len(c.tables))
	copy(out, c.tables)
	return out
}

func (c *Catalog) Table(name string) (Table, bool) {
	idx, ok := c.index[name]
	if !ok {
		return Table{}, false
	}
	return c.tables[idx], true
}

func (c *Catalog) TableNames() []string {
	names := make([]string, 0, len(c.tables))
	for _, table := range c.tables {
		names = append(names, table.Name)
	}
	return names
}

// SelectedTables returns the selected tables in catalog order.
func (c *Catalog) SelectedTables() []Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Table, 0, len(c.selected))
	for _, table := range c.tables {
		if _, ok := c.selected[table.Name]; ok {
			out = append(out, table)
		}
	}
	return out
}

func (c *Catalog) SelectedTableNames() []string {
	selected := c.SelectedTables()
	names := make([]string, 0, len(selected))
	for _, table := range selected {
		names = append(names, table.Name)
	}
	return names
}

// SelectedColumnNames returns the distinct column names of the selected
// tables, first occurrence wins.
func (c *Catalog) SelectedColumnNames() []string {
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, table := range c.SelectedTables() {
		for _, column := range table.Columns {
			if _, dup := seen[column.Name]; dup {
				continue
			}
			seen[column.Name] = struct{}{}
			names = append(names, column.Name)
		}
	}
	return names
}

// SelectTables replaces the selection. Every name must belong to the
// catalog; on error the previous selection is kept.
func (c *Catalog) SelectTables(names ...string) error {
	next := make(map[string]struct{}, len(names))
	var unknown []string
	for _, name := range names {
		if _, ok := c.index[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		next[name] = struct{}{}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: %s", ErrUnknownTable, strings.Join(unknown, ", "))
	}

	c.mu.Lock()
	c.selected = next
	c.mu.Unlock()
	return nil
}

func (c *Catalog) SelectAll() {
	next := make(map[string]struct{}, len(c.tables))
	for _, table := range c.tables {
		next[table.Name] = struct{}{}
	}
	c.mu.Lock()
	c.selected = next
	c.mu.Unlock()
}

func (c *Catalog) ClearSelection() {
	c.mu.Lock()
	c.selected = map[string]struct{}{}
	c.mu.Unlock()
}

func (c *Catalog) IsSelected(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.selected[name]
	return ok
}
