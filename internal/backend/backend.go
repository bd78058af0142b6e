// Package backend connects to a target database, introspects its schema and
// executes statements. Engines differ only in configuration data registered
// as a Variant; one database/sql implementation serves all of them.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/catalog"
)

var (
	ErrNotConnected     = errors.New("backend: not connected")
	ErrUnsupportedType  = errors.New("backend: unsupported database type")
	ErrEmptyStatement   = errors.New("backend: statement is empty")
	ErrIncompleteTarget = errors.New("backend: connection target is incomplete")
	ErrAlreadyConnected = errors.New("backend: already connected")
)

// Target describes where to connect. A non-empty DSN is passed to the driver
// as is; otherwise the variant builds one from the structured fields.
type Target struct {
	Type     catalog.DatabaseType `json:"database_type"`
	DSN      string               `json:"dsn,omitempty"`
	Host     string               `json:"host,omitempty"`
	Port     int                  `json:"port,omitempty"`
	Database string               `json:"database,omitempty"`
	User     string               `json:"user,omitempty"`
	Password string               `json:"-"`
	Path     string               `json:"path,omitempty"`
	Params   map[string]string    `json:"params,omitempty"`
}

// Fingerprint identifies the database t points at without revealing it.
// User and password do not take part, except where they are embedded in a
// DSN.
func (t Target) Fingerprint() string {
	path := strings.TrimSpace(t.Path)
	if path != "" {
		path = filepath.Clean(path)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		string(t.Type),
		strings.TrimSpace(t.DSN),
		strings.ToLower(strings.TrimSpace(t.Host)),
		strconv.Itoa(t.Port),
		strings.TrimSpace(t.Database),
		path,
	}, "\x00")))
	return hex.EncodeToString(sum[:16])
}

// Result is the tabular outcome of one execution. Statements that do not
// return rows report RowsAffected and no columns.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	Truncated    bool
	Duration     time.Duration
}

type Backend interface {
	Connect(ctx context.Context, target Target) (*catalog.Catalog, error)
	Introspect(ctx context.Context) (*catalog.Catalog, error)
	Execute(ctx context.Context, sqlText string) (Result, error)
	Close() error
}

type ConnectionError struct {
	Type catalog.DatabaseType
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Type.DisplayName(), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ExecutionError carries the statement and the driver's message. The message
// is opaque to callers.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
