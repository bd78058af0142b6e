// Package history records successfully resolved queries so later sessions
// can reuse them as suggestions.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/catalog"
)

var ErrInvalidEntry = errors.New("history: invalid entry")

type Source string

const (
	// SourceDirect is user input that executed as typed.
	SourceDirect Source = "direct"
	// SourceTranslated is SQL produced by the AI translator.
	SourceTranslated Source = "translated"
	// SourceCopied is SQL the user copied from a result.
	SourceCopied Source = "copied"
)

func (s Source) Valid() bool {
	switch s {
	case SourceDirect, SourceTranslated, SourceCopied:
		return true
	default:
		return false
	}
}

type Entry struct {
	ID           int64                `json:"id,omitempty"`
	SessionID    string               `json:"session_id"`
	Owner        string               `json:"owner"`
	Target       string               `json:"target"`
	DatabaseType catalog.DatabaseType `json:"database_type"`
	Input        string               `json:"input"`
	SQL          string               `json:"sql"`
	Source       Source               `json:"source"`
	RowCount     int64                `json:"row_count"`
	Duration     time.Duration        `json:"duration"`
	ExecutedAt   time.Time            `json:"executed_at"`
}

func (e Entry) Validate() error {
	switch {
	case strings.TrimSpace(e.SQL) == "":
		return errors.Join(ErrInvalidEntry, errors.New("sql is required"))
	case !e.DatabaseType.Valid():
		return errors.Join(ErrInvalidEntry, errors.New("database type is invalid"))
	case !e.Source.Valid():
		return errors.Join(ErrInvalidEntry, errors.New("source is invalid"))
	}
	return nil
}

type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Scope selects the history one session may reuse: entries recorded by the
// same owner against the same target database.
type Scope struct {
	Owner        string
	DatabaseType catalog.DatabaseType
	// Target is the connection fingerprint, see backend.Target.Fingerprint.
	Target string
}

func (s Scope) matches(e Entry) bool {
	return e.Owner == s.Owner && e.DatabaseType == s.DatabaseType && e.Target == s.Target
}

type Lister interface {
	// Recent returns up to limit entries in scope, newest first.
	Recent(ctx context.Context, scope Scope, limit int) ([]Entry, error)
	// Session returns every entry of one session in execution order.
	Session(ctx context.Context, sessionID string) ([]Entry, error)
}

type Store interface {
	Recorder
	Lister
}

// ArchiveLog is implemented by stores that keep an index of uploaded
// archives.
type ArchiveLog interface {
	RecordArchive(ctx context.Context, sessionID, objectKey string, entries int) error
}

// Queries returns the distinct SQL texts of entries in their given order.
func Queries(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		sql := strings.TrimSpace(entry.SQL)
		if sql == "" {
			continue
		}
		if _, ok := seen[sql]; ok {
			continue
		}
		seen[sql] = struct{}{}
		out = append(out, sql)
	}
	return out
}
