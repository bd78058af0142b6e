package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/storage"
)

type parquetEntry struct {
	ID               int64  `parquet:"id"`
	SessionID        string `parquet:"session_id"`
	Owner            string `parquet:"owner"`
	Target           string `parquet:"target"`
	DatabaseType     string `parquet:"database_type"`
	Input            string `parquet:"input"`
	SQL              string `parquet:"sql"`
	Source           string `parquet:"source"`
	RowCount         int64  `parquet:"row_count"`
	DurationMs       int64  `parquet:"duration_ms"`
	ExecutedAtUnixMs int64  `parquet:"executed_at_unix_ms"`
}

// EncodeParquet writes entries as one parquet file.
func EncodeParquet(entries []Entry) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("entries are required")
	}
	rows := make([]parquetEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, parquetEntry{
			ID:               entry.ID,
			SessionID:        entry.SessionID,
			Owner:            entry.Owner,
			Target:           entry.Target,
			DatabaseType:     string(entry.DatabaseType),
			Input:            entry.Input,
			SQL:              entry.SQL,
			Source:           string(entry.Source),
			RowCount:         entry.RowCount,
			DurationMs:       entry.Duration.Milliseconds(),
			ExecutedAtUnixMs: entry.ExecutedAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetEntry](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a file written by EncodeParquet.
func DecodeParquet(data []byte) ([]Entry, error) {
	reader := parquet.NewGenericReader[parquetEntry](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()

	rows := make([]parquetEntry, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	out := make([]Entry, 0, n)
	for _, row := range rows[:n] {
		out = append(out, Entry{
			ID:           row.ID,
			SessionID:    row.SessionID,
			Owner:        row.Owner,
			Target:       row.Target,
			DatabaseType: catalog.DatabaseType(row.DatabaseType),
			Input:        row.Input,
			SQL:          row.SQL,
			Source:       Source(row.Source),
			RowCount:     row.RowCount,
			Duration:     time.Duration(row.DurationMs) * time.Millisecond,
			ExecutedAt:   time.UnixMilli(row.ExecutedAtUnixMs).UTC(),
		})
	}
	return out, nil
}

// Archiver uploads a closed session's history to an object store.
type Archiver struct {
	store storage.ObjectStore
	now   func() time.Time
}

func NewArchiver(store storage.ObjectStore) *Archiver {
	return &Archiver{store: store, now: time.Now}
}

// Archive writes the entries of one session. It returns an empty key when
// there is nothing to archive.
func (a *Archiver) Archive(ctx context.Context, sessionID string, entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}
	key, err := storage.BuildArchivePath(string(entries[0].DatabaseType), sessionID, a.now())
	if err != nil {
		return "", err
	}
	data, err := EncodeParquet(entries)
	if err != nil {
		return "", err
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: "application/vnd.apache.parquet"}); err != nil {
		return "", fmt.Errorf("upload history archive: %w", err)
	}
	return key, nil
}
