package history

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/storage"
)

func TestEntryValidate(t *testing.T) {
	valid := Entry{SQL: "SELECT 1", DatabaseType: catalog.SQLite, Source: SourceDirect}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	invalid := []Entry{
		{SQL: "  ", DatabaseType: catalog.SQLite, Source: SourceDirect},
		{SQL: "SELECT 1", DatabaseType: "oracle", Source: SourceDirect},
		{SQL: "SELECT 1", DatabaseType: catalog.SQLite, Source: "typed"},
	}
	for _, entry := range invalid {
		if err := entry.Validate(); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("Validate(%+v) error = %v, want ErrInvalidEntry", entry, err)
		}
	}
}

func TestQueriesDedupesInOrder(t *testing.T) {
	got := Queries([]Entry{{SQL: "SELECT 2"}, {SQL: " SELECT 1 "}, {SQL: "SELECT 2"}, {SQL: ""}})
	if want := []string{"SELECT 2", "SELECT 1"}; !slices.Equal(got, want) {
		t.Fatalf("Queries() = %v, want %v", got, want)
	}
}

func TestMemoryStoreRecentAndSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	record := func(session string, dbType catalog.DatabaseType, sql string) {
		t.Helper()
		if err := store.Record(ctx, Entry{SessionID: session, DatabaseType: dbType, SQL: sql, Source: SourceDirect}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	record("s1", catalog.MySQL, "SELECT 1")
	record("s1", catalog.SQLite, "SELECT 2")
	record("s2", catalog.MySQL, "SELECT 3")
	record("s2", catalog.MySQL, "SELECT 4")

	mysql := Scope{DatabaseType: catalog.MySQL}
	recent, err := store.Recent(ctx, mysql, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if got := Queries(recent); !slices.Equal(got, []string{"SELECT 4", "SELECT 3"}) {
		t.Fatalf("Recent() = %v (oldest entry should be evicted)", got)
	}
	if !recent[0].ExecutedAt.Equal(fixed) || recent[0].ID != 4 {
		t.Fatalf("Recent()[0] = %+v", recent[0])
	}

	limited, _ := store.Recent(ctx, mysql, 1)
	if len(limited) != 1 {
		t.Fatalf("Recent(limit 1) = %d entries", len(limited))
	}

	session, err := store.Session(ctx, "s2")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if got := Queries(session); !slices.Equal(got, []string{"SELECT 3", "SELECT 4"}) {
		t.Fatalf("Session() = %v", got)
	}
}

func TestMemoryStoreRecentStaysInScope(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	for _, entry := range []Entry{
		{Owner: "alice", Target: "orders-db", DatabaseType: catalog.SQLite, SQL: "SELECT * FROM orders"},
		{Owner: "bob", Target: "orders-db", DatabaseType: catalog.SQLite, SQL: "SELECT ssn FROM customers WHERE id = 42"},
		{Owner: "alice", Target: "hr-db", DatabaseType: catalog.SQLite, SQL: "SELECT salary FROM staff"},
		{Owner: "alice", Target: "orders-db", DatabaseType: catalog.DuckDB, SQL: "SUMMARIZE orders"},
	} {
		entry.Source = SourceDirect
		if err := store.Record(ctx, entry); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	recent, err := store.Recent(ctx, Scope{Owner: "alice", DatabaseType: catalog.SQLite, Target: "orders-db"}, 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if got := Queries(recent); !slices.Equal(got, []string{"SELECT * FROM orders"}) {
		t.Fatalf("Recent() = %v", got)
	}
}

func TestMemoryStoreRejectsInvalidEntries(t *testing.T) {
	if err := NewMemoryStore(0).Record(context.Background(), Entry{}); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("Record() error = %v", err)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	executedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	entries := []Entry{
		{ID: 1, SessionID: "s1", Owner: "alice", Target: "fp-1", DatabaseType: catalog.DuckDB, Input: "how many orders", SQL: "SELECT COUNT(*) FROM orders", Source: SourceTranslated, RowCount: 1, Duration: 12 * time.Millisecond, ExecutedAt: executedAt},
		{ID: 2, SessionID: "s1", DatabaseType: catalog.DuckDB, Input: "SELECT 1", SQL: "SELECT 1", Source: SourceDirect, RowCount: 1, ExecutedAt: executedAt.Add(time.Second)},
	}
	data, err := EncodeParquet(entries)
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}
	decoded, err := DecodeParquet(data)
	if err != nil {
		t.Fatalf("DecodeParquet() error = %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d entries", len(decoded))
	}
	got, want := decoded[0], entries[0]
	if got.ID != want.ID || got.SessionID != want.SessionID || got.Owner != want.Owner || got.Target != want.Target || got.DatabaseType != want.DatabaseType ||
		got.Input != want.Input || got.SQL != want.SQL || got.Source != want.Source ||
		got.RowCount != want.RowCount || got.Duration != want.Duration || !got.ExecutedAt.Equal(want.ExecutedAt) {
		t.Fatalf("decoded[0] = %+v, want %+v", got, want)
	}

	if _, err := EncodeParquet(nil); err == nil {
		t.Fatal("expected error for empty archive")
	}
}

func TestArchiverUploadsSessionEntries(t *testing.T) {
	store := &recordingStore{}
	archiver := NewArchiver(store)
	archiver.now = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }

	key, err := archiver.Archive(context.Background(), "sess-1", []Entry{{SessionID: "sess-1", DatabaseType: catalog.PostgreSQL, SQL: "SELECT 1", Source: SourceDirect}})
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if !strings.HasPrefix(key, "history/postgresql/date=2026-03-02/session-sess-1-") {
		t.Fatalf("key = %q", key)
	}
	if store.key != key || store.contentType != "application/vnd.apache.parquet" || store.size == 0 {
		t.Fatalf("store = %+v", store)
	}

	key, err = archiver.Archive(context.Background(), "sess-2", nil)
	if err != nil || key != "" {
		t.Fatalf("Archive(empty) = %q, %v", key, err)
	}
}

type recordingStore struct {
	key         string
	contentType string
	size        int
}

func (s *recordingStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	s.key = key
	s.contentType = opts.ContentType
	s.size = len(payload)
	return storage.ObjectInfo{Key: key, Size: int64(len(payload))}, nil
}

func (s *recordingStore) Get(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}
