//go:build integration

package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/dictionary"
	"github.com/askdb/askdb/internal/history"
	"github.com/askdb/askdb/internal/storage"
)

// minioStore connects to the MinIO named by ASKDB_TEST_S3_ENDPOINT under a
// fresh prefix so runs do not see each other's objects.
func minioStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	endpoint := strings.TrimSpace(os.Getenv("ASKDB_TEST_S3_ENDPOINT"))
	if endpoint == "" {
		t.Skip("ASKDB_TEST_S3_ENDPOINT is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	store, err := New(ctx, Config{
		Endpoint:         endpoint,
		Region:           getenv("ASKDB_TEST_S3_REGION", "us-east-1"),
		Bucket:           getenv("ASKDB_TEST_S3_BUCKET", "askdb-it"),
		AccessKeyID:      getenv("ASKDB_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  getenv("ASKDB_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           fmt.Sprintf("it-%d", time.Now().UnixNano()),
		AutoCreateBucket: true,
	})
	require.NoError(t, err)
	require.NoError(t, store.Ready(ctx))
	return store, ctx
}

func TestArchivedHistoryReadsBackFromMinIO(t *testing.T) {
	store, ctx := minioStore(t)

	executedAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	entries := []history.Entry{
		{SessionID: "s-it", DatabaseType: catalog.SQLite, Input: "list customers", SQL: "SELECT * FROM customers", Source: history.SourceTranslated, RowCount: 3, Duration: 40 * time.Millisecond, ExecutedAt: executedAt},
		{SessionID: "s-it", DatabaseType: catalog.SQLite, Input: "SELECT 1", SQL: "SELECT 1", Source: history.SourceDirect, RowCount: 1, ExecutedAt: executedAt.Add(time.Second)},
	}
	key, err := history.NewArchiver(store).Archive(ctx, "s-it", entries)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "history/sqlite/"), key)

	payload, err := storage.ReadAll(ctx, store, key, 1<<20)
	require.NoError(t, err)
	decoded, err := history.DecodeParquet(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, []string{"SELECT * FROM customers", "SELECT 1"}, history.Queries(decoded))
}

func TestDictionaryListsLoadFromMinIO(t *testing.T) {
	store, ctx := minioStore(t)

	body := "# sqlite overrides\nPRAGMA\n\nVACUUM\n"
	_, err := store.Put(ctx, "dictionaries/sqlite.txt", strings.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)

	keywords, err := dictionary.Keywords(ctx, dictionary.ObjectStore(store, "dictionaries"), catalog.SQLite)
	require.NoError(t, err)
	assert.Equal(t, []string{"PRAGMA", "VACUUM"}, keywords)

	_, err = dictionary.Keywords(ctx, dictionary.ObjectStore(store, "dictionaries"), catalog.MySQL)
	assert.True(t, errors.Is(err, dictionary.ErrNotFound), "err = %v", err)

	_, err = store.Get(ctx, "dictionaries/missing.txt")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func getenv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
