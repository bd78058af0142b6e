package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

type PutOptions struct {
	ContentType string
}

// ObjectStore holds history archives and dictionary overrides.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// ReadAll fetches key and reads at most maxBytes of it. Larger objects are
// rejected rather than truncated.
func ReadAll(ctx context.Context, store ObjectStore, key string, maxBytes int64) ([]byte, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()

	payload, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	if int64(len(payload)) > maxBytes {
		return nil, fmt.Errorf("object %q exceeds %d bytes", key, maxBytes)
	}
	return payload, nil
}
