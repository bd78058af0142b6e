// Package dictionary loads the word lists that seed the suggestion cache:
// per-dialect SQL keywords and common English words.
package dictionary

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/storage"
)

// CommonWordsName is the list of everyday words shared by all dialects.
const CommonWordsName = "common_words"

// MinCommonWordLength drops single letters from the common word list.
const MinCommonWordLength = 2

const maxListBytes = 4 << 20

var ErrNotFound = errors.New("dictionary not found")

//go:embed data/*.txt
var embedded embed.FS

// Source returns the raw lines of a named list.
type Source interface {
	Lines(ctx context.Context, name string) ([]string, error)
}

type fsSource struct {
	fsys fs.FS
}

// Embedded returns the lists compiled into the binary.
func Embedded() Source {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		panic(fmt.Sprintf("dictionary: embedded data: %v", err))
	}
	return fsSource{fsys: sub}
}

// Dir reads <dir>/<name>.txt from the local filesystem.
func Dir(dir string) Source {
	return fsSource{fsys: os.DirFS(dir)}
}

func (s fsSource) Lines(_ context.Context, name string) ([]string, error) {
	file, err := s.fsys.Open(name + ".txt")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open dictionary %s: %w", name, err)
	}
	defer func() { _ = file.Close() }()
	return Parse(file)
}

type objectSource struct {
	store  storage.ObjectStore
	prefix string
}

// ObjectStore reads lists from <prefix>/<name>.txt in an object store.
func ObjectStore(store storage.ObjectStore, prefix string) Source {
	return objectSource{store: store, prefix: prefix}
}

func (s objectSource) Lines(ctx context.Context, name string) ([]string, error) {
	key, err := storage.BuildDictionaryPath(s.prefix, name)
	if err != nil {
		return nil, err
	}
	payload, err := storage.ReadAll(ctx, s.store, key, maxListBytes)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("load dictionary %s: %w", name, err)
	}
	return Parse(strings.NewReader(string(payload)))
}

type layered []Source

// Layered consults sources in order and uses the first one that has the
// list. Errors other than ErrNotFound stop the search.
func Layered(sources ...Source) Source {
	var out layered
	for _, source := range sources {
		if source != nil {
			out = append(out, source)
		}
	}
	return out
}

func (l layered) Lines(ctx context.Context, name string) ([]string, error) {
	for _, source := range l {
		lines, err := source.Lines(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return lines, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Parse reads newline-delimited entries, skipping blank lines and lines
// starting with '#'.
func Parse(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	return lines, nil
}

// Keywords returns the keyword list for a database type.
func Keywords(ctx context.Context, source Source, databaseType catalog.DatabaseType) ([]string, error) {
	if !databaseType.Valid() {
		return nil, fmt.Errorf("keywords: unknown database type %q", databaseType)
	}
	return source.Lines(ctx, string(databaseType))
}

// CommonWords returns the common word list without entries shorter than
// MinCommonWordLength.
func CommonWords(ctx context.Context, source Source) ([]string, error) {
	lines, err := source.Lines(ctx, CommonWordsName)
	if err != nil {
		return nil, err
	}
	out := lines[:0]
	for _, line := range lines {
		if utf8.RuneCountInString(line) >= MinCommonWordLength {
			out = append(out, line)
		}
	}
	return out, nil
}
