// Package suggest holds the autosuggestion cache of a session.
package suggest

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

// SearchOptions tunes Search. A zero Limit returns every match.
type SearchOptions struct {
	Limit             int
	IncludeAPIKeyLike bool
}

// Cache is a deduplicated set of non-empty strings ordered by ascending rune
// length, ties kept in insertion order. Reads never block: they see an
// immutable snapshot that writers replace atomically.
type Cache struct {
	writeMu sync.Mutex
	current atomic.Pointer[snapshot]
}

type snapshot struct {
	entries []string
	lower   []string
	index   map[string]struct{}
}

var emptySnapshot = &snapshot{index: map[string]struct{}{}}

func New() *Cache {
	c := &Cache{}
	c.current.Store(emptySnapshot)
	return c
}

func (c *Cache) load() *snapshot {
	if snap := c.current.Load(); snap != nil {
		return snap
	}
	return emptySnapshot
}

// Load replaces the cache contents with the given sources, concatenated in
// order. Entries are trimmed; blanks and duplicates are dropped, keeping the
// first occurrence. Appends issued during a Load wait and land in the new
// set.
func (c *Cache) Load(sources ...[]string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	size := 0
	for _, source := range sources {
		size += len(source)
	}
	entries := make([]string, 0, size)
	index := make(map[string]struct{}, size)
	for _, source := range sources {
		for _, raw := range source {
			entry := strings.TrimSpace(raw)
			if entry == "" {
				continue
			}
			if _, seen := index[entry]; seen {
				continue
			}
			index[entry] = struct{}{}
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return utf8.RuneCountInString(entries[i]) < utf8.RuneCountInString(entries[j])
	})
	c.current.Store(newSnapshot(entries, index))
}

// Append adds entries that are not yet cached after the existing entries of
// the same length. It returns how many were added.
func (c *Cache) Append(entries ...string) int {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.load()
	next := slices.Clone(old.entries)
	index := make(map[string]struct{}, len(old.index)+len(entries))
	for entry := range old.index {
		index[entry] = struct{}{}
	}

	added := 0
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if _, seen := index[entry]; seen {
			continue
		}
		index[entry] = struct{}{}
		n := utf8.RuneCountInString(entry)
		pos := sort.Search(len(next), func(i int) bool {
			return utf8.RuneCountInString(next[i]) > n
		})
		next = slices.Insert(next, pos, entry)
		added++
	}
	if added > 0 {
		c.current.Store(newSnapshot(next, index))
	}
	return added
}

// PrefixSearch returns every entry starting with prefix, ignoring case, that
// does not look like an API key.
func (c *Cache) PrefixSearch(prefix string) []string {
	return c.Search(prefix, SearchOptions{})
}

func (c *Cache) Search(prefix string, opts SearchOptions) []string {
	if strings.TrimSpace(prefix) == "" {
		return nil
	}
	needle := strings.ToLower(prefix)
	snap := c.load()

	var out []string
	for i, entry := range snap.entries {
		if !strings.HasPrefix(snap.lower[i], needle) {
			continue
		}
		if !opts.IncludeAPIKeyLike && LooksLikeAPIKey(entry) {
			continue
		}
		out = append(out, entry)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out
}

// Complete returns the shortest entry that extends prefix.
func (c *Cache) Complete(prefix string) (string, bool) {
	matches := c.Search(prefix, SearchOptions{Limit: 1})
	if len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

func (c *Cache) Contains(entry string) bool {
	_, ok := c.load().index[strings.TrimSpace(entry)]
	return ok
}

// Entries returns a copy of the cache contents in iteration order.
func (c *Cache) Entries() []string {
	return slices.Clone(c.load().entries)
}

func (c *Cache) Len() int {
	return len(c.load().entries)
}

func newSnapshot(entries []string, index map[string]struct{}) *snapshot {
	lower := make([]string, len(entries))
	for i, entry := range entries {
		lower[i] = strings.ToLower(entry)
	}
	return &snapshot{entries: entries, lower: lower, index: index}
}
