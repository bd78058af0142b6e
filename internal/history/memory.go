package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the most recent entries in process. It is used when no
// history database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	nextID  int64
	entries []Entry
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryStore{max: maxEntries, now: time.Now}
}

func (s *MemoryStore) Record(_ context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = s.now().UTC()
	}
	s.entries = append(s.entries, entry)
	if overflow := len(s.entries) - s.max; overflow > 0 {
		s.entries = append(s.entries[:0:0], s.entries[overflow:]...)
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, scope Scope, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if !scope.matches(s.entries[i]) {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Session(_ context.Context, sessionID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, entry := range s.entries {
		if entry.SessionID == sessionID {
			out = append(out, entry)
		}
	}
	return out, nil
}
