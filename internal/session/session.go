package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/history"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/resolver"
	"github.com/askdb/askdb/internal/suggest"
)

type Session struct {
	id           string
	databaseType catalog.DatabaseType
	createdAt    time.Time
	credential   string
	owner        string
	// target fingerprints the connected database for history scoping.
	target string

	manager  *Manager
	backend  backend.Backend
	catalog  *catalog.Catalog
	cache    *suggest.Cache
	resolver *resolver.Resolver
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	work   sync.WaitGroup
	warmed chan struct{}

	// rebuildMu orders cache rebuilds against learned entries.
	rebuildMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	lastUsed time.Time
	sources  warmSources
	learned  []string
}

func newSession(m *Manager, id string, req ConnectRequest, db backend.Backend, cat *catalog.Catalog) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := m.opts.Clock()
	databaseType := req.Target.Type
	s := &Session{
		id:           id,
		databaseType: databaseType,
		createdAt:    now,
		credential:   req.Credential,
		owner:        req.Owner,
		target:       req.Target.Fingerprint(),
		manager:      m,
		backend:      db,
		catalog:      cat,
		cache:        suggest.New(),
		logger:       observability.WithSession(m.opts.Logger, id, string(databaseType)),
		ctx:          ctx,
		cancel:       cancel,
		warmed:       make(chan struct{}),
		lastUsed:     now,
	}
	s.resolver = resolver.New(resolver.Config{
		Executor:   db,
		Schema:     cat,
		Translator: m.opts.Translator,
		Cache:      s.cache,
		History:    sessionRecorder{s},
		SessionID:  id,
		Credential: req.Credential,
		Logger:     s.logger,
		Now:        m.opts.Clock,
	})
	return s
}

func (s *Session) ID() string                         { return s.id }
func (s *Session) DatabaseType() catalog.DatabaseType { return s.databaseType }
func (s *Session) CreatedAt() time.Time               { return s.createdAt }
func (s *Session) Catalog() *catalog.Catalog          { return s.catalog }
func (s *Session) Cache() *suggest.Cache              { return s.cache }
func (s *Session) Owner() string                      { return s.owner }

func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// HistoryScope is the slice of query history this session reuses.
func (s *Session) HistoryScope() history.Scope {
	return history.Scope{Owner: s.owner, DatabaseType: s.databaseType, Target: s.target}
}

// Warmed is closed once the first cache warmup has finished.
func (s *Session) Warmed() <-chan struct{} {
	return s.warmed
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = s.manager.opts.Clock()
	s.mu.Unlock()
}

// begin registers in-flight work so shutdown can drain it.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.work.Add(1)
	s.lastUsed = s.manager.opts.Clock()
	return nil
}

// bind derives a context that is also cancelled when the session closes.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Resolve runs one resolution. A session closed mid-flight yields a
// cancelled result rather than a table.
func (s *Session) Resolve(ctx context.Context, text string) (resolver.Result, error) {
	if err := s.begin(); err != nil {
		return resolver.Result{}, err
	}
	defer s.work.Done()
	ctx, cancel := s.bind(ctx)
	defer cancel()
	return s.resolver.Resolve(ctx, text), nil
}

// SelectTables replaces the table selection. With all set, names are
// ignored and every table is selected; with neither, the selection is
// cleared. The cache is rebuilt in the background.
func (s *Session) SelectTables(all bool, names ...string) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.work.Done()
	switch {
	case all:
		s.catalog.SelectAll()
	case len(names) == 0:
		s.catalog.ClearSelection()
	default:
		if err := s.catalog.SelectTables(names...); err != nil {
			return err
		}
	}
	s.work.Add(1)
	go func() {
		defer s.work.Done()
		s.rebuild()
	}()
	return nil
}

// Suggest returns cached entries starting with prefix.
func (s *Session) Suggest(prefix string, limit int) ([]string, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.work.Done()
	return s.cache.Search(prefix, suggest.SearchOptions{Limit: limit}), nil
}

// Complete returns the first cached entry starting with prefix.
func (s *Session) Complete(prefix string) (string, bool, error) {
	if err := s.begin(); err != nil {
		return "", false, err
	}
	defer s.work.Done()
	entry, ok := s.cache.Complete(prefix)
	return entry, ok, nil
}

// Remember adds SQL the user copied to the cache and the history store. It
// returns how many entries were new to the cache.
func (s *Session) Remember(ctx context.Context, entries ...string) (int, error) {
	if err := s.begin(); err != nil {
		return 0, err
	}
	defer s.work.Done()

	kept := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry = strings.TrimSpace(entry); entry != "" {
			kept = append(kept, entry)
		}
	}
	added := s.learn(kept...)
	observability.SetSuggestionCacheEntries(string(s.databaseType), s.cache.Len())

	if store := s.manager.opts.History; store != nil {
		ctx, cancel := s.bind(ctx)
		defer cancel()
		for _, entry := range kept {
			err := store.Record(ctx, history.Entry{
				SessionID:    s.id,
				Owner:        s.owner,
				Target:       s.target,
				DatabaseType: s.databaseType,
				Input:        entry,
				SQL:          entry,
				Source:       history.SourceCopied,
				ExecutedAt:   s.manager.opts.Clock().UTC(),
			})
			if err != nil {
				s.logger.WarnContext(ctx, "record copied sql failed", "error", err.Error())
			}
		}
	}
	return added, nil
}

// learn keeps entries across cache rebuilds and appends them to the cache.
func (s *Session) learn(entries ...string) int {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	s.mu.Lock()
	s.learned = append(s.learned, entries...)
	s.mu.Unlock()
	return s.cache.Append(entries...)
}

func (s *Session) shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.work.Wait()
	err := s.backend.Close()
	s.archive(ctx)
	s.logger.InfoContext(ctx, "session closed")
	if err != nil {
		return &backend.ConnectionError{Type: s.databaseType, Err: err}
	}
	return nil
}

// archive uploads the session's history when an archiver is configured.
func (s *Session) archive(ctx context.Context) {
	store := s.manager.opts.History
	archiver := s.manager.opts.Archiver
	if store == nil || archiver == nil {
		return
	}
	entries, err := store.Session(ctx, s.id)
	if err != nil {
		s.logger.WarnContext(ctx, "load session history failed", "error", err.Error())
		return
	}
	key, err := archiver.Archive(ctx, s.id, entries)
	if err != nil {
		s.logger.WarnContext(ctx, "archive session history failed", "error", err.Error())
		return
	}
	if key == "" {
		return
	}
	if archiveLog, ok := store.(history.ArchiveLog); ok {
		if err := archiveLog.RecordArchive(ctx, s.id, key, len(entries)); err != nil {
			s.logger.WarnContext(ctx, "record history archive failed", "object_key", key, "error", err.Error())
			return
		}
	}
	s.logger.InfoContext(ctx, "session history archived", "object_key", key, "entries", len(entries))
}

// sessionRecorder keeps executed SQL across cache rebuilds and forwards it
// to the history store.
type sessionRecorder struct {
	s *Session
}

func (r sessionRecorder) Record(ctx context.Context, entry history.Entry) error {
	r.s.learn(entry.SQL)
	observability.SetSuggestionCacheEntries(string(r.s.databaseType), r.s.cache.Len())
	store := r.s.manager.opts.History
	if store == nil {
		return nil
	}
	entry.Owner = r.s.owner
	entry.Target = r.s.target
	if err := store.Record(ctx, entry); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
