// Package session owns the per-connection state of the engine: the backend
// handle, its catalog, the suggestion cache and the resolver bound to them.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/dictionary"
	"github.com/askdb/askdb/internal/history"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session is closed")
	ErrLimit    = errors.New("session limit reached")
)

// Opener returns an unconnected backend for a database type.
type Opener func(databaseType catalog.DatabaseType) (backend.Backend, error)

// Archiver uploads the history of a closed session. *history.Archiver
// implements it.
type Archiver interface {
	Archive(ctx context.Context, sessionID string, entries []history.Entry) (string, error)
}

type Config struct {
	IdleTTL         time.Duration
	ReapInterval    time.Duration
	MaxSessions     int
	SuggestionCount int
	HistoryLimit    int
	CloseTimeout    time.Duration
}

type Options struct {
	Opener     Opener
	Translator nl2sql.Translator
	Dictionary dictionary.Source
	History    history.Store
	Archiver   Archiver
	Config     Config
	Logger     *slog.Logger
	Clock      func() time.Time
}

type Manager struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options) *Manager {
	if opts.Opener == nil {
		opts.Opener = func(databaseType catalog.DatabaseType) (backend.Backend, error) {
			return backend.Open(databaseType, backend.Options{})
		}
	}
	if opts.Dictionary == nil {
		opts.Dictionary = dictionary.Embedded()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Config.SuggestionCount <= 0 {
		opts.Config.SuggestionCount = 30
	}
	if opts.Config.HistoryLimit <= 0 {
		opts.Config.HistoryLimit = 200
	}
	if opts.Config.ReapInterval <= 0 {
		opts.Config.ReapInterval = time.Minute
	}
	if opts.Config.CloseTimeout <= 0 {
		opts.Config.CloseTimeout = 30 * time.Second
	}
	return &Manager{opts: opts, sessions: make(map[string]*Session)}
}

type ConnectRequest struct {
	Target backend.Target
	// Credential is the caller's AI provider key; empty uses the configured one.
	Credential string
	// Owner identifies the caller that may use the session.
	Owner string
}

// Connect opens a backend, introspects its schema and registers a session.
// The suggestion cache warms up in the background.
func (m *Manager) Connect(ctx context.Context, req ConnectRequest) (*Session, error) {
	if !req.Target.Type.Valid() {
		return nil, &backend.ConnectionError{Type: req.Target.Type, Err: backend.ErrUnsupportedType}
	}
	if err := m.reserve(); err != nil {
		return nil, err
	}

	db, err := m.opts.Opener(req.Target.Type)
	if err != nil {
		return nil, &backend.ConnectionError{Type: req.Target.Type, Err: err}
	}
	cat, err := db.Connect(ctx, req.Target)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	id := uuid.NewString()
	s := newSession(m, id, req, db, cat)
	s.startWarmup()

	m.mu.Lock()
	if m.opts.Config.MaxSessions > 0 && len(m.sessions) >= m.opts.Config.MaxSessions {
		m.mu.Unlock()
		s.cancel()
		s.work.Wait()
		_ = db.Close()
		return nil, ErrLimit
	}
	m.sessions[id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	s.logger.InfoContext(ctx, "session connected", "tables", len(cat.Tables()))
	return s, nil
}

func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opts.Config.MaxSessions > 0 && len(m.sessions) >= m.opts.Config.MaxSessions {
		return ErrLimit
	}
	return nil
}

// Get returns a live session and marks it used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.touch()
	return s, nil
}

// List returns the ids of live sessions in sorted order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close disconnects a session. In-flight resolutions are cancelled and
// drained before the backend closes.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	observability.SetActiveSessions(count)
	return s.shutdown(ctx)
}

func (m *Manager) CloseAll(ctx context.Context) error {
	var errs []error
	for _, id := range m.List() {
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reap closes sessions idle for longer than the configured TTL and returns
// how many were closed.
func (m *Manager) Reap(ctx context.Context) int {
	ttl := m.opts.Config.IdleTTL
	if ttl <= 0 {
		return 0
	}
	now := m.opts.Clock()
	var idle []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) > ttl {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	closed := 0
	for _, id := range idle {
		if err := m.Close(ctx, id); err != nil {
			if !errors.Is(err, ErrNotFound) {
				m.opts.Logger.WarnContext(ctx, "reap idle session failed", "session_id", id, "error", err.Error())
			}
			continue
		}
		closed++
	}
	if closed > 0 {
		m.opts.Logger.InfoContext(ctx, "reaped idle sessions", "count", closed)
	}
	return closed
}

// Run reaps idle sessions until ctx is done, then closes the rest.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Config.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), m.opts.Config.CloseTimeout)
			defer cancel()
			return m.CloseAll(closeCtx)
		case <-ticker.C:
			m.Reap(ctx)
		}
	}
}
