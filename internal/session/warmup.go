package session

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/askdb/askdb/internal/dictionary"
	"github.com/askdb/askdb/internal/history"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
)

// warmSources are the slow cache inputs, loaded once per session and reused
// by every rebuild.
type warmSources struct {
	keywords    []string
	commonWords []string
	suggested   []string
	history     []string
}

func (s *Session) startWarmup() {
	s.work.Add(1)
	go func() {
		defer s.work.Done()
		defer close(s.warmed)
		sources := s.loadSources(s.ctx)
		if s.ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.sources = sources
		s.mu.Unlock()
		s.rebuild()
	}()
}

// loadSources fetches every source in parallel. A failing source is logged
// and left empty.
func (s *Session) loadSources(ctx context.Context) warmSources {
	opts := s.manager.opts
	var out warmSources
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		words, err := dictionary.Keywords(gctx, opts.Dictionary, s.databaseType)
		if err != nil {
			s.logger.WarnContext(gctx, "load keywords failed", "error", err.Error())
			return nil
		}
		out.keywords = words
		return nil
	})
	g.Go(func() error {
		words, err := dictionary.CommonWords(gctx, opts.Dictionary)
		if err != nil {
			s.logger.WarnContext(gctx, "load common words failed", "error", err.Error())
			return nil
		}
		out.commonWords = words
		return nil
	})
	if opts.Translator != nil {
		g.Go(func() error {
			queries, err := opts.Translator.SuggestQueries(gctx, nl2sql.SuggestRequest{
				Credential: s.credential,
				Dialect:    s.databaseType,
				Count:      opts.Config.SuggestionCount,
			})
			if err != nil {
				s.logger.WarnContext(gctx, "load AI suggestions failed", "error", err.Error())
				return nil
			}
			out.suggested = queries
			return nil
		})
	}
	if opts.History != nil {
		g.Go(func() error {
			entries, err := opts.History.Recent(gctx, s.HistoryScope(), opts.Config.HistoryLimit)
			if err != nil {
				s.logger.WarnContext(gctx, "load query history failed", "error", err.Error())
				return nil
			}
			out.history = history.Queries(entries)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// rebuild reloads the cache from the selected schema, the loaded sources
// and the SQL this session has executed or remembered.
func (s *Session) rebuild() {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()
	s.mu.Lock()
	sources := s.sources
	learned := append([]string(nil), s.learned...)
	s.mu.Unlock()

	s.cache.Load(
		s.catalog.SelectedTableNames(),
		s.catalog.SelectedColumnNames(),
		sources.keywords,
		sources.commonWords,
		sources.suggested,
		sources.history,
		learned,
	)
	observability.SetSuggestionCacheEntries(string(s.databaseType), s.cache.Len())
	s.logger.Debug("suggestion cache rebuilt", "entries", s.cache.Len())
}
