// Package resolver turns user input into an executed query. Input is checked
// for safety, executed as SQL, and on failure translated by the AI and checked
// again before it runs.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/backend"
	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/history"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/safety"
	"github.com/askdb/askdb/internal/suggest"
)

var ErrNoTranslator = errors.New("AI translation is not configured")

// Executor runs SQL against the session's database.
type Executor interface {
	Execute(ctx context.Context, sqlText string) (backend.Result, error)
}

// Schema exposes the tables the AI may reference. *catalog.Catalog
// implements it.
type Schema interface {
	DatabaseType() catalog.DatabaseType
	SelectedTables() []catalog.Table
}

type Config struct {
	Executor   Executor
	Schema     Schema
	Translator nl2sql.Translator
	Cache      *suggest.Cache
	History    history.Recorder
	SessionID  string
	Credential string
	Logger     *slog.Logger
	Now        func() time.Time
}

// Resolver runs one resolution at a time for a session.
type Resolver struct {
	cfg Config
	mu  sync.Mutex
}

func New(cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{cfg: cfg}
}

type run struct {
	states []State
}

func (r *run) enter(state State) {
	r.states = append(r.states, state)
}

func (r *Resolver) Resolve(ctx context.Context, rawText string) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.cfg.Now()
	result := r.resolve(ctx, rawText)
	observability.ObserveResolution(string(result.Outcome), string(result.Kind), result.Translated)

	attrs := []any{
		"outcome", string(result.Outcome),
		"translated", result.Translated,
		"elapsed_ms", r.cfg.Now().Sub(start).Milliseconds(),
	}
	if result.Kind != KindNone {
		attrs = append(attrs, "kind", string(result.Kind))
	}
	if result.Err != nil {
		attrs = append(attrs, "error", result.Err.Error())
	}
	level := slog.LevelInfo
	if result.Outcome == OutcomeFailure && result.Kind != KindCancelled {
		level = slog.LevelWarn
	}
	r.cfg.Logger.Log(ctx, level, "query resolved", attrs...)
	return result
}

func (r *Resolver) resolve(ctx context.Context, rawText string) Result {
	run := &run{}
	run.enter(StateIdle)

	text := strings.TrimSpace(rawText)
	if text == "" {
		run.enter(StateRejected)
		return Result{
			Outcome: OutcomeRejected,
			Kind:    KindEmptyInput,
			Title:   ErrorTitle,
			Reason:  "input is empty",
			States:  run.states,
		}
	}

	run.enter(StateSafetyCheckDirect)
	if verdict := safety.Inspect(text); !verdict.Safe {
		return r.forbidden(ctx, run, "direct", text, verdict, false)
	}

	run.enter(StateDirectExecute)
	table, err := r.cfg.Executor.Execute(ctx, text)
	if err == nil {
		if ctx.Err() != nil {
			return cancelled(run, text, false, ctx.Err())
		}
		run.enter(StateExecutionSuccess)
		return r.succeed(ctx, run, text, text, table, false)
	}
	run.enter(StateExecutionFailure)
	if ctx.Err() != nil {
		return cancelled(run, text, false, ctx.Err())
	}
	r.cfg.Logger.Debug("direct execution failed, translating", "error", err.Error())

	run.enter(StateAITranslate)
	if r.cfg.Translator == nil {
		run.enter(StateTranslationFailure)
		return failure(run, KindTranslation, "", false, ErrNoTranslator.Error(), err.Error(), errors.Join(ErrNoTranslator, err))
	}
	resolved, terr := r.cfg.Translator.Translate(ctx, nl2sql.TranslateRequest{
		Credential:      r.cfg.Credential,
		NaturalLanguage: text,
		Dialect:         r.cfg.Schema.DatabaseType(),
		Tables:          nl2sql.TablesFromCatalog(r.cfg.Schema.SelectedTables()),
	})
	if ctx.Err() != nil {
		return cancelled(run, "", true, ctx.Err())
	}
	if terr != nil {
		run.enter(StateTranslationFailure)
		return failure(run, KindTranslation, "", true, "translation failed", terr.Error(), terr)
	}
	if !resolved.IsSQL {
		run.enter(StateNotSQL)
		run.enter(StateRejected)
		reason := strings.TrimSpace(resolved.Output)
		if reason == "" {
			reason = "request has no SQL equivalent"
		}
		return Result{
			Outcome:    OutcomeRejected,
			Kind:       KindNotTranslatable,
			Translated: true,
			Title:      InvalidSQLTitle,
			Reason:     reason,
			States:     run.states,
		}
	}

	translated := strings.TrimSpace(resolved.Output)
	run.enter(StateSafetyCheckTranslated)
	if verdict := safety.InspectSQL(translated); !verdict.Safe {
		return r.forbidden(ctx, run, "translated", translated, verdict, true)
	}

	run.enter(StateExecuteTranslated)
	table, err = r.cfg.Executor.Execute(ctx, translated)
	if ctx.Err() != nil {
		return cancelled(run, translated, true, ctx.Err())
	}
	if err != nil {
		return failure(run, KindExecution, translated, true, "execution failed",
			fmt.Sprintf("SQL Command: %s\n\n%s", translated, err.Error()), err)
	}
	return r.succeed(ctx, run, text, translated, table, true)
}

func (r *Resolver) forbidden(ctx context.Context, run *run, stage, sqlText string, verdict safety.Verdict, translated bool) Result {
	run.enter(StateRejected)
	observability.IncrementSafetyRejection(stage)
	r.cfg.Logger.InfoContext(ctx, "statement rejected",
		"stage", stage,
		"reason", verdict.Reason,
		"fingerprint", verdict.Fingerprint,
	)
	return Result{
		Outcome:    OutcomeRejected,
		Kind:       KindUnsafe,
		SQL:        sqlText,
		Translated: translated,
		Title:      ForbiddenTitle,
		Reason:     ForbiddenReason,
		Detail:     fmt.Sprintf("%s: %s", ForbiddenMessage, verdict.Reason),
		States:     run.states,
	}
}

func (r *Resolver) succeed(ctx context.Context, run *run, input, sqlText string, table backend.Result, translated bool) Result {
	run.enter(StateSuccess)
	if r.cfg.Cache != nil {
		r.cfg.Cache.Append(sqlText)
	}
	if r.cfg.History != nil {
		source := history.SourceDirect
		if translated {
			source = history.SourceTranslated
		}
		entry := history.Entry{
			SessionID:    r.cfg.SessionID,
			DatabaseType: r.cfg.Schema.DatabaseType(),
			Input:        input,
			SQL:          sqlText,
			Source:       source,
			RowCount:     table.RowsAffected,
			Duration:     table.Duration,
			ExecutedAt:   r.cfg.Now().UTC(),
		}
		if err := r.cfg.History.Record(ctx, entry); err != nil {
			r.cfg.Logger.WarnContext(ctx, "record query history failed", "error", err.Error())
		}
	}
	return Result{
		Outcome:    OutcomeSuccess,
		Table:      table,
		SQL:        sqlText,
		Translated: translated,
		States:     run.states,
	}
}

func failure(run *run, kind ErrorKind, sqlText string, translated bool, reason, detail string, err error) Result {
	run.enter(StateFailure)
	return Result{
		Outcome:    OutcomeFailure,
		Kind:       kind,
		SQL:        sqlText,
		Translated: translated,
		Title:      ErrorTitle,
		Reason:     reason,
		Detail:     detail,
		Err:        err,
		States:     run.states,
	}
}

func cancelled(run *run, sqlText string, translated bool, err error) Result {
	return failure(run, KindCancelled, sqlText, translated, "resolution cancelled", "", err)
}
